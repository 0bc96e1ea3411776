package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/eventchain"
	"github.com/totegamma/eventchain/jwt"
)

func TestPostJSONSignsRequest(t *testing.T) {
	account := eventchain.AccountFromSeed([]byte("node"))

	var received map[string]any
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "eventchain-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	c := New(account, "issuer", "eventchain-test")

	var result struct {
		OK bool `json:"ok"`
	}
	err := c.PostJSON(context.Background(), server.URL+"/hash", map[string]string{"hash": "abc"}, &result)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "abc", received["hash"])

	require.True(t, strings.HasPrefix(auth, "Bearer "))
	header, claims, err := jwt.Validate(strings.TrimPrefix(auth, "Bearer "))
	require.NoError(t, err)
	assert.Equal(t, account.PublicSignKey(), header.KeyID)
	assert.Equal(t, "issuer", claims.Issuer)
	assert.Equal(t, strings.TrimPrefix(server.URL, "http://"), claims.Audience)
}

func TestStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, "no such thing\n")
		case "/broken":
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "stack trace")
		case "/binary":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "\x00\x01")
		}
	}))
	defer server.Close()

	c := New(nil, "", "")
	ctx := context.Background()

	err := c.GetJSON(ctx, server.URL+"/missing", nil)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.EqualError(t, err, "unexpected status code: 404; no such thing")

	err = c.GetJSON(ctx, server.URL+"/broken", nil)
	assert.True(t, IsStatus(err, http.StatusInternalServerError))
	assert.EqualError(t, err, "unexpected status code: 500")

	err = c.GetJSON(ctx, server.URL+"/binary", nil)
	assert.EqualError(t, err, "unexpected status code: 400")
}

func TestGetCached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"node":"abc"}`)
	}))
	defer server.Close()

	c := New(nil, "", "")

	for range 3 {
		var info eventchain.DispatcherInfo
		require.NoError(t, c.GetCached(context.Background(), server.URL, &info))
		assert.Equal(t, "abc", info.Node)
	}
	assert.EqualValues(t, 1, hits.Load())

	c.Forget(server.URL)
	var info eventchain.DispatcherInfo
	require.NoError(t, c.GetCached(context.Background(), server.URL, &info))
	assert.EqualValues(t, 2, hits.Load())
}
