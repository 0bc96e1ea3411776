package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/eventchain"
	"github.com/totegamma/eventchain/internal/domain"
	"github.com/totegamma/eventchain/jwt"
)

func TestAuthJwt(t *testing.T) {
	account := eventchain.AccountFromSeed([]byte("alice"))
	auth := NewAuthService(domain.Config{FQDN: "node.example.com"})

	token, err := jwt.Create(jwt.Claims{Subject: "eventchain", Audience: "node.example.com"}, account)
	require.NoError(t, err)

	result, err := auth.AuthJwt(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, account.PublicSignKey(), result.SignKey)

	address, err := account.Address()
	require.NoError(t, err)
	assert.Equal(t, address, result.Address)
}

func TestAuthJwtRejects(t *testing.T) {
	account := eventchain.AccountFromSeed([]byte("alice"))
	auth := NewAuthService(domain.Config{FQDN: "node.example.com"})

	token, err := jwt.Create(jwt.Claims{Subject: "eventchain", Audience: "other.example.com"}, account)
	require.NoError(t, err)
	_, err = auth.AuthJwt(context.Background(), token)
	assert.ErrorContains(t, err, "audience mismatch")

	token, err = jwt.Create(jwt.Claims{Subject: "other", Audience: "node.example.com"}, account)
	require.NoError(t, err)
	_, err = auth.AuthJwt(context.Background(), token)
	assert.EqualError(t, err, "invalid subject")
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "eventchain:abc", Channel("abc"))
}
