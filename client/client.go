package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/totegamma/eventchain/jwt"
)

const (
	defaultTimeout = 10 * time.Second
	tokenLifetime  = 5 * time.Minute
	maxErrorBody   = 4096
)

// Client performs JSON requests to peer nodes and collaborator services.
// Requests carry a bearer token signed by the node when a signer is set.
type Client struct {
	client    *http.Client
	cache     *cache.Cache
	userAgent string
	signer    jwt.Signer
	issuer    string
}

func New(signer jwt.Signer, issuer, userAgent string) *Client {
	httpClient := http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    &httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		userAgent: userAgent,
		signer:    signer,
		issuer:    issuer,
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.signer != nil && req.Header.Get("Authorization") == "" {
		token, err := c.token(req.URL.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to create token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func (c *Client) token(audience string) (string, error) {
	now := time.Now()
	return jwt.Create(jwt.Claims{
		Issuer:         c.issuer,
		Subject:        "eventchain",
		Audience:       audience,
		IssuedAt:       strconv.FormatInt(now.Unix(), 10),
		ExpirationTime: strconv.FormatInt(now.Add(tokenLifetime).Unix(), 10),
	}, c.signer)
}

// StatusError is returned for responses with a status code of 400 or above.
// Body is only set for client errors with a text or json response.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status code: %d; %s", e.Code, e.Body)
	}
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}

// Do sends a request with an optional JSON body and decodes a JSON response into result when it is not nil.
func (c *Client) Do(ctx context.Context, method, url string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	slog.DebugContext(ctx, "sending request", slog.String("method", method), slog.String("url", url), slog.String("module", "client"))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}

	if result == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(result)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func statusError(resp *http.Response) error {
	err := &StatusError{Code: resp.StatusCode, Status: resp.Status}
	if resp.StatusCode >= http.StatusInternalServerError {
		return err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "text/") && !strings.HasSuffix(mediaType, "json") {
		return err
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err.Body = strings.TrimSpace(string(data))
	return err
}

func (c *Client) GetJSON(ctx context.Context, url string, result any) error {
	return c.Do(ctx, http.MethodGet, url, nil, result)
}

func (c *Client) PostJSON(ctx context.Context, url string, body any, result any) error {
	return c.Do(ctx, http.MethodPost, url, body, result)
}

func (c *Client) Delete(ctx context.Context, url string) error {
	return c.Do(ctx, http.MethodDelete, url, nil, nil)
}

// GetCached is GetJSON backed by the client cache. Responses are cached by url.
func (c *Client) GetCached(ctx context.Context, url string, result any) error {
	cacheKey := "get:" + url

	if x, found := c.cache.Get(cacheKey); found {
		return json.Unmarshal(x.([]byte), result)
	}

	var raw json.RawMessage
	if err := c.GetJSON(ctx, url, &raw); err != nil {
		return err
	}

	c.cache.Set(cacheKey, []byte(raw), cache.DefaultExpiration)

	return json.Unmarshal(raw, result)
}

// Forget drops the cached response for url.
func (c *Client) Forget(url string) {
	c.cache.Delete("get:" + url)
}
