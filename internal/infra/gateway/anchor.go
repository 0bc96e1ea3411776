package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/totegamma/eventchain"
	"github.com/totegamma/eventchain/client"
)

const anchorCacheTTL = 24 * time.Hour

// AnchorClient talks to the anchoring service. Found anchors are cached in memcached since they never change.
type AnchorClient struct {
	client *client.Client
	url    string
	mc     *memcache.Client
}

func NewAnchorClient(cl *client.Client, endpoint string, mc *memcache.Client) *AnchorClient {
	return &AnchorClient{
		client: cl,
		url:    endpoint,
		mc:     mc,
	}
}

// Submit asks the anchoring service to anchor the base58 encoded hash.
func (a *AnchorClient) Submit(ctx context.Context, hash string) error {
	ctx, span := tracer.Start(ctx, "Gateway.Anchor.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("hash", hash))

	err := a.client.PostJSON(ctx, a.url+"/hash", eventchain.AnchorRequest{Hash: hash, Encoding: "base58"}, nil)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to submit hash")
	}
	return nil
}

// FetchMultiple looks up the anchor info of each hash. Hashes that aren't anchored are left out of the result.
func (a *AnchorClient) FetchMultiple(ctx context.Context, hashes []string) (map[string]eventchain.AnchorInfo, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Anchor.FetchMultiple")
	defer span.End()

	var mu sync.Mutex
	result := make(map[string]eventchain.AnchorInfo, len(hashes))

	g, gctx := errgroup.WithContext(ctx)
	for _, hash := range hashes {
		g.Go(func() error {
			info, found, err := a.fetch(gctx, hash)
			if err != nil || !found {
				return err
			}
			mu.Lock()
			result[hash] = info
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return result, nil
}

func (a *AnchorClient) fetch(ctx context.Context, hash string) (eventchain.AnchorInfo, bool, error) {
	cacheKey := "anchor:" + hash

	if a.mc != nil {
		item, err := a.mc.Get(cacheKey)
		if err == nil {
			var info eventchain.AnchorInfo
			if err := json.Unmarshal(item.Value, &info); err == nil {
				return info, true, nil
			}
		} else if !errors.Is(err, memcache.ErrCacheMiss) {
			slog.DebugContext(ctx, "anchor cache unavailable", slog.String("error", err.Error()), slog.String("module", "anchor"))
		}
	}

	var info eventchain.AnchorInfo
	err := a.client.GetJSON(ctx, a.url+"/hash/"+url.PathEscape(hash)+"/encoding/base58", &info)
	if client.IsStatus(err, http.StatusNotFound) {
		return eventchain.AnchorInfo{}, false, nil
	}
	if err != nil {
		return eventchain.AnchorInfo{}, false, errors.Wrapf(err, "failed to fetch anchor of '%s'", hash)
	}
	if info.Hash == "" {
		info.Hash = hash
	}

	if a.mc != nil {
		value, err := json.Marshal(info)
		if err == nil {
			err = a.mc.Set(&memcache.Item{Key: cacheKey, Value: value, Expiration: int32(anchorCacheTTL.Seconds())})
		}
		if err != nil {
			slog.DebugContext(ctx, "failed to cache anchor", slog.String("error", err.Error()), slog.String("module", "anchor"))
		}
	}

	return info, true, nil
}
