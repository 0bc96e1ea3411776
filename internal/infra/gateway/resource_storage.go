package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/totegamma/eventchain"
	"github.com/totegamma/eventchain/client"
	"github.com/totegamma/eventchain/internal/config"
	"github.com/totegamma/eventchain/internal/domain"
)

var tracer = otel.Tracer("gateway")

// ResourceStorage posts external resources to the services that store them.
// Done notifications are kept per chain until the chain is done.
type ResourceStorage struct {
	client    *client.Client
	endpoints []config.Endpoint
	triggers  []config.Trigger

	mu      sync.Mutex
	pending map[string][]string
}

func NewResourceStorage(cl *client.Client, endpoints []config.Endpoint, triggers []config.Trigger) *ResourceStorage {
	return &ResourceStorage{
		client:    cl,
		endpoints: endpoints,
		triggers:  triggers,
		pending:   make(map[string][]string),
	}
}

// FindURL returns the url the first matching endpoint maps uri onto.
func (s *ResourceStorage) FindURL(uri string) (string, bool) {
	for _, endpoint := range s.endpoints {
		if u, ok := eventchain.MatchEndpoint(endpoint.Pattern, endpoint.URL, uri); ok {
			return u, true
		}
	}
	return "", false
}

func (s *ResourceStorage) Store(ctx context.Context, resource domain.Resource, chain *domain.EventChain) error {
	external, ok := resource.(*domain.ExternalResource)
	if !ok {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Gateway.ResourceStorage.Store")
	defer span.End()

	id := external.GetID()
	span.SetAttributes(attribute.String("resource", id))

	target, ok := s.FindURL(id)
	if !ok {
		return fmt.Errorf("no url found for '%s'", id)
	}

	if err := s.client.PostJSON(ctx, target, external, nil); err != nil {
		span.RecordError(err)
		return err
	}

	doneURI := eventchain.StripVersion(id) + "/done"
	if _, ok := s.FindURL(doneURI); ok {
		s.mu.Lock()
		if !slices.Contains(s.pending[chain.ID], doneURI) {
			s.pending[chain.ID] = append(s.pending[chain.ID], doneURI)
		}
		s.mu.Unlock()
	}

	return nil
}

// Done notifies the services of the resources stored for the chain. Error responses are logged.
func (s *ResourceStorage) Done(ctx context.Context, chain *domain.EventChain) error {
	s.mu.Lock()
	pending := s.pending[chain.ID]
	delete(s.pending, chain.ID)
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Gateway.ResourceStorage.Done")
	defer span.End()

	notice := eventchain.DoneNotice{
		ID:       chain.ID,
		LastHash: chain.LatestHash(),
	}

	var mu sync.Mutex
	var errs []error

	var g errgroup.Group
	for _, uri := range pending {
		target, _ := s.FindURL(uri)
		g.Go(func() error {
			err := s.client.PostJSON(ctx, target, notice, nil)
			var statusErr *client.StatusError
			if errors.As(err, &statusErr) {
				message := fmt.Sprintf("POST %s resulted in a `%s` response", target, statusErr.Status)
				if statusErr.Body != "" {
					message += ": " + statusErr.Body
				}
				slog.WarnContext(ctx, message, slog.String("module", "storage"))
				return nil
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("failed to notify %s: %w", target, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// StoreGrouped sends one request per trigger and distinct grouping value found in resources.
// Responses are not processed.
func (s *ResourceStorage) StoreGrouped(ctx context.Context, resources []domain.Resource, chain *domain.EventChain) error {
	if len(s.triggers) == 0 || len(resources) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Gateway.ResourceStorage.StoreGrouped")
	defer span.End()

	values := make([]map[string]any, len(resources))
	for i, resource := range resources {
		values[i] = resourceValues(resource)
	}

	type request struct {
		target string
		body   map[string]any
	}

	var requests []request
	for _, trigger := range s.triggers {
		for _, filter := range trigger.Resources {
			field := filter.Group.Process
			for _, value := range groupValues(resources, values, filter.Schema, field) {
				body, err := triggerBody(trigger, field, value, chain)
				if err != nil {
					span.RecordError(err)
					return err
				}
				requests = append(requests, request{target: eventchain.ExpandURL(trigger.URL, value), body: body})
			}
		}
	}

	var mu sync.Mutex
	var errs []error

	var g errgroup.Group
	for _, req := range requests {
		g.Go(func() error {
			if err := s.client.PostJSON(ctx, req.target, req.body, nil); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("failed to trigger %s: %w", req.target, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func groupValues(resources []domain.Resource, values []map[string]any, schema, field string) []string {
	var out []string
	for i, resource := range resources {
		if schema != "" && resource.GetSchema() != schema {
			continue
		}
		value := groupValue(values[i][field])
		if value != "" && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}

// groupValue returns scalars as text and the id of objects.
func groupValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool, float64, json.Number:
		return fmt.Sprint(v)
	case map[string]any:
		id, _ := v["id"].(string)
		return id
	default:
		return ""
	}
}

func triggerBody(trigger config.Trigger, field, value string, chain *domain.EventChain) (map[string]any, error) {
	body := map[string]any{field: value}

	switch trigger.InjectChain {
	case "":
	case "empty":
		raw, err := chain.MarshalWithLatestHash()
		if err != nil {
			return nil, err
		}
		body["chain"] = json.RawMessage(raw)
	default:
		body["chain"] = chain
	}

	return body, nil
}

func resourceValues(resource domain.Resource) map[string]any {
	raw, err := json.Marshal(resource)
	if err != nil {
		return nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

// DeleteProjected removes resources from the services that store them.
// Resources without a mapped url and resources that are already gone are skipped.
func (s *ResourceStorage) DeleteProjected(ctx context.Context, ids []string) error {
	ctx, span := tracer.Start(ctx, "Gateway.ResourceStorage.DeleteProjected")
	defer span.End()

	var mu sync.Mutex
	var errs []error

	var g errgroup.Group
	for _, id := range ids {
		target, ok := s.deleteURL(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			err := s.client.Delete(ctx, target)
			if err != nil && !client.IsStatus(err, http.StatusNotFound) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("failed to delete %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *ResourceStorage) deleteURL(id string) (string, bool) {
	base := eventchain.StripVersion(id)
	target, ok := s.FindURL(base)
	if !ok {
		return "", false
	}
	if strings.HasSuffix(target, "/") {
		target += url.PathEscape(base[strings.LastIndex(base, "/")+1:])
	}
	return target, true
}
