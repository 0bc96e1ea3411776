package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/totegamma/eventchain/internal/domain"
)

var tracer = otel.Tracer("eventmanager")

// EventManager adds new events to a single chain.
// A manager is created per request; the caller serializes requests for the same chain.
type EventManager struct {
	chain       *domain.EventChain
	node        domain.Signer
	extractor   ResourceExtractor
	storage     ResourceStorage
	anchor      AnchorClient
	dispatcher  Dispatcher
	errorEvents *ErrorEventFactory
}

func NewEventManager(
	chain *domain.EventChain,
	node domain.Signer,
	extractor ResourceExtractor,
	storage ResourceStorage,
	anchor AnchorClient,
	dispatcher Dispatcher,
	errorEvents *ErrorEventFactory,
) (*EventManager, error) {
	if chain.IsPartial() {
		return nil, fmt.Errorf("chain '%s': %w", chain.ID, domain.ErrPartialChain)
	}

	return &EventManager{
		chain:       chain,
		node:        node,
		extractor:   extractor,
		storage:     storage,
		anchor:      anchor,
		dispatcher:  dispatcher,
		errorEvents: errorEvents,
	}, nil
}

// Chain returns the chain the manager works on.
func (m *EventManager) Chain() *domain.EventChain {
	return m.chain
}

// Add validates newEvents and appends the events that are not on the chain yet.
// Validation problems are reported through the returned Validation. An error is only returned
// when the manager is used for the wrong chain.
func (m *EventManager) Add(ctx context.Context, newEvents *domain.EventChain) (*domain.Validation, error) {
	ctx, span := tracer.Start(ctx, "EventManager.Add")
	defer span.End()
	span.SetAttributes(attribute.String("chain", m.chain.ID), attribute.Int("events", len(newEvents.Events)))

	if newEvents.ID != m.chain.ID {
		err := fmt.Errorf("can't add events of chain '%s' to '%s': %w", newEvents.ID, m.chain.ID, domain.ErrChainMismatch)
		span.RecordError(err)
		return nil, err
	}

	validation := newEvents.Validate()
	if validation.Failed() {
		return validation, nil
	}

	previous := newEvents.FirstEvent().Previous
	following, err := m.chain.EventsAfter(previous)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ValidationError("events don't fit on chain, '%s' not found", previous), nil
	}
	if err != nil {
		return nil, err
	}

	latestBefore := m.chain.LatestHash()
	oldNodes := m.chain.Nodes()

	var resources []domain.Resource

	for i, event := range newEvents.Events {
		if i < len(following) {
			if event.Hash != following[i].Hash {
				validation.AddError("fork detected; conflict on '%s' and '%s'", event.Hash, following[i].Hash)
			}
		} else {
			resource, handled := m.handleNewEvent(ctx, event)
			validation.Add(handled, fmt.Sprintf("event '%s';", event.Hash))
			if resource != nil {
				resources = append(resources, resource)
			}
		}

		if validation.Failed() {
			m.handleFailedEvent(ctx, validation, newEvents.Events[i:])
			break
		}
	}

	m.dispatch(ctx, latestBefore, oldNodes)

	if validation.Succeeded() && m.chain.LatestHash() != latestBefore && m.chain.IsEventSignedByAccount(m.chain.LastEvent(), m.node) {
		m.done(ctx, resources)
	}

	return validation, nil
}

// Propagate publishes events that are already on the chain after latestBefore: resources are stored,
// node-signed events are anchored and the chain is dispatched. resources are the projections of those
// events. oldNodes are the nodes that had the chain before.
func (m *EventManager) Propagate(ctx context.Context, latestBefore string, oldNodes []string, resources []domain.Resource) error {
	ctx, span := tracer.Start(ctx, "EventManager.Propagate")
	defer span.End()
	span.SetAttributes(attribute.String("chain", m.chain.ID))

	events, err := m.chain.EventsAfter(latestBefore)
	if err != nil {
		span.RecordError(err)
		return err
	}

	for _, resource := range resources {
		if err := m.storage.Store(ctx, resource, m.chain); err != nil {
			slog.WarnContext(ctx, "failed to store resource", slog.String("resource", resource.GetID()), slog.String("error", err.Error()))
		}
	}

	for _, event := range events {
		if m.chain.IsEventSignedByAccount(event, m.node) {
			m.submitAnchor(ctx, event)
		}
	}

	m.dispatch(ctx, latestBefore, oldNodes)

	if len(events) > 0 && m.chain.IsEventSignedByAccount(m.chain.LastEvent(), m.node) {
		m.done(ctx, resources)
	}

	return nil
}

// handleNewEvent authorizes, stores and appends a single event.
// The projected resource is returned when the event was appended.
func (m *EventManager) handleNewEvent(ctx context.Context, event *domain.Event) (domain.Resource, *domain.Validation) {
	validation := event.Validate()

	if event.Previous != m.chain.LatestHash() {
		validation.AddError("event '%s' doesn't fit on chain", event.Hash)
	}
	if validation.Failed() {
		return nil, validation
	}

	resource, err := m.extractor.ExtractFrom(event)
	if err != nil {
		return nil, domain.ValidationError("invalid resource: %s", err.Error())
	}

	validation.Add(m.ApplyPrivilegeToResource(resource, event), "")
	validation.Add(resource.Validate(), "")
	if validation.Failed() {
		return nil, validation
	}

	if err := m.storage.Store(ctx, resource, m.chain); err != nil {
		slog.WarnContext(ctx, "failed to store resource", slog.String("resource", resource.GetID()), slog.String("error", err.Error()))
		return nil, domain.ValidationError("failed to store %s: %s", describeResource(resource), err.Error())
	}

	m.chain.RegisterResource(resource)
	m.chain.AddEvent(event)

	if m.chain.IsEventSignedByAccount(event, m.node) {
		m.submitAnchor(ctx, event)
	}

	return resource, validation
}

func describeResource(resource domain.Resource) string {
	if id := resource.GetID(); id != "" {
		return "resource " + id
	}
	return "resource"
}

// ApplyPrivilegeToResource filters the resource by the privileges of the event signer.
// On an empty chain only an identity may be added.
func (m *EventManager) ApplyPrivilegeToResource(resource domain.Resource, event *domain.Event) *domain.Validation {
	if m.chain.IsEmpty() {
		if _, ok := resource.(*domain.Identity); ok {
			return domain.NewValidation()
		}
		return domain.ValidationError("initial resource must be an identity")
	}

	identities := m.chain.Identities.FilterOnSignkey(event.SignKey)
	privileges := identities.GetPrivileges(resource)
	if len(privileges) == 0 {
		return domain.ValidationError("no privileges for event")
	}

	privilege := domain.ConsolidatePrivileges(resource.GetSchema(), privileges)
	if err := resource.ApplyPrivilege(privilege); err != nil {
		return domain.ValidationError("failed to apply privileges: %s", err.Error())
	}
	resource.SetIdentity(identities[0])

	return domain.NewValidation()
}

// handleFailedEvent appends an error event holding the messages and the events that weren't processed.
func (m *EventManager) handleFailedEvent(ctx context.Context, validation *domain.Validation, remaining []*domain.Event) {
	if m.chain.IsEmpty() {
		return
	}

	event, err := m.errorEvents.Create(m.chain.LatestHash(), validation.Errors(), remaining)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create error event", slog.String("chain", m.chain.ID), slog.String("error", err.Error()))
		return
	}

	m.chain.AddEvent(event)
	m.submitAnchor(ctx, event)
}

func (m *EventManager) submitAnchor(ctx context.Context, event *domain.Event) {
	if m.anchor == nil {
		return
	}
	if err := m.anchor.Submit(ctx, event.Hash); err != nil {
		slog.WarnContext(ctx, "failed to anchor event", slog.String("hash", event.Hash), slog.String("error", err.Error()))
	}
}

// dispatch sends the appended events to the nodes that already had the chain
// and the whole chain to nodes that joined through this batch.
func (m *EventManager) dispatch(ctx context.Context, latestBefore string, oldNodes []string) {
	if m.dispatcher == nil {
		return
	}

	partial, err := m.chain.PartialAfter(latestBefore)
	if err != nil || partial.IsEmpty() {
		return
	}

	systemNodes := m.chain.NodesForSystem(m.node.PublicSignKey())
	oldTargets := without(oldNodes, systemNodes)
	newTargets := without(without(m.chain.Nodes(), oldNodes), systemNodes)

	full := m.chain.Clone()

	var mu sync.Mutex
	var errs []error
	send := func(chain *domain.EventChain, nodes []string) {
		if err := m.dispatcher.Dispatch(ctx, chain, nodes); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("dispatch to %v: %w", nodes, err))
			mu.Unlock()
		}
	}

	var g errgroup.Group
	if len(oldTargets) > 0 {
		g.Go(func() error {
			send(partial, oldTargets)
			return nil
		})
	}
	if len(newTargets) > 0 {
		g.Go(func() error {
			send(full, newTargets)
			return nil
		})
	}
	g.Wait()

	if err := errors.Join(errs...); err != nil {
		slog.WarnContext(ctx, "failed to dispatch chain", slog.String("chain", m.chain.ID), slog.String("error", err.Error()))
	}
}

func (m *EventManager) done(ctx context.Context, resources []domain.Resource) {
	if err := m.storage.StoreGrouped(ctx, resources, m.chain); err != nil {
		slog.WarnContext(ctx, "failed to store grouped resources", slog.String("chain", m.chain.ID), slog.String("error", err.Error()))
	}
	if err := m.storage.Done(ctx, m.chain); err != nil {
		slog.WarnContext(ctx, "failed to signal done", slog.String("chain", m.chain.ID), slog.String("error", err.Error()))
	}
}

func without(list, remove []string) []string {
	var out []string
	for _, item := range list {
		if !slices.Contains(remove, item) {
			out = append(out, item)
		}
	}
	return out
}
