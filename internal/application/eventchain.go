package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/eventchain/internal/domain"
	"github.com/totegamma/eventchain/internal/usecase"
)

var tracer = otel.Tracer("application")

// Signal publishes chain updates to subscribers.
type Signal interface {
	Publish(ctx context.Context, update *domain.EventChain) error
}

// Deps are the collaborators of the event chain application.
type Deps struct {
	Repo       usecase.ChainRepository
	Node       domain.Signer
	Origin     string
	Extractor  usecase.ResourceExtractor
	Storage    usecase.ResourceStorage
	Anchor     usecase.AnchorClient
	Dispatcher usecase.Dispatcher
	Signal     Signal
}

// EventChainApplication loads chains, runs event managers on them and stores the result.
// Requests for the same chain are serialized.
type EventChainApplication struct {
	Deps
	errorEvents *usecase.ErrorEventFactory
	resolver    *usecase.ConflictResolver
	locks       *keyedMutex
}

func NewEventChainApplication(deps Deps) *EventChainApplication {
	return &EventChainApplication{
		Deps:        deps,
		errorEvents: usecase.NewErrorEventFactory(deps.Node, deps.Origin),
		resolver:    usecase.NewConflictResolver(deps.Anchor, usecase.NewRebaser(deps.Node), deps.Storage, deps.Extractor),
		locks:       newKeyedMutex(),
	}
}

func (app *EventChainApplication) Get(ctx context.Context, id string) (*domain.EventChain, error) {
	return app.Repo.Get(ctx, id)
}

// List returns the chains with an identity using signkey.
func (app *EventChainApplication) List(ctx context.Context, signkey string) ([]*domain.EventChain, error) {
	return app.Repo.ListByIdentity(ctx, signkey)
}

func (app *EventChainApplication) load(ctx context.Context, id string) (*domain.EventChain, error) {
	chain, err := app.Repo.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewEventChain(id), nil
	}
	return chain, err
}

func (app *EventChainApplication) manager(chain *domain.EventChain) (*usecase.EventManager, error) {
	return usecase.NewEventManager(chain, app.Node, app.Extractor, app.Storage, app.Anchor, app.Dispatcher, app.errorEvents)
}

// Add appends new events to the stored chain, creating it when it doesn't exist.
// The chain is saved whenever events were appended, which includes error events.
func (app *EventChainApplication) Add(ctx context.Context, newEvents *domain.EventChain) (*domain.EventChain, *domain.Validation, error) {
	ctx, span := tracer.Start(ctx, "Application.EventChain.Add")
	defer span.End()
	span.SetAttributes(attribute.String("chain", newEvents.ID))

	if validation := newEvents.Validate(); validation.Failed() {
		return nil, validation, nil
	}

	unlock := app.locks.Lock(newEvents.ID)
	defer unlock()

	chain, err := app.load(ctx, newEvents.ID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	manager, err := app.manager(chain)
	if err != nil {
		return nil, nil, err
	}

	latestBefore := chain.LatestHash()

	validation, err := manager.Add(ctx, newEvents)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	chain = manager.Chain()
	if chain.LatestHash() != latestBefore {
		if err := app.save(ctx, chain, latestBefore); err != nil {
			return nil, nil, err
		}
	}

	return chain, validation, nil
}

// Resolve settles a fork between the stored chain and theirs. theirs may be partial but has to fit on
// the stored chain. The returned chain is the stored chain after resolution.
func (app *EventChainApplication) Resolve(ctx context.Context, theirs *domain.EventChain) (*domain.EventChain, *domain.Validation, error) {
	ctx, span := tracer.Start(ctx, "Application.EventChain.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("chain", theirs.ID))

	if validation := theirs.Validate(); validation.Failed() {
		return nil, validation, nil
	}

	unlock := app.locks.Lock(theirs.ID)
	locked := true
	defer func() {
		if locked {
			unlock()
		}
	}()

	ours, err := app.Repo.Get(ctx, theirs.ID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	previous := theirs.FirstEvent().Previous
	following, err := ours.EventsAfter(previous)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ValidationError("events don't fit on chain, '%s' not found", previous), nil
	}
	if err != nil {
		return nil, nil, err
	}

	fork := 0
	for fork < len(following) && fork < len(theirs.Events) && following[fork].Hash == theirs.Events[fork].Hash {
		fork++
	}

	if fork == len(theirs.Events) {
		return ours, domain.NewValidation(), nil
	}
	if fork == len(following) {
		// no conflict, their events follow ours
		unlock()
		locked = false
		return app.Add(ctx, theirs.WithEvents(theirs.Events[fork:]))
	}

	merged, err := app.resolver.HandleFork(ctx, ours.WithEvents(following[fork:]), theirs.WithEvents(theirs.Events[fork:]))
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	if merged.IsEmpty() {
		return ours, domain.NewValidation(), nil
	}

	prefix := ours.Events[:len(ours.Events)-len(following)+fork]
	replay := append(append([]*domain.Event{}, prefix...), merged.Events...)

	rebuilt, resources, validation, err := usecase.Replay(ctx, ours.ID, replay, app.Node, app.Extractor, app.errorEvents)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	if validation.Failed() {
		err := fmt.Errorf("failed to rebuild chain '%s': %w", ours.ID, validation.Err())
		span.RecordError(err)
		return nil, nil, err
	}

	latestBefore := rebuilt.InitialHash()
	if len(prefix) > 0 {
		latestBefore = prefix[len(prefix)-1].Hash
	}

	if err := app.save(ctx, rebuilt, rebuilt.InitialHash()); err != nil {
		return nil, nil, err
	}

	manager, err := app.manager(rebuilt)
	if err != nil {
		return nil, nil, err
	}
	if err := manager.Propagate(ctx, latestBefore, ours.Nodes(), resources[min(len(prefix), len(resources)):]); err != nil {
		slog.WarnContext(ctx, "failed to propagate resolved chain", slog.String("chain", ours.ID), slog.String("error", err.Error()))
	}

	return rebuilt, validation, nil
}

func (app *EventChainApplication) save(ctx context.Context, chain *domain.EventChain, latestBefore string) error {
	if err := app.Repo.Save(ctx, chain); err != nil {
		return err
	}

	if app.Signal == nil {
		return nil
	}

	update, err := chain.PartialAfter(latestBefore)
	if err != nil {
		update = chain
	}
	if err := app.Signal.Publish(ctx, update); err != nil {
		slog.WarnContext(ctx, "failed to publish chain update", slog.String("chain", chain.ID), slog.String("error", err.Error()))
	}

	return nil
}

// keyedMutex hands out a mutex per key. Entries are removed when no one holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock locks key and returns the function that unlocks it.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
