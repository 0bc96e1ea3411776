package usecase

import (
	"context"

	"github.com/totegamma/eventchain/internal/domain"
)

// projection records the resources a manager would store, without storing them.
type projection struct {
	resources []domain.Resource
}

func (p *projection) Store(ctx context.Context, resource domain.Resource, chain *domain.EventChain) error {
	p.resources = append(p.resources, resource)
	return nil
}

func (p *projection) StoreGrouped(ctx context.Context, resources []domain.Resource, chain *domain.EventChain) error {
	return nil
}

func (p *projection) Done(ctx context.Context, chain *domain.EventChain) error { return nil }

func (p *projection) DeleteProjected(ctx context.Context, ids []string) error { return nil }

// Replay builds a new chain from events. Nothing is stored, anchored or dispatched.
// On success the resources projected from each event are returned in event order.
func Replay(
	ctx context.Context,
	id string,
	events []*domain.Event,
	node domain.Signer,
	extractor ResourceExtractor,
	errorEvents *ErrorEventFactory,
) (*domain.EventChain, []domain.Resource, *domain.Validation, error) {
	ctx, span := tracer.Start(ctx, "Replay")
	defer span.End()

	projected := &projection{}
	manager, err := NewEventManager(domain.NewEventChain(id), node, extractor, projected, nil, nil, errorEvents)
	if err != nil {
		return nil, nil, nil, err
	}

	validation, err := manager.Add(ctx, domain.NewEventChain(id).WithEvents(events))
	if err != nil {
		span.RecordError(err)
		return nil, nil, nil, err
	}
	if validation.Failed() {
		return nil, nil, validation, nil
	}

	return manager.Chain(), projected.resources, validation, nil
}
