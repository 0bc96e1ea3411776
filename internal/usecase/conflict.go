package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/eventchain/internal/domain"
)

// ConflictResolver decides which of two forks of a chain stays, using the anchoring service.
type ConflictResolver struct {
	anchor    AnchorClient
	rebaser   *Rebaser
	storage   ResourceStorage
	extractor ResourceExtractor
}

func NewConflictResolver(anchor AnchorClient, rebaser *Rebaser, storage ResourceStorage, extractor ResourceExtractor) *ConflictResolver {
	return &ConflictResolver{
		anchor:    anchor,
		rebaser:   rebaser,
		storage:   storage,
		extractor: extractor,
	}
}

// HandleFork resolves the fork between our events and theirs. Both chains start at the fork point.
// The fork whose first event was anchored first wins. When ours wins, our chain is returned without
// events. Otherwise our events are rebased onto theirs and the merged chain is returned.
func (r *ConflictResolver) HandleFork(ctx context.Context, ours, theirs *domain.EventChain) (*domain.EventChain, error) {
	ctx, span := tracer.Start(ctx, "ConflictResolver.HandleFork")
	defer span.End()
	span.SetAttributes(attribute.String("chain", ours.ID))

	if ours.IsEmpty() || theirs.IsEmpty() {
		return nil, &domain.UnresolvableConflictError{Ours: ours, Theirs: theirs, Cause: domain.ErrEmptyChain}
	}

	ourHash := ours.FirstEvent().GetHash()
	theirHash := theirs.FirstEvent().GetHash()

	anchors, err := r.anchor.FetchMultiple(ctx, []string{ourHash, theirHash})
	if err != nil {
		span.RecordError(err)
		return nil, &domain.UnresolvableConflictError{
			Ours:        ours,
			Theirs:      theirs,
			NotAnchored: errors.Is(err, domain.ErrNotAnchored),
			Cause:       fmt.Errorf("failed to fetch from anchoring service: %w", err),
		}
	}

	ourAnchor, ourOK := anchors[ourHash]
	theirAnchor, theirOK := anchors[theirHash]
	if !ourOK || !theirOK {
		return nil, &domain.UnresolvableConflictError{
			Ours:        ours,
			Theirs:      theirs,
			NotAnchored: true,
			Cause:       fmt.Errorf("events '%s', '%s' are not anchored yet", ourHash, theirHash),
		}
	}

	if !theirAnchor.Before(ourAnchor) {
		return ours.WithEvents(nil), nil
	}

	merged, err := r.rebaser.Rebase(ctx, theirs, ours)
	if err != nil {
		return nil, &domain.UnresolvableConflictError{Ours: ours, Theirs: theirs, Cause: err}
	}

	r.deleteProjected(ctx, ours)

	return merged, nil
}

// deleteProjected removes the projections of the resources of our discarded events.
func (r *ConflictResolver) deleteProjected(ctx context.Context, ours *domain.EventChain) {
	var ids []string
	for _, event := range ours.Events {
		resource, err := r.extractor.ExtractFrom(event)
		if err != nil {
			continue
		}
		if _, ok := resource.(*domain.ExternalResource); ok {
			ids = append(ids, resource.GetID())
		}
	}
	if len(ids) == 0 {
		return
	}

	if err := r.storage.DeleteProjected(ctx, ids); err != nil {
		slog.WarnContext(ctx, "failed to delete projected resources", slog.String("chain", ours.ID), slog.String("error", err.Error()))
	}
}
