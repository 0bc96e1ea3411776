package usecase

import (
	"context"
	"time"

	"github.com/totegamma/eventchain/internal/domain"
)

// Rebaser moves the events of one fork on top of another.
type Rebaser struct {
	node domain.Signer
	now  func() time.Time
}

func NewRebaser(node domain.Signer) *Rebaser {
	return &Rebaser{
		node: node,
		now:  time.Now,
	}
}

// Rebase returns a chain with the events of lead followed by the events of later, stitched
// onto lead. Stitched events keep origin and body, refer to the event they replace through
// Original and are signed by the node. Neither input is modified.
func (r *Rebaser) Rebase(ctx context.Context, lead, later *domain.EventChain) (*domain.EventChain, error) {
	_, span := tracer.Start(ctx, "Rebaser.Rebase")
	defer span.End()

	if lead.IsEmpty() || later.IsEmpty() {
		span.RecordError(domain.ErrEmptyRebase)
		return nil, domain.ErrEmptyRebase
	}

	events := make([]*domain.Event, 0, len(lead.Events)+len(later.Events))
	for _, event := range lead.Events {
		events = append(events, event.Clone())
	}
	merged := lead.WithEvents(events)

	timestamp := r.now().Unix()
	for _, event := range later.Events {
		original := event.Original
		if original == nil {
			original = event
		}

		stitched := domain.Draft{
			Origin:    event.Origin,
			Body:      event.Body,
			Timestamp: timestamp,
			Previous:  merged.LatestHash(),
			Original:  original.Clone(),
		}.Sign(r.node)

		merged.AddEvent(stitched)
	}

	return merged, nil
}
