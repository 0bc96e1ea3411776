package usecase

import (
	"time"

	"github.com/totegamma/eventchain/internal/domain"
)

// ErrorEventFactory creates the events that record why processing of a batch stopped.
type ErrorEventFactory struct {
	node   domain.Signer
	origin string
	now    func() time.Time
}

func NewErrorEventFactory(node domain.Signer, origin string) *ErrorEventFactory {
	return &ErrorEventFactory{
		node:   node,
		origin: origin,
		now:    time.Now,
	}
}

type errorBody struct {
	Schema  string          `json:"$schema"`
	Message []string        `json:"message"`
	Events  []*domain.Event `json:"events"`
}

// Create returns an error event following previous, signed by the node.
func (f *ErrorEventFactory) Create(previous string, messages []string, events []*domain.Event) (*domain.Event, error) {
	if events == nil {
		events = []*domain.Event{}
	}

	body, err := domain.EncodeBody(errorBody{
		Schema:  domain.ErrorSchema,
		Message: messages,
		Events:  events,
	})
	if err != nil {
		return nil, err
	}

	return domain.Draft{
		Origin:    f.origin,
		Body:      body,
		Timestamp: f.now().Unix(),
		Previous:  previous,
	}.Sign(f.node), nil
}
