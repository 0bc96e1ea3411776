package usecase

import (
	"context"

	"github.com/totegamma/eventchain"
	"github.com/totegamma/eventchain/internal/domain"
)

// ResourceStorage forwards projected resources to the services that store them.
type ResourceStorage interface {
	Store(ctx context.Context, resource domain.Resource, chain *domain.EventChain) error
	StoreGrouped(ctx context.Context, resources []domain.Resource, chain *domain.EventChain) error
	Done(ctx context.Context, chain *domain.EventChain) error
	DeleteProjected(ctx context.Context, ids []string) error
}

// AnchorClient submits hashes to, and looks them up at, the anchoring service.
type AnchorClient interface {
	Submit(ctx context.Context, hash string) error
	FetchMultiple(ctx context.Context, hashes []string) (map[string]eventchain.AnchorInfo, error)
}

// Dispatcher sends chains to other nodes.
type Dispatcher interface {
	Dispatch(ctx context.Context, chain *domain.EventChain, nodes []string) error
}

// ResourceExtractor turns an event body into a resource.
type ResourceExtractor interface {
	ExtractFrom(event *domain.Event) (domain.Resource, error)
}

// ChainRepository persists event chains.
type ChainRepository interface {
	Get(ctx context.Context, id string) (*domain.EventChain, error)
	Save(ctx context.Context, chain *domain.EventChain) error
	ListByIdentity(ctx context.Context, signkey string) ([]*domain.EventChain, error)
}
