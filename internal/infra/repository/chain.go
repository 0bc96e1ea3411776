package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/eventchain/internal/domain"
	"github.com/totegamma/eventchain/internal/infra/database/models"
)

var tracer = otel.Tracer("repository")

type ChainRepository struct {
	db *gorm.DB
}

func NewChainRepository(db *gorm.DB) *ChainRepository {
	return &ChainRepository{db: db}
}

func (r *ChainRepository) Get(ctx context.Context, id string) (*domain.EventChain, error) {
	ctx, span := tracer.Start(ctx, "Repository.Chain.Get")
	defer span.End()
	span.SetAttributes(attribute.String("chain", id))

	var chain models.Chain
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&chain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundError{Resource: fmt.Sprintf("event chain '%s'", id)}
	}
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to load chain")
	}

	var events []models.ChainEvent
	err = r.db.WithContext(ctx).
		Where("chain_id = ?", id).
		Order("position ASC").
		Find(&events).Error
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to load events")
	}

	return fromModels(chain, events)
}

// Save stores the chain. Events are written by position, so events replaced by a rebase are overwritten
// and positions past the end of the chain are removed.
func (r *ChainRepository) Save(ctx context.Context, chain *domain.EventChain) error {
	ctx, span := tracer.Start(ctx, "Repository.Chain.Save")
	defer span.End()
	span.SetAttributes(attribute.String("chain", chain.ID), attribute.Int("events", len(chain.Events)))

	row, err := toModel(chain)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"latest_hash", "length", "projection", "m_date"}),
		}).Create(&row).Error; err != nil {
			return err
		}

		var stored []string
		if err := tx.Model(&models.ChainEvent{}).
			Where("chain_id = ?", chain.ID).
			Order("position ASC").
			Pluck("hash", &stored).Error; err != nil {
			return err
		}

		for i, event := range chain.Events {
			if i < len(stored) && stored[i] == event.Hash {
				continue
			}
			model, err := toEventModel(chain.ID, i, event)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "chain_id"}, {Name: "position"}},
				DoUpdates: clause.AssignmentColumns([]string{"hash", "sign_key", "document"}),
			}).Create(&model).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("chain_id = ? AND position >= ?", chain.ID, len(chain.Events)).
			Delete(&models.ChainEvent{}).Error; err != nil {
			return err
		}

		if err := tx.Where("chain_id = ?", chain.ID).Delete(&models.ChainSignKey{}).Error; err != nil {
			return err
		}
		keys := signKeyModels(chain)
		if len(keys) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&keys).Error
	})
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to save chain")
	}

	return nil
}

// ListByIdentity returns the chains with an identity holding signkey.
func (r *ChainRepository) ListByIdentity(ctx context.Context, signkey string) ([]*domain.EventChain, error) {
	ctx, span := tracer.Start(ctx, "Repository.Chain.ListByIdentity")
	defer span.End()

	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.ChainSignKey{}).
		Where("sign_key = ?", signkey).
		Distinct().
		Order("chain_id ASC").
		Pluck("chain_id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to list chains")
	}

	chains := make([]*domain.EventChain, 0, len(ids))
	for _, id := range ids {
		chain, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}

	return chains, nil
}

func toModel(chain *domain.EventChain) (models.Chain, error) {
	projection, err := json.Marshal(chain.WithEvents(nil))
	if err != nil {
		return models.Chain{}, errors.Wrap(err, "failed to encode projection")
	}

	return models.Chain{
		ID:         chain.ID,
		LatestHash: chain.LatestHash(),
		Length:     len(chain.Events),
		Projection: string(projection),
	}, nil
}

func toEventModel(chainID string, position int, event *domain.Event) (models.ChainEvent, error) {
	document, err := json.Marshal(event)
	if err != nil {
		return models.ChainEvent{}, errors.Wrap(err, "failed to encode event")
	}

	return models.ChainEvent{
		ChainID:  chainID,
		Position: position,
		Hash:     event.Hash,
		SignKey:  event.SignKey,
		Document: string(document),
	}, nil
}

func signKeyModels(chain *domain.EventChain) []models.ChainSignKey {
	seen := map[string]bool{}
	var keys []models.ChainSignKey
	for _, identity := range chain.Identities {
		for _, key := range identity.SignKeys {
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, models.ChainSignKey{ChainID: chain.ID, SignKey: key})
		}
	}
	return keys
}

func fromModels(row models.Chain, events []models.ChainEvent) (*domain.EventChain, error) {
	chain := domain.NewEventChain(row.ID)
	if row.Projection != "" {
		if err := json.Unmarshal([]byte(row.Projection), chain); err != nil {
			return nil, errors.Wrap(err, "failed to decode projection")
		}
	}

	chain.Events = make([]*domain.Event, 0, len(events))
	for _, model := range events {
		event := &domain.Event{}
		if err := json.Unmarshal([]byte(model.Document), event); err != nil {
			return nil, errors.Wrapf(err, "failed to decode event at %d", model.Position)
		}
		chain.Events = append(chain.Events, event)
	}

	if chain.LatestHash() != row.LatestHash {
		return nil, fmt.Errorf("chain '%s' is inconsistent: latest hash %s, stored %s", row.ID, chain.LatestHash(), row.LatestHash)
	}

	return chain, nil
}
