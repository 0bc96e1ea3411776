package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/totegamma/eventchain/internal/domain"
)

const channelPrefix = "eventchain:"

// SignalService broadcasts chain updates between node instances.
type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

// Channel returns the pub/sub channel of a chain.
func Channel(id string) string {
	return channelPrefix + id
}

// Publish sends the events that were appended to the chain to its subscribers.
func (s *SignalService) Publish(ctx context.Context, update *domain.EventChain) error {

	jsonstr, err := json.Marshal(update)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, Channel(update.ID), jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// Realtime forwards the updates of the chain to output until ctx is done.
func (s *SignalService) Realtime(ctx context.Context, id string, output chan<- json.RawMessage) {
	pubsub := s.rdb.Subscribe(ctx, Channel(id))
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				slog.DebugContext(ctx, "subscription closed", slog.String("chain", id), slog.String("module", "signal"))
				return
			}
			select {
			case output <- json.RawMessage(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}
