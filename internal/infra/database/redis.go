package database

import (
	"github.com/redis/go-redis/v9"
)

// NewRedis connects to the redis instance used for chain update signals.
func NewRedis(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
}
