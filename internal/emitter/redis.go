package emitter

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
)

// DefaultChannel is the Redis channel sale events are published to.
const DefaultChannel = "nayax:sale"

// RedisEmitter publishes sale events as JSON on a Redis channel, the
// standalone analog of firing events on a home-automation bus.
type RedisEmitter struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisEmitter(addr string, password string, db int, channel string, log zerolog.Logger) *RedisEmitter {
	if channel == "" {
		channel = DefaultChannel
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisEmitter{client: client, channel: channel, log: log}
}

func (e *RedisEmitter) Ping(ctx context.Context) error {
	return e.client.Ping(ctx).Err()
}

func (e *RedisEmitter) Close() error {
	return e.client.Close()
}

func (e *RedisEmitter) Emit(ctx context.Context, machine domain.Machine, rec domain.TransactionRecord, includeRaw bool) error {
	event := NewSaleEvent(machine, rec, includeRaw)
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := e.client.Publish(ctx, e.channel, payload).Err(); err != nil {
		return err
	}
	e.log.Debug().
		Str("event_id", event.EventID).
		Str("machine_id", event.MachineID).
		Str("transaction_id", event.TransactionID).
		Str("channel", e.channel).
		Msg("sale event published")
	return nil
}
