package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "ingest.sessions"

// RedisBus publishes session events as JSON on a Redis pub/sub channel.
type RedisBus struct {
	rdb     *redis.Client
	channel string
}

// NewRedisBus connects to addr and verifies the connection.
func NewRedisBus(ctx context.Context, addr string, password string, channel string) (*RedisBus, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{rdb: rdb, channel: channel}, nil
}

func (b *RedisBus) Publish(ctx context.Context, ev SessionEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Subscribe calls onEvent for every event received until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, onEvent func(SessionEvent)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok || m == nil {
				return nil
			}
			ev, err := decode(m.Payload)
			if err != nil {
				logger.Warn("[Events] Bad session event payload", "err", err)
				continue
			}
			onEvent(ev)
		}
	}
}

func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

func decode(payload string) (SessionEvent, error) {
	var ev SessionEvent
	err := json.Unmarshal([]byte(payload), &ev)
	return ev, err
}
