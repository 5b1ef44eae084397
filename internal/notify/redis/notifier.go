// Package redis queues notices on a Redis list for the reply bot to consume.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

// DefaultKey is the list notices are pushed onto.
const DefaultKey = "audit:replies"

// Config configures the Redis notifier.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

type lpusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
}

// Notifier pushes JSON-encoded notices onto a Redis list.
type Notifier struct {
	client lpusher
	key    string
	closer func() error
}

// New dials Redis and checks the connection.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	n := NewWithClient(client, cfg.Key)
	n.closer = client.Close
	return n, nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client lpusher, key string) *Notifier {
	if key == "" {
		key = DefaultKey
	}
	return &Notifier{client: client, key: key}
}

// NotifyOutcome LPUSHes the notice as JSON.
func (n *Notifier) NotifyOutcome(ctx context.Context, notice crawler.Notice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	if err := n.client.LPush(ctx, n.key, data).Err(); err != nil {
		return fmt.Errorf("push notice to %s: %w", n.key, err)
	}
	return nil
}

// Close releases the client connection when New created it.
func (n *Notifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}
