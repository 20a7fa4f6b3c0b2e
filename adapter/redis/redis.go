// Package redis publishes analysis completion notices as JSON on a Redis
// pub/sub channel. Publishing retries with exponential backoff on
// connection errors.
//
// When a history key is configured, each notice is also pushed onto a
// capped Redis list so late subscribers can catch up.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/drawscan/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "drawscan:analysis_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultHistoryLimit is the default cap on the history list.
const DefaultHistoryLimit = 100

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: drawscan:analysis_completed).
	Channel string
	// HistoryKey, when set, names a list that keeps recent notices.
	HistoryKey string
	// HistoryLimit caps the history list length (default 100).
	HistoryLimit int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Adapter publishes analysis completion events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the event as a JSON PUBLISH to the configured channel.
// Retries with exponential backoff on failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.AnalysisCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + a.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		lastErr = a.publishOnce(publishCtx, body)
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// publishOnce publishes body and, if configured, records it in the history
// list in the same pipeline.
func (a *Adapter) publishOnce(ctx context.Context, body []byte) error {
	if a.config.HistoryKey == "" {
		return a.client.Publish(ctx, a.config.Channel, body).Err()
	}
	_, err := a.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Publish(ctx, a.config.Channel, body)
		pipe.LPush(ctx, a.config.HistoryKey, body)
		pipe.LTrim(ctx, a.config.HistoryKey, 0, a.config.HistoryLimit-1)
		return nil
	})
	return err
}

// History returns up to n of the most recent notices, newest first.
// Returns nil when no history key is configured.
func (a *Adapter) History(ctx context.Context, n int64) ([]*adapter.AnalysisCompletedEvent, error) {
	if a.config.HistoryKey == "" || n <= 0 {
		return nil, nil
	}
	raw, err := a.client.LRange(ctx, a.config.HistoryKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read history: %w", err)
	}
	events := make([]*adapter.AnalysisCompletedEvent, 0, len(raw))
	for _, item := range raw {
		var event adapter.AnalysisCompletedEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("redis: decode history entry: %w", err)
		}
		events = append(events, &event)
	}
	return events, nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
