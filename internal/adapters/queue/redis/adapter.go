package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/logger"
	"aimx.console/internal/core/ports"
)

// doneMarker is published on a workload's channel when its stream ends. It is
// the same literal the SSE producer emits on the wire, so the whole path
// shares one end-of-stream vocabulary.
const doneMarker = "[DONE]"

const (
	logChannelPrefix = "workload:logs:"
	recentSuffix     = ":recent"
)

type RedisAdapter struct {
	client       *redis.Client
	historyLimit int
}

// NewRedisAdapter connects to redis and returns the LogPubSub port plus the
// raw client for health checks.
func NewRedisAdapter(url string, historyLimit int) (ports.LogPubSub, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	client := redis.NewClient(opts)
	return &RedisAdapter{client: client, historyLimit: historyLimit}, client, nil
}

func logChannel(workloadID string) string {
	return logChannelPrefix + workloadID
}

func recentKey(workloadID string) string {
	return logChannel(workloadID) + recentSuffix
}

func (r *RedisAdapter) Publish(ctx context.Context, workloadID string, entry domain.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// Keep a capped history window alongside the live channel so stream
	// producers can replay recent entries to late subscribers.
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, recentKey(workloadID), data)
	pipe.LTrim(ctx, recentKey(workloadID), int64(-r.historyLimit), -1)
	pipe.Publish(ctx, logChannel(workloadID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish log entry: %w", err)
	}
	return nil
}

func (r *RedisAdapter) PublishDone(ctx context.Context, workloadID string) error {
	return r.client.Publish(ctx, logChannel(workloadID), doneMarker).Err()
}

func (r *RedisAdapter) Subscribe(ctx context.Context, workloadID string) (<-chan domain.LogEntry, error) {
	pubsub := r.client.Subscribe(ctx, logChannel(workloadID))
	ch := make(chan domain.LogEntry)

	go func() {
		defer pubsub.Close()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				if msg.Payload == doneMarker {
					return
				}
				var entry domain.LogEntry
				if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
					logger.Debug("skipping malformed pubsub payload",
						"workload_id", workloadID, "error", err)
					continue
				}
				select {
				case ch <- entry:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (r *RedisAdapter) SubscribeAll(ctx context.Context) (<-chan ports.WorkloadLogEntry, error) {
	pubsub := r.client.PSubscribe(ctx, logChannelPrefix+"*")
	ch := make(chan ports.WorkloadLogEntry)

	go func() {
		defer pubsub.Close()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				item := ports.WorkloadLogEntry{
					WorkloadID: strings.TrimPrefix(msg.Channel, logChannelPrefix),
				}
				if msg.Payload == doneMarker {
					item.Done = true
				} else if err := json.Unmarshal([]byte(msg.Payload), &item.Entry); err != nil {
					logger.Debug("skipping malformed pubsub payload",
						"channel", msg.Channel, "error", err)
					continue
				}
				select {
				case ch <- item:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (r *RedisAdapter) Recent(ctx context.Context, workloadID string, limit int) ([]domain.LogEntry, error) {
	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}
	raw, err := r.client.LRange(ctx, recentKey(workloadID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read log history: %w", err)
	}

	entries := make([]domain.LogEntry, 0, len(raw))
	for _, payload := range raw {
		var entry domain.LogEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
