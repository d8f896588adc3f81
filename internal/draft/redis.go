package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Redis backs the draft store with one hash per branch-day plus a pub/sub
// channel for change fan-out, which is what multi-device sync needs.
type Redis struct {
	client *redis.Client

	// Drafts are ephemeral by definition; the TTL is a backstop for
	// sessions that were abandoned without ever submitting.
	ttl time.Duration
}

func NewRedis(addr string, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &Redis{client: client, ttl: 48 * time.Hour}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func hashKey(branchID string, day string) string {
	return fmt.Sprintf("draft:%s:%s", branchID, day)
}

func channelKey(branchID string, day string) string {
	return fmt.Sprintf("draft-events:%s:%s", branchID, day)
}

func (r *Redis) Snapshot(ctx context.Context, branchID string, day string) (Snapshot, error) {
	fields, err := r.client.HGetAll(ctx, hashKey(branchID, day)).Result()
	if err != nil {
		return nil, fmt.Errorf("draft snapshot: %w", err)
	}

	snap := make(Snapshot, len(fields))
	for productID, raw := range fields {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// A malformed field should not take the whole draft down.
			continue
		}
		snap[productID] = entry
	}
	return snap, nil
}

func (r *Redis) Subscribe(ctx context.Context, branchID string, day string) (<-chan Snapshot, error) {
	sub := r.client.Subscribe(ctx, channelKey(branchID, day))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("draft subscribe: %w", err)
	}

	initial, err := r.Snapshot(ctx, branchID, day)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan Snapshot, 8)
	out <- initial

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				snap, err := r.Snapshot(ctx, branchID, day)
				if err != nil {
					return
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *Redis) WriteFields(ctx context.Context, branchID string, day string, productID string, update FieldUpdate, updatedBy string) error {
	if productID == "" {
		return nil
	}
	key := hashKey(branchID, day)

	// Read-modify-write of a single hash field. Concurrent writers to the
	// same product race last-write-wins, which is the documented contract;
	// sibling fields are untouched either way.
	var entry Entry
	raw, err := r.client.HGet(ctx, key, productID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("draft read %s: %w", productID, err)
	}
	if err == nil {
		_ = json.Unmarshal([]byte(raw), &entry)
	}

	entry = entry.apply(update, updatedBy, time.Now().UTC())
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, productID, payload)
	pipe.Expire(ctx, key, r.ttl)
	pipe.Publish(ctx, channelKey(branchID, day), productID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("draft write %s: %w", productID, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context, branchID string, day string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, hashKey(branchID, day))
	pipe.Publish(ctx, channelKey(branchID, day), "clear")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("draft clear: %w", err)
	}
	return nil
}
