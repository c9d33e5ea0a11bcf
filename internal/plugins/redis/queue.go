package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisMessageQueue is the ingest stream between message acceptance
// and persistence, one stream per conversation.
type RedisMessageQueue struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisMessageQueue(log *slog.Logger, rdb *redis.Client) *RedisMessageQueue {
	return &RedisMessageQueue{rdb: rdb, log: log}
}

func (q *RedisMessageQueue) streamKey(convID string) string {
	return "stream:" + convID
}

func (q *RedisMessageQueue) PublishToStream(ctx context.Context, convID string, payload []byte) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.streamKey(convID),
		MaxLen: 1000,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{"data": payload},
	}).Err()
}

func (q *RedisMessageQueue) SubscribeToStream(
	ctx context.Context,
	convID string,
	conGroup string,
	handler func(ctx context.Context, messageID string, data []byte) error,
) error {
	topic := q.streamKey(convID)
	// Create group if not exists
	err := q.rdb.XGroupCreateMkStream(ctx, topic, conGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	consumerName := uuid.NewString()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				// Read new entries only (">"). An entry left pending by
				// a failed handler is not reclaimed: delivery is
				// at-most-once.
				res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
					Group:    conGroup,
					Consumer: consumerName,
					Streams:  []string{topic, ">"},
					Count:    1,
					Block:    2 * time.Second,
				}).Result()
				if err != nil {
					if err != redis.Nil && ctx.Err() == nil {
						q.log.Error("queue - subscribe - stream read failed", "stream", topic, "err", err)
					}
					continue
				}
				for _, stream := range res {
					for _, msg := range stream.Messages {
						raw, ok := msg.Values["data"].(string)
						if !ok {
							continue
						}
						if err := handler(ctx, msg.ID, []byte(raw)); err != nil {
							q.log.Error("queue - subscribe - handler failed", "stream", topic, "message_id", msg.ID, "err", err)
						}
					}
				}
			}
		}
	}()
	return nil
}

func (q *RedisMessageQueue) AcknowledgeMessage(ctx context.Context, convID, conGroup, mesgID string) error {
	return q.rdb.XAck(ctx, q.streamKey(convID), conGroup, mesgID).Err()
}

func (q *RedisMessageQueue) DeleteMessage(ctx context.Context, convID, mesgID string) error {
	return q.rdb.XDel(ctx, q.streamKey(convID), mesgID).Err()
}
