package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/andrewmcl6081/cloudchat/internal/core/contracts"

	"github.com/redis/go-redis/v9"
)

const (
	roomChannelPrefix = "room:"
	statusChannel     = "user-status"
)

// RedisBridge fans room broadcasts and status changes out to the other
// server processes over Redis pub/sub. One Listen loop per process
// consumes room:* and user-status and hands frames from foreign origins
// to the local handler.
type RedisBridge struct {
	rdb      *redis.Client
	serverID string
	log      *slog.Logger
}

func NewRedisBridge(log *slog.Logger, rdb *redis.Client, serverID string) *RedisBridge {
	return &RedisBridge{
		rdb:      rdb,
		serverID: serverID,
		log:      log,
	}
}

func (b *RedisBridge) PublishToRoom(ctx context.Context, frame contracts.RoomFrame) error {
	frame.Origin = b.serverID
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, roomChannelPrefix+frame.Room, raw).Err()
}

func (b *RedisBridge) PublishStatus(ctx context.Context, frame contracts.StatusFrame) error {
	frame.Origin = b.serverID
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, statusChannel, raw).Err()
}

// Listen consumes bridge traffic until ctx is cancelled. A dropped
// pub/sub connection is re-established by go-redis; frames published
// while disconnected are lost, which matches the at-most-once delivery
// the realtime layer promises.
func (b *RedisBridge) Listen(ctx context.Context, handler contracts.BridgeHandler) error {
	pubsub := b.rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	if err := pubsub.Subscribe(ctx, statusChannel); err != nil {
		_ = pubsub.Close()
		return err
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.dispatch(ctx, handler, msg)
			}
		}
	}()
	return nil
}

func (b *RedisBridge) dispatch(ctx context.Context, handler contracts.BridgeHandler, msg *redis.Message) {
	switch {
	case msg.Channel == statusChannel:
		var frame contracts.StatusFrame
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			b.log.Error("bridge - dispatch - bad status frame", "err", err)
			return
		}
		if frame.Origin == b.serverID {
			return
		}
		handler.HandleStatusFrame(ctx, frame)
	case strings.HasPrefix(msg.Channel, roomChannelPrefix):
		var frame contracts.RoomFrame
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			b.log.Error("bridge - dispatch - bad room frame", "channel", msg.Channel, "err", err)
			return
		}
		if frame.Origin == b.serverID {
			return
		}
		handler.HandleRoomFrame(ctx, frame)
	}
}
