package contracts

import "context"

// MessageQueue is the ingest stream between message acceptance and
// persistence. Backed by Redis Streams with consumer groups.
type MessageQueue interface {
	// Producer side (HTTP accept path)
	PublishToStream(ctx context.Context, topic string, payload []byte) error
	// Consumer side (conversation worker)
	SubscribeToStream(ctx context.Context, topic string, conGroup string, handler func(ctx context.Context, messageID string, data []byte) error) error
	// AcknowledgeMessage removes the message from the pending list
	// once the DB save is confirmed.
	AcknowledgeMessage(ctx context.Context, convID, conGroup, mesgID string) error
	DeleteMessage(ctx context.Context, convID, mesgID string) error
}
