package contracts

import "context"

type AsyncWorker interface {
	// Run starts the consumer loop for one conversation's stream.
	Run(ctx context.Context, convID string) error
	// ProcessMessage persists one accepted message, broadcasts the
	// durable record to the room, and acknowledges the stream entry.
	ProcessMessage(ctx context.Context, msgID string, rawData []byte) error
}
