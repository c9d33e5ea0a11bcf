package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/andrewmcl6081/cloudchat/internal/core/contracts"
	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
)

// Persister is the slice of the message service the worker needs.
type Persister interface {
	SaveAndBroadcast(ctx context.Context, payload *domain.MessagePayload) error
}

// ConversationWorker drains one conversation's ingest stream: persist,
// broadcast the durable record, acknowledge, delete. The room manager
// starts one per conversation while the room has local members.
type ConversationWorker struct {
	log      *slog.Logger
	queue    contracts.MessageQueue
	messages Persister
	conGroup string
}

func NewConversationWorker(
	log *slog.Logger,
	queue contracts.MessageQueue,
	messages Persister,
	conGroup string,
) contracts.AsyncWorker {
	return &ConversationWorker{
		log:      log,
		queue:    queue,
		messages: messages,
		conGroup: conGroup,
	}
}

func (w *ConversationWorker) Run(
	ctx context.Context,
	convID string,
) error {
	if err := w.queue.SubscribeToStream(ctx, convID, w.conGroup, w.ProcessMessage); err != nil {
		w.log.ErrorContext(ctx, "worker - run - subscribe to stream failed", "topic", convID, "group", w.conGroup, "err", err)
		return err
	}
	w.log.InfoContext(ctx, "worker - run - subscribe to stream success", "topic", convID, "group", w.conGroup)
	return nil
}

func (w *ConversationWorker) ProcessMessage(
	ctx context.Context,
	messageID string,
	raw []byte,
) error {
	var payload domain.MessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		w.log.Error("worker - process message - wrong payload", "message_id", messageID)
		return err
	}
	if err := w.messages.SaveAndBroadcast(ctx, &payload); err != nil {
		w.log.ErrorContext(ctx, "worker - process message - save and broadcast failed", "message_id", messageID)
		return err
	}
	// DB save confirmed: remove from the pending entries list, then
	// delete to keep the stream memory-efficient.
	convIDStr := payload.ConversationID.String()
	if err := w.queue.AcknowledgeMessage(ctx, convIDStr, w.conGroup, messageID); err != nil {
		w.log.ErrorContext(ctx, "worker - process message - acknowledge failed", "message_id", messageID)
		return err
	}
	if err := w.queue.DeleteMessage(ctx, convIDStr, messageID); err != nil {
		// Already processed and ACKed; deletion is housekeeping.
		w.log.ErrorContext(ctx, "worker - process message - delete failed", "message_id", messageID)
	}
	return nil
}
