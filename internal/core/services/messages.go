package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/andrewmcl6081/cloudchat/internal/core/contracts"
	"github.com/andrewmcl6081/cloudchat/internal/core/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var messageTracer = otel.Tracer("message-service")

// MessageService is the message store: it accepts messages into the
// ingest stream, persists them, and issues the explicit durable
// new-message broadcast once the record is authoritative. The live
// socket relay never touches this path.
type MessageService struct {
	queue       contracts.MessageQueue
	broadcaster contracts.RoomBroadcaster
	repo        domain.MessageRepository
	userRepo    domain.UserRepository
	txManager   *TxManager
	log         *slog.Logger
}

func NewMessageService(
	log *slog.Logger,
	queue contracts.MessageQueue,
	broadcaster contracts.RoomBroadcaster,
	repo domain.MessageRepository,
	userRepo domain.UserRepository,
	txManager *TxManager,
) *MessageService {
	return &MessageService{
		log:         log,
		queue:       queue,
		broadcaster: broadcaster,
		repo:        repo,
		userRepo:    userRepo,
		txManager:   txManager,
	}
}

// AcceptMessage validates the inbound message and publishes it to the
// conversation's ingest stream. Durable ids are assigned later, at
// persistence time.
func (m *MessageService) AcceptMessage(
	ctx context.Context,
	senderID string,
	convID string,
	content string,
	clientMsgID string,
) (domain.MessagePayload, error) {
	ctx, span := messageTracer.Start(ctx, "MessageService.AcceptMessage", trace.WithAttributes(
		attribute.String("sender_id", senderID),
		attribute.String("conv_id", convID),
	))
	defer span.End()
	cid, err := uuid.Parse(convID)
	if err != nil {
		span.RecordError(err)
		return domain.MessagePayload{}, domain.ErrInvalidConversationID
	}
	if senderID == "" {
		return domain.MessagePayload{}, domain.ErrInvalidUserID
	}
	payload := domain.MessagePayload{
		ClientMsgID:    clientMsgID,
		ConversationID: cid,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	raw, _ := json.Marshal(payload)
	if err := m.queue.PublishToStream(ctx, convID, raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish to stream failed")
		m.log.ErrorContext(ctx, "messages - accept message - publish to stream failed", "stream", convID, "err", err)
		return domain.MessagePayload{}, err
	}
	m.log.InfoContext(ctx, "messages - accept message - publish to stream success", "stream", convID)
	return payload, nil
}

// SaveAndBroadcast persists one accepted message and broadcasts the
// authoritative record to the room, cluster-wide. Called by the
// conversation worker after it picks the payload off the stream.
func (m *MessageService) SaveAndBroadcast(
	ctx context.Context,
	payload *domain.MessagePayload,
) error {
	ctx, span := messageTracer.Start(ctx, "MessageService.SaveAndBroadcast", trace.WithAttributes(
		attribute.String("conv_id", payload.ConversationID.String()),
		attribute.String("sender_id", payload.SenderID),
	))
	defer span.End()
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: payload.ConversationID,
		SenderID:       payload.SenderID,
		Content:        payload.Content,
		CreatedAt:      payload.CreatedAt,
	}
	if err := m.txManager.WithTx(ctx, func(txCtx context.Context) error {
		return m.repo.Save(txCtx, msg)
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		m.log.ErrorContext(ctx, "messages - save and broadcast - save failed", "conv_id", msg.ConversationID, "err", err)
		return err
	}
	sender, err := m.userRepo.GetUserByID(ctx, msg.SenderID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		// Broadcast with a stub sender rather than dropping the message.
		m.log.ErrorContext(ctx, "messages - save and broadcast - sender lookup failed", "sender_id", msg.SenderID, "err", err)
	}
	m.broadcaster.BroadcastToRoom(ctx, msg.ConversationID.String(), domain.EventNewMessage, msg.Serialize(sender))
	m.log.InfoContext(ctx, "messages - save and broadcast - success", "message_id", msg.ID, "conv_id", msg.ConversationID)
	return nil
}

func (m *MessageService) GetMessages(ctx context.Context, convID uuid.UUID, limit int) ([]domain.Message, error) {
	ctx, span := messageTracer.Start(ctx, "MessageService.GetMessages", trace.WithAttributes(
		attribute.String("conv_id", convID.String()),
	))
	defer span.End()
	msgs, err := m.repo.GetRecent(ctx, convID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "db read failed")
		m.log.ErrorContext(ctx, "messages - get messages - read failed", "conv_id", convID.String(), "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("message_count", len(msgs)))
	return msgs, nil
}
