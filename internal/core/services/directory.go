package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var directoryTracer = otel.Tracer("directory-service")

// DirectoryService is the directory store: user profiles synced from
// the identity provider, user search, and two-party conversation
// lookup/creation.
type DirectoryService struct {
	userRepo  domain.UserRepository
	convRepo  domain.ConversationRepository
	txManager *TxManager
	log       *slog.Logger
}

func NewDirectoryService(
	log *slog.Logger,
	userRepo domain.UserRepository,
	convRepo domain.ConversationRepository,
	txManager *TxManager,
) *DirectoryService {
	return &DirectoryService{
		log:       log,
		userRepo:  userRepo,
		convRepo:  convRepo,
		txManager: txManager,
	}
}

// SyncUser upserts the profile handed over by the identity provider on
// login and returns the directory record.
func (d *DirectoryService) SyncUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	ctx, span := directoryTracer.Start(ctx, "DirectoryService.SyncUser", trace.WithAttributes(
		attribute.String("user_id", u.ID),
	))
	defer span.End()
	var synced *domain.User
	if err := d.txManager.WithTx(ctx, func(txCtx context.Context) error {
		var txErr error
		synced, txErr = d.userRepo.UpsertUser(txCtx, u)
		return txErr
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		d.log.ErrorContext(ctx, "directory - sync user - upsert failed", "user_id", u.ID, "err", err)
		return nil, err
	}
	d.log.InfoContext(ctx, "directory - sync user - upsert success", "user_id", u.ID)
	return synced, nil
}

func (d *DirectoryService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return d.userRepo.GetUserByID(ctx, id)
}

func (d *DirectoryService) SearchUsers(ctx context.Context, query, excludeID string) ([]domain.User, error) {
	ctx, span := directoryTracer.Start(ctx, "DirectoryService.SearchUsers")
	defer span.End()
	users, err := d.userRepo.SearchUsers(ctx, query, excludeID)
	if err != nil {
		span.RecordError(err)
		d.log.ErrorContext(ctx, "directory - search users - query failed", "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("user_count", len(users)))
	return users, nil
}

// MarkOnline mirrors the realtime presence signal into the durable
// directory. Best-effort: a missing user is not an error worth
// surfacing to the realtime layer.
func (d *DirectoryService) MarkOnline(ctx context.Context, userID string, online bool) {
	if err := d.userRepo.SetOnline(ctx, userID, online); err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		d.log.ErrorContext(ctx, "directory - mark online - update failed", "user_id", userID, "online", online, "err", err)
	}
}

// EnsureConversation returns the two-party conversation for the pair,
// creating it on first contact.
func (d *DirectoryService) EnsureConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	ctx, span := directoryTracer.Start(ctx, "DirectoryService.EnsureConversation", trace.WithAttributes(
		attribute.String("user_a", userA),
		attribute.String("user_b", userB),
	))
	defer span.End()
	if userA == "" || userB == "" || userA == userB {
		return nil, domain.ErrInvalidUserID
	}
	conv, err := d.convRepo.FindBetween(ctx, userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrConversationNotFound) {
		span.RecordError(err)
		return nil, err
	}
	if err := d.txManager.WithTx(ctx, func(txCtx context.Context) error {
		var txErr error
		conv, txErr = d.convRepo.CreateConversation(txCtx, uuid.New(), userA, userB)
		return txErr
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create conversation failed")
		d.log.ErrorContext(ctx, "directory - ensure conversation - create failed", "user_a", userA, "user_b", userB, "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("conv_id", conv.ID.String()))
	d.log.InfoContext(ctx, "directory - ensure conversation - created", "conv_id", conv.ID.String())
	return conv, nil
}
