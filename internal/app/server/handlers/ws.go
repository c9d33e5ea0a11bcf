package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/andrewmcl6081/cloudchat/internal/app/registry"
	"github.com/andrewmcl6081/cloudchat/internal/app/rooms"
	"github.com/andrewmcl6081/cloudchat/internal/app/server/ws"
	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
	"github.com/andrewmcl6081/cloudchat/internal/platform/logger"
	"github.com/andrewmcl6081/cloudchat/pkg/middleware"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WSHandler upgrades connections and dispatches the inbound event
// catalog. Each handler is a thin adapter: it validates payload shape
// and delegates to the registry or the room manager, never more.
type WSHandler struct {
	hub   *registry.Registry
	rooms *rooms.Manager
	opts  ws.Options
}

func NewWSHandler(hub *registry.Registry, roomMgr *rooms.Manager, opts ws.Options) *WSHandler {
	return &WSHandler{
		hub:   hub,
		rooms: roomMgr,
		opts:  opts,
	}
}

func (s *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())
	userID, ok := r.Context().Value(middleware.UserIDKey).(string)
	if !ok || userID == "" {
		// Refused before any room operation can happen.
		log.ErrorContext(r.Context(), "ws handler - unauthorised missing user_id")
		http.Error(w, "Unauthorized: User ID missing", http.StatusUnauthorized)
		return
	}
	span.SetAttributes(attribute.String("user.id", userID))

	sessionCtx := context.WithoutCancel(r.Context())
	ctx, cancel := context.WithCancel(sessionCtx)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // tighten later
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade failed", "err", err)
		cancel()
		return
	}

	socket := ws.NewWebSocket(ctx, conn, s.opts)
	connID := uuid.NewString()
	client := ws.NewClient(ctx, socket, connID, userID)

	if err := s.hub.Handshake(ctx, client); err != nil {
		log.ErrorContext(ctx, "ws handler - handshake refused", "conn_id", connID, "err", err)
		client.Close()
		cancel()
		return
	}
	defer cancel()
	defer s.hub.Teardown(sessionCtx, connID)
	span.SetAttributes(attribute.String("chat.conn_id", connID))
	log.InfoContext(ctx, "ws handler - connection established", "conn_id", connID, "user_id", userID)

	socket.ReadLoop(func(data []byte) {
		s.dispatch(ctx, log, client, data)
	})
}

// dispatch routes one inbound envelope. Payload shape errors drop the
// frame with a log line; they never end the connection.
func (s *WSHandler) dispatch(ctx context.Context, log *slog.Logger, client *ws.RuntimeClient, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.WarnContext(ctx, "ws handler - dispatch - bad frame", "conn_id", client.ID(), "err", err)
		return
	}
	switch env.Event {
	case domain.EventJoinConversation:
		convID, ok := decodeRoomID(env.Data)
		if !ok {
			log.WarnContext(ctx, "ws handler - join - bad payload", "conn_id", client.ID())
			return
		}
		_ = s.rooms.Join(ctx, client, convID)

	case domain.EventLeaveConversation:
		convID, ok := decodeRoomID(env.Data)
		if !ok {
			log.WarnContext(ctx, "ws handler - leave - bad payload", "conn_id", client.ID())
			return
		}
		_ = s.rooms.Leave(ctx, client, convID)

	case domain.EventSendMessage:
		var payload domain.SendMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ConversationID == "" {
			log.WarnContext(ctx, "ws handler - send message - bad payload", "conn_id", client.ID())
			return
		}
		// The authenticated identity wins over whatever the client
		// put in senderId.
		if payload.SenderID != client.UserID() {
			log.WarnContext(ctx, "ws handler - send message - sender overridden", "conn_id", client.ID(), "claimed", payload.SenderID)
			payload.SenderID = client.UserID()
		}
		ephemeral := domain.NewEphemeralMessage(payload)
		if err := s.rooms.Relay(ctx, client, payload.ConversationID, domain.EventNewMessage, ephemeral); err != nil {
			log.WarnContext(ctx, "ws handler - send message - relay dropped", "conn_id", client.ID(), "conv_id", payload.ConversationID, "err", err)
		}

	case domain.EventGetOnlineUsers:
		users, err := s.hub.OnlineUsers(ctx, client.UserID())
		if err != nil {
			// Unknown, not offline: answer nothing rather than an
			// empty cluster.
			return
		}
		if users == nil {
			users = []domain.OnlineUser{}
		}
		raw := domain.MustEnvelope(domain.EventInitialOnlineUsers, users)
		if err := client.Send(ctx, raw); err != nil {
			log.WarnContext(ctx, "ws handler - online users - send failed", "conn_id", client.ID(), "err", err)
		}

	default:
		log.WarnContext(ctx, "ws handler - dispatch - unknown event", "conn_id", client.ID(), "event", env.Event)
	}
}

// decodeRoomID accepts the bare JSON string the join/leave events
// carry.
func decodeRoomID(data json.RawMessage) (string, bool) {
	var convID string
	if err := json.Unmarshal(data, &convID); err != nil || convID == "" {
		return "", false
	}
	return convID, true
}
