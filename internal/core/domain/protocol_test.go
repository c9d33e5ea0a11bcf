package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEnvelopeOmitsEmptyData(t *testing.T) {
	env, err := NewEnvelope(EventGetOnlineUsers, nil)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "data") {
		t.Errorf("payload-less envelope carries data: %s", raw)
	}
}

func TestEnvelopeCarriesBareStringData(t *testing.T) {
	// join/leave events carry the conversation id as a bare JSON
	// string, not an object.
	raw := MustEnvelope(EventJoinConversation, "conv-123")

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != EventJoinConversation {
		t.Errorf("event = %q", env.Event)
	}
	var convID string
	if err := json.Unmarshal(env.Data, &convID); err != nil {
		t.Fatalf("data is not a bare string: %s", env.Data)
	}
	if convID != "conv-123" {
		t.Errorf("conversation id = %q", convID)
	}
}

func TestNewEphemeralMessage(t *testing.T) {
	msg := NewEphemeralMessage(SendMessagePayload{
		Content:        "hello",
		ConversationID: "conv-123",
		SenderID:       "alice",
	})

	if !strings.HasPrefix(msg.ID, "temp-") {
		t.Errorf("ephemeral id = %q, want temp- prefix", msg.ID)
	}
	if msg.Content != "hello" || msg.ConversationID != "conv-123" || msg.SenderID != "alice" {
		t.Errorf("ephemeral message = %+v", msg)
	}
	if msg.Sender.ID != "alice" || !msg.Sender.IsOnline {
		t.Errorf("stub sender = %+v", msg.Sender)
	}
	if msg.CreatedAt.IsZero() || !msg.CreatedAt.Equal(msg.UpdatedAt) {
		t.Errorf("timestamps: created=%v updated=%v", msg.CreatedAt, msg.UpdatedAt)
	}
}
