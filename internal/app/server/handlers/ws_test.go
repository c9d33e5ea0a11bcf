package handlers

import (
	"encoding/json"
	"testing"
)

func TestDecodeRoomID(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
		ok   bool
	}{
		{"bare string", `"conv-123"`, "conv-123", true},
		{"uuid string", `"0b2f5f3e-9d1a-4f3c-8f59-0a4f6f8c2d11"`, "0b2f5f3e-9d1a-4f3c-8f59-0a4f6f8c2d11", true},
		{"empty string", `""`, "", false},
		{"object payload", `{"conversationId":"conv-123"}`, "", false},
		{"number", `42`, "", false},
		{"malformed", `"unterminated`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeRoomID(json.RawMessage(tt.data))
			if ok != tt.ok || got != tt.want {
				t.Errorf("decodeRoomID(%s) = (%q, %v), want (%q, %v)", tt.data, got, ok, tt.want, tt.ok)
			}
		})
	}
}
