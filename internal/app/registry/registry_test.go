package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/andrewmcl6081/cloudchat/internal/app/rooms"
	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
	"github.com/andrewmcl6081/cloudchat/internal/plugins/memory"
)

type fakeClient struct {
	id     string
	userID string

	mu     sync.Mutex
	frames [][]byte
	closed int
}

func newFakeClient(id, userID string) *fakeClient {
	return &fakeClient{id: id, userID: userID}
}

func (c *fakeClient) ID() string     { return c.id }
func (c *fakeClient) UserID() string { return c.userID }

func (c *fakeClient) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *fakeClient) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) lastEvent(t *testing.T) (string, json.RawMessage) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		t.Fatal("no frames received")
	}
	var env domain.Envelope
	if err := json.Unmarshal(c.frames[len(c.frames)-1], &env); err != nil {
		t.Fatalf("malformed frame: %v", err)
	}
	return env.Event, env.Data
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	registry *Registry
	rooms    *rooms.Manager
	presence *memory.PresenceStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := testLogger()
	bus := memory.NewBus()
	bridge := bus.Bridge("server-1")
	roomMgr := rooms.NewManager(log, bridge, "server-1", false)
	reg := NewRegistry(log, roomMgr, memory.NewPresenceStore(), bridge, "server-1")
	return &fixture{
		registry: reg,
		rooms:    roomMgr,
		presence: reg.presence.(*memory.PresenceStore),
	}
}

func TestHandshakeRefusesMissingUserID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	anon := newFakeClient("c1", "")

	err := f.registry.Handshake(ctx, anon)
	if !errors.Is(err, domain.ErrAuthenticationRequired) {
		t.Fatalf("Handshake = %v, want ErrAuthenticationRequired", err)
	}
	if n := f.registry.ConnCount(); n != 0 {
		t.Errorf("ConnCount = %d after refused handshake", n)
	}
}

func TestHandshakeRegistersPresence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := newFakeClient("c1", "alice")

	if err := f.registry.Handshake(ctx, alice); err != nil {
		t.Fatalf("Handshake = %v", err)
	}
	if !f.presence.Has("alice") {
		t.Error("presence record missing after handshake")
	}
	if n := f.registry.ConnCount(); n != 1 {
		t.Errorf("ConnCount = %d, want 1", n)
	}
}

func TestHandshakeAnnouncesOnlineToOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := newFakeClient("c1", "alice")
	bob := newFakeClient("c2", "bob")

	f.registry.Handshake(ctx, alice)
	f.registry.Handshake(ctx, bob)

	event, data := alice.lastEvent(t)
	if event != domain.EventUserStatusChange {
		t.Fatalf("alice received %q, want %q", event, domain.EventUserStatusChange)
	}
	var p domain.UserStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "bob" || p.Status != domain.StatusOnline {
		t.Errorf("status payload = %+v", p)
	}
	// The connecting user does not hear its own announcement.
	if len(bob.frames) != 0 {
		t.Errorf("bob received %d frames, want 0", len(bob.frames))
	}
}

func TestTeardownClearsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := newFakeClient("c1", "alice")
	bob := newFakeClient("c2", "bob")

	f.registry.Handshake(ctx, alice)
	f.registry.Handshake(ctx, bob)
	f.rooms.Join(ctx, alice, "room-1")
	f.rooms.Join(ctx, bob, "room-1")

	f.registry.Teardown(ctx, "c1")

	if f.presence.Has("alice") {
		t.Error("presence record survived teardown")
	}
	if _, ok := f.rooms.RoomOf("c1"); ok {
		t.Error("room membership survived teardown")
	}
	if n := f.registry.ConnCount(); n != 1 {
		t.Errorf("ConnCount = %d, want 1", n)
	}
	if alice.closeCount() != 1 {
		t.Errorf("client closed %d times, want 1", alice.closeCount())
	}

	// Remaining member saw user-left with reason disconnected, then the
	// offline status change.
	bob.mu.Lock()
	var sawLeft, sawOffline bool
	for _, raw := range bob.frames {
		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatal(err)
		}
		switch env.Event {
		case domain.EventUserLeft:
			var p domain.UserLeftPayload
			json.Unmarshal(env.Data, &p)
			if p.Reason == domain.LeaveReasonDisconnected && p.UserID == "alice" {
				sawLeft = true
			}
		case domain.EventUserStatusChange:
			var p domain.UserStatusPayload
			json.Unmarshal(env.Data, &p)
			if p.Status == domain.StatusOffline && p.UserID == "alice" {
				sawOffline = true
			}
		}
	}
	bob.mu.Unlock()
	if !sawLeft {
		t.Error("remaining member never saw user-left with reason disconnected")
	}
	if !sawOffline {
		t.Error("remaining member never saw offline status change")
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := newFakeClient("c1", "alice")

	f.registry.Handshake(ctx, alice)
	f.registry.Teardown(ctx, "c1")
	f.registry.Teardown(ctx, "c1")

	if alice.closeCount() != 1 {
		t.Errorf("client closed %d times, want 1", alice.closeCount())
	}
}

func TestStatusHookMirrorsTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	type transition struct {
		userID string
		online bool
	}
	var mu sync.Mutex
	var seen []transition
	f.registry.StatusHook = func(_ context.Context, userID string, online bool) {
		mu.Lock()
		seen = append(seen, transition{userID, online})
		mu.Unlock()
	}

	alice := newFakeClient("c1", "alice")
	f.registry.Handshake(ctx, alice)
	f.registry.Teardown(ctx, "c1")

	mu.Lock()
	defer mu.Unlock()
	want := []transition{{"alice", true}, {"alice", false}}
	if len(seen) != len(want) {
		t.Fatalf("hook fired %d times, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %+v, want %+v", i, seen[i], want[i])
		}
	}
}

func TestOnlineUsersExcludesCaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.registry.Handshake(ctx, newFakeClient("c1", "alice"))
	f.registry.Handshake(ctx, newFakeClient("c2", "bob"))

	users, err := f.registry.OnlineUsers(ctx, "alice")
	if err != nil {
		t.Fatalf("OnlineUsers = %v", err)
	}
	if len(users) != 1 || users[0].UserID != "bob" {
		t.Errorf("OnlineUsers = %+v, want [bob]", users)
	}
}

func TestStaleTeardownKeepsReconnectedPresence(t *testing.T) {
	ctx := context.Background()
	log := testLogger()
	bus := memory.NewBus()

	bridge1 := bus.Bridge("server-1")
	bridge2 := bus.Bridge("server-2")
	presence := memory.NewPresenceStore()
	rooms1 := rooms.NewManager(log, bridge1, "server-1", false)
	rooms2 := rooms.NewManager(log, bridge2, "server-2", false)
	reg1 := NewRegistry(log, rooms1, presence, bridge1, "server-1")
	reg2 := NewRegistry(log, rooms2, presence, bridge2, "server-2")

	// Alice connects on server-1, then reconnects on server-2 before the
	// old socket's teardown has run.
	reg1.Handshake(ctx, newFakeClient("c-old", "alice"))
	reg2.Handshake(ctx, newFakeClient("c-new", "alice"))

	reg1.Teardown(ctx, "c-old")

	if !presence.Has("alice") {
		t.Fatal("stale teardown erased the live connection's presence record")
	}

	// The record still goes away once the live connection ends.
	reg2.Teardown(ctx, "c-new")
	if presence.Has("alice") {
		t.Error("presence record survived the last teardown")
	}
}

func TestStatusPropagatesAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	log := testLogger()
	bus := memory.NewBus()

	bridge1 := bus.Bridge("server-1")
	bridge2 := bus.Bridge("server-2")
	presence := memory.NewPresenceStore()
	rooms1 := rooms.NewManager(log, bridge1, "server-1", false)
	rooms2 := rooms.NewManager(log, bridge2, "server-2", false)
	reg1 := NewRegistry(log, rooms1, presence, bridge1, "server-1")
	reg2 := NewRegistry(log, rooms2, presence, bridge2, "server-2")
	bridge1.Listen(ctx, reg1)
	bridge2.Listen(ctx, reg2)

	bob := newFakeClient("c2", "bob")
	reg2.Handshake(ctx, bob)

	alice := newFakeClient("c1", "alice")
	reg1.Handshake(ctx, alice)

	event, data := bob.lastEvent(t)
	if event != domain.EventUserStatusChange {
		t.Fatalf("remote conn received %q, want %q", event, domain.EventUserStatusChange)
	}
	var p domain.UserStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "alice" || p.Status != domain.StatusOnline {
		t.Errorf("status payload = %+v", p)
	}
}
