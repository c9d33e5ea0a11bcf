package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/andrewmcl6081/cloudchat/internal/core/contracts"
	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
	"github.com/andrewmcl6081/cloudchat/internal/plugins/memory"
)

// roomFrameSink feeds bridged room traffic straight to a manager. In
// production the registry sits in front and also fans out status
// frames; these tests have no connections to deliver status to.
type roomFrameSink struct {
	m *Manager
}

func (s roomFrameSink) HandleRoomFrame(ctx context.Context, frame contracts.RoomFrame) {
	s.m.HandleRoomFrame(ctx, frame)
}

func (s roomFrameSink) HandleStatusFrame(context.Context, contracts.StatusFrame) {}

type fakeClient struct {
	id     string
	userID string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeClient(id, userID string) *fakeClient {
	return &fakeClient{id: id, userID: userID}
}

func (c *fakeClient) ID() string     { return c.id }
func (c *fakeClient) UserID() string { return c.userID }

func (c *fakeClient) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrConnectionClosed
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// events decodes the received frames into event names.
func (c *fakeClient) events(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for _, raw := range c.frames {
		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("malformed frame %q: %v", raw, err)
		}
		names = append(names, env.Event)
	}
	return names
}

func (c *fakeClient) lastFrame(t *testing.T) domain.Envelope {
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
	return env
}

func (c *fakeClient) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, emitMessageErrors bool) *Manager {
	t.Helper()
	bus := memory.NewBus()
	return NewManager(testLogger(), bus.Bridge("server-1"), "server-1", emitMessageErrors)
}

func TestJoinNotifiesExistingMembers(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, false)
	alice := newFakeClient("c1", "alice")
	bob := newFakeClient("c2", "bob")

	if err := m.Join(ctx, alice, "room-1"); err != nil {
		t.Fatalf("Join(alice) = %v", err)
	}
	if err := m.Join(ctx, bob, "room-1"); err != nil {
		t.Fatalf("Join(bob) = %v", err)
	}

	env := alice.lastFrame(t)
	if env.Event != domain.EventUserJoined {
		t.Fatalf("alice received %q, want %q", env.Event, domain.EventUserJoined)
	}
	var p domain.UserJoinedPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decoding user-joined: %v", err)
	}
	if p.UserID != "bob" || p.ConversationID != "room-1" {
		t.Errorf("user-joined payload = %+v", p)
	}
	// The joiner itself hears nothing.
	if n := bob.frameCount(); n != 0 {
		t.Errorf("bob received %d frames, want 0", n)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, false)
	alice := newFakeClient("c1", "alice")
	bob := newFakeClient("c2", "bob")

	if err := m.Join(ctx, alice, "room-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Join(ctx, bob, "room-1"); err != nil {
		t.Fatal(err)
	}
	before := alice.frameCount()

	// Replayed join, as a reconnecting client would issue.
	if err := m.Join(ctx, bob, "room-1"); err != nil {
		t.Fatalf("replayed Join = %v", err)
	}
	if got := alice.frameCount(); got != before {
		t.Errorf("replayed join emitted %d extra frames", got-before)
	}
	if n := m.MemberCount("room-1"); n != 2 {
		t.Errorf("MemberCount = %d, want 2", n)
	}
}

func TestJoinSecondRoomLeavesFirst(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, false)
	alice := newFakeClient("c1", "alice")
	bob := newFakeClient("c2", "bob")

	m.Join(ctx, alice, "room-1")
	m.Join(ctx, bob, "room-1")
	if err := m.Join(ctx, bob, "room-2"); err != nil {
		t.Fatalf("Join(room-2) = %v", err)
	}

	if room, _ := m.RoomOf("c2"); room != "room-2" {
		t.Errorf("RoomOf(c2) = %q, want room-2", room)
	}
	if n := m.MemberCount("room-1"); n != 1 {
		t.Errorf("room-1 MemberCount = %d, want 1", n)
	}

	env := alice.lastFrame(t)
	if env.Event != domain.EventUserLeft {
		t.Fatalf("alice received %q, want %q", env.Event, domain.EventUserLeft)
	}
	var p domain.UserLeftPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Reason != domain.LeaveReasonLeft {
		t.Errorf("reason = %q, want %q", p.Reason, domain.LeaveReasonLeft)
	}
}

func TestLeaveWithoutMembershipIsNoop(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, false)
	alice := newFakeClient("c1", "alice")

	if err := m.Leave(ctx, alice, "room-1"); err != nil {
		t.Fatalf("Leave without join = %v", err)
	}
	if _, ok := m.RoomOf("c1"); ok {
		t.Error("connection unexpectedly holds a room")
	}
}

func TestRelayRequiresMembership(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, false)
	alice := newFakeClient("c1", "alice")
	mallory := newFakeClient("c2", "mallory")

	m.Join(ctx, alice, "room-1")

	err := m.Relay(ctx, mallory, "room-1", domain.EventNewMessage, map[string]string{"content": "hi"})
	if !errors.Is(err, domain.ErrNotAMember) {
		t.Fatalf("Relay = %v, want ErrNotAMember", err)
	}
	if n := alice.frameCount(); n != 0 {
		t.Errorf("member received %d frames from non-member, want 0", n)
	}
	// Silent drop: sender is not told either.
	if n := mallory.frameCount(); n != 0 {
		t.Errorf("sender received %d frames, want 0", n)
	}
}

func TestRelayEmitsMessageErrorWhenConfigured(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, true)
	mallory := newFakeClient("c1", "mallory")

	m.Relay(ctx, mallory, "room-1", domain.EventNewMessage, map[string]string{"content": "hi"})

	env := mallory.lastFrame(t)
	if env.Event != domain.EventMessageError {
		t.Fatalf("sender received %q, want %q", env.Event, domain.EventMessageError)
	}
	var p domain.MessageErrorPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.ConversationID != "room-1" || p.Code != "not-a-member" {
		t.Errorf("message-error payload = %+v", p)
	}
}

func TestRelayDeliversToOtherMembersOnly(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, false)
	alice := newFakeClient("c1", "alice")
	bob := newFakeClient("c2", "bob")

	m.Join(ctx, alice, "room-1")
	m.Join(ctx, bob, "room-1")
	aliceBefore := alice.frameCount()

	msg := domain.NewEphemeralMessage(domain.SendMessagePayload{
		Content:        "hi",
		ConversationID: "room-1",
		SenderID:       "bob",
	})
	if err := m.Relay(ctx, bob, "room-1", domain.EventNewMessage, msg); err != nil {
		t.Fatalf("Relay = %v", err)
	}

	env := alice.lastFrame(t)
	if env.Event != domain.EventNewMessage {
		t.Fatalf("alice received %q, want %q", env.Event, domain.EventNewMessage)
	}
	var wire domain.WireMessage
	if err := json.Unmarshal(env.Data, &wire); err != nil {
		t.Fatal(err)
	}
	if wire.Content != "hi" || wire.SenderID != "bob" {
		t.Errorf("relayed message = %+v", wire)
	}
	if alice.frameCount() != aliceBefore+1 {
		t.Errorf("alice frame count = %d, want %d", alice.frameCount(), aliceBefore+1)
	}
	// Sender does not get its own message echoed back.
	if n := bob.frameCount(); n != 0 {
		t.Errorf("bob received %d frames, want 0", n)
	}
}

func TestBroadcastToRoomReachesAllMembers(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, false)
	alice := newFakeClient("c1", "alice")
	bob := newFakeClient("c2", "bob")

	m.Join(ctx, alice, "room-1")
	m.Join(ctx, bob, "room-1")

	m.BroadcastToRoom(ctx, "room-1", domain.EventNewMessage, map[string]string{"content": "persisted"})

	for _, c := range []*fakeClient{alice, bob} {
		env := c.lastFrame(t)
		if env.Event != domain.EventNewMessage {
			t.Errorf("%s received %q, want %q", c.userID, env.Event, domain.EventNewMessage)
		}
	}
}

func TestCrossProcessFanout(t *testing.T) {
	ctx := context.Background()
	bus := memory.NewBus()

	bridge1 := bus.Bridge("server-1")
	bridge2 := bus.Bridge("server-2")
	m1 := NewManager(testLogger(), bridge1, "server-1", false)
	m2 := NewManager(testLogger(), bridge2, "server-2", false)
	bridge1.Listen(ctx, roomFrameSink{m1})
	bridge2.Listen(ctx, roomFrameSink{m2})

	alice := newFakeClient("c1", "alice")
	bob := newFakeClient("c2", "bob")
	m1.Join(ctx, alice, "room-1")
	m2.Join(ctx, bob, "room-1")
	aliceBefore := alice.frameCount()

	if err := m1.Relay(ctx, alice, "room-1", domain.EventNewMessage, map[string]string{"content": "hi"}); err != nil {
		t.Fatalf("Relay = %v", err)
	}

	env := bob.lastFrame(t)
	if env.Event != domain.EventNewMessage {
		t.Fatalf("remote member received %q, want %q", env.Event, domain.EventNewMessage)
	}
	// The sender must not hear its own message, locally or via the bridge.
	if got := alice.frameCount(); got != aliceBefore {
		t.Errorf("sender received %d extra frames", got-aliceBefore)
	}
}

func TestLateFrameAfterLeaveIsDropped(t *testing.T) {
	ctx := context.Background()
	bus := memory.NewBus()

	bridge1 := bus.Bridge("server-1")
	bridge2 := bus.Bridge("server-2")
	m1 := NewManager(testLogger(), bridge1, "server-1", false)
	m2 := NewManager(testLogger(), bridge2, "server-2", false)
	bridge1.Listen(ctx, roomFrameSink{m1})
	bridge2.Listen(ctx, roomFrameSink{m2})

	alice := newFakeClient("c1", "alice")
	bob := newFakeClient("c2", "bob")
	m1.Join(ctx, alice, "room-1")
	m2.Join(ctx, bob, "room-1")
	m2.Leave(ctx, bob, "room-1")
	before := bob.frameCount()

	m1.Relay(ctx, alice, "room-1", domain.EventNewMessage, map[string]string{"content": "late"})

	if got := bob.frameCount(); got != before {
		t.Errorf("departed member received %d extra frames", got-before)
	}
}

func TestWorkerLifecycleFollowsMembership(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, false)

	started := make(chan string, 2)
	stopped := make(chan string, 2)
	m.RunWorker(func(ctx context.Context, convID string) error {
		started <- convID
		<-ctx.Done()
		stopped <- convID
		return nil
	})

	alice := newFakeClient("c1", "alice")
	bob := newFakeClient("c2", "bob")
	m.Join(ctx, alice, "room-1")
	if got := <-started; got != "room-1" {
		t.Fatalf("worker started for %q, want room-1", got)
	}

	// A second member does not start a second worker.
	m.Join(ctx, bob, "room-1")
	select {
	case got := <-started:
		t.Fatalf("unexpected second worker for %q", got)
	default:
	}

	m.Leave(ctx, alice, "room-1")
	select {
	case got := <-stopped:
		t.Fatalf("worker stopped at %q while a member remains", got)
	default:
	}

	m.Leave(ctx, bob, "room-1")
	if got := <-stopped; got != "room-1" {
		t.Fatalf("worker stopped for %q, want room-1", got)
	}
}
