package hub_test

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrBlankCoding/ChannelChat/internal/config"
	"github.com/MrBlankCoding/ChannelChat/internal/domain"
	"github.com/MrBlankCoding/ChannelChat/internal/hub"
)

func newRegistry(cacheTTL time.Duration) *hub.Registry {
	return hub.NewRegistry(zerolog.Nop(), cacheTTL)
}

func newClient(id, userID, username, roomID string) *hub.Client {
	session := hub.NewSession(userID, username, roomID)
	return hub.NewClient(id, nil, session, config.WebSocketConfig{SendBuffer: 64})
}

func drain(c *hub.Client) {
	for {
		select {
		case <-c.Send:
		default:
			return
		}
	}
}

type presencePayload struct {
	Type     string `json:"type"`
	Presence map[string]struct {
		Status     string `json:"status"`
		LastActive string `json:"last_active"`
	} `json:"presence"`
}

func recvPresence(t *testing.T, c *hub.Client) presencePayload {
	t.Helper()
	select {
	case data := <-c.Send:
		var p presencePayload
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("failed to decode presence payload %q: %v", data, err)
		}
		if p.Type != domain.EventPresence {
			t.Fatalf("expected presence event, got %q", p.Type)
		}
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for presence broadcast")
		return presencePayload{}
	}
}

func TestConnectionAccounting(t *testing.T) {
	r := newRegistry(time.Millisecond)

	a1 := newClient("a1", "alice", "Alice", "room-x")
	a2 := newClient("a2", "alice", "Alice", "room-x")
	b1 := newClient("b1", "bob", "Bob", "room-x")

	r.Connect(a1, "alice", "room-x")
	r.Connect(a2, "alice", "room-x")
	r.Connect(b1, "bob", "room-x")

	if got := r.ConnectionCount("room-x"); got != 3 {
		t.Fatalf("ConnectionCount = %d, want 3", got)
	}
	if got := r.UserConnectionCount("room-x", "alice"); got != 2 {
		t.Fatalf("alice connections = %d, want 2", got)
	}

	r.Disconnect(a1, "alice", "room-x")
	if got := r.UserConnectionCount("room-x", "alice"); got != 1 {
		t.Fatalf("alice connections after disconnect = %d, want 1", got)
	}

	// Disconnecting the same connection twice must not corrupt the count.
	r.Disconnect(a1, "alice", "room-x")
	if got := r.ConnectionCount("room-x"); got != 2 {
		t.Fatalf("ConnectionCount after double disconnect = %d, want 2", got)
	}

	r.Disconnect(a2, "alice", "room-x")
	r.Disconnect(b1, "bob", "room-x")
	if got := r.ConnectionCount("room-x"); got != 0 {
		t.Fatalf("ConnectionCount after all disconnects = %d, want 0", got)
	}
}

func TestOfflineOnlyAfterLastConnection(t *testing.T) {
	r := newRegistry(time.Millisecond)

	a1 := newClient("a1", "alice", "Alice", "room-x")
	a2 := newClient("a2", "alice", "Alice", "room-x")
	b1 := newClient("b1", "bob", "Bob", "room-x")

	r.Connect(a1, "alice", "room-x")
	r.Connect(a2, "alice", "room-x")
	r.Connect(b1, "bob", "room-x")
	drain(b1)

	// First device dropping leaves alice live.
	r.Disconnect(a1, "alice", "room-x")
	p := recvPresence(t, b1)
	if p.Presence["alice"].Status != domain.StatusActive {
		t.Fatalf("alice status after one disconnect = %q, want %q", p.Presence["alice"].Status, domain.StatusActive)
	}

	drain(b1)
	r.Disconnect(a2, "alice", "room-x")

	// The last disconnect must broadcast the offline transition, not just
	// drop alice from the snapshot.
	p = recvPresence(t, b1)
	if p.Presence["alice"].Status != domain.StatusOffline {
		t.Fatalf("alice status after last disconnect = %q, want %q", p.Presence["alice"].Status, domain.StatusOffline)
	}
	if got := r.UserConnectionCount("room-x", "alice"); got != 0 {
		t.Fatalf("alice connections = %d, want 0", got)
	}
}

func TestSwitchRoomMovesConnectionAtomically(t *testing.T) {
	r := newRegistry(time.Millisecond)

	c := newClient("c1", "alice", "Alice", "room-x")
	r.Connect(c, "alice", "room-x")

	r.SwitchRoom(c, "alice", "room-y")

	if got := r.ConnectionCount("room-x"); got != 0 {
		t.Errorf("old room count = %d, want 0", got)
	}
	if got := r.ConnectionCount("room-y"); got != 1 {
		t.Errorf("new room count = %d, want 1", got)
	}
	if got := c.Session.RoomID(); got != "room-y" {
		t.Errorf("session room = %q, want room-y", got)
	}

	// Switching to the current room is a no-op.
	r.SwitchRoom(c, "alice", "room-y")
	if got := r.ConnectionCount("room-y"); got != 1 {
		t.Errorf("count after same-room switch = %d, want 1", got)
	}
}

func TestBroadcastExcludesUser(t *testing.T) {
	r := newRegistry(time.Millisecond)

	a := newClient("a1", "alice", "Alice", "room-x")
	b := newClient("b1", "bob", "Bob", "room-x")
	r.Connect(a, "alice", "room-x")
	r.Connect(b, "bob", "room-x")
	drain(a)
	drain(b)

	delivered := r.Broadcast(map[string]string{"type": "test"}, "room-x", "alice")
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}

	select {
	case <-b.Send:
	default:
		t.Error("bob did not receive the broadcast")
	}
	select {
	case data := <-a.Send:
		t.Errorf("excluded user received broadcast: %q", data)
	default:
	}
}

func TestBroadcastUnknownRoomIsNoOp(t *testing.T) {
	r := newRegistry(time.Millisecond)

	if delivered := r.Broadcast(map[string]string{"type": "test"}, "ghost-room", ""); delivered != 0 {
		t.Errorf("delivered = %d, want 0", delivered)
	}
}

func TestBroadcastIsolatesStalledConnection(t *testing.T) {
	r := newRegistry(time.Millisecond)

	stalled := hub.NewClient("s1", nil, hub.NewSession("alice", "Alice", "room-x"), config.WebSocketConfig{SendBuffer: 1})
	healthy := newClient("b1", "bob", "Bob", "room-x")
	r.Connect(stalled, "alice", "room-x")
	r.Connect(healthy, "bob", "room-x")
	drain(healthy)

	// Fill the stalled connection's buffer.
	for stalled.Enqueue([]byte("x")) {
	}

	delivered := r.Broadcast(map[string]string{"type": "test"}, "room-x", "")
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	select {
	case <-healthy.Send:
	default:
		t.Error("healthy connection did not receive broadcast despite stalled peer")
	}
}

func TestUpdatePresenceUnknownUserIsNoOp(t *testing.T) {
	r := newRegistry(time.Millisecond)

	r.UpdatePresence("ghost", "room-x", domain.StatusActive, time.Now())

	if got := r.ConnectionCount("room-x"); got != 0 {
		t.Errorf("presence update created state: count = %d", got)
	}
	if users := r.ActiveUsers("room-x"); len(users) != 0 {
		t.Errorf("presence update created active users: %v", users)
	}
}

func TestActiveUsers(t *testing.T) {
	r := newRegistry(time.Millisecond)

	a := newClient("a1", "alice", "Alice", "room-x")
	b := newClient("b1", "bob", "Bob", "room-x")
	r.Connect(a, "alice", "room-x")
	r.Connect(b, "bob", "room-x")

	r.UpdatePresence("bob", "room-x", "away", time.Now())

	users := r.ActiveUsers("room-x")
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("ActiveUsers = %v, want [alice]", users)
	}
}

func TestPresenceSnapshotServedFromCache(t *testing.T) {
	r := newRegistry(time.Hour)

	a := newClient("a1", "alice", "Alice", "room-x")
	b := newClient("b1", "bob", "Bob", "room-x")
	r.Connect(a, "alice", "room-x")
	r.Connect(b, "bob", "room-x")
	drain(a)

	r.BroadcastPresence("room-x")
	first := <-a.Send
	r.BroadcastPresence("room-x")
	second := <-a.Send

	// Within the TTL repeated broadcasts serve the identical cached bytes.
	if !bytes.Equal(first, second) {
		t.Errorf("snapshots differ within cache TTL:\n%s\n%s", first, second)
	}
}

func TestConcurrentChurnLeavesNoResidue(t *testing.T) {
	r := newRegistry(time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			userID := string(rune('a' + worker))
			for j := 0; j < 50; j++ {
				c := newClient(userID, userID, userID, "room-x")
				r.Connect(c, userID, "room-x")
				drain(c)
				r.Disconnect(c, userID, "room-x")
			}
		}(i)
	}
	wg.Wait()

	if got := r.ConnectionCount("room-x"); got != 0 {
		t.Errorf("ConnectionCount after churn = %d, want 0", got)
	}
}

func TestUpdatePresenceUnassignedDoesNotBroadcast(t *testing.T) {
	r := newRegistry(time.Millisecond)

	a := newClient("a1", "alice", "Alice", "")
	b := newClient("b1", "bob", "Bob", "")
	r.Connect(a, "alice", "")
	r.Connect(b, "bob", "")
	drain(a)
	drain(b)

	// Presence state still updates, but the shared unassigned partition
	// never sees a broadcast for it.
	r.UpdatePresence("alice", "", domain.StatusActive, time.Now())

	select {
	case data := <-b.Send:
		t.Errorf("unassigned connection received presence broadcast: %q", data)
	default:
	}
	if users := r.ActiveUsers(""); len(users) == 0 {
		t.Error("presence state was not updated")
	}
}
