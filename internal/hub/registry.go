// Package hub multiplexes live websocket connections into rooms, tracks
// per-user presence and fans messages out to every connection in a room.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/MrBlankCoding/ChannelChat/internal/domain"
	"github.com/MrBlankCoding/ChannelChat/internal/log"
)

// RoomUnassigned holds connections that have not selected a room yet.
const RoomUnassigned = "unassigned"

// DefaultPresenceCacheTTL absorbs broadcast storms during rapid
// connect/disconnect churn and bulk presence pings.
const DefaultPresenceCacheTTL = 2 * time.Second

// UserState aggregates one user's live connections in one room. It exists
// only while the connection set is non-empty.
type UserState struct {
	Status     string
	LastActive time.Time
	conns      map[*Client]struct{}
}

type roomState struct {
	users map[string]*UserState
}

type snapshotEntry struct {
	data []byte
	at   time.Time
}

// presenceInfo is the serialized per-user view inside a presence snapshot.
type presenceInfo struct {
	Status     string `json:"status"`
	LastActive string `json:"last_active"`
}

type presenceSnapshot struct {
	Type     string                  `json:"type"`
	Presence map[string]presenceInfo `json:"presence"`
}

// Registry owns the room → user → connection mapping and per-user presence.
// It is an explicitly constructed service instance with process-wide
// lifetime; all mutating operations are serialized under its lock, and
// operations on absent rooms, users or connections are benign no-ops since
// disconnects can race with room cleanup.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*roomState
	cache    map[string]*snapshotEntry
	cacheTTL time.Duration
	sf       singleflight.Group
	logger   zerolog.Logger
}

func NewRegistry(logger zerolog.Logger, cacheTTL time.Duration) *Registry {
	if cacheTTL <= 0 {
		cacheTTL = DefaultPresenceCacheTTL
	}
	return &Registry{
		rooms:    make(map[string]*roomState),
		cache:    make(map[string]*snapshotEntry),
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

func normalizeRoom(roomID string) string {
	if roomID == "" {
		return RoomUnassigned
	}
	return roomID
}

// Connect registers a connection under roomID (or the unassigned partition
// when empty). An existing user state gains the connection and resets to
// active; otherwise a fresh state is created. A presence broadcast follows
// for real rooms.
func (r *Registry) Connect(c *Client, userID, roomID string) {
	room := normalizeRoom(roomID)

	r.mu.Lock()
	r.addLocked(c, userID, room)
	c.Session.SetRoomID(roomID)
	if room != RoomUnassigned {
		delete(r.cache, room)
	}
	r.mu.Unlock()

	r.logger.Debug().
		Str(log.FieldClientID, c.ID).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoomID, room).
		Msg("connection registered")

	if room != RoomUnassigned {
		r.BroadcastPresence(room)
	}
}

// SwitchRoom atomically moves a connection from its current room to
// newRoomID: no window exists where the connection is double-counted or
// lost. No-op when already there.
func (r *Registry) SwitchRoom(c *Client, userID, newRoomID string) {
	newRoom := normalizeRoom(newRoomID)
	oldRoom := normalizeRoom(c.Session.RoomID())
	if oldRoom == newRoom {
		return
	}

	r.mu.Lock()
	oldSurvives := r.removeLocked(c, userID, oldRoom)
	r.addLocked(c, userID, newRoom)
	c.Session.SetRoomID(newRoomID)
	delete(r.cache, oldRoom)
	delete(r.cache, newRoom)
	r.mu.Unlock()

	r.logger.Debug().
		Str(log.FieldClientID, c.ID).
		Str(log.FieldUserID, userID).
		Str("from_room", oldRoom).
		Str(log.FieldRoomID, newRoom).
		Msg("connection switched room")

	if oldSurvives && oldRoom != RoomUnassigned {
		r.BroadcastPresence(oldRoom)
	}
	if newRoom != RoomUnassigned {
		r.BroadcastPresence(newRoom)
	}
}

// Disconnect removes a connection. When it was the user's last connection in
// the room, presence transitions to offline and exactly one presence
// broadcast carrying that transition fires before the state is purged.
func (r *Registry) Disconnect(c *Client, userID, roomID string) {
	room := normalizeRoom(roomID)
	if roomID == "" {
		room = normalizeRoom(c.Session.RoomID())
	}

	r.mu.Lock()
	rs := r.rooms[room]
	if rs == nil {
		r.mu.Unlock()
		return
	}
	us := rs.users[userID]
	if us == nil {
		r.mu.Unlock()
		return
	}
	if _, ok := us.conns[c]; !ok {
		r.mu.Unlock()
		return
	}
	delete(us.conns, c)

	var offline []byte
	if len(us.conns) == 0 {
		us.Status = domain.StatusOffline
		us.LastActive = time.Now()
		delete(r.cache, room)
		if room != RoomUnassigned {
			// Snapshot while the offline state is still visible, so peers
			// observe the transition rather than just silence.
			offline = r.buildSnapshotLocked(room)
			r.cache[room] = &snapshotEntry{data: offline, at: time.Now()}
		}
		delete(rs.users, userID)
		if len(rs.users) == 0 {
			delete(r.rooms, room)
			delete(r.cache, room)
		}
	} else {
		delete(r.cache, room)
	}
	stillLive := len(us.conns) > 0
	r.mu.Unlock()

	r.logger.Debug().
		Str(log.FieldClientID, c.ID).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoomID, room).
		Msg("connection removed")

	if offline != nil {
		r.broadcastRaw(offline, room, "")
	} else if stillLive && room != RoomUnassigned {
		r.BroadcastPresence(room)
	}
}

// UpdatePresence replaces a user's status and last-active time. A user with
// no live state in the room cannot "go active" through lagging presence
// events, so absence is a no-op.
func (r *Registry) UpdatePresence(userID, roomID, status string, lastActive time.Time) {
	room := normalizeRoom(roomID)
	if lastActive.IsZero() {
		lastActive = time.Now()
	}

	r.mu.Lock()
	rs := r.rooms[room]
	if rs == nil {
		r.mu.Unlock()
		return
	}
	us := rs.users[userID]
	if us == nil {
		r.mu.Unlock()
		return
	}
	us.Status = status
	us.LastActive = lastActive
	delete(r.cache, room)
	r.mu.Unlock()

	// The unassigned partition never broadcasts presence, same as Connect
	// and Disconnect.
	if room != RoomUnassigned {
		r.BroadcastPresence(room)
	}
}

// BroadcastPresence delivers the room's presence snapshot to every
// connection in it, serving the cached copy while it is fresh.
func (r *Registry) BroadcastPresence(roomID string) {
	room := normalizeRoom(roomID)
	r.broadcastRaw(r.presenceSnapshot(room), room, "")
}

// ActiveUsers returns the ids of users whose status is active in the room.
func (r *Registry) ActiveUsers(roomID string) []string {
	room := normalizeRoom(roomID)

	r.mu.RLock()
	defer r.mu.RUnlock()

	rs := r.rooms[room]
	if rs == nil {
		return nil
	}
	var users []string
	for userID, us := range rs.users {
		if us.Status == domain.StatusActive {
			users = append(users, userID)
		}
	}
	return users
}

// Broadcast serializes payload once and delivers it to every connection of
// every user in the room except excludeUserID. Per-connection failures are
// isolated and counted, never raised; an unknown room is a no-op. It returns
// the number of connections that accepted the payload.
func (r *Registry) Broadcast(payload interface{}, roomID, excludeUserID string) int {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to serialize broadcast")
		return 0
	}
	return r.broadcastRaw(data, normalizeRoom(roomID), excludeUserID)
}

func (r *Registry) broadcastRaw(data []byte, room, excludeUserID string) int {
	r.mu.RLock()
	rs := r.rooms[room]
	if rs == nil {
		r.mu.RUnlock()
		return 0
	}
	var targets []*Client
	for userID, us := range rs.users {
		if excludeUserID != "" && userID == excludeUserID {
			continue
		}
		for c := range us.conns {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	failed := 0
	for _, c := range targets {
		if c.Enqueue(data) {
			delivered++
		} else {
			failed++
		}
	}
	if failed > 0 {
		r.logger.Warn().
			Str(log.FieldRoomID, room).
			Int("failed", failed).
			Int("delivered", delivered).
			Msg("some connections did not accept broadcast")
	}
	return delivered
}

// ConnectionCount returns the number of open connections registered to the
// room across all users.
func (r *Registry) ConnectionCount(roomID string) int {
	room := normalizeRoom(roomID)

	r.mu.RLock()
	defer r.mu.RUnlock()

	rs := r.rooms[room]
	if rs == nil {
		return 0
	}
	total := 0
	for _, us := range rs.users {
		total += len(us.conns)
	}
	return total
}

// UserConnectionCount returns the size of one user's connection set in the
// room.
func (r *Registry) UserConnectionCount(roomID, userID string) int {
	room := normalizeRoom(roomID)

	r.mu.RLock()
	defer r.mu.RUnlock()

	rs := r.rooms[room]
	if rs == nil {
		return 0
	}
	us := rs.users[userID]
	if us == nil {
		return 0
	}
	return len(us.conns)
}

func (r *Registry) addLocked(c *Client, userID, room string) {
	rs := r.rooms[room]
	if rs == nil {
		rs = &roomState{users: make(map[string]*UserState)}
		r.rooms[room] = rs
	}
	us := rs.users[userID]
	if us == nil {
		us = &UserState{conns: make(map[*Client]struct{})}
		rs.users[userID] = us
	}
	us.conns[c] = struct{}{}
	us.Status = domain.StatusActive
	us.LastActive = time.Now()
}

// removeLocked detaches a connection without the offline transition (room
// switches keep the user live). It reports whether the room still exists.
func (r *Registry) removeLocked(c *Client, userID, room string) bool {
	rs := r.rooms[room]
	if rs == nil {
		return false
	}
	us := rs.users[userID]
	if us == nil {
		return true
	}
	delete(us.conns, c)
	if len(us.conns) == 0 {
		delete(rs.users, userID)
	}
	if len(rs.users) == 0 {
		delete(r.rooms, room)
		delete(r.cache, room)
		return false
	}
	return true
}

// presenceSnapshot returns the cached serialized snapshot while within TTL,
// rebuilding (deduplicated across concurrent callers) otherwise. Staleness
// within the TTL is an accepted tradeoff.
func (r *Registry) presenceSnapshot(room string) []byte {
	r.mu.RLock()
	if e := r.cache[room]; e != nil && time.Since(e.at) < r.cacheTTL {
		data := e.data
		r.mu.RUnlock()
		return data
	}
	r.mu.RUnlock()

	v, _, _ := r.sf.Do(room, func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if e := r.cache[room]; e != nil && time.Since(e.at) < r.cacheTTL {
			return e.data, nil
		}
		data := r.buildSnapshotLocked(room)
		r.cache[room] = &snapshotEntry{data: data, at: time.Now()}
		return data, nil
	})
	return v.([]byte)
}

func (r *Registry) buildSnapshotLocked(room string) []byte {
	snapshot := presenceSnapshot{
		Type:     domain.EventPresence,
		Presence: make(map[string]presenceInfo),
	}
	if rs := r.rooms[room]; rs != nil {
		for userID, us := range rs.users {
			snapshot.Presence[userID] = presenceInfo{
				Status:     us.Status,
				LastActive: us.LastActive.UTC().Format(time.RFC3339),
			}
		}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		r.logger.Error().Err(err).Str(log.FieldRoomID, room).Msg("failed to serialize presence snapshot")
		return []byte(`{"type":"presence","presence":{}}`)
	}
	return data
}
