/*
Package registry owns the live membership of every collaboration room.

Key Architectural Concepts:
  - Rooms: every diagram with at least one attached connection is an isolated
    'room' holding its own lock. A room exists only while it has members and
    is retired the moment its last member leaves.
  - Lock Per Room: lookups go through sync.Map; structural changes and
    broadcast snapshots take only the room's own lock, so unrelated diagrams
    never serialize behind each other.
  - Snapshot Fan-out: Broadcast copies the recipient list under the lock and
    sends outside it. Failed recipients are reported back to the caller
    instead of being removed mid-iteration.
  - Single Membership: a second index (connector id -> diagram id) guarantees
    a connection is registered in at most one room.
*/
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diagramhub/collab-service/internal/domain/model"
)

// Hubber defines the gateway for room membership and fan-out.
type Hubber interface {
	Join(diagramID string, conn model.Connector) error
	Leave(conn model.Connector) bool
	Members(diagramID string) []model.Presence
	Broadcast(diagramID string, env model.Envelope, exclude model.Connector) PublishResult
	Connections(diagramID string) []model.Connector
	IsActive(diagramID string) bool
	Stats() model.HubStats
	Shutdown()
}

// PublishResult reports the outcome of one fan-out pass.
type PublishResult struct {
	Delivered int
	// Dropped lists recipients whose Send failed. They are still registered;
	// the caller runs their leave path after the pass.
	Dropped []model.Connector
}

var _ Hubber = (*Hub)(nil)

// Hub implements a [SCALABLE_REGISTRY] of diagram rooms.
type Hub struct {
	// rooms stores Map[string]*room keyed by diagram id. Optimized for [READ_HEAVY] workloads.
	rooms sync.Map

	// conns stores Map[uuid.UUID]string: connector id -> diagram id.
	conns sync.Map

	config    hubConfig
	startedAt time.Time
	closed    atomic.Bool
}

type hubConfig struct {
	maxRoomSize int
	logger      *slog.Logger
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		startedAt: time.Now(),
		config: hubConfig{
			logger: slog.Default(),
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join registers conn in the room of diagramID, creating the room on first use.
func (h *Hub) Join(diagramID string, conn model.Connector) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	if diagramID == "" {
		return ErrEmptyDiagramID
	}

	// [SINGLE_MEMBERSHIP] Claim the connector before touching any room.
	if prev, loaded := h.conns.LoadOrStore(conn.GetID(), diagramID); loaded {
		return fmt.Errorf("%w: connector %s is in %q, refused for %q",
			ErrAlreadyRegistered, conn.GetID(), prev, diagramID)
	}

	for {
		r := h.loadOrCreate(diagramID)

		ok, err := r.add(conn, h.config.maxRoomSize)
		if err != nil {
			h.conns.Delete(conn.GetID())
			return fmt.Errorf("join %q: %w", diagramID, err)
		}
		if ok {
			// Shutdown may have walked the rooms before conn was added.
			if h.closed.Load() {
				h.Leave(conn)
				return ErrHubClosed
			}
			return nil
		}

		// [RETIRED_ROOM] The last member left between lookup and lock.
		// Make sure the stale room is gone and try again with a fresh one.
		h.rooms.CompareAndDelete(diagramID, r)
	}
}

// Leave removes conn from its room and retires the room when it empties.
// Calling it for a connector that is not registered is a no-op.
func (h *Hub) Leave(conn model.Connector) bool {
	val, ok := h.conns.Load(conn.GetID())
	if !ok {
		return false
	}
	diagramID := val.(string)

	removed := false
	if rv, ok := h.rooms.Load(diagramID); ok {
		r := rv.(*room)

		var empty bool
		removed, empty = r.remove(conn.GetID())
		if empty {
			h.rooms.CompareAndDelete(diagramID, r)
			h.config.logger.Debug("room retired", "diagram_id", diagramID)
		}
	}

	if removed {
		h.conns.Delete(conn.GetID())
	}
	return removed
}

// Members returns the presence entries of diagramID in join order.
func (h *Hub) Members(diagramID string) []model.Presence {
	conns := h.Connections(diagramID)

	users := make([]model.Presence, len(conns))
	for i, c := range conns {
		users[i] = c.GetIdentity()
	}
	return users
}

// Connections returns the connectors of diagramID in join order.
func (h *Hub) Connections(diagramID string) []model.Connector {
	r, ok := h.load(diagramID)
	if !ok {
		return []model.Connector{}
	}
	return r.snapshot(uuidOf(nil))
}

// Broadcast delivers env to every member of diagramID except exclude.
func (h *Hub) Broadcast(diagramID string, env model.Envelope, exclude model.Connector) PublishResult {
	var res PublishResult

	r, ok := h.load(diagramID)
	if !ok {
		return res
	}

	// [SNAPSHOT] Iterate a copy; concurrent joins and leaves never touch it.
	for _, c := range r.snapshot(uuidOf(exclude)) {
		if err := c.Send(env); err != nil {
			h.config.logger.Debug("delivery failed",
				"diagram_id", diagramID,
				"conn_id", c.GetID(),
				"kind", env.Kind(),
				"err", err,
			)
			res.Dropped = append(res.Dropped, c)
			continue
		}
		res.Delivered++
	}

	return res
}

func (h *Hub) IsActive(diagramID string) bool {
	_, ok := h.rooms.Load(diagramID)
	return ok
}

func (h *Hub) Stats() model.HubStats {
	stats := model.HubStats{Uptime: time.Since(h.startedAt)}

	h.rooms.Range(func(key, val any) bool {
		n := val.(*room).size()
		if n == 0 {
			return true
		}
		stats.TotalRooms++
		stats.TotalConnections += n
		stats.Rooms = append(stats.Rooms, model.RoomStats{DiagramID: key.(string), Members: n})
		return true
	})

	sort.Slice(stats.Rooms, func(i, j int) bool {
		return stats.Rooms[i].DiagramID < stats.Rooms[j].DiagramID
	})
	return stats
}

// Shutdown refuses further joins and closes every registered connector.
// Leaves are left to each connection's own teardown path.
func (h *Hub) Shutdown() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}

	h.rooms.Range(func(_, val any) bool {
		for _, c := range val.(*room).snapshot(uuidOf(nil)) {
			c.Close()
		}
		return true
	})
	h.config.logger.Info("hub shut down")
}

func (h *Hub) load(diagramID string) (*room, bool) {
	val, ok := h.rooms.Load(diagramID)
	if !ok {
		return nil, false
	}
	return val.(*room), true
}

// loadOrCreate is the [LAZY_INIT] path: rooms appear on first join.
func (h *Hub) loadOrCreate(diagramID string) *room {
	if r, ok := h.load(diagramID); ok {
		return r
	}
	val, _ := h.rooms.LoadOrStore(diagramID, newRoom(diagramID))
	return val.(*room)
}
