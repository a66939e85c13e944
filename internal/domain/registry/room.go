package registry

import (
	"sort"
	"sync"

	"github.com/diagramhub/collab-service/internal/domain/model"
	"github.com/google/uuid"
)

// member is one connector inside a room together with its join sequence,
// which gives snapshots a stable join order.
type member struct {
	conn model.Connector
	seq  uint64
}

// room implements [ISOLATED_MEMBERSHIP] for a single diagram.
type room struct {
	// [IDENTITY]
	diagramID string

	// [MEMBERS]
	// Keyed by connector id: one physical connection is registered at most once.
	members map[uuid.UUID]member
	nextSeq uint64

	// [CONCURRENCY_CONTROL]
	// Per-room lock. Unrelated diagrams never contend with each other.
	mu sync.RWMutex

	// [RETIREMENT]
	// Set under mu when the last member leaves. A retired room accepts no
	// joins; the joiner retries against a fresh room.
	closed bool
}

func newRoom(diagramID string) *room {
	return &room{
		diagramID: diagramID,
		members:   make(map[uuid.UUID]member),
	}
}

// add registers conn. It reports false if the room was retired concurrently.
func (r *room) add(conn model.Connector, maxSize int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, nil
	}
	if maxSize > 0 && len(r.members) >= maxSize {
		return false, ErrRoomFull
	}

	r.nextSeq++
	r.members[conn.GetID()] = member{conn: conn, seq: r.nextSeq}
	return true, nil
}

// remove drops the member with connID. removed reports whether this call
// deleted it; empty reports whether the room got retired by this call.
func (r *room) remove(connID uuid.UUID) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[connID]; !ok {
		return false, false
	}
	delete(r.members, connID)

	if len(r.members) == 0 {
		r.closed = true
		return true, true
	}
	return true, false
}

// snapshot returns the members in join order, skipping exclude.
func (r *room) snapshot(exclude uuid.UUID) []model.Connector {
	r.mu.RLock()
	ordered := make([]member, 0, len(r.members))
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		ordered = append(ordered, m)
	}
	r.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	conns := make([]model.Connector, len(ordered))
	for i, m := range ordered {
		conns[i] = m.conn
	}
	return conns
}

func (r *room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func uuidOf(c model.Connector) uuid.UUID {
	if c == nil {
		return uuid.Nil
	}
	return c.GetID()
}
