package model

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/PRESENCE/TRANSPORT)
// The registry keys rooms by GetID; the transport drains Recv and watches Done.
type Connector interface {
	GetID() uuid.UUID
	GetDiagramID() string
	GetIdentity() Identity
	GetCreatedAt() time.Time
	Send(env Envelope) error // Thread-safe, fallible: an error means the peer is gone or too slow
	Recv() <-chan Envelope
	Done() <-chan struct{}
	Close() // Idempotent
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	RemoteIP  string
	UserAgent string
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id        uuid.UUID
	diagramID string
	identity  Identity
	metadata  ConnectMetadata
	createdAt time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	sendCh      chan Envelope
	sendTimeout time.Duration

	closeOnce    sync.Once // [PROTECTION]
	droppedCount uint64    // [ATOMIC_FIELD]
}

// NewConnector binds a connection to exactly one diagram for its lifetime.
// bufferSize bounds the outbound queue; sendTimeout is how long Send waits
// for space before giving up on the peer.
func NewConnector(ctx context.Context, diagramID string, identity Identity, bufferSize int, sendTimeout time.Duration, meta ConnectMetadata) Connector {
	if bufferSize < 1 {
		bufferSize = 1
	}
	childCtx, cancel := context.WithCancel(ctx)

	return &connect{
		id:          uuid.New(),
		diagramID:   diagramID,
		identity:    identity,
		metadata:    meta,
		createdAt:   time.Now(),
		ctx:         childCtx,
		cancelFn:    cancel,
		sendCh:      make(chan Envelope, bufferSize),
		sendTimeout: sendTimeout,
	}
}

// --- IMPLEMENTATION OF CONNECTOR INTERFACE ---

func (c *connect) GetID() uuid.UUID          { return c.id }
func (c *connect) GetDiagramID() string      { return c.diagramID }
func (c *connect) GetIdentity() Identity     { return c.identity }
func (c *connect) GetCreatedAt() time.Time   { return c.createdAt }
func (c *connect) Metadata() ConnectMetadata { return c.metadata }
func (c *connect) Dropped() uint64           { return atomic.LoadUint64(&c.droppedCount) }

// Send enqueues env for the transport writer.
func (c *connect) Send(env Envelope) error {
	// 1. [LIFECYCLE_GATE] Abort immediately if the transport is already dead.
	if c.ctx.Err() != nil {
		return ErrConnectorClosed
	}

	// 2. [FAST_PATH] Buffer has room.
	select {
	case c.sendCh <- env:
		return nil
	default:
	}

	if c.sendTimeout <= 0 {
		atomic.AddUint64(&c.droppedCount, 1)
		return ErrSendTimeout
	}

	// 3. [BACKPRESSURE_WINDOW] Wait a bounded time so one stalled peer
	// cannot hold up the rest of the room.
	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return ErrConnectorClosed
	case c.sendCh <- env:
		return nil
	case <-timer.C:
		atomic.AddUint64(&c.droppedCount, 1)
		return ErrSendTimeout
	}
}

func (c *connect) Recv() <-chan Envelope { return c.sendCh }
func (c *connect) Done() <-chan struct{} { return c.ctx.Done() }

// Close cancels the connector. The send channel is left open: concurrent
// Send calls observe the cancelled context instead of a closed channel.
func (c *connect) Close() {
	c.closeOnce.Do(func() {
		c.cancelFn()
	})
}
