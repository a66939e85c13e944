package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/diagramhub/collab-service/internal/domain/model"
	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockConn struct {
	id        uuid.UUID
	diagramID string
	identity  model.Identity

	mu       sync.Mutex
	received []model.Envelope
	sendErr  error

	done      chan struct{}
	closeOnce sync.Once
}

func newMockConn(diagramID string, userID int64, name string) *mockConn {
	return &mockConn{
		id:        uuid.New(),
		diagramID: diagramID,
		identity:  model.Identity{UserID: userID, Username: name},
		done:      make(chan struct{}),
	}
}

func (m *mockConn) GetID() uuid.UUID            { return m.id }
func (m *mockConn) GetDiagramID() string        { return m.diagramID }
func (m *mockConn) GetIdentity() model.Identity { return m.identity }
func (m *mockConn) GetCreatedAt() time.Time     { return time.Unix(1700000000, 0) }
func (m *mockConn) Recv() <-chan model.Envelope { return nil }
func (m *mockConn) Done() <-chan struct{}       { return m.done }

func (m *mockConn) Send(env model.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, env)
	return nil
}

func (m *mockConn) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *mockConn) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// take returns and clears everything received so far.
func (m *mockConn) take() []model.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.received
	m.received = nil
	return out
}

func kindsOf(envs []model.Envelope) []model.EnvelopeKind {
	kinds := make([]model.EnvelopeKind, len(envs))
	for i, e := range envs {
		kinds[i] = e.Kind()
	}
	return kinds
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.OutboundEventer
	err    error

	// delay holds a publish of the given kind before it is recorded.
	delay map[model.SessionEventKind]time.Duration
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.OutboundEventer) error {
	if d := p.delay[ev.(*model.SessionEvent).Kind]; d > 0 {
		time.Sleep(d)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) sessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.(*model.SessionEvent).SessionID)
	}
	return out
}

func (p *recordingPublisher) kinds() []model.SessionEventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.SessionEventKind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.(*model.SessionEvent).Kind)
	}
	return out
}
