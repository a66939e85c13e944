package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diagramhub/collab-service/internal/domain/model"
	"github.com/diagramhub/collab-service/internal/domain/registry"
	wsmarshaller "github.com/diagramhub/collab-service/internal/handler/marshaller/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type fixture struct {
	hub       *registry.Hub
	presence  *PresenceService
	router    *MessageRouter
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := registry.NewHub(registry.WithLogger(discardLogger()))
	pub := &recordingPublisher{}
	presence := NewPresenceService(hub, pub, discardLogger(), noop.NewTracerProvider())
	router := NewMessageRouter(presence, wsmarshaller.NewCodec(), discardLogger())
	t.Cleanup(presence.Wait)
	return &fixture{hub: hub, presence: presence, router: router, publisher: pub}
}

var (
	alice = model.Identity{UserID: 1, Username: "alice"}
	bob   = model.Identity{UserID: 2, Username: "bob"}
)

func TestPresence_Scenarios(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := newMockConn("d1", alice.UserID, alice.Username)
	b := newMockConn("d1", bob.UserID, bob.Username)

	// 1. A attaches alone: only its own snapshot.
	require.NoError(t, f.presence.OnJoin(ctx, a))
	got := a.take()
	require.Len(t, got, 1)
	assert.Equal(t, model.KindDiagramState, got[0].Kind())
	assert.Equal(t, []model.Presence{alice}, got[0].Users())

	// 2. B attaches: A is told, B gets both users in join order.
	require.NoError(t, f.presence.OnJoin(ctx, b))
	got = a.take()
	require.Len(t, got, 1)
	assert.True(t, model.NewUserJoined(bob).Equal(got[0]))

	got = b.take()
	require.Len(t, got, 1)
	assert.Equal(t, model.KindDiagramState, got[0].Kind())
	assert.Equal(t, []model.Presence{alice, bob}, got[0].Users())

	// 3. A draws: B receives it attributed to A, A receives nothing.
	f.router.Route(ctx, a, []byte(`{"type":"drawing_update","data":{"shape":"rect"}}`))
	assert.Empty(t, a.take())
	got = b.take()
	require.Len(t, got, 1)
	assert.Equal(t, model.KindDrawingUpdate, got[0].Kind())
	assert.Equal(t, alice, got[0].Sender())
	assert.JSONEq(t, `{"shape":"rect"}`, string(got[0].Data()))

	// 6. A pings: pong goes to A only.
	f.router.Route(ctx, a, []byte(`{"type":"ping"}`))
	assert.Equal(t, []model.EnvelopeKind{model.KindPong}, kindsOf(a.take()))
	assert.Empty(t, b.take())

	// 4. B's handle starts failing: the next fan-out evicts B and A hears user_left.
	b.fail(model.ErrConnectorClosed)
	f.router.Route(ctx, a, []byte(`{"type":"cursor_move","position":{"x":3,"y":4}}`))
	f.presence.Wait()

	assert.True(t, b.isClosed())
	assert.Equal(t, []model.Presence{alice}, f.hub.Members("d1"))
	got = a.take()
	require.Len(t, got, 1)
	assert.True(t, model.NewUserLeft(bob).Equal(got[0]))

	// The transport's own teardown for B is now a no-op.
	f.presence.OnLeave(ctx, b)
	assert.Empty(t, a.take())

	// 5. A disconnects: the room disappears.
	f.presence.OnLeave(ctx, a)
	assert.False(t, f.hub.IsActive("d1"))
	assert.Empty(t, f.hub.Members("d1"))

	assert.Equal(t, []model.SessionEventKind{
		model.SessionStarted, model.SessionStarted, model.SessionEnded, model.SessionEnded,
	}, f.publisher.kinds())
}

func TestPresence_OnLeaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := newMockConn("d1", 1, "alice")
	b := newMockConn("d1", 2, "bob")
	require.NoError(t, f.presence.OnJoin(ctx, a))
	require.NoError(t, f.presence.OnJoin(ctx, b))
	a.take()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.presence.OnLeave(ctx, b)
		}()
	}
	wg.Wait()

	got := a.take()
	require.Len(t, got, 1, "exactly one user_left")
	assert.Equal(t, model.KindUserLeft, got[0].Kind())
}

func TestPresence_JoinerSeesItself(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	conns := make([]*mockConn, 16)
	for i := range conns {
		conns[i] = newMockConn("d1", int64(i+1), "user")
		wg.Add(1)
		go func(c *mockConn) {
			defer wg.Done()
			assert.NoError(t, f.presence.OnJoin(ctx, c))
		}(conns[i])
	}
	wg.Wait()

	for _, c := range conns {
		var state *model.Envelope
		for _, env := range c.take() {
			if env.Kind() == model.KindDiagramState {
				e := env
				state = &e
			}
		}
		require.NotNil(t, state, "conn %s got no snapshot", c.id)
		assert.Contains(t, state.Users(), c.identity)
	}
}

func TestPresence_JoinTwiceIsLoud(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := newMockConn("d1", 1, "alice")
	require.NoError(t, f.presence.OnJoin(ctx, a))
	a.take()

	err := f.presence.OnJoin(ctx, a)
	require.ErrorIs(t, err, registry.ErrAlreadyRegistered)
	assert.Empty(t, a.take(), "a refused join announces nothing")
	assert.Len(t, f.hub.Members("d1"), 1)
}

func TestPresence_JoinerSnapshotFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := newMockConn("d1", 1, "alice")
	require.NoError(t, f.presence.OnJoin(ctx, a))
	a.take()

	b := newMockConn("d1", 2, "bob")
	b.fail(model.ErrSendTimeout)
	require.ErrorIs(t, f.presence.OnJoin(ctx, b), model.ErrSendTimeout)
	f.presence.Wait()

	assert.True(t, b.isClosed())
	assert.Equal(t, []model.EnvelopeKind{model.KindUserJoined, model.KindUserLeft}, kindsOf(a.take()))
	assert.Equal(t, []model.Presence{alice}, f.hub.Members("d1"))

	// Bob's session is started before it is ended.
	assert.Equal(t, []model.SessionEventKind{
		model.SessionStarted, model.SessionStarted, model.SessionEnded,
	}, f.publisher.kinds())
	assert.Equal(t, []string{a.id.String(), b.id.String(), b.id.String()}, f.publisher.sessions())
}

func TestPresence_SlowPublisherKeepsSessionOrder(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f := newFixture(t)
		f.publisher.delay = map[model.SessionEventKind]time.Duration{model.SessionStarted: 5 * time.Millisecond}

		b := newMockConn("d1", 2, "bob")
		b.fail(model.ErrConnectorClosed)
		require.Error(t, f.presence.OnJoin(ctx, b))
		f.presence.Wait()

		require.Equal(t, []model.SessionEventKind{model.SessionStarted, model.SessionEnded}, f.publisher.kinds(), "round %d", i)
	}
}

func TestPresence_LeaveRacesFailedDelivery(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f := newFixture(t)
		a := newMockConn("d1", 1, "alice")
		b := newMockConn("d1", 2, "bob")
		require.NoError(t, f.presence.OnJoin(ctx, a))
		require.NoError(t, f.presence.OnJoin(ctx, b))
		a.take()
		b.fail(model.ErrSendTimeout)

		update := model.NewDrawingUpdate(json.RawMessage(`{"id":"n1"}`), alice)

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				f.presence.OnLeave(ctx, b)
			}()
			go func() {
				defer wg.Done()
				f.presence.Broadcast(ctx, "d1", update, a)
			}()
		}
		wg.Wait()
		f.presence.Wait()

		require.Equal(t, []model.EnvelopeKind{model.KindUserLeft}, kindsOf(a.take()), "round %d", i)
		assert.Equal(t, []model.Presence{alice}, f.hub.Members("d1"))
		assert.Equal(t, []model.SessionEventKind{
			model.SessionStarted, model.SessionStarted, model.SessionEnded,
		}, f.publisher.kinds())
	}
}

func TestPresence_PublishFailureDoesNotAffectHub(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	a := newMockConn("d1", 1, "alice")
	require.NoError(t, f.presence.OnJoin(ctx, a))
	assert.Len(t, f.hub.Members("d1"), 1)

	f.presence.OnLeave(ctx, a)
	assert.False(t, f.hub.IsActive("d1"))
}

func TestPresence_NilPublisher(t *testing.T) {
	hub := registry.NewHub()
	p := NewPresenceService(hub, nil, discardLogger(), noop.NewTracerProvider())

	a := newMockConn("d1", 1, "alice")
	require.NoError(t, p.OnJoin(context.Background(), a))
	p.OnLeave(context.Background(), a)
	assert.False(t, hub.IsActive("d1"))
}

func TestPresence_EvictRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := newMockConn("d1", 1, "alice")
	b := newMockConn("d1", 2, "bob")
	other := newMockConn("d2", 3, "carol")
	for _, c := range []*mockConn{a, b, other} {
		require.NoError(t, f.presence.OnJoin(ctx, c))
		c.take()
	}

	n := f.presence.EvictRoom(ctx, "d1", "diagram deleted")
	f.presence.Wait()

	assert.Equal(t, 2, n)
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.False(t, other.isClosed())
	assert.False(t, f.hub.IsActive("d1"))
	assert.True(t, f.hub.IsActive("d2"))

	// Late teardown of an evicted connection stays silent.
	f.presence.OnLeave(ctx, a)
	assert.Empty(t, other.take())

	assert.Zero(t, f.presence.EvictRoom(ctx, "d1", "again"))
}

func TestPresence_Snapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.Empty(t, f.presence.Snapshot("d1"))

	require.NoError(t, f.presence.OnJoin(ctx, newMockConn("d1", 1, "alice")))
	data, err := json.Marshal(f.presence.Snapshot("d1"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"user_id":1,"username":"alice"}]`, string(data))
}
