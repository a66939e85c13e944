package service

import (
	"context"
	"testing"
	"time"

	"github.com/diagramhub/collab-service/config"
	"github.com/diagramhub/collab-service/internal/domain/model"
	"github.com/diagramhub/collab-service/internal/domain/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		WS: config.WSConfig{MessageQueueSize: 8, SendTimeout: 10 * time.Millisecond},
	}
}

func TestCollabService_AttachReceiveDetach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewCollabService(f.presence, f.router, testConfig())

	a, err := svc.Attach(ctx, "d1", alice, model.ConnectMetadata{RemoteIP: "10.0.0.1"})
	require.NoError(t, err)
	b, err := svc.Attach(ctx, "d1", bob, model.ConnectMetadata{})
	require.NoError(t, err)

	assert.Equal(t, model.KindDiagramState, (<-a.Recv()).Kind())
	assert.Equal(t, model.KindUserJoined, (<-a.Recv()).Kind())
	state := <-b.Recv()
	assert.Equal(t, []model.Presence{alice, bob}, state.Users())

	svc.Receive(ctx, b, []byte(`{"type":"cursor_move","position":{"x":1}}`))
	moved := <-a.Recv()
	assert.Equal(t, model.KindCursorMove, moved.Kind())
	assert.Equal(t, bob, moved.Sender())

	svc.Detach(ctx, b)
	svc.Detach(ctx, b)

	left := <-a.Recv()
	assert.True(t, model.NewUserLeft(bob).Equal(left))
	select {
	case extra := <-a.Recv():
		t.Fatalf("unexpected envelope after second detach: %s", extra.Kind())
	default:
	}

	select {
	case <-b.Done():
	default:
		t.Fatal("detached connector must be closed")
	}
}

func TestCollabService_AttachRefused(t *testing.T) {
	hub := registry.NewHub(registry.WithMaxRoomSize(1))
	f := newFixture(t)
	f.presence.hub = hub
	svc := NewCollabService(f.presence, f.router, testConfig())

	_, err := svc.Attach(context.Background(), "d1", alice, model.ConnectMetadata{})
	require.NoError(t, err)

	conn, err := svc.Attach(context.Background(), "d1", bob, model.ConnectMetadata{})
	require.ErrorIs(t, err, registry.ErrRoomFull)
	assert.Nil(t, conn)
}
