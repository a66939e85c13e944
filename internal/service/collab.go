package service

import (
	"context"
	"time"

	"github.com/diagramhub/collab-service/config"
	"github.com/diagramhub/collab-service/internal/domain/model"
)

// [COLLAB_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (WebSocket)
type Collaborator interface {
	Attach(ctx context.Context, diagramID string, identity model.Identity, meta model.ConnectMetadata) (model.Connector, error)
	Receive(ctx context.Context, conn model.Connector, raw []byte)
	Detach(ctx context.Context, conn model.Connector)
}

var _ Collaborator = (*CollabService)(nil)

type CollabService struct {
	presence    Presencer
	router      Router
	bufferSize  int
	sendTimeout time.Duration
}

func NewCollabService(presence Presencer, router Router, cfg *config.Config) *CollabService {
	return &CollabService{
		presence:    presence,
		router:      router,
		bufferSize:  cfg.WS.MessageQueueSize,
		sendTimeout: cfg.WS.SendTimeout,
	}
}

// [ATTACH] HANDLES CONNECTION LIFECYCLE INITIATION
func (s *CollabService) Attach(ctx context.Context, diagramID string, identity model.Identity, meta model.ConnectMetadata) (model.Connector, error) {
	// 1. Create a connector bound to exactly one diagram
	conn := model.NewConnector(ctx, diagramID, identity, s.bufferSize, s.sendTimeout, meta)

	// 2. Register, announce and send the presence snapshot
	if err := s.presence.OnJoin(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	// 3. Return the connector for the transport to start pumping
	return conn, nil
}

func (s *CollabService) Receive(ctx context.Context, conn model.Connector, raw []byte) {
	s.router.Route(ctx, conn, raw)
}

// [DETACH] TERMINAL; SAFE TO CALL MORE THAN ONCE
func (s *CollabService) Detach(ctx context.Context, conn model.Connector) {
	s.presence.OnLeave(ctx, conn)
	conn.Close()
}
