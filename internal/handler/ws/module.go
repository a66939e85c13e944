package ws

import (
	wsmarshaller "github.com/diagramhub/collab-service/internal/handler/marshaller/ws"
	"github.com/diagramhub/collab-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ws-handler",
	fx.Provide(
		// [WIRE_FORMAT] JSON text frames
		fx.Annotate(
			wsmarshaller.NewCodec,
			fx.As(new(service.Codec)),
		),
		NewWSHandler,
	),
)
