package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/diagramhub/collab-service/config"
	"github.com/diagramhub/collab-service/infra/client/identity"
	infrapubsub "github.com/diagramhub/collab-service/infra/pubsub"
	grpcsrv "github.com/diagramhub/collab-service/infra/server/grpc"
	httpsrv "github.com/diagramhub/collab-service/infra/server/http"
	pubsubadapter "github.com/diagramhub/collab-service/internal/adapter/pubsub"
	"github.com/diagramhub/collab-service/internal/domain/registry"
	amqphandler "github.com/diagramhub/collab-service/internal/handler/amqp"
	httphandler "github.com/diagramhub/collab-service/internal/handler/http"
	wshandler "github.com/diagramhub/collab-service/internal/handler/ws"
	"github.com/diagramhub/collab-service/internal/service"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideTracerProvider,
		),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With(slog.String("component", "fx"))}
		}),

		// Module order is hook order; they stop in reverse.
		infrapubsub.Module,
		pubsubadapter.Module,
		service.Module,
		registry.Module,
		identity.Module,
		wshandler.Module,
		httphandler.Module,
		httpsrv.Module,
		grpcsrv.Module,
		amqphandler.Module,
	)
}

func serviceResource() *resource.Resource {
	return resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.namespace", ServiceNamespace),
		attribute.String("service.version", version),
	)
}

// ProvideLogger builds the process logger. With log.otel the records go
// through the OpenTelemetry log pipeline instead of a local handler.
func ProvideLogger(cfg *config.Config, lc fx.Lifecycle) (*slog.Logger, error) {
	var handler slog.Handler

	switch {
	case cfg.Log.OTel:
		exp, err := stdoutlog.New()
		if err != nil {
			return nil, fmt.Errorf("otel log exporter: %w", err)
		}
		lp := sdklog.NewLoggerProvider(
			sdklog.WithResource(serviceResource()),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		)
		lc.Append(fx.Hook{OnStop: lp.Shutdown})
		handler = otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(lp))

	case cfg.Log.Format == "text":
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level})

	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level})
	}

	logger := slog.New(handler).With(slog.String("service_id", cfg.Service.ID))
	slog.SetDefault(logger)
	return logger, nil
}

func ProvideWatermillLogger(l *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(l.With(slog.String("component", "watermill")))
}

// ProvideTracerProvider returns a no-op provider unless tracing is enabled.
func ProvideTracerProvider(cfg *config.Config, lc fx.Lifecycle) (trace.TracerProvider, error) {
	if !cfg.Tracing.Enabled {
		return noop.NewTracerProvider(), nil
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("otel trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(serviceResource()),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}
