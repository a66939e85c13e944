package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagramhub/collab-service/config"
	"github.com/diagramhub/collab-service/internal/monitor"
	"github.com/urfave/cli/v2"
)

const (
	ServiceName      = "collab-service"
	ServiceNamespace = "diagramhub"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Real-time collaboration hub for the diagram editor",
		Version: fmt.Sprintf("%s (%s@%s, %s) %s", version, branch, commit, commitDate, buildTimestamp),
		Commands: []*cli.Command{
			serverCmd(),
			monitorCmd(),
		},
	}

	return app.Run(os.Args)
}

// overridable lists config keys that may also be passed as flags.
var overridable = []string{"http.address", "grpc.address", "log.level", "amqp.url"}

func serverCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config_file",
			Usage:   "Path to the configuration file",
			EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
		},
	}
	for _, key := range overridable {
		flags = append(flags, &cli.StringFlag{Name: key, Usage: "Override " + key})
	}

	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the collaboration server",
		Flags:   flags,
		Action: func(c *cli.Context) error {
			// [FLAG_BRIDGE] Only flags given on the command line reach viper
			fs := config.Flags()
			for _, key := range overridable {
				if c.IsSet(key) {
					if err := fs.Set(key, c.String(key)); err != nil {
						return fmt.Errorf("flag %s: %w", key, err)
					}
				}
			}

			cfg, err := config.LoadConfig(c.String("config_file"), fs)
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout+5*time.Second)
			defer cancel()
			return app.Stop(ctx)
		},
	}
}

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:    "monitor",
		Aliases: []string{"m"},
		Usage:   "Live terminal view of a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Value: "http://localhost:8000",
				Usage: "Base URL of the server to watch",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: 2 * time.Second,
				Usage: "Refresh interval",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			interval := c.Duration("interval")
			return monitor.Run(ctx, monitor.NewFetcher(c.String("url"), interval), interval)
		},
	}
}
