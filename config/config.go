package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "COLLAB"

	AuthModeRemote = "remote"
	AuthModeHeader = "header"
)

type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	GRPC    GRPCConfig    `mapstructure:"grpc"`
	WS      WSConfig      `mapstructure:"ws"`
	Hub     HubConfig     `mapstructure:"hub"`
	Auth    AuthConfig    `mapstructure:"auth"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`

	// Level is the live log level. It is shared with the logger and updated
	// when the config file changes.
	Level *slog.LevelVar `mapstructure:"-"`
}

type ServiceConfig struct {
	ID string `mapstructure:"id"`
}

type HTTPConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Address string `mapstructure:"address"`
}

// WSConfig tunes the WebSocket transport and per-connection buffers.
type WSConfig struct {
	MessageQueueSize int           `mapstructure:"message_queue_size"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
}

// PingPeriod must stay below PongWait so the peer has time to answer.
func (c WSConfig) PingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

type HubConfig struct {
	MaxRoomSize int `mapstructure:"max_room_size"`
}

type AuthConfig struct {
	Mode      string        `mapstructure:"mode"`
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// AMQPConfig selects the message bus. An empty URL keeps everything in-process.
type AMQPConfig struct {
	URL          string `mapstructure:"url"`
	SessionTopic string `mapstructure:"session_topic"`
	DiagramTopic string `mapstructure:"diagram_topic"`
}

func (c AMQPConfig) Enabled() bool { return c.URL != "" }

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	OTel   bool   `mapstructure:"otel"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.id", "collab-1")
	v.SetDefault("http.address", ":8000")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("grpc.address", ":9000")

	v.SetDefault("ws.message_queue_size", 100)
	v.SetDefault("ws.send_timeout", 50*time.Millisecond)
	v.SetDefault("ws.write_wait", 10*time.Second)
	v.SetDefault("ws.pong_wait", 60*time.Second)
	v.SetDefault("ws.max_message_size", 64*1024)
	v.SetDefault("ws.allowed_origins", []string{"http://localhost:3000", "http://localhost:3001"})

	v.SetDefault("hub.max_room_size", 0)

	v.SetDefault("auth.mode", AuthModeRemote)
	v.SetDefault("auth.url", "http://localhost:8001")
	v.SetDefault("auth.timeout", 3*time.Second)
	v.SetDefault("auth.cache_size", 10000)
	v.SetDefault("auth.cache_ttl", 5*time.Minute)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.session_topic", "collab.session.events")
	v.SetDefault("amqp.diagram_topic", "diagram.events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.otel", false)
	v.SetDefault("tracing.enabled", false)
}

// Flags returns the command-line overrides understood by LoadConfig.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("collab-service", pflag.ContinueOnError)
	fs.String("http.address", "", "HTTP listen address")
	fs.String("grpc.address", "", "gRPC listen address")
	fs.String("log.level", "", "log level: debug|info|warn|error")
	fs.String("amqp.url", "", "AMQP broker URL; empty keeps the bus in-process")
	return fs
}

// LoadConfig reads defaults, the optional config file, COLLAB_* env vars and
// explicitly set flags, in that order of precedence (lowest first).
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = v.GetString("config_file")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	if flags != nil {
		// Only flags the user actually set override lower layers.
		var bindErr error
		flags.Visit(func(f *pflag.Flag) {
			if err := v.BindPFlag(f.Name, f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Level = new(slog.LevelVar)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Level.Set(ParseLevel(cfg.Log.Level))

	if configFile != "" {
		// [HOT_RELOAD] Only the log level is applied live; everything else
		// needs a restart.
		v.OnConfigChange(func(e fsnotify.Event) {
			lvl := ParseLevel(v.GetString("log.level"))
			cfg.Level.Set(lvl)
			slog.Info("config reloaded", "file", e.Name, "op", e.Op.String(), "log_level", lvl.String())
		})
		v.WatchConfig()
	}

	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Address == "" {
		errs = append(errs, errors.New("http.address is required"))
	}
	if c.WS.MessageQueueSize < 1 {
		errs = append(errs, fmt.Errorf("ws.message_queue_size must be positive, got %d", c.WS.MessageQueueSize))
	}
	if c.WS.PongWait <= 0 {
		errs = append(errs, fmt.Errorf("ws.pong_wait must be positive, got %s", c.WS.PongWait))
	}
	if c.WS.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("ws.max_message_size must be positive, got %d", c.WS.MaxMessageSize))
	}
	if c.Hub.MaxRoomSize < 0 {
		errs = append(errs, fmt.Errorf("hub.max_room_size must not be negative, got %d", c.Hub.MaxRoomSize))
	}

	switch c.Auth.Mode {
	case AuthModeRemote:
		if c.Auth.URL == "" {
			errs = append(errs, errors.New("auth.url is required in remote mode"))
		}
	case AuthModeHeader:
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q: want %s|%s", c.Auth.Mode, AuthModeRemote, AuthModeHeader))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json|text", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
