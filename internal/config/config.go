// Package config provides configuration management for tvstream using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jmylchreest/tvstream/pkg/duration"
)

// Default configuration values.
const (
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxConnections    = 256
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultReconnectBase     = time.Second
	defaultReconnectMax      = 15 * time.Second
	defaultHealthyPeriod     = 10 * time.Second
	defaultHeartbeatInterval = 250 * time.Millisecond
	defaultMonitorInterval   = 50 * time.Millisecond
	defaultWatchdogTimeout   = 30 * time.Second
	defaultDecodeDelay       = 2 * time.Millisecond
	defaultScreenWidth       = 1920
	defaultScreenHeight      = 1080
	defaultTimescale         = 90000
	defaultVideoDuration     = 180180 // 2.002s at 90kHz
	defaultAudioDuration     = 432000 // 4.8s at 90kHz
	defaultFragmentSize      = 256 * 1024
	defaultMaxBuffer         = 15 * time.Second
	defaultMaxInflight       = 5 * time.Second
	defaultServeInterval     = 100 * time.Millisecond
	defaultWindow            = 60 * time.Second
	defaultTelemetryQueue    = 1024
	defaultTelemetryKeep     = 72 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Client    ClientConfig    `mapstructure:"client"`
	Server    ServerConfig    `mapstructure:"server"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ClientConfig holds the streaming client configuration.
type ClientConfig struct {
	ServerURL    string `mapstructure:"server_url"`
	Channel      string `mapstructure:"channel"`
	SessionKey   string `mapstructure:"session_key"`
	UserName     string `mapstructure:"user_name"`
	ScreenWidth  int    `mapstructure:"screen_width"`
	ScreenHeight int    `mapstructure:"screen_height"`

	ReconnectBase time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax  time.Duration `mapstructure:"reconnect_max"`
	// MaxReconnectAttempts bounds consecutive failed reconnects (0 = unlimited).
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	HealthyPeriod        time.Duration `mapstructure:"healthy_period"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	MonitorInterval      time.Duration `mapstructure:"monitor_interval"`
	WatchdogTimeout      time.Duration `mapstructure:"watchdog_timeout"`
	DecodeDelay          time.Duration `mapstructure:"decode_delay"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	StaticDir       string        `mapstructure:"static_dir"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxConnections  int           `mapstructure:"max_connections"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	Maintenance     bool          `mapstructure:"maintenance"`
}

// StreamingConfig holds media delivery configuration for the demo server.
type StreamingConfig struct {
	Channels      []string      `mapstructure:"channels"`
	Timescale     uint32        `mapstructure:"timescale"`
	VideoDuration uint64        `mapstructure:"video_duration"`
	AudioDuration uint64        `mapstructure:"audio_duration"`
	FragmentSize  ByteSize      `mapstructure:"fragment_size"`
	MaxBuffer     time.Duration `mapstructure:"max_buffer"`
	MaxInflight   time.Duration `mapstructure:"max_inflight"`
	ServeInterval time.Duration `mapstructure:"serve_interval"`
	Window        time.Duration `mapstructure:"window"`
	Selector      string        `mapstructure:"selector"` // random, lowest, highest
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// TelemetryConfig holds client telemetry persistence configuration.
type TelemetryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"` // 5-field cron expression
	QueueSize     int           `mapstructure:"queue_size"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with TVSTREAM_, e.g. TVSTREAM_CLIENT_SERVER_URL. A .env file in the
// working directory is loaded into the environment first when present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tvstream")
		v.AddConfigPath("$HOME/.config/tvstream")
	}

	v.SetEnvPrefix("TVSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		duration.DecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Client defaults
	v.SetDefault("client.server_url", "ws://localhost:8080/ws")
	v.SetDefault("client.channel", "demo")
	v.SetDefault("client.session_key", "")
	v.SetDefault("client.user_name", "")
	v.SetDefault("client.screen_width", defaultScreenWidth)
	v.SetDefault("client.screen_height", defaultScreenHeight)
	v.SetDefault("client.reconnect_base", defaultReconnectBase)
	v.SetDefault("client.reconnect_max", defaultReconnectMax)
	v.SetDefault("client.max_reconnect_attempts", 0)
	v.SetDefault("client.healthy_period", defaultHealthyPeriod)
	v.SetDefault("client.heartbeat_interval", defaultHeartbeatInterval)
	v.SetDefault("client.monitor_interval", defaultMonitorInterval)
	v.SetDefault("client.watchdog_timeout", defaultWatchdogTimeout)
	v.SetDefault("client.decode_delay", defaultDecodeDelay)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.max_connections", defaultMaxConnections)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.maintenance", false)

	// Streaming defaults
	v.SetDefault("streaming.channels", []string{"demo", "news"})
	v.SetDefault("streaming.timescale", defaultTimescale)
	v.SetDefault("streaming.video_duration", defaultVideoDuration)
	v.SetDefault("streaming.audio_duration", defaultAudioDuration)
	v.SetDefault("streaming.fragment_size", defaultFragmentSize)
	v.SetDefault("streaming.max_buffer", defaultMaxBuffer)
	v.SetDefault("streaming.max_inflight", defaultMaxInflight)
	v.SetDefault("streaming.serve_interval", defaultServeInterval)
	v.SetDefault("streaming.window", defaultWindow)
	v.SetDefault("streaming.selector", "random")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "tvstream.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.retention", defaultTelemetryKeep)
	v.SetDefault("telemetry.prune_schedule", "0 * * * *")
	v.SetDefault("telemetry.queue_size", defaultTelemetryQueue)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Client.ReconnectBase <= 0 {
		return fmt.Errorf("client.reconnect_base must be positive")
	}
	if c.Client.ReconnectMax < c.Client.ReconnectBase {
		return fmt.Errorf("client.reconnect_max must not be less than client.reconnect_base")
	}
	if c.Client.HeartbeatInterval <= 0 || c.Client.MonitorInterval <= 0 {
		return fmt.Errorf("client.heartbeat_interval and client.monitor_interval must be positive")
	}
	if c.Client.WatchdogTimeout <= 0 {
		return fmt.Errorf("client.watchdog_timeout must be positive")
	}
	if c.Client.MaxReconnectAttempts < 0 {
		return fmt.Errorf("client.max_reconnect_attempts must not be negative")
	}

	if len(c.Streaming.Channels) == 0 {
		return fmt.Errorf("streaming.channels must list at least one channel")
	}
	if c.Streaming.Timescale == 0 || c.Streaming.VideoDuration == 0 || c.Streaming.AudioDuration == 0 {
		return fmt.Errorf("streaming.timescale, video_duration and audio_duration must be positive")
	}
	if c.Streaming.FragmentSize <= 0 {
		return fmt.Errorf("streaming.fragment_size must be positive")
	}
	validSelectors := map[string]bool{"random": true, "lowest": true, "highest": true}
	if !validSelectors[c.Streaming.Selector] {
		return fmt.Errorf("streaming.selector must be one of: random, lowest, highest")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Telemetry.Enabled && c.Telemetry.QueueSize < 1 {
		return fmt.Errorf("telemetry.queue_size must be at least 1")
	}

	return nil
}

// Address returns the server address for the given port in host:port format.
func (c *ServerConfig) Address(port int) string {
	return fmt.Sprintf("%s:%d", c.Host, port)
}
