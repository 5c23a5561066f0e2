package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const envPrefix = "CALLHUB"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Log       LogConfig       `mapstructure:"log"`
	Peer      PeerConfig      `mapstructure:"peer"`
}

type ServerConfig struct {
	ListenAddr             string        `mapstructure:"listen_addr"`
	HubPath                string        `mapstructure:"hub_path"`
	AllowedOrigins         []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout        time.Duration `mapstructure:"shutdown_timeout"`
	PurgeRoomsOnDisconnect bool          `mapstructure:"purge_rooms_on_disconnect"`
}

type WebSocketConfig struct {
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	PongWait          time.Duration `mapstructure:"pong_wait"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	MessagesPerSecond float64       `mapstructure:"messages_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PeerConfig struct {
	ServerURL     string        `mapstructure:"server_url"`
	Protocol      string        `mapstructure:"protocol"`
	ICEServers    []string      `mapstructure:"ice_servers"`
	GatherTimeout time.Duration `mapstructure:"gather_timeout"`
	SendAudio     bool          `mapstructure:"send_audio"`

	ReconnectInitialDelay time.Duration `mapstructure:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `mapstructure:"reconnect_max_delay"`
	ReconnectMaxAttempts  int           `mapstructure:"reconnect_max_attempts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":5270")
	v.SetDefault("server.hub_path", "/videocallhub")
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost:3000",
		"https://localhost:3000",
		"http://localhost:3001",
		"https://localhost:3001",
	})
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.purge_rooms_on_disconnect", true)

	v.SetDefault("websocket.max_message_bytes", 64*1024)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("websocket.ping_interval", 54*time.Second)
	v.SetDefault("websocket.messages_per_second", 50)
	v.SetDefault("websocket.burst", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("peer.server_url", "ws://localhost:5270/videocallhub")
	v.SetDefault("peer.protocol", "json")
	v.SetDefault("peer.ice_servers", []string{"stun:stun.l.google.com:19302", "stun:global.stun.twilio.com:3478"})
	v.SetDefault("peer.gather_timeout", 5*time.Second)
	v.SetDefault("peer.send_audio", true)
	v.SetDefault("peer.reconnect_initial_delay", 2*time.Second)
	v.SetDefault("peer.reconnect_max_delay", 30*time.Second)
	v.SetDefault("peer.reconnect_max_attempts", 4)
}

// New returns a viper instance with defaults and environment overrides
// (CALLHUB_SERVER_LISTEN_ADDR and so on). Command-line flags can be bound to
// it before Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFilePath (or ./callhub.* when empty) into v and decodes
// the result. A missing file is not an error.
func Load(v *viper.Viper, configFilePath string) (Config, error) {
	if configFilePath != "" {
		v.SetConfigFile(configFilePath)
	} else {
		v.SetConfigName("callhub")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if !strings.HasPrefix(c.Server.HubPath, "/") {
		errs = append(errs, fmt.Errorf("server.hub_path %q must start with /", c.Server.HubPath))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("websocket.max_message_bytes must be positive"))
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, errors.New("websocket.send_buffer must be positive"))
	}
	if c.WebSocket.WriteWait <= 0 {
		errs = append(errs, errors.New("websocket.write_wait must be positive"))
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		errs = append(errs, errors.New("websocket.ping_interval must be positive and shorter than websocket.pong_wait"))
	}
	if c.WebSocket.MessagesPerSecond <= 0 || c.WebSocket.Burst <= 0 {
		errs = append(errs, errors.New("websocket.messages_per_second and websocket.burst must be positive"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	if c.Peer.Protocol != "json" && c.Peer.Protocol != "messagepack" {
		errs = append(errs, fmt.Errorf("peer.protocol %q must be json or messagepack", c.Peer.Protocol))
	}
	if len(c.Peer.ICEServers) == 0 {
		errs = append(errs, errors.New("peer.ice_servers needs at least one server"))
	}
	if c.Peer.ReconnectInitialDelay <= 0 || c.Peer.ReconnectMaxDelay < c.Peer.ReconnectInitialDelay {
		errs = append(errs, errors.New("peer.reconnect_initial_delay must be positive and not above peer.reconnect_max_delay"))
	}
	if c.Peer.ReconnectMaxAttempts < 0 {
		errs = append(errs, errors.New("peer.reconnect_max_attempts must not be negative"))
	}
	return errors.Join(errs...)
}
