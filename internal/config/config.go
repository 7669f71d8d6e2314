package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Config holds peer and directory configuration values.
type Config struct {
	LogLevel  string          `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn warning error"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Peer      PeerConfig      `mapstructure:"peer" yaml:"peer"`
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`
}

// StorageConfig selects where the local identity and friends list live.
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" validate:"oneof=sqlite badger"`
	Path   string `mapstructure:"path" yaml:"path" validate:"required"`
}

// PeerConfig tunes the local endpoint and session.
type PeerConfig struct {
	// ListenAddr is where the endpoint serves inbound peer connections.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr" validate:"required"`
	// AdvertiseURL overrides the ws:// URL published to the directory.
	AdvertiseURL     string        `mapstructure:"advertise_url" yaml:"advertise_url" validate:"omitempty,url"`
	DirectoryURL     string        `mapstructure:"directory_url" yaml:"directory_url" validate:"required,url"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"gt=0"`
	InviteCloseDelay time.Duration `mapstructure:"invite_close_delay" yaml:"invite_close_delay" validate:"gte=0"`
	EventBuffer      int           `mapstructure:"event_buffer" yaml:"event_buffer" validate:"gt=0"`
	SendBuffer       int           `mapstructure:"send_buffer" yaml:"send_buffer" validate:"gt=0"`
	MaxMessageBytes  int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes" validate:"gt=0"`
}

// DirectoryConfig configures the peer directory service.
type DirectoryConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl" validate:"gt=0"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	RegisterRateLimit int           `mapstructure:"register_rate_limit" yaml:"register_rate_limit" validate:"gte=0"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "peerchat.db",
		},
		Peer: PeerConfig{
			ListenAddr:       "127.0.0.1:0",
			DirectoryURL:     "http://localhost:8090",
			DialTimeout:      5 * time.Second,
			InviteCloseDelay: time.Second,
			EventBuffer:      256,
			SendBuffer:       64,
			MaxMessageBytes:  64 << 10,
		},
		Directory: DirectoryConfig{
			Addr:              ":8090",
			LeaseTTL:          time.Minute,
			JWTIssuer:         "peerchat-directory",
			RegisterRateLimit: 120,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Storage.Driver != "" {
		c.Storage.Driver = other.Storage.Driver
	}
	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}
	if other.Peer.ListenAddr != "" {
		c.Peer.ListenAddr = other.Peer.ListenAddr
	}
	if other.Peer.AdvertiseURL != "" {
		c.Peer.AdvertiseURL = other.Peer.AdvertiseURL
	}
	if other.Peer.DirectoryURL != "" {
		c.Peer.DirectoryURL = other.Peer.DirectoryURL
	}
	if other.Directory.Addr != "" {
		c.Directory.Addr = other.Directory.Addr
	}
	if other.Directory.JWTSecret != "" {
		c.Directory.JWTSecret = other.Directory.JWTSecret
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
