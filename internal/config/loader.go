package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "PEERCHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "peerchat.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("PEERCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, configPath, err
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so AutomaticEnv can resolve nested values on Unmarshal.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("storage.path", cfg.Storage.Path)

	v.SetDefault("peer.listen_addr", cfg.Peer.ListenAddr)
	v.SetDefault("peer.advertise_url", cfg.Peer.AdvertiseURL)
	v.SetDefault("peer.directory_url", cfg.Peer.DirectoryURL)
	v.SetDefault("peer.dial_timeout", cfg.Peer.DialTimeout)
	v.SetDefault("peer.invite_close_delay", cfg.Peer.InviteCloseDelay)
	v.SetDefault("peer.event_buffer", cfg.Peer.EventBuffer)
	v.SetDefault("peer.send_buffer", cfg.Peer.SendBuffer)
	v.SetDefault("peer.max_message_bytes", cfg.Peer.MaxMessageBytes)

	v.SetDefault("directory.addr", cfg.Directory.Addr)
	v.SetDefault("directory.lease_ttl", cfg.Directory.LeaseTTL)
	v.SetDefault("directory.jwt_secret", cfg.Directory.JWTSecret)
	v.SetDefault("directory.jwt_issuer", cfg.Directory.JWTIssuer)
	v.SetDefault("directory.register_rate_limit", cfg.Directory.RegisterRateLimit)
	v.SetDefault("directory.read_header_timeout", cfg.Directory.ReadHeaderTimeout)
	v.SetDefault("directory.shutdown_timeout", cfg.Directory.ShutdownTimeout)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
