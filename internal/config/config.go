// Package config loads server configuration via spf13/viper, grounded
// on dkeye-Voice's own internal/config/config.go (env-selected YAML file
// + SetDefault calls), extended with the TLS, JWT, repository, and
// timing knobs the expanded module needs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	JWTPrivateKeyFile string        `mapstructure:"jwt_private_key_file"`
	AccessTokenTTL    time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL   time.Duration `mapstructure:"refresh_token_ttl"`

	// RepositoryDSN names the external store's connection string. The
	// module ships only the in-memory reference Repository; a real
	// deployment wires a driver behind this DSN (spec §1).
	RepositoryDSN string `mapstructure:"repository_dsn"`

	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	InviteTimeout        time.Duration `mapstructure:"invite_timeout"`
	HeartbeatPingPeriod  time.Duration `mapstructure:"heartbeat_ping_period"`
	HeartbeatPongTimeout time.Duration `mapstructure:"heartbeat_pong_timeout"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8443)
	v.SetDefault("static_path", "./web")
	v.SetDefault("tls_cert_file", "./certs/server.crt")
	v.SetDefault("tls_key_file", "./certs/server.key")
	v.SetDefault("jwt_private_key_file", "./certs/jwt_rsa_private.pem")
	v.SetDefault("access_token_ttl", "15m")
	v.SetDefault("refresh_token_ttl", "168h")
	v.SetDefault("repository_dsn", "")
	v.SetDefault("handshake_timeout", "5s")
	v.SetDefault("invite_timeout", "30s")
	v.SetDefault("heartbeat_ping_period", "10s")
	v.SetDefault("heartbeat_pong_timeout", "15s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}
