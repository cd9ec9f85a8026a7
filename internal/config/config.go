package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env                string `mapstructure:"env"`
	LogLevel           string `mapstructure:"log_level"`
	LocalStackEndpoint string `mapstructure:"localstack_endpoint"`
	Gateway            GatewayConfig
	Vault              VaultConfig
	OKX                OKXConfig
	Gate               GateConfig
	Redis              RedisConfig
	HTTP               HTTPConfig
}

// GatewayConfig holds the gRPC gateway settings.
type GatewayConfig struct {
	SocketPath    string `mapstructure:"socket_path"`
	SessionTTLSec int    `mapstructure:"session_ttl_sec"`
}

// SessionTTL returns SessionTTLSec as a duration.
func (g GatewayConfig) SessionTTL() time.Duration {
	return time.Duration(g.SessionTTLSec) * time.Second
}

// VaultConfig locates the credential file and the KMS key sealing it.
type VaultConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	KMSKeyID        string `mapstructure:"kms_key_id"`
	AWSRegion       string `mapstructure:"aws_region"`
}

// OKXConfig holds exchange endpoints and stream defaults.
type OKXConfig struct {
	RESTURL        string   `mapstructure:"rest_url"`
	PublicWSURL    string   `mapstructure:"public_ws_url"`
	PrivateWSURL   string   `mapstructure:"private_ws_url"`
	InstrumentType string   `mapstructure:"instrument_type"`
	Instruments    []string `mapstructure:"instruments"`
	BookDepth      int      `mapstructure:"book_depth"`
}

// GateConfig tunes the trading circuit breaker.
type GateConfig struct {
	StaleThresholdMS int `mapstructure:"stale_threshold_ms"`
	CoolOffMS        int `mapstructure:"cool_off_ms"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HTTPConfig holds the REST control surface settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from environment variables prefixed with BRIDGE_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")

	// Gateway defaults
	v.SetDefault("gateway.socket_path", "/var/run/bridge/gateway.sock")
	v.SetDefault("gateway.session_ttl_sec", 3600)

	// Vault defaults
	v.SetDefault("vault.credentials_file", "/etc/bridge/credentials.yaml")
	v.SetDefault("vault.aws_region", "us-east-1")

	// OKX defaults
	v.SetDefault("okx.rest_url", "https://www.okx.com")
	v.SetDefault("okx.public_ws_url", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("okx.private_ws_url", "wss://ws.okx.com:8443/ws/v5/private")
	v.SetDefault("okx.instrument_type", "SPOT")
	v.SetDefault("okx.instruments", "BTC-USDT")
	v.SetDefault("okx.book_depth", 10)

	// Gate defaults
	v.SetDefault("gate.stale_threshold_ms", 5000)
	v.SetDefault("gate.cool_off_ms", 2000)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("http.addr", ":8080")

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.LogLevel = v.GetString("log_level")
	cfg.LocalStackEndpoint = v.GetString("localstack_endpoint")

	cfg.Gateway = GatewayConfig{
		SocketPath:    v.GetString("gateway.socket_path"),
		SessionTTLSec: v.GetInt("gateway.session_ttl_sec"),
	}

	cfg.Vault = VaultConfig{
		CredentialsFile: v.GetString("vault.credentials_file"),
		KMSKeyID:        v.GetString("vault.kms_key_id"),
		AWSRegion:       v.GetString("vault.aws_region"),
	}

	cfg.OKX = OKXConfig{
		RESTURL:        v.GetString("okx.rest_url"),
		PublicWSURL:    v.GetString("okx.public_ws_url"),
		PrivateWSURL:   v.GetString("okx.private_ws_url"),
		InstrumentType: v.GetString("okx.instrument_type"),
		Instruments:    splitList(v.GetString("okx.instruments")),
		BookDepth:      v.GetInt("okx.book_depth"),
	}

	cfg.Gate = GateConfig{
		StaleThresholdMS: v.GetInt("gate.stale_threshold_ms"),
		CoolOffMS:        v.GetInt("gate.cool_off_ms"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	cfg.HTTP = HTTPConfig{
		Addr: v.GetString("http.addr"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Gateway.SessionTTLSec <= 0 {
		return fmt.Errorf("config: gateway.session_ttl_sec must be positive, got %d", c.Gateway.SessionTTLSec)
	}
	if c.OKX.BookDepth <= 0 {
		return fmt.Errorf("config: okx.book_depth must be positive, got %d", c.OKX.BookDepth)
	}
	if c.OKX.InstrumentType == "" {
		return fmt.Errorf("config: okx.instrument_type is required")
	}
	return nil
}

// splitList parses a comma-separated env value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
