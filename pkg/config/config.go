package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Configuration struct {
	ListenAddr string
	BaseURL    string
	Database   struct {
		User     string
		Password string
		Host     string
		Port     int
		DB       string
		SSLMode  string
	}
	Claims ClaimSettings
	Mqtt   MqttBridgeSettings
}

// ClaimSettings controls the node ownership challenge flow.
type ClaimSettings struct {
	// KeyLength is the number of characters in a generated claim key.
	// Clamped to the 6-10 range.
	KeyLength int
	// TTL is how long a pending claim stays valid. Expiry is evaluated
	// lazily when the claim is next read.
	TTL time.Duration
}

// MqttBridgeSettings configures the optional embedded MQTT ingest bridge.
// Relays that prefer MQTT over HTTP publish the same JSON packet batches
// to IngestTopic, authenticated with their API key.
type MqttBridgeSettings struct {
	Enabled     bool
	ListenAddr  string
	IngestTopic string
}

// Load reads meshflow.yaml from the given path (or the working directory)
// plus MESHFLOW_-prefixed environment variables.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigName("meshflow")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("MESHFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listenaddr", ":8080")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("claims.keylength", 8)
	v.SetDefault("claims.ttl", "30m")
	v.SetDefault("mqtt.ingesttopic", "meshflow/ingest")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Claims.KeyLength < 6 {
		cfg.Claims.KeyLength = 6
	}
	if cfg.Claims.KeyLength > 10 {
		cfg.Claims.KeyLength = 10
	}
	return &cfg, nil
}

// DSN builds the Postgres connection string for sqlx and the migration
// runner.
func (c *Configuration) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host,
		c.Database.Port, c.Database.DB, c.Database.SSLMode)
}
