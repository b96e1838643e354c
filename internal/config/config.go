package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	commoncfg "github.com/phlaster/biokeeper-backend/common/config"
	"github.com/phlaster/biokeeper-backend/internal/consumer"
	"github.com/phlaster/biokeeper-backend/internal/events"
	"github.com/phlaster/biokeeper-backend/internal/service"
	"github.com/phlaster/biokeeper-backend/internal/weather"
)

// Auth modes
const (
	AuthJWT    = "jwt"
	AuthRemote = "remote"
)

// Config biokeeper-core settings
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	DBEnabled    bool                     `yaml:"db_enabled"`
	Database     commoncfg.DatabaseConfig `yaml:"database"`
	RedisEnabled bool                     `yaml:"redis_enabled"`
	Redis        commoncfg.RedisConfig    `yaml:"redis"`
	Log          struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Kits struct {
		MaxQRs int `yaml:"max_qrs"`
	} `yaml:"kits"`
	Enrichment struct {
		Timeout  time.Duration `yaml:"timeout"`
		PastDays int           `yaml:"past_days"`
	} `yaml:"enrichment"`
	Weather weather.Config `yaml:"weather"`
	Auth    AuthConfig     `yaml:"auth"`
	MQTT    MQTTConfig     `yaml:"mqtt"`
	Streams StreamsConfig  `yaml:"streams"`
}

// AuthConfig selects how bearer tokens are verified
type AuthConfig struct {
	Mode          string        `yaml:"mode"`            // jwt | remote
	PublicKeyFile string        `yaml:"public_key_file"` // PEM, jwt mode
	URL           string        `yaml:"url"`             // auth service, remote mode
	Timeout       time.Duration `yaml:"timeout"`
}

// MQTTConfig sample event notifications (disabled by default)
type MQTTConfig struct {
	Enabled              bool   `yaml:"enabled"`
	TopicPrefix          string `yaml:"topic_prefix"`
	commoncfg.MQTTConfig `yaml:",inline"`
}

type StreamsConfig struct {
	NewUser consumer.StreamConfig `yaml:"new_user"`
	Enrich  consumer.StreamConfig `yaml:"enrich"`
}

// Default returns the built-in settings
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"

	// if the DB is unreachable biokeeper-core falls back to the in-memory store
	cfg.DBEnabled = true
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "biokeeper",
		SSLMode:  "disable",
		MaxConns: 25,
		MaxIdle:  5,
	}
	cfg.RedisEnabled = true
	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	cfg.Kits.MaxQRs = service.DefaultMaxQRsPerKit
	cfg.Enrichment.Timeout = 30 * time.Second
	cfg.Enrichment.PastDays = 3
	cfg.Weather = weather.DefaultConfig()

	cfg.Auth.Mode = AuthJWT
	cfg.Auth.PublicKeyFile = "public_key.pem"
	cfg.Auth.URL = "http://localhost:8000"
	cfg.Auth.Timeout = 5 * time.Second

	cfg.MQTT.TopicPrefix = "biokeeper"
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "biokeeper-core"
	cfg.MQTT.QoS = 1

	cfg.Streams.NewUser = consumer.StreamConfig{Stream: events.StreamNewUser, Group: "biokeeper-core"}
	cfg.Streams.Enrich = consumer.StreamConfig{Stream: events.StreamEnrichSamples, Group: "biokeeper-core", ClaimIdle: time.Minute}
	return cfg
}

// Load applies the optional YAML file over the defaults, then environment variables over both
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)

	cfg.DBEnabled = parseBool(os.Getenv("DB_ENABLED"), cfg.DBEnabled)
	cfg.Database.LoadFromEnv("DB")
	cfg.RedisEnabled = parseBool(os.Getenv("REDIS_ENABLED"), cfg.RedisEnabled)
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Kits.MaxQRs = parseInt(os.Getenv("KITS_MAX_QRS"), cfg.Kits.MaxQRs)
	cfg.Enrichment.Timeout = parseDuration(os.Getenv("ENRICH_TIMEOUT"), cfg.Enrichment.Timeout)
	cfg.Enrichment.PastDays = parseInt(os.Getenv("ENRICH_PAST_DAYS"), cfg.Enrichment.PastDays)

	cfg.Weather.WeatherURL = getEnv("WEATHER_URL", cfg.Weather.WeatherURL)
	cfg.Weather.Timeout = parseDuration(os.Getenv("WEATHER_TIMEOUT"), cfg.Weather.Timeout)
	cfg.Weather.Retries = parseInt(os.Getenv("WEATHER_RETRIES"), cfg.Weather.Retries)
	cfg.Weather.CacheTTL = parseDuration(os.Getenv("WEATHER_CACHE_TTL"), cfg.Weather.CacheTTL)
	cfg.Weather.GeocodeURL = getEnv("GEOCODE_URL", cfg.Weather.GeocodeURL)
	cfg.Weather.UserAgent = getEnv("GEOCODE_USER_AGENT", cfg.Weather.UserAgent)

	cfg.Auth.Mode = getEnv("AUTH_MODE", cfg.Auth.Mode)
	cfg.Auth.PublicKeyFile = getEnv("AUTH_PUBLIC_KEY_FILE", cfg.Auth.PublicKeyFile)
	cfg.Auth.URL = getEnv("AUTH_URL", cfg.Auth.URL)
	cfg.Auth.Timeout = parseDuration(os.Getenv("AUTH_TIMEOUT"), cfg.Auth.Timeout)

	cfg.MQTT.Enabled = parseBool(os.Getenv("MQTT_ENABLED"), cfg.MQTT.Enabled)
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)
	cfg.MQTT.MQTTConfig.LoadFromEnv("MQTT")

	group := os.Getenv("STREAM_GROUP")
	if group != "" {
		cfg.Streams.NewUser.Group = group
		cfg.Streams.Enrich.Group = group
	}
	cfg.Streams.NewUser.Stream = getEnv("STREAM_NEW_USER", cfg.Streams.NewUser.Stream)
	cfg.Streams.Enrich.Stream = getEnv("STREAM_ENRICH", cfg.Streams.Enrich.Stream)
	cfg.Streams.Enrich.ClaimIdle = parseDuration(os.Getenv("STREAM_CLAIM_IDLE"), cfg.Streams.Enrich.ClaimIdle)
}

// Validate rejects settings the service cannot start with
func (cfg *Config) Validate() error {
	if cfg.Kits.MaxQRs <= 0 {
		return fmt.Errorf("kits.max_qrs must be positive, got %d", cfg.Kits.MaxQRs)
	}
	if cfg.Enrichment.PastDays < 0 {
		return fmt.Errorf("enrichment.past_days must not be negative, got %d", cfg.Enrichment.PastDays)
	}
	switch cfg.Auth.Mode {
	case AuthJWT, AuthRemote:
	default:
		return fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
