package config

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/gommon/log"
)

const DefaultPath = "config/config.json"

type Config struct {
	API      APIConfig      `json:"api"`
	Hub      HubConfig      `json:"hub"`
	Chat     ChatConfig     `json:"chat"`
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Kafka    KafkaConfig    `json:"kafka"`
	Log      LogConfig      `json:"log"`
}

// APIConfig points at the marketplace REST backend.
type APIConfig struct {
	BaseURL        string `json:"base_url" split_words:"true" validate:"required,url"`
	TimeoutSeconds int    `json:"timeout_seconds" split_words:"true" validate:"gte=0"`
}

type HubConfig struct {
	URL                  string `json:"url" split_words:"true" validate:"required"`
	ReconnectDelaysMs    []int  `json:"reconnect_delays_ms" split_words:"true"`
	KeepAliveSeconds     int    `json:"keep_alive_seconds" split_words:"true" validate:"gte=0"`
	ServerTimeoutSeconds int    `json:"server_timeout_seconds" split_words:"true" validate:"gte=0"`
}

type ChatConfig struct {
	PageSize          int    `json:"page_size" split_words:"true" validate:"gte=0"`
	DemoMode          bool   `json:"demo_mode" split_words:"true"`
	LiveTicketUpdates bool   `json:"live_ticket_updates" split_words:"true"`
	SendLimit         int    `json:"send_limit" split_words:"true" validate:"gte=0"`
	SendWindowSeconds int    `json:"send_window_seconds" split_words:"true" validate:"gte=0"`
	SendStrategy      string `json:"send_strategy" split_words:"true" validate:"omitempty,oneof=fixed_window token_bucket"`
}

type ServerConfig struct {
	Addr              string   `json:"addr" split_words:"true"`
	AllowOrigins      []string `json:"allow_origins"`
	RateLimit         int      `json:"rate_limit" split_words:"true" validate:"gte=0"`
	RateWindowSeconds int      `json:"rate_window_seconds" split_words:"true" validate:"gte=0"`
}

// AuthConfig selects where the previously issued bearer token is read from.
type AuthConfig struct {
	Store     string `json:"store" split_words:"true" validate:"omitempty,oneof=file redis"`
	TokenFile string `json:"token_file" split_words:"true"`
	RedisKey  string `json:"redis_key" split_words:"true"`
}

type DatabaseConfig struct {
	DSN string `json:"dsn" split_words:"true"`
}

type RedisConfig struct {
	Addr     string `json:"addr" split_words:"true"`
	Password string `json:"password" split_words:"true"`
	DB       int    `json:"db" split_words:"true"`
	PoolSize int    `json:"pool_size" split_words:"true"`
}

type KafkaConfig struct {
	Brokers      []string `json:"brokers" split_words:"true"`
	Username     string   `json:"username" split_words:"true"`
	Password     string   `json:"password" split_words:"true"`
	Mechanism    string   `json:"mechanism" split_words:"true" validate:"omitempty,oneof=PLAIN SCRAM-SHA-256 SCRAM-SHA-512"`
	UseTLS       bool     `json:"use_tls" split_words:"true"`
	CertFile     string   `json:"cert_file"`
	KeyFile      string   `json:"key_file"`
	CAFile       string   `json:"ca_file"`
	MessageTopic string   `json:"message_topic" split_words:"true"`
	TicketTopic  string   `json:"ticket_topic" split_words:"true"`
	GroupID      string   `json:"group_id" split_words:"true"`
}

type LogConfig struct {
	Level string `json:"level" split_words:"true" validate:"omitempty,oneof=debug info warn error off"`
}

// LoadConfig reads the JSON file at path, then applies .env and BAZAAR_*
// environment overrides. A missing file is allowed when the environment
// supplies the required values.
func LoadConfig(path string) (config Config, err error) {
	if path == "" {
		path = DefaultPath
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("couldn't load .env: %v", err)
	}

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer func(file *os.File) {
			if closeErr := file.Close(); closeErr != nil {
				log.Warnf("Error closing config file: %v", closeErr)
			}
		}(file)
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return config, err
		}
	case errors.Is(err, os.ErrNotExist):
		log.Infof("config file %s not found, using environment only", path)
	default:
		return config, err
	}

	if err := envconfig.Process("bazaar", &config); err != nil {
		return config, err
	}
	config.ApplyDefaults()
	if err := validator.New().Struct(config); err != nil {
		return config, err
	}
	return config, nil
}

func (c *Config) ApplyDefaults() {
	if c.API.TimeoutSeconds == 0 {
		c.API.TimeoutSeconds = 15
	}
	if len(c.Hub.ReconnectDelaysMs) == 0 {
		c.Hub.ReconnectDelaysMs = []int{0, 2000, 10000, 30000}
	}
	if c.Hub.KeepAliveSeconds == 0 {
		c.Hub.KeepAliveSeconds = 15
	}
	if c.Hub.ServerTimeoutSeconds == 0 {
		c.Hub.ServerTimeoutSeconds = 30
	}
	if c.Chat.PageSize == 0 {
		c.Chat.PageSize = 20
	}
	if c.Chat.SendWindowSeconds == 0 {
		c.Chat.SendWindowSeconds = 10
	}
	if c.Chat.SendStrategy == "" {
		c.Chat.SendStrategy = "fixed_window"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8088"
	}
	if c.Server.RateWindowSeconds == 0 {
		c.Server.RateWindowSeconds = 60
	}
	if len(c.Server.AllowOrigins) == 0 {
		c.Server.AllowOrigins = []string{"http://localhost:8081"}
	}
	if c.Auth.Store == "" {
		c.Auth.Store = "file"
	}
	if c.Auth.RedisKey == "" {
		c.Auth.RedisKey = "bazaar:session"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Kafka.Mechanism == "" {
		c.Kafka.Mechanism = "PLAIN"
	}
	if c.Kafka.MessageTopic == "" {
		c.Kafka.MessageTopic = "chat.message"
	}
	if c.Kafka.TicketTopic == "" {
		c.Kafka.TicketTopic = "ticket.status"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "bazaar-chat"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// LogLevel maps the configured level name onto gommon's levels.
func (c LogConfig) LogLevel() log.Lvl {
	switch c.Level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
