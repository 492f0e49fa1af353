// Package config loads server and client settings with viper from
// defaults, an optional config.yaml and LOBBYCAST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const EnvPrefix = "LOBBYCAST"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Lobby      LobbyConfig      `mapstructure:"lobby"`
	Invitation InvitationConfig `mapstructure:"invitation"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Log        LogConfig        `mapstructure:"log"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Client     ClientConfig     `mapstructure:"client"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// AuthConfig.ServiceKey guards the backend push endpoints. Empty disables them.
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwtSecret"`
	DevLogin   bool          `mapstructure:"devLogin"`
	TokenTTL   time.Duration `mapstructure:"tokenTTL"`
	ServiceKey string        `mapstructure:"serviceKey"`
}

// MongoConfig is optional. An empty URI disables lobby records.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig is optional. An empty address disables the snapshot cache and
// invitations fall back to memory.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
}

type LobbyConfig struct {
	MaxPlayersLimit int           `mapstructure:"maxPlayersLimit"`
	ReconnectGrace  time.Duration `mapstructure:"reconnectGrace"`
	Countdown       time.Duration `mapstructure:"countdown"`
	ChatHistory     int           `mapstructure:"chatHistory"`
}

type InvitationConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type TransportConfig struct {
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	PingPeriod     time.Duration `mapstructure:"pingPeriod"`
	WriteWait      time.Duration `mapstructure:"writeWait"`
	MaxMessageSize int64         `mapstructure:"maxMessageSize"`
	SendBuffer     int           `mapstructure:"sendBuffer"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// ClientConfig is read by cmd/lobbyclient
type ClientConfig struct {
	ServerURL        string        `mapstructure:"serverURL"`
	Token            string        `mapstructure:"token"`
	StoragePath      string        `mapstructure:"storagePath"`
	MaxNotifications int           `mapstructure:"maxNotifications"`
	AckTimeout       time.Duration `mapstructure:"ackTimeout"`
	ReconnectMax     int           `mapstructure:"reconnectMax"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdownTimeout", "15s")

	v.SetDefault("auth.jwtSecret", "lobbycast-dev-secret-change-me")
	v.SetDefault("auth.devLogin", true)
	v.SetDefault("auth.tokenTTL", "24h")
	v.SetDefault("auth.serviceKey", "")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "lobbycast")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("lobby.maxPlayersLimit", 8)
	v.SetDefault("lobby.reconnectGrace", "30s")
	v.SetDefault("lobby.countdown", "3s")
	v.SetDefault("lobby.chatHistory", 50)
	v.SetDefault("invitation.ttl", "5m")

	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.pingPeriod", "54s")
	v.SetDefault("transport.writeWait", "10s")
	v.SetDefault("transport.maxMessageSize", 8192)
	v.SetDefault("transport.sendBuffer", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("cors.allowedOrigins", []string{"*"})

	v.SetDefault("client.serverURL", "ws://localhost:8080/v1/ws")
	v.SetDefault("client.token", "")
	v.SetDefault("client.storagePath", ".lobbycast")
	v.SetDefault("client.maxNotifications", 50)
	v.SetDefault("client.ackTimeout", "5s")
	v.SetDefault("client.reconnectMax", 5)
}

// Load reads configuration from fileName (without extension) in the working
// directory and the environment. A missing file is not an error.
func Load(logger *zap.Logger, fileName string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Debug("config file not found, using defaults and environment", zap.String("name", fileName))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret must be set")
	}
	if c.Lobby.MaxPlayersLimit < 2 {
		return fmt.Errorf("lobby.maxPlayersLimit must be at least 2, got %d", c.Lobby.MaxPlayersLimit)
	}
	if c.Lobby.ReconnectGrace < 0 || c.Lobby.Countdown < 0 {
		return errors.New("lobby durations must not be negative")
	}
	if c.Invitation.TTL <= 0 {
		return errors.New("invitation.ttl must be positive")
	}
	if c.Transport.PingPeriod >= c.Transport.ReadTimeout {
		return errors.New("transport.pingPeriod must be shorter than transport.readTimeout")
	}
	return nil
}
