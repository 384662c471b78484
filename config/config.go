// Package config loads the environment configuration shared by all commands
// and the output device mapping of the receiver.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

// DefaultConfigDir holds the device mapping and certificates unless
// overridden.
const DefaultConfigDir = "config"

// Config holds application configuration loaded from environment.
type Config struct {
	Protocol  ProtocolConfig
	HTTP      HTTPConfig
	Devices   DevicesConfig
	Recording RecordingConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Log       LogConfig
}

// ProtocolConfig holds the line protocol endpoints and TLS files.
type ProtocolConfig struct {
	Listen   string // receiver listen address
	Server   string // sender/player target address, or ws:// / wss:// URL
	Insecure bool   // disable TLS
	TLSCert  string
	TLSKey   string
	Strict   bool // stop the receiver on malformed requests
}

// HTTPConfig holds the status API settings. An empty address disables it.
type HTTPConfig struct {
	Addr string
}

// DevicesConfig locates the output device mapping.
type DevicesConfig struct {
	File string
}

// RecordingConfig controls recording of live sessions.
type RecordingConfig struct {
	Enabled bool
	Dir     string
}

// RedisConfig holds Redis connection settings. An empty address disables
// session events and archive jobs.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL disables
// the session history.
type DatabaseConfig struct {
	URL      string
	MaxConns int
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	RecordingsBucket string
}

// LogConfig selects the log level and encoding ("json" or "console").
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	listen, err := NormalizeAddr(getEnv("HAPTICS_LISTEN", "127.0.0.1"))
	if err != nil {
		return nil, fmt.Errorf("HAPTICS_LISTEN: %w", err)
	}
	server := getEnv("HAPTICS_SERVER", "127.0.0.1")
	if !IsWebsocketURL(server) {
		if server, err = NormalizeAddr(server); err != nil {
			return nil, fmt.Errorf("HAPTICS_SERVER: %w", err)
		}
	}

	cfg := &Config{
		Protocol: ProtocolConfig{
			Listen:   listen,
			Server:   server,
			Insecure: getEnvBool("HAPTICS_INSECURE", false),
			TLSCert:  getEnv("HAPTICS_TLS_CERT", filepath.Join(DefaultConfigDir, "certs", "server.crt")),
			TLSKey:   getEnv("HAPTICS_TLS_KEY", filepath.Join(DefaultConfigDir, "certs", "server.key")),
			Strict:   getEnvBool("HAPTICS_STRICT", false),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HAPTICS_HTTP_ADDR", ""),
		},
		Devices: DevicesConfig{
			File: getEnv("HAPTICS_DEVICES_FILE", filepath.Join(DefaultConfigDir, "haptic-receiver.toml")),
		},
		Recording: RecordingConfig{
			Enabled: getEnvBool("RECORDING_ENABLED", false),
			Dir:     getEnv("RECORDING_DIR", "recordings"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 4),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt("DATABASE_MAX_CONNS", 4),
		},
		AWS: AWSConfig{
			Region:           getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket: getEnv("AWS_S3_RECORDINGS_BUCKET", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
	return cfg, nil
}

// NormalizeAddr appends the default protocol port to addresses without one.
func NormalizeAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty address")
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	host := strings.Trim(addr, "[]")
	return net.JoinHostPort(host, strconv.Itoa(haptics.DefaultPort)), nil
}

// IsWebsocketURL reports whether addr selects the websocket transport.
func IsWebsocketURL(addr string) bool {
	return strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
