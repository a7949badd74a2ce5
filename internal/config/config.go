package config

import (
	"os"
	"strconv"
	"time"
)

func GetDBURL() string {
	dbURL := os.Getenv("DATABASE_URL")
	return dbURL
}

type RedisConfig struct {
	Addr        string
	Password    string
	User        string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
}

func GetRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		User:     os.Getenv("REDIS_USER"),
		DB:       getInt("REDIS_DB", 0),
	}
}

// CompanionConfig configures the responder companion daemon.
type CompanionConfig struct {
	ListenAddr   string
	DispatchURL  string
	ResponderID  string
	GeocoderURL  string
	PollInterval time.Duration
}

func GetCompanionConfig() CompanionConfig {
	return CompanionConfig{
		ListenAddr:   getString("LISTEN_ADDR", ":8080"),
		DispatchURL:  os.Getenv("DISPATCH_URL"),
		ResponderID:  os.Getenv("RESPONDER_ID"),
		GeocoderURL:  os.Getenv("GEOCODER_URL"),
		PollInterval: time.Duration(getInt("POLL_INTERVAL_SECONDS", 30)) * time.Second,
	}
}

// DispatchConfig configures the reference dispatch authority.
type DispatchConfig struct {
	ListenAddr string
	WebhookURL string
}

func GetDispatchConfig() DispatchConfig {
	return DispatchConfig{
		ListenAddr: getString("LISTEN_ADDR", ":8081"),
		WebhookURL: os.Getenv("WEBHOOK_URL"),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
