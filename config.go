package main

import (
	"strconv"

	"github.com/pkg/errors"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMongo = "mongo"
	BackendRedis = "redis"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Backend   string
	MongoURL  string
	Database  string
	RedisAddr string
	RedisDB   int
	HTTPAddr  string
}

// loadConfig builds a Config from getenv, applying defaults. The address of
// the selected store has no default.
func loadConfig(getenv func(string) string) (Config, error) {
	cfg := Config{
		Backend:   envOr(getenv, "STORE_BACKEND", BackendMongo),
		MongoURL:  getenv("MONGO_URL"),
		Database:  envOr(getenv, "MONGO_DB", "base_de_Datos"),
		RedisAddr: getenv("REDIS_ADDR"),
		HTTPAddr:  envOr(getenv, "HTTP_ADDR", ":3000"),
	}
	if v := getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, errors.Errorf("REDIS_DB must be a non-negative integer, got %q", v)
		}
		cfg.RedisDB = n
	}

	switch cfg.Backend {
	case BackendMongo:
		if cfg.MongoURL == "" {
			return Config{}, errors.New("MONGO_URL is not set")
		}
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return Config{}, errors.New("REDIS_ADDR is not set")
		}
	default:
		return Config{}, errors.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendMongo, BackendRedis, cfg.Backend)
	}
	return cfg, nil
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}
