// Package config loads service settings from the environment.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory   = "memory"
	BackendAztables = "aztables"
)

// Config holds every setting read at startup.
type Config struct {
	Port  string
	Debug bool

	JWTSecret    string
	JWTTTL       time.Duration
	JWKSURL      string
	AuthAudience string
	AuthIssuer   string

	StorageBackend   string
	ConnectionString string
	BoardsTable      string
	ColumnsTable     string
	TasksTable       string
	UsersTable       string
	CleanupQueue     string

	RedisConnection  string
	SnapshotCacheTTL time.Duration
	DeduperTTL       time.Duration
	BroadcastChannel string

	SocketSendBuffer   int
	SocketWriteTimeout time.Duration
	SocketPingInterval time.Duration
}

// Load reads and validates the environment.
func Load() (Config, error) {
	var errs []string
	fail := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	c := Config{
		Port:             envString("PORT", "4001"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWKSURL:          os.Getenv("AUTH_JWKS_URL"),
		AuthAudience:     os.Getenv("AUTH_AUDIENCE"),
		AuthIssuer:       os.Getenv("AUTH_ISSUER"),
		StorageBackend:   strings.ToLower(envString("STORAGE_BACKEND", BackendMemory)),
		RedisConnection:  os.Getenv("REDIS_CONNECTION_STRING"),
		BroadcastChannel: envString("BROADCAST_CHANNEL", "board-events"),
	}
	storageFromEnv(&c)
	var err error
	c.Debug, err = envBool("DEBUG", false)
	fail(err)
	c.JWTTTL, err = envDur("JWT_TTL", 24*time.Hour)
	fail(err)
	c.SnapshotCacheTTL, err = envDur("SNAPSHOT_CACHE_TTL", time.Minute)
	fail(err)
	c.DeduperTTL, err = envDur("DEDUPER_TTL", 10*time.Minute)
	fail(err)
	c.SocketSendBuffer, err = envInt("SOCKET_SEND_BUFFER", 256)
	fail(err)
	c.SocketWriteTimeout, err = envDur("SOCKET_WRITE_TIMEOUT", 10*time.Second)
	fail(err)
	c.SocketPingInterval, err = envDur("SOCKET_PING_INTERVAL", 30*time.Second)
	fail(err)

	if c.JWTSecret == "" {
		errs = append(errs, "missing JWT_SECRET")
	}
	if c.JWKSURL != "" && c.AuthAudience == "" {
		errs = append(errs, "AUTH_AUDIENCE is required with AUTH_JWKS_URL")
	}
	switch c.StorageBackend {
	case BackendMemory:
		if c.CleanupQueue != "" {
			errs = append(errs, "CLEANUP_QUEUE requires STORAGE_BACKEND=aztables")
		}
	case BackendAztables:
		if c.ConnectionString == "" {
			errs = append(errs, "missing STORAGE_CONNECTION_STRING")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid STORAGE_BACKEND: %q", c.StorageBackend))
	}
	if c.SocketSendBuffer <= 0 {
		errs = append(errs, "invalid SOCKET_SEND_BUFFER: must be greater than zero")
	}
	if c.SocketPingInterval <= 0 {
		errs = append(errs, "invalid SOCKET_PING_INTERVAL: must be greater than zero")
	}
	if c.SocketWriteTimeout <= 0 {
		errs = append(errs, "invalid SOCKET_WRITE_TIMEOUT: must be greater than zero")
	}
	if c.DeduperTTL <= 0 {
		errs = append(errs, "invalid DEDUPER_TTL: must be greater than zero")
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return c, nil
}

// LoadStorage reads only the storage settings, for provisioning tools.
func LoadStorage() (Config, error) {
	var c Config
	storageFromEnv(&c)
	if c.ConnectionString == "" {
		return Config{}, fmt.Errorf("config: missing STORAGE_CONNECTION_STRING")
	}
	return c, nil
}

func storageFromEnv(c *Config) {
	c.ConnectionString = os.Getenv("STORAGE_CONNECTION_STRING")
	c.BoardsTable = envString("BOARDS_TABLE", "Boards")
	c.ColumnsTable = envString("COLUMNS_TABLE", "Columns")
	c.TasksTable = envString("TASKS_TABLE", "Tasks")
	c.UsersTable = envString("USERS_TABLE", "Users")
	c.CleanupQueue = os.Getenv("CLEANUP_QUEUE")
}

// RedisOptions parses REDIS_CONNECTION_STRING. It accepts a redis:// URL or
// the "host:port,password=...,ssl=true" form. ok is false when Redis is not configured.
func (c Config) RedisOptions() (opts *redis.Options, ok bool) {
	if c.RedisConnection == "" {
		return nil, false
	}
	if opts, err := redis.ParseURL(c.RedisConnection); err == nil {
		return opts, true
	}
	parts := strings.Split(c.RedisConnection, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, true
}

func envString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func envDur(name string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func envBool(name string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}
