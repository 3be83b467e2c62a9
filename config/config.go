// Package config reads service configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"grafsys/api"
	"grafsys/board"
	"grafsys/feed"
	"grafsys/storage"
	"grafsys/updater"
)

// Config holds the settings shared by the GrafSys services.
type Config struct {
	Debug   bool
	Storage storage.Config
	Redis   Redis
	Auth    Auth
	API     API
	Updater Updater
}

// Redis configures the change feed, caches and deduper.
type Redis struct {
	ConnectionString string
	Channel          string
	CacheTTL         time.Duration
	DeduperTTL       time.Duration
}

// Auth configures JWT validation.
type Auth struct {
	Domain      string
	Audience    string
	TestMode    bool
	TestSecret  string
	KeyCacheTTL time.Duration
}

// API configures the board HTTP service.
type API struct {
	ListenAddr string
	Heartbeat  time.Duration
	// BootstrapRetry is the pause between failed board bootstraps.
	BootstrapRetry time.Duration
	// Resync is how often the board is rebuilt from the orders table.
	Resync time.Duration
}

// Updater configures the command queue consumer.
type Updater struct {
	PollInterval    time.Duration
	MaxDequeueCount int64
}

// Load reads the configuration using getenv, typically os.Getenv. Invalid
// values are reported together; missing ones are checked by the Require
// methods of the services that need them.
func Load(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var errs []error
	env := envReader{getenv: getenv, errs: &errs}

	cfg := Config{
		Debug: env.envBool("DEBUG", false),
		Storage: storage.Config{
			ConnectionString: getenv("STORAGE_CONNECTION_STRING"),
			OrdersTable:      env.envStr("ORDERS_TABLE", "orders"),
			ProductsTable:    env.envStr("PRODUCTS_TABLE", "products"),
			CategoriesTable:  env.envStr("CATEGORIES_TABLE", "categories"),
			EmployeesTable:   env.envStr("EMPLOYEES_TABLE", "employees"),
			CommandQueue:     env.envStr("COMMAND_QUEUE", "order-commands"),
			QueryLimit:       env.envInt("BOARD_QUERY_LIMIT", board.DefaultQueryLimit),
		},
		Redis: Redis{
			ConnectionString: getenv("REDIS_CONNECTION_STRING"),
			Channel:          env.envStr("ORDER_CHANGES_CHANNEL", feed.DefaultChannel),
			CacheTTL:         env.envDur("CACHE_TTL", 5*time.Minute),
			DeduperTTL:       env.envDur("DEDUPER_TTL", 24*time.Hour),
		},
		Auth: Auth{
			Domain:      getenv("AUTH0_DOMAIN"),
			Audience:    getenv("AUTH0_AUDIENCE"),
			TestMode:    getenv("AUTH0_TEST_MODE") == "1",
			TestSecret:  getenv("TEST_JWT_SECRET"),
			KeyCacheTTL: env.envDur("JWKS_CACHE_TTL", api.DefaultJWKSCacheTTL),
		},
		API: API{
			ListenAddr:     ":" + env.envStr("FUNCTIONS_CUSTOMHANDLER_PORT", "8080"),
			Heartbeat:      env.envDur("SSE_HEARTBEAT", api.DefaultHeartbeat),
			BootstrapRetry: env.envDur("BOOTSTRAP_RETRY", board.DefaultRetry),
			Resync:         env.envDur("BOARD_RESYNC_INTERVAL", board.DefaultResync),
		},
		Updater: Updater{
			PollInterval:    env.envDur("UPDATER_POLL_INTERVAL", updater.DefaultPollInterval),
			MaxDequeueCount: int64(env.envInt("UPDATER_MAX_DEQUEUE_COUNT", updater.DefaultMaxDequeueCount)),
		},
	}
	return cfg, errors.Join(errs...)
}

// RequireStorage fails when no storage account is configured.
func (c Config) RequireStorage() error {
	if c.Storage.ConnectionString == "" {
		return errors.New("missing storage config")
	}
	return nil
}

// RequireRedis fails when no Redis server is configured.
func (c Config) RequireRedis() error {
	if c.Redis.ConnectionString == "" {
		return errors.New("missing redis config")
	}
	return nil
}

// Validate checks the auth settings needed by services that accept requests.
func (a Auth) Validate() error {
	if a.TestMode {
		if a.TestSecret == "" {
			return errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		return nil
	}
	if a.Domain == "" || a.Audience == "" {
		return errors.New("missing Auth0 config")
	}
	return nil
}

// JWKSURL is the key set location of the Auth0 tenant.
func (a Auth) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// Issuer is the expected token issuer.
func (a Auth) Issuer() string {
	if a.Domain == "" {
		return ""
	}
	return "https://" + a.Domain + "/"
}

// ApplyLogLevel enables debug logging when requested.
func (c Config) ApplyLogLevel(logger *log.Logger) {
	if c.Debug {
		logger.SetLevel(log.DebugLevel)
	}
}

// RedisOptions parses a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
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
	return opts, nil
}

type envReader struct {
	getenv func(string) string
	errs   *[]error
}

func (e envReader) envStr(key, def string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return def
}

func (e envReader) envInt(key string, def int) int {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*e.errs = append(*e.errs, fmt.Errorf("invalid %s: must be a positive integer", key))
		return def
	}
	return n
}

func (e envReader) envDur(key string, def time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*e.errs = append(*e.errs, fmt.Errorf("invalid %s: must be a positive duration", key))
		return def
	}
	return d
}

func (e envReader) envBool(key string, def bool) bool {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("invalid %s: %v", key, err))
		return def
	}
	return b
}
