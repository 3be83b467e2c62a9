package config

import (
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"STORAGE_CONNECTION_STRING": "UseDevelopmentStorage=true",
		"REDIS_CONNECTION_STRING":   "localhost:6379",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.OrdersTable != "orders" || cfg.Storage.CommandQueue != "order-commands" || cfg.Storage.QueryLimit != 200 {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Redis.Channel != "order-changes" || cfg.Redis.CacheTTL != 5*time.Minute || cfg.Redis.DeduperTTL != 24*time.Hour {
		t.Fatalf("unexpected redis defaults: %+v", cfg.Redis)
	}
	if cfg.API.ListenAddr != ":8080" || cfg.API.Heartbeat != 15*time.Second || cfg.API.Resync != time.Minute {
		t.Fatalf("unexpected api defaults: %+v", cfg.API)
	}
	if cfg.Updater.MaxDequeueCount != 5 || cfg.Updater.PollInterval != time.Second {
		t.Fatalf("unexpected updater defaults: %+v", cfg.Updater)
	}
}

func TestLoadOverridesAndErrors(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"STORAGE_CONNECTION_STRING":    "conn",
		"REDIS_CONNECTION_STRING":      "localhost:6379",
		"BOARD_QUERY_LIMIT":            "50",
		"FUNCTIONS_CUSTOMHANDLER_PORT": "9000",
		"DEBUG":                        "true",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.QueryLimit != 50 || cfg.API.ListenAddr != ":9000" || !cfg.Debug {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	logger := log.New()
	cfg.ApplyLogLevel(logger)
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level")
	}

	_, err = Load(envMap(map[string]string{
		"BOARD_QUERY_LIMIT": "-1",
		"CACHE_TTL":         "soon",
	}))
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"BOARD_QUERY_LIMIT", "CACHE_TTL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestRequire(t *testing.T) {
	cfg, err := Load(envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.RequireStorage(); err == nil {
		t.Fatalf("expected missing storage error")
	}
	if err := cfg.RequireRedis(); err == nil {
		t.Fatalf("expected missing redis error")
	}
	cfg.Storage.ConnectionString = "conn"
	cfg.Redis.ConnectionString = "localhost:6379"
	if cfg.RequireStorage() != nil || cfg.RequireRedis() != nil {
		t.Fatalf("expected configured settings to pass")
	}
}

func TestAuthValidate(t *testing.T) {
	if err := (Auth{TestMode: true}).Validate(); err == nil {
		t.Fatalf("test mode without secret should fail")
	}
	if err := (Auth{TestMode: true, TestSecret: "s"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Auth{Domain: "tenant.auth0.com"}).Validate(); err == nil {
		t.Fatalf("missing audience should fail")
	}
	a := Auth{Domain: "tenant.auth0.com", Audience: "api"}
	if a.JWKSURL() != "https://tenant.auth0.com/.well-known/jwks.json" || a.Issuer() != "https://tenant.auth0.com/" {
		t.Fatalf("unexpected urls: %s %s", a.JWKSURL(), a.Issuer())
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("cache.redis.example:6380,password=secret,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "cache.redis.example:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected options: %+v", opts)
	}

	opts, err = RedisOptions("redis://:pw@localhost:6379/2")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	if _, err := RedisOptions(""); err == nil {
		t.Fatalf("expected error for empty string")
	}
}
