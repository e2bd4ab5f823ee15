package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FactStore.Backend != BackendPostgres || !cfg.FactStore.Materialize {
		t.Fatalf("fact store = %+v, want materialized postgres", cfg.FactStore)
	}
	if cfg.Query.DefaultWindowDays != 30 || cfg.Query.TrailingBuckets != 12 || cfg.Query.MaxLimit != 1000 {
		t.Fatalf("query = %+v", cfg.Query)
	}
	if cfg.Cache.Enabled {
		t.Fatal("cache enabled by default")
	}
	if !cfg.IsDevelopment() || cfg.IsProduction() {
		t.Fatalf("env = %q, want development", cfg.Server.Env)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VECTOR_ANALYTICS_STORE_BACKEND", "SQLite")
	t.Setenv("VECTOR_ANALYTICS_FETCH_TIMEOUT", "750ms")
	t.Setenv("VECTOR_ANALYTICS_TIMEZONE", "Europe/Berlin")
	t.Setenv("VECTOR_ANALYTICS_MAX_LIMIT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FactStore.Backend != BackendSQLite {
		t.Fatalf("backend = %q, want sqlite", cfg.FactStore.Backend)
	}
	if cfg.Query.FetchTimeout != 750*time.Millisecond {
		t.Fatalf("fetch timeout = %v, want 750ms", cfg.Query.FetchTimeout)
	}
	loc, err := cfg.Query.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Fatalf("location = %v, %v", loc, err)
	}
	// Unparseable values fall back to the default.
	if cfg.Query.MaxLimit != 1000 {
		t.Fatalf("max limit = %d, want 1000", cfg.Query.MaxLimit)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			FactStore: FactStoreConfig{Backend: BackendMemory, Materialize: true},
			Query:     QueryConfig{FetchTimeout: time.Second, Timezone: "UTC", MaxLimit: 10, MaxBuckets: 10},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cases := map[string]func(*Config){
		"unknown backend":    func(c *Config) { c.FactStore.Backend = "mongo" },
		"memory unmaterial":  func(c *Config) { c.FactStore.Materialize = false },
		"zero fetch timeout": func(c *Config) { c.Query.FetchTimeout = 0 },
		"bad timezone":       func(c *Config) { c.Query.Timezone = "Mars/Olympus" },
		"zero max limit":     func(c *Config) { c.Query.MaxLimit = 0 },
		"zero max buckets":   func(c *Config) { c.Query.MaxBuckets = 0 },
		"cache without redis": func(c *Config) {
			c.Cache.Enabled = true
			c.Redis.Addr = ""
		},
	}
	for name, mutate := range cases {
		c := valid()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: Validate succeeded, want error", name)
		}
	}
}

func TestSQLiteDSN(t *testing.T) {
	got := SQLiteConfig{Path: "data/facts.db"}.DSN()
	want := "data/facts.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	if got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}
