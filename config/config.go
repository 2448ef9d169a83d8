// Package config declares the TenantLifecycleManager's own configuration:
// which ReplicatedMap backend to use, how to reach Redis when clustered,
// how often to poll the leader check, and the retry/timeout budget for
// outbound hook calls. It is fed from TOML, the same format the teacher's
// configuration layer uses.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the TenantLifecycleManager's top-level configuration.
type Config struct {
	// Local selects the in-process ReplicatedMap backend instead of Redis.
	// Suitable for single-instance deployments and tests; never set true in
	// a multi-instance cluster, since it breaks the cross-process
	// happens-before guarantee the map is relied on for.
	Local bool `toml:"local"`

	Redis RedisConfig `toml:"redis"`

	// LeaderPollInterval is how often the TimerScheduler consults the
	// DiscoveryManager's leader check outside of fire time (reserved for a
	// future "warm" leader cache; the scheduler itself checks at fire time
	// regardless of this value).
	LeaderPollInterval time.Duration `toml:"leader_poll_interval"`

	// HookTimeout bounds a single outbound _tenant/_tenantPermissions hook
	// call. It is the proxy's concern to enforce, per spec.md §5's "outbound
	// HTTP calls rely on the Proxy's own timeouts"; this field exists so a
	// Manager constructed from config can hand the same budget to the Proxy
	// implementation it wires.
	HookTimeout time.Duration `toml:"hook_timeout"`

	// RetryBudget caps how many times a retry-marked ModuleInstance call may
	// be retried before the caller gives up.
	RetryBudget int `toml:"retry_budget"`
}

// RedisConfig describes how to reach the Redis instance backing the
// ReplicatedMap when Config.Local is false.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Default returns the configuration a single-instance, no-cluster
// deployment should start from.
func Default() Config {
	return Config{
		Local:              true,
		LeaderPollInterval: 5 * time.Second,
		HookTimeout:        30 * time.Second,
		RetryBudget:        2,
	}
}

// Load parses a TOML document into a Config seeded with Default's values,
// so a partial document only overrides what it mentions.
func Load(data []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// Validate reports a configuration error a Manager should refuse to start
// with: a non-local deployment missing a Redis address, a non-positive
// hook timeout, or a negative retry budget.
func (c Config) Validate() error {
	if !c.Local && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when local = false")
	}
	if c.HookTimeout <= 0 {
		return fmt.Errorf("config: hook_timeout must be positive")
	}
	if c.RetryBudget < 0 {
		return fmt.Errorf("config: retry_budget must not be negative")
	}
	return nil
}
