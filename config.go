package docgate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration
type Config struct {
	Version     uint16                       `json:"version" yaml:"version"`
	Environment string                       `json:"environment" yaml:"environment" validate:"omitempty,oneof=development test staging production"`
	Namespace   *string                      `json:"namespace_suffix,omitempty" yaml:"namespace_suffix,omitempty"`
	Cache       CacheConfig                  `json:"cache" yaml:"cache"`
	Store       StoreConfig                  `json:"store" yaml:"store"`
	Redis       RedisConfig                  `json:"redis" yaml:"redis"`
	Audit       AuditConfig                  `json:"audit" yaml:"audit"`
	Permissions Permissions                  `json:"permissions" yaml:"permissions"`
	Relations   map[string]map[string]string `json:"relations" yaml:"relations"` // collection ("*" = all) -> marker -> condition
}

type CacheConfig struct {
	Backend     string `json:"backend" yaml:"backend" validate:"omitempty,oneof=ristretto memory redis"`
	TTL         int64  `json:"ttl_ms" yaml:"ttl_ms" validate:"gte=0"`
	NumCounters int64  `json:"num_counters" yaml:"num_counters" validate:"gte=0"`
	MaxCost     int64  `json:"max_cost" yaml:"max_cost" validate:"gte=0"`
	BufferItems int64  `json:"buffer_items" yaml:"buffer_items" validate:"gte=0"`
}

type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" validate:"omitempty,oneof=memory sqlite"`
	DSN    string `json:"dsn" yaml:"dsn"`
	// Feed selects the change feed behind live subscriptions.
	Feed string `json:"feed" yaml:"feed" validate:"omitempty,oneof=memory redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db" validate:"gte=0"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

type AuditConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Version:     1,
		Environment: "development",
		Cache:       CacheConfig{Backend: "ristretto", TTL: DefaultCacheTTL.Milliseconds(), NumCounters: 100_000, MaxCost: 10_000, BufferItems: 64},
		Store:       StoreConfig{Driver: "memory", Feed: "memory"},
		Redis:       RedisConfig{Prefix: "docgate"},
		Permissions: DefaultPermissions(),
	}
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct {
	validate *validator.Validate
}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{validate: validator.New()}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Permissions = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return l.finish(cfg)
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Permissions = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return l.finish(cfg)
}

// LoadRules loads the compact rules DSL.
func (l *ConfigLoader) LoadRules(data []byte) (*Config, error) {
	cfg, err := NewDSLParser().Parse(data)
	if err != nil {
		return nil, err
	}
	return l.finish(cfg)
}

// LoadFile picks the format from the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	case ".rules", ".dsl":
		return l.LoadRules(data)
	}
	return nil, fmt.Errorf("unsupported config format: %s", path)
}

// LoadEnv overlays environment settings on cfg. It first loads
// .env.<environment> and .env from dir when present, then reads DOCGATE_*
// variables.
func (l *ConfigLoader) LoadEnv(cfg *Config, dir string) (*Config, error) {
	env := os.Getenv("DOCGATE_ENVIRONMENT")
	if env == "" {
		env = cfg.Environment
	}
	for _, name := range []string{".env." + env, ".env"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				return nil, fmt.Errorf("load %s: %w", p, err)
			}
		}
	}

	v := viper.New()
	v.SetEnvPrefix("docgate")
	v.AutomaticEnv()
	if s := v.GetString("environment"); s != "" {
		cfg.Environment = s
	}
	if v.IsSet("namespace_suffix") {
		s := v.GetString("namespace_suffix")
		cfg.Namespace = &s
	}
	if s := v.GetString("store_driver"); s != "" {
		cfg.Store.Driver = s
	}
	if s := v.GetString("store_dsn"); s != "" {
		cfg.Store.DSN = s
	}
	if s := v.GetString("store_feed"); s != "" {
		cfg.Store.Feed = s
	}
	if s := v.GetString("cache_backend"); s != "" {
		cfg.Cache.Backend = s
	}
	if n := v.GetInt64("cache_ttl_ms"); n > 0 {
		cfg.Cache.TTL = n
	}
	if s := v.GetString("redis_addr"); s != "" {
		cfg.Redis.Addr = s
	}
	if s := v.GetString("redis_password"); s != "" {
		cfg.Redis.Password = s
	}
	if v.IsSet("redis_db") {
		cfg.Redis.DB = v.GetInt("redis_db")
	}
	if v.IsSet("audit_enabled") {
		cfg.Audit.Enabled = v.GetBool("audit_enabled")
	}
	return l.finish(cfg)
}

func (l *ConfigLoader) finish(cfg *Config) (*Config, error) {
	if cfg.Permissions == nil {
		cfg.Permissions = DefaultPermissions()
	}
	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints, the permission table and every
// relation condition.
func (l *ConfigLoader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Permissions.Validate(); err != nil {
		return err
	}
	if cfg.Cache.Backend == "redis" || cfg.Store.Feed == "redis" {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("invalid config: redis.addr is required for redis cache or feed")
		}
	}
	_, err := cfg.BuildRelations()
	return err
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// CacheTTL returns the configured TTL or the default.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTL > 0 {
		return time.Duration(c.Cache.TTL) * time.Millisecond
	}
	return DefaultCacheTTL
}

// ResolveNamespace returns the explicit suffix when set, otherwise the one
// implied by the environment.
func (c *Config) ResolveNamespace() Namespace {
	if c.Namespace != nil {
		return Namespace{Suffix: *c.Namespace}
	}
	return NamespaceFor(c.Environment)
}

// BuildRelations returns the default relations extended with the
// configured conditions.
func (c *Config) BuildRelations() (*Relations, error) {
	r := DefaultRelations()
	collections := make([]string, 0, len(c.Relations))
	for col := range c.Relations {
		collections = append(collections, col)
	}
	sort.Strings(collections)
	for _, col := range collections {
		scope := col
		if scope == Wildcard {
			scope = ""
		}
		for marker, cond := range c.Relations[col] {
			if err := r.RegisterCondition(scope, marker, cond); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// GatewayOptions translates the configuration into gateway options. The
// cache is not included, see NewCache.
func (c *Config) GatewayOptions() ([]Option, error) {
	rels, err := c.BuildRelations()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithPermissions(c.Permissions),
		WithRelations(rels),
		WithNamespace(c.ResolveNamespace()),
		WithCacheTTL(c.CacheTTL()),
	}, nil
}

// NewCache builds the in-process cache named by the configuration. It
// returns nil for the redis backend, which lives in the stores package.
// The caller owns the cache and closes it when it is a *RistrettoCache.
func (c *Config) NewCache() (Cache, error) {
	switch c.Cache.Backend {
	case "memory":
		return NewMemoryCache(), nil
	case "", "ristretto":
		rc, err := NewRistrettoCache(RistrettoConfig{
			NumCounters: c.Cache.NumCounters,
			MaxCost:     c.Cache.MaxCost,
			BufferItems: c.Cache.BufferItems,
			TTL:         c.CacheTTL(),
		})
		if err != nil {
			return nil, err
		}
		return rc, nil
	}
	return nil, nil
}

// Stats summarizes the configuration.
type Stats struct {
	Collections int
	Patterns    int
	Markers     []string
	Relations   int
}

func (c *Config) Stats() Stats {
	s := Stats{Markers: c.Permissions.Markers()}
	for name := range c.Permissions {
		if strings.ContainsAny(name, "*:") {
			s.Patterns++
		} else {
			s.Collections++
		}
	}
	for _, m := range c.Relations {
		s.Relations += len(m)
	}
	return s
}
