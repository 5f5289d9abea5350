package docgate

// ConfigBuilder provides fluent API for building configurations
type ConfigBuilder struct {
	cfg *Config
}

// NewConfigBuilder starts from an empty permission table: every collection
// is admin-only until a rule is added.
func NewConfigBuilder() *ConfigBuilder {
	cfg := DefaultConfig()
	cfg.Permissions = Permissions{}
	cfg.Relations = map[string]map[string]string{}
	return &ConfigBuilder{cfg: cfg}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

func (b *ConfigBuilder) Environment(env string) *ConfigBuilder {
	b.cfg.Environment = env
	return b
}

// NamespaceSuffix forces the physical collection suffix.
func (b *ConfigBuilder) NamespaceSuffix(s string) *ConfigBuilder {
	b.cfg.Namespace = &s
	return b
}

// DefaultRules copies the built-in permission table into the config.
func (b *ConfigBuilder) DefaultRules() *ConfigBuilder {
	for c, r := range DefaultPermissions() {
		b.cfg.Permissions[c] = r
	}
	return b
}

func (b *ConfigBuilder) Rule(collection string, r PermissionRule) *ConfigBuilder {
	b.cfg.Permissions[collection] = r
	return b
}

// Relation adds a marker condition for collection; "*" applies it to every
// collection.
func (b *ConfigBuilder) Relation(collection, marker, condition string) *ConfigBuilder {
	m, ok := b.cfg.Relations[collection]
	if !ok {
		m = map[string]string{}
		b.cfg.Relations[collection] = m
	}
	m[marker] = condition
	return b
}

func (b *ConfigBuilder) CacheSettings(fn func(*CacheConfig)) *ConfigBuilder {
	fn(&b.cfg.Cache)
	return b
}

func (b *ConfigBuilder) StoreSettings(fn func(*StoreConfig)) *ConfigBuilder {
	fn(&b.cfg.Store)
	return b
}

func (b *ConfigBuilder) RedisSettings(fn func(*RedisConfig)) *ConfigBuilder {
	fn(&b.cfg.Redis)
	return b
}

func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	return b.cfg.ToYAML()
}

func (b *ConfigBuilder) ToJSON() ([]byte, error) {
	return b.cfg.ToJSON()
}

func (b *ConfigBuilder) ToRules() ([]byte, error) {
	return NewDSLEncoder().Encode(b.cfg)
}
