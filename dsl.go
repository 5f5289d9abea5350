package docgate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DSL Syntax:
// env <environment>
// namespace <suffix>
// rule <collection> read=<tokens> write=<tokens> delete=<tokens>
// relation <collection|*> <marker> "<condition>"
// cache <key>=<value>...
// store <key>=<value>...
// redis <key>=<value>...
// audit on|off
//
// Tokens are comma separated: rule meetings read=admin,teacher,*host

type DSLParser struct {
	line int
}

func NewDSLParser() *DSLParser {
	return &DSLParser{}
}

type DSLEncoder struct {
	buf []byte
}

func NewDSLEncoder() *DSLEncoder {
	return &DSLEncoder{buf: make([]byte, 0, 4096)}
}

func (e *DSLEncoder) Encode(cfg *Config) ([]byte, error) {
	e.buf = e.buf[:0]
	var tmp [20]byte

	if cfg.Environment != "" {
		e.buf = append(e.buf, "env "...)
		e.buf = append(e.buf, cfg.Environment...)
		e.buf = append(e.buf, '\n')
	}
	if cfg.Namespace != nil {
		e.buf = append(e.buf, "namespace "...)
		e.buf = append(e.buf, strconv.Quote(*cfg.Namespace)...)
		e.buf = append(e.buf, '\n')
	}

	for _, c := range cfg.Permissions.Collections() {
		r := cfg.Permissions[c]
		e.buf = append(e.buf, "rule "...)
		e.buf = append(e.buf, c...)
		e.appendTokens(" read=", r.Read)
		e.appendTokens(" write=", r.Write)
		e.appendTokens(" delete=", r.Delete)
		e.buf = append(e.buf, '\n')
	}

	cols := make([]string, 0, len(cfg.Relations))
	for c := range cfg.Relations {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		markers := make([]string, 0, len(cfg.Relations[c]))
		for m := range cfg.Relations[c] {
			markers = append(markers, m)
		}
		sort.Strings(markers)
		for _, m := range markers {
			cond := cfg.Relations[c][m]
			if strings.Contains(cond, `"`) {
				return nil, fmt.Errorf("relation %s %s: double quotes are not supported in the rules format, use single quotes", c, m)
			}
			e.buf = append(e.buf, "relation "...)
			e.buf = append(e.buf, c...)
			e.buf = append(e.buf, ' ')
			e.buf = append(e.buf, m...)
			e.buf = append(e.buf, " \""...)
			e.buf = append(e.buf, cond...)
			e.buf = append(e.buf, "\"\n"...)
		}
	}

	e.buf = append(e.buf, "cache backend="...)
	e.buf = append(e.buf, cfg.Cache.Backend...)
	e.buf = append(e.buf, " ttl_ms="...)
	e.buf = append(e.buf, strconv.AppendInt(tmp[:0], cfg.Cache.TTL, 10)...)
	e.buf = append(e.buf, " num_counters="...)
	e.buf = append(e.buf, strconv.AppendInt(tmp[:0], cfg.Cache.NumCounters, 10)...)
	e.buf = append(e.buf, " max_cost="...)
	e.buf = append(e.buf, strconv.AppendInt(tmp[:0], cfg.Cache.MaxCost, 10)...)
	e.buf = append(e.buf, " buffer_items="...)
	e.buf = append(e.buf, strconv.AppendInt(tmp[:0], cfg.Cache.BufferItems, 10)...)
	e.buf = append(e.buf, '\n')

	e.buf = append(e.buf, "store driver="...)
	e.buf = append(e.buf, cfg.Store.Driver...)
	if cfg.Store.DSN != "" {
		e.buf = append(e.buf, " dsn="...)
		e.buf = append(e.buf, cfg.Store.DSN...)
	}
	if cfg.Store.Feed != "" {
		e.buf = append(e.buf, " feed="...)
		e.buf = append(e.buf, cfg.Store.Feed...)
	}
	e.buf = append(e.buf, '\n')

	if cfg.Redis.Addr != "" {
		e.buf = append(e.buf, "redis addr="...)
		e.buf = append(e.buf, cfg.Redis.Addr...)
		e.buf = append(e.buf, " db="...)
		e.buf = append(e.buf, strconv.AppendInt(tmp[:0], int64(cfg.Redis.DB), 10)...)
		if cfg.Redis.Prefix != "" {
			e.buf = append(e.buf, " prefix="...)
			e.buf = append(e.buf, cfg.Redis.Prefix...)
		}
		e.buf = append(e.buf, '\n')
	}
	if cfg.Audit.Enabled {
		e.buf = append(e.buf, "audit on\n"...)
	}
	return e.buf, nil
}

func (e *DSLEncoder) appendTokens(prefix string, tokens []string) {
	e.buf = append(e.buf, prefix...)
	for i, t := range tokens {
		if i > 0 {
			e.buf = append(e.buf, ',')
		}
		e.buf = append(e.buf, t...)
	}
}

func (p *DSLParser) Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Permissions = Permissions{}
	cfg.Relations = map[string]map[string]string{}

	p.line = 0
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			p.line++
			line := strings.TrimSpace(string(data[start:i]))
			start = i + 1

			if len(line) == 0 || line[0] == '#' {
				continue
			}

			parts := splitLine(line)
			if len(parts) == 0 {
				continue
			}

			var err error
			switch parts[0] {
			case "env":
				err = p.parseEnv(cfg, parts[1:])
			case "namespace":
				err = p.parseNamespace(cfg, parts[1:])
			case "rule":
				err = p.parseRule(cfg, parts[1:])
			case "relation":
				err = p.parseRelation(cfg, parts[1:])
			case "cache", "store", "redis":
				err = p.parseSettings(cfg, parts[0], parts[1:])
			case "audit":
				err = p.parseAudit(cfg, parts[1:])
			default:
				return nil, fmt.Errorf("line %d: unknown directive: %s", p.line, parts[0])
			}
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", p.line, err)
			}
		}
	}

	return cfg, nil
}

// splitLine splits on blanks outside double quotes; quotes are dropped.
func splitLine(line string) []string {
	parts := make([]string, 0, 8)
	var start int
	inQuote := false

	for i := 0; i < len(line); i++ {
		ch := line[i]
		if ch == '"' {
			if inQuote {
				parts = append(parts, line[start:i])
				start = i + 1
				inQuote = false
			} else {
				start = i + 1
				inQuote = true
			}
		} else if (ch == ' ' || ch == '\t') && !inQuote {
			if i > start {
				parts = append(parts, line[start:i])
			}
			start = i + 1
		}
	}

	if start < len(line) {
		parts = append(parts, line[start:])
	}
	return parts
}

func (p *DSLParser) parseEnv(cfg *Config, parts []string) error {
	if len(parts) != 1 {
		return fmt.Errorf("env requires: <environment>")
	}
	cfg.Environment = parts[0]
	return nil
}

func (p *DSLParser) parseNamespace(cfg *Config, parts []string) error {
	s := ""
	if len(parts) > 1 {
		return fmt.Errorf("namespace requires: [suffix]")
	}
	if len(parts) == 1 {
		s = parts[0]
	}
	cfg.Namespace = &s
	return nil
}

func (p *DSLParser) parseRule(cfg *Config, parts []string) error {
	if len(parts) < 1 {
		return fmt.Errorf("rule requires: <collection> [read=..] [write=..] [delete=..]")
	}
	r := PermissionRule{}
	for _, kv := range parts[1:] {
		idx := strings.Index(kv, "=")
		if idx == -1 {
			return fmt.Errorf("rule %s: expected key=value, got %q", parts[0], kv)
		}
		tokens := parseTokens(kv[idx+1:])
		switch Action(kv[:idx]) {
		case ActionRead:
			r.Read = tokens
		case ActionWrite:
			r.Write = tokens
		case ActionDelete:
			r.Delete = tokens
		default:
			return fmt.Errorf("rule %s: unknown action %q", parts[0], kv[:idx])
		}
	}
	cfg.Permissions[parts[0]] = r
	return nil
}

func (p *DSLParser) parseRelation(cfg *Config, parts []string) error {
	if len(parts) != 3 {
		return fmt.Errorf("relation requires: <collection> <marker> \"<condition>\"")
	}
	if !IsMarker(parts[1]) {
		return fmt.Errorf("relation %s: marker %q must start with '*'", parts[0], parts[1])
	}
	m, ok := cfg.Relations[parts[0]]
	if !ok {
		m = map[string]string{}
		cfg.Relations[parts[0]] = m
	}
	m[parts[1]] = parts[2]
	return nil
}

func (p *DSLParser) parseSettings(cfg *Config, section string, parts []string) error {
	for _, kv := range parts {
		idx := strings.Index(kv, "=")
		if idx == -1 {
			continue
		}
		key, val := kv[:idx], kv[idx+1:]
		switch section + "." + key {
		case "cache.backend":
			cfg.Cache.Backend = val
		case "cache.ttl_ms":
			cfg.Cache.TTL, _ = strconv.ParseInt(val, 10, 64)
		case "cache.num_counters":
			cfg.Cache.NumCounters, _ = strconv.ParseInt(val, 10, 64)
		case "cache.max_cost":
			cfg.Cache.MaxCost, _ = strconv.ParseInt(val, 10, 64)
		case "cache.buffer_items":
			cfg.Cache.BufferItems, _ = strconv.ParseInt(val, 10, 64)
		case "store.driver":
			cfg.Store.Driver = val
		case "store.dsn":
			cfg.Store.DSN = val
		case "store.feed":
			cfg.Store.Feed = val
		case "redis.addr":
			cfg.Redis.Addr = val
		case "redis.password":
			cfg.Redis.Password = val
		case "redis.db":
			cfg.Redis.DB, _ = strconv.Atoi(val)
		case "redis.prefix":
			cfg.Redis.Prefix = val
		default:
			return fmt.Errorf("%s: unknown setting %q", section, key)
		}
	}
	return nil
}

func (p *DSLParser) parseAudit(cfg *Config, parts []string) error {
	if len(parts) != 1 || (parts[0] != "on" && parts[0] != "off") {
		return fmt.Errorf("audit requires: on|off")
	}
	cfg.Audit.Enabled = parts[0] == "on"
	return nil
}

func parseTokens(s string) []string {
	if s == "" {
		return []string{}
	}
	out := make([]string, 0, strings.Count(s, ",")+1)
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
