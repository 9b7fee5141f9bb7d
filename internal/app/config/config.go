package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisBridge/internal/adapters/opcua"
	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

const (
	DefaultMetricsAddr    = ":9100"
	DefaultTimescaleTable = "exchange_results"
)

type Config struct {
	ExchangeTime float64         `yaml:"exchange_time"`
	Servers      []ServerConfig  `yaml:"servers"`
	Links        []LinkGroup     `yaml:"links"`
	Policy       PolicyConfig    `yaml:"policy"`
	Report       ReportConfig    `yaml:"report"`
	Metrics      MetricsConfig   `yaml:"metrics"`
	Timescale    TimescaleConfig `yaml:"timescale"`
}

type ServerConfig struct {
	Name            string `yaml:"name"`
	URL             string `yaml:"url"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	SecurityMode    string `yaml:"security_mode"`
	SecurityPolicy  string `yaml:"security_policy"`
	ApplicationName string `yaml:"application_name"`
	AutoReconnect   bool   `yaml:"auto_reconnect"`
}

// LinkGroup declares the variables copied from one source server to one
// target server.
type LinkGroup struct {
	Source    string           `yaml:"source"`
	Target    string           `yaml:"target"`
	Variables []VariableConfig `yaml:"variables"`
}

type VariableConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Type   string `yaml:"type"`
}

type PolicyConfig struct {
	OpTimeout       time.Duration `yaml:"op_timeout"`
	Workers         int           `yaml:"workers"`
	Reconnect       bool          `yaml:"reconnect"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Connect         ConnectConfig `yaml:"connect"`
}

type ConnectConfig struct {
	InitialDelay   time.Duration `yaml:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Multiplier     float64       `yaml:"multiplier"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Jitter         bool          `yaml:"jitter"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

type ReportConfig struct {
	Console     bool          `yaml:"console"`
	QueueLen    int           `yaml:"queue_len"`
	BatchSize   int           `yaml:"batch_size"`
	IdleSleep   time.Duration `yaml:"idle_sleep"`
	OnQueueFull string        `yaml:"on_queue_full"`

	// File appends every link result as a JSON line when set.
	File string `yaml:"file"`
}

type MetricsConfig struct {
	// Addr is the listen address of the HTTP surface; empty disables it.
	Addr string `yaml:"addr"`
}

type TimescaleConfig struct {
	// ConnString enables the Timescale report sink when set.
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

// Default returns the settings used for keys a document leaves out. Keys
// whose zero value is meaningful (console, jitter, metrics.addr) are seeded
// here rather than in applyDefaults.
func Default() Config {
	return Config{
		Policy:  PolicyConfig{Connect: ConnectConfig{Jitter: true}},
		Report:  ReportConfig{Console: true},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
	}
}

// Load reads a YAML document, or the legacy XML document when path ends in
// .xml, then applies defaults and validates the result. Every failure is a
// *domain.ConfigurationError.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "path", Err: err}
	}

	var cfg *Config
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		cfg, err = ParseLegacyXML(raw)
	} else {
		cfg, err = ParseYAML(raw)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseYAML decodes, expands ${VAR} references, defaults and validates a
// YAML document.
func ParseYAML(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &domain.ConfigurationError{Field: "yaml", Err: err}
	}
	if err := cfg.expandEnv(); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize applies defaults and validates a document built in code. Load
// and the Parse functions already call it.
func (c *Config) Normalize() error {
	c.applyDefaults()
	return c.validate()
}

func (c *Config) applyDefaults() {
	if c.Policy.OpTimeout == 0 {
		c.Policy.OpTimeout = 5 * time.Second
	}
	if c.Policy.Workers == 0 {
		c.Policy.Workers = 1
	}
	if c.Policy.ShutdownTimeout == 0 {
		c.Policy.ShutdownTimeout = 5 * time.Second
	}
	if c.Policy.Connect.InitialDelay == 0 {
		c.Policy.Connect.InitialDelay = 100 * time.Millisecond
	}
	if c.Policy.Connect.MaxDelay == 0 {
		c.Policy.Connect.MaxDelay = 5 * time.Second
	}
	if c.Policy.Connect.Multiplier == 0 {
		c.Policy.Connect.Multiplier = 2
	}
	if c.Report.QueueLen == 0 {
		c.Report.QueueLen = 1024
	}
	if c.Report.BatchSize == 0 {
		c.Report.BatchSize = 64
	}
	if c.Report.IdleSleep == 0 {
		c.Report.IdleSleep = 50 * time.Millisecond
	}
	if c.Report.OnQueueFull == "" {
		c.Report.OnQueueFull = "drop"
	}
	if c.Timescale.Table == "" {
		c.Timescale.Table = DefaultTimescaleTable
	}
	for i := range c.Servers {
		if c.Servers[i].ApplicationName == "" {
			c.Servers[i].ApplicationName = "AegisBridge"
		}
	}
}

func (c *Config) validate() error {
	for i, s := range c.Servers {
		field := fmt.Sprintf("servers[%d]", i)
		if s.Name == "" {
			return &domain.ConfigurationError{Field: field + ".name", Err: errors.New("name is required")}
		}
		oc := opcua.Config{Endpoint: s.URL}
		if err := oc.Validate(); err != nil {
			return &domain.ConfigurationError{Field: field + ".url", Err: err}
		}
	}
	p := c.Policy
	switch {
	case p.OpTimeout < 0:
		return invalid("policy.op_timeout", "must not be negative")
	case p.Workers < 0:
		return invalid("policy.workers", "must not be negative")
	case p.ShutdownTimeout < 0:
		return invalid("policy.shutdown_timeout", "must not be negative")
	case p.Connect.InitialDelay < 0 || p.Connect.MaxDelay < 0:
		return invalid("policy.connect", "delays must not be negative")
	case p.Connect.MaxDelay < p.Connect.InitialDelay:
		return invalid("policy.connect.max_delay", "must be >= initial_delay")
	case p.Connect.Multiplier < 1:
		return invalid("policy.connect.multiplier", "must be >= 1")
	case p.Connect.MaxAttempts < 0:
		return invalid("policy.connect.max_attempts", "must not be negative")
	case p.Connect.StartupTimeout < 0:
		return invalid("policy.connect.startup_timeout", "must not be negative")
	}
	switch c.Report.OnQueueFull {
	case "drop", "block":
	default:
		return invalid("report.on_queue_full", fmt.Sprintf("must be drop or block, got %q", c.Report.OnQueueFull))
	}
	if c.Report.QueueLen < 0 || c.Report.BatchSize < 0 {
		return invalid("report", "queue_len and batch_size must not be negative")
	}
	if c.Timescale.ConnString != "" && !validIdent.MatchString(c.Timescale.Table) {
		return invalid("timescale.table", fmt.Sprintf("%q is not a plain identifier", c.Timescale.Table))
	}

	_, err := c.LinkTable()
	return err
}

func invalid(field, msg string) error {
	return &domain.ConfigurationError{Field: field, Err: errors.New(msg)}
}

var validIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// LinkTable resolves server names to ids in declaration order and builds the
// validated link table.
func (c *Config) LinkTable() (*domain.LinkTable, error) {
	servers := make([]domain.Server, 0, len(c.Servers))
	byName := make(map[string]domain.ServerID, len(c.Servers))
	for i, s := range c.Servers {
		if _, dup := byName[s.Name]; dup {
			return nil, &domain.ConfigurationError{Field: "servers", Err: fmt.Errorf("duplicate server name %q", s.Name)}
		}
		id := domain.ServerID(i)
		byName[s.Name] = id
		servers = append(servers, domain.Server{
			ID:              id,
			Name:            s.Name,
			URL:             s.URL,
			Username:        s.Username,
			Password:        s.Password,
			SecurityMode:    s.SecurityMode,
			SecurityPolicy:  s.SecurityPolicy,
			ApplicationName: s.ApplicationName,
			AutoReconnect:   s.AutoReconnect,
		})
	}

	var links []domain.ExchangeLink
	for gi, g := range c.Links {
		field := fmt.Sprintf("links[%d]", gi)
		src, ok := byName[g.Source]
		if !ok {
			return nil, &domain.ConfigurationError{Field: field + ".source", Err: fmt.Errorf("server %q is not declared", g.Source)}
		}
		dst, ok := byName[g.Target]
		if !ok {
			return nil, &domain.ConfigurationError{Field: field + ".target", Err: fmt.Errorf("server %q is not declared", g.Target)}
		}
		for vi, v := range g.Variables {
			vt, err := domain.ParseValueType(v.Type)
			if err != nil {
				return nil, &domain.ConfigurationError{Field: fmt.Sprintf("%s.variables[%d].type", field, vi), Err: err}
			}
			links = append(links, domain.ExchangeLink{
				SourceServerID: src,
				SourceTag:      v.Source,
				TargetServerID: dst,
				TargetTag:      v.Target,
				ValueType:      vt,
			})
		}
	}

	return domain.NewLinkTable(servers, links, c.ExchangeTime)
}

// RuntimePolicy maps the document onto the engine and connection policy.
func (c *Config) RuntimePolicy() ports.Policy {
	return ports.Policy{
		OpTimeout:       c.Policy.OpTimeout,
		Workers:         c.Policy.Workers,
		Reconnect:       c.Policy.Reconnect,
		ShutdownTimeout: c.Policy.ShutdownTimeout,
		Connect: ports.ConnectPolicy{
			InitialDelay:   c.Policy.Connect.InitialDelay,
			MaxDelay:       c.Policy.Connect.MaxDelay,
			Multiplier:     c.Policy.Connect.Multiplier,
			MaxAttempts:    c.Policy.Connect.MaxAttempts,
			Jitter:         c.Policy.Connect.Jitter,
			StartupTimeout: c.Policy.Connect.StartupTimeout,
		},
		ReportQueueLen:    c.Report.QueueLen,
		ReportBatchSize:   c.Report.BatchSize,
		ReportIdleSleep:   c.Report.IdleSleep,
		OnReportQueueFull: c.Report.OnQueueFull,
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} in connection settings. An unset variable is
// an error so a missing secret never turns into an empty password.
func (c *Config) expandEnv() error {
	expand := func(field string, s *string) error {
		var missing string
		*s = envRef.ReplaceAllStringFunc(*s, func(ref string) string {
			name := envRef.FindStringSubmatch(ref)[1]
			v, ok := os.LookupEnv(name)
			if !ok && missing == "" {
				missing = name
			}
			return v
		})
		if missing != "" {
			return &domain.ConfigurationError{Field: field, Err: fmt.Errorf("environment variable %s is not set", missing)}
		}
		return nil
	}

	for i := range c.Servers {
		s := &c.Servers[i]
		prefix := fmt.Sprintf("servers[%d].", i)
		for _, f := range []struct {
			name string
			val  *string
		}{
			{"url", &s.URL},
			{"username", &s.Username},
			{"password", &s.Password},
			{"application_name", &s.ApplicationName},
		} {
			if err := expand(prefix+f.name, f.val); err != nil {
				return err
			}
		}
	}
	if err := expand("timescale.conn_string", &c.Timescale.ConnString); err != nil {
		return err
	}
	if err := expand("report.file", &c.Report.File); err != nil {
		return err
	}
	return expand("metrics.addr", &c.Metrics.Addr)
}
