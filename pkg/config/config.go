// Package config defines the connect-time configuration surface: the database
// target, statement cache size and the setup actions replayed on every new
// session before it is handed to the pool.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-pkgz/stringutils"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration object.
type Config struct {
	Database  string `yaml:"database" toml:"database"`     // path or ":memory:"
	CacheSize int    `yaml:"cache_size" toml:"cache_size"` // statement slot table capacity, default 1024

	Secrets     []Secret     `yaml:"secrets" toml:"secrets"`         // replayed as create-secret statements
	Attachments []Attachment `yaml:"attachments" toml:"attachments"` // replayed as attach-database statements
	Settings    []Setting    `yaml:"settings" toml:"settings"`       // replayed as configuration statements

	DefaultDatabase string `yaml:"default_database" toml:"default_database"` // selected after setup, optional

	SubmitTimeout Duration `yaml:"submit_timeout" toml:"submit_timeout"` // per-command wait bound
	StopTimeout   Duration `yaml:"stop_timeout" toml:"stop_timeout"`     // session teardown bound
}

// Duration accepts "15s"-style values from both yaml and toml.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the toml decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("can't parse duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Secret describes one create-secret setup statement. Option values may
// reference a secrets provider as "secret://key"; they are resolved before the
// statement is built.
type Secret struct {
	Name    string            `yaml:"name" toml:"name"`
	Type    string            `yaml:"type" toml:"type"`
	Options map[string]string `yaml:"options" toml:"options"`
}

// Attachment describes one attach-database setup statement.
type Attachment struct {
	Path    string            `yaml:"path" toml:"path"`
	Alias   string            `yaml:"alias" toml:"alias"`
	Options map[string]string `yaml:"options" toml:"options"`
}

// Setting describes one configuration statement, optionally scoped to an
// attached database.
type Setting struct {
	Database string `yaml:"database" toml:"database"`
	Name     string `yaml:"name" toml:"name"`
	Value    string `yaml:"value" toml:"value"`
}

// Load reads a config file, yaml or toml by extension, applies defaults and
// validates the result.
func Load(fname string) (*Config, error) {
	log.Printf("[DEBUG] request to load config %q", fname)
	data, err := os.ReadFile(fname) // nolint gosec // config file location is user-provided by design
	if err != nil {
		return nil, fmt.Errorf("can't read config %s: %w", fname, err)
	}

	res := &Config{}
	switch {
	case strings.HasSuffix(fname, ".yml") || strings.HasSuffix(fname, ".yaml") || !strings.Contains(fname, "."):
		yamlDecoder := yaml.NewDecoder(strings.NewReader(string(data)))
		yamlDecoder.KnownFields(true) // strict mode, fail on unknown fields
		if err = yamlDecoder.Decode(res); err != nil {
			return nil, fmt.Errorf("can't unmarshal yaml config %s: %w", fname, err)
		}
	case strings.HasSuffix(fname, ".toml"):
		if err = toml.Unmarshal(data, res); err != nil {
			return nil, fmt.Errorf("can't unmarshal toml config %s: %w", fname, err)
		}
	default:
		return nil, fmt.Errorf("unknown config format %s", fname)
	}

	res.setDefaults()
	if err = res.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", fname, err)
	}
	return res, nil
}

func (c *Config) setDefaults() {
	if c.CacheSize == 0 {
		c.CacheSize = 1024
	}
	if c.SubmitTimeout == 0 {
		c.SubmitTimeout = Duration(15 * time.Second)
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = Duration(25 * time.Second)
	}
}

// Validate checks the config invariants, collecting all failures.
func (c *Config) Validate() error {
	errs := new(multierror.Error)

	if c.Database == "" {
		errs = multierror.Append(errs, fmt.Errorf("database target is required, use %q for in-memory", ":memory:"))
	}
	if c.CacheSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("cache_size can't be negative, got %d", c.CacheSize))
	}

	var secretNames []string
	for i, s := range c.Secrets {
		if s.Name == "" || s.Type == "" {
			errs = multierror.Append(errs, fmt.Errorf("secret %d needs both name and type", i))
			continue
		}
		secretNames = append(secretNames, s.Name)
	}
	if dd := stringutils.DeDup(secretNames); len(dd) != len(secretNames) {
		errs = multierror.Append(errs, fmt.Errorf("duplicate secret names in %v", secretNames))
	}

	var aliases []string
	for i, a := range c.Attachments {
		if a.Path == "" {
			errs = multierror.Append(errs, fmt.Errorf("attachment %d needs a path", i))
			continue
		}
		if a.Alias != "" {
			aliases = append(aliases, a.Alias)
		}
	}
	if dd := stringutils.DeDup(aliases); len(dd) != len(aliases) {
		errs = multierror.Append(errs, fmt.Errorf("duplicate attachment aliases in %v", aliases))
	}

	for i, s := range c.Settings {
		if s.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("setting %d needs a name", i))
		}
	}

	if c.DefaultDatabase != "" && len(aliases) > 0 && !stringutils.Contains(c.DefaultDatabase, aliases) {
		log.Printf("[WARN] default database %q is not among attachment aliases %v", c.DefaultDatabase, aliases)
	}

	return errs.ErrorOrNil()
}
