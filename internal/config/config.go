package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything the daemon reads at startup.
type Config struct {
	ZonesDir       string        `yaml:"zones_dir"`
	Quiesce        time.Duration `yaml:"quiesce"`
	ShortQuiesce   time.Duration `yaml:"short_quiesce"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
	DisableNotify  bool          `yaml:"disable_notify"`
	InitialQuiesce time.Duration `yaml:"initial_quiesce"`
	PollFallback   bool          `yaml:"poll_fallback"`

	ListenUDP string `yaml:"listen_udp"`
	ListenTCP string `yaml:"listen_tcp"`
	CacheSize int    `yaml:"cache_size"`
	HTTPAddr  string `yaml:"http_addr"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() Config {
	return Config{
		ZonesDir:       "etc/zones",
		Quiesce:        5 * time.Second,
		ShortQuiesce:   1020 * time.Millisecond,
		ScanInterval:   31 * time.Second,
		InitialQuiesce: 0,
		PollFallback:   true,
		ListenUDP:      ":53",
		ListenTCP:      ":53",
		CacheSize:      100000,
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

const envPrefix = "ZONEWATCH_"

// option ties one setting to its flag name, environment variable and setter.
type option struct {
	name  string
	usage string
	bool  bool
	set   func(c *Config, v string) error
}

func durationOpt(name, usage string, field func(*Config) *time.Duration) option {
	return option{name: name, usage: usage, set: func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}}
}

func stringOpt(name, usage string, field func(*Config) *string) option {
	return option{name: name, usage: usage, set: func(c *Config, v string) error {
		*field(c) = v
		return nil
	}}
}

func boolOpt(name, usage string, field func(*Config) *bool) option {
	return option{name: name, usage: usage, bool: true, set: func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}}
}

var options = []option{
	stringOpt("zones-dir", "zones directory", func(c *Config) *string { return &c.ZonesDir }),
	durationOpt("quiesce", "debounce window before a changed zone file is reloaded", func(c *Config) *time.Duration { return &c.Quiesce }),
	durationOpt("short-quiesce", "initial delay after rename or delete events", func(c *Config) *time.Duration { return &c.ShortQuiesce }),
	durationOpt("scan-interval", "directory scan period in poll mode", func(c *Config) *time.Duration { return &c.ScanInterval }),
	boolOpt("disable-notify", "use periodic scanning instead of filesystem notifications", func(c *Config) *bool { return &c.DisableNotify }),
	durationOpt("initial-quiesce", "delay applied to zone files found by the startup scan", func(c *Config) *time.Duration { return &c.InitialQuiesce }),
	boolOpt("poll-fallback", "fall back to scanning when notifications cannot be used", func(c *Config) *bool { return &c.PollFallback }),
	stringOpt("listen-udp", "UDP listen addr", func(c *Config) *string { return &c.ListenUDP }),
	stringOpt("listen-tcp", "TCP listen addr", func(c *Config) *string { return &c.ListenTCP }),
	{name: "cache-size", usage: "response cache size", set: func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.CacheSize = n
		return nil
	}},
	stringOpt("http-addr", "health and metrics addr", func(c *Config) *string { return &c.HTTPAddr }),
	stringOpt("log-level", "log level", func(c *Config) *string { return &c.LogLevel }),
	stringOpt("log-format", "log format (text or json)", func(c *Config) *string { return &c.LogFormat }),
}

// EnvName maps a flag name to its environment variable, e.g. zones-dir -> ZONEWATCH_ZONES_DIR.
func EnvName(flagName string) string {
	b := []byte(envPrefix + flagName)
	for i := len(envPrefix); i < len(b); i++ {
		switch c := b[i]; {
		case c == '-':
			b[i] = '_'
		case c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// Load resolves the configuration from defaults, an optional YAML file,
// the environment and args, in increasing order of precedence.
func Load(args []string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	fs := flag.NewFlagSet("zonewatch", flag.ContinueOnError)
	path := fs.String("config", "", "YAML config file")
	flagged := make(map[string]string)
	var order []string
	for _, o := range options {
		name := o.name
		record := func(v string) error {
			if _, seen := flagged[name]; !seen {
				order = append(order, name)
			}
			flagged[name] = v
			return nil
		}
		if o.bool {
			fs.BoolFunc(name, o.usage, func(v string) error { return record(v) })
		} else {
			fs.Func(name, o.usage, record)
		}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	file := *path
	if file == "" {
		file = getenv(envPrefix + "CONFIG")
	}
	if file != "" {
		if err := cfg.readFile(file); err != nil {
			return Config{}, err
		}
	}
	for _, o := range options {
		env := EnvName(o.name)
		if v := getenv(env); v != "" {
			if err := o.set(&cfg, v); err != nil {
				return Config{}, fmt.Errorf("%s: %w", env, err)
			}
		}
	}
	for _, name := range order {
		if err := lookup(name).set(&cfg, flagged[name]); err != nil {
			return Config{}, fmt.Errorf("-%s: %w", name, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func lookup(name string) option {
	for _, o := range options {
		if o.name == name {
			return o
		}
	}
	panic("config: unknown option " + name)
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.ZonesDir == "" {
		errs = append(errs, errors.New("zones_dir is required"))
	}
	if c.Quiesce <= 0 {
		errs = append(errs, fmt.Errorf("quiesce must be positive, got %s", c.Quiesce))
	}
	if c.ShortQuiesce <= 0 {
		errs = append(errs, fmt.Errorf("short_quiesce must be positive, got %s", c.ShortQuiesce))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, fmt.Errorf("scan_interval must be positive, got %s", c.ScanInterval))
	}
	if c.InitialQuiesce < 0 {
		errs = append(errs, fmt.Errorf("initial_quiesce must not be negative, got %s", c.InitialQuiesce))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cache_size must be positive, got %d", c.CacheSize))
	}
	return errors.Join(errs...)
}
