package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

type TableSchema struct {
	Project         string   `yaml:"project" json:"project"`
	Statuses        []string `yaml:"statuses" json:"statuses"`
	Priorities      []string `yaml:"priorities" json:"priorities"`
	DefaultPriority string   `yaml:"default_priority" json:"defaultPriority"`
}

// DefaultStatus is the first configured status.
func (s TableSchema) DefaultStatus() string {
	if len(s.Statuses) == 0 {
		return ""
	}
	return s.Statuses[0]
}

func (s TableSchema) HasStatus(v string) bool   { return slices.Contains(s.Statuses, v) }
func (s TableSchema) HasPriority(v string) bool { return slices.Contains(s.Priorities, v) }

type Store struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Config struct {
	HTTPAddr    string      `yaml:"http_addr"`
	LogLevel    string      `yaml:"log_level"`
	Store       Store       `yaml:"store"`
	Schema      TableSchema `yaml:"schema"`
	PageSizes   []int       `yaml:"page_sizes"`
	DefaultTake int         `yaml:"default_take"`
	SampleCount int         `yaml:"sample_count"`
}

func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Store: Store{
			Driver: "sqlite",
			DSN:    "file:issues.db",
		},
		Schema: TableSchema{
			Project:         "EIT",
			Statuses:        []string{"todo", "in-progress", "testing", "done"},
			Priorities:      []string{"low", "medium", "high", "urgent"},
			DefaultPriority: "medium",
		},
		PageSizes:   []int{10, 50, 100, 0},
		DefaultTake: 10,
		SampleCount: 10,
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c Config) Validate() error {
	var errs []error
	s := c.Schema
	if s.Project == "" {
		errs = append(errs, errors.New("schema.project must not be empty"))
	}
	if len(s.Statuses) == 0 {
		errs = append(errs, errors.New("schema.statuses must not be empty"))
	}
	if len(s.Priorities) == 0 {
		errs = append(errs, errors.New("schema.priorities must not be empty"))
	} else if !s.HasPriority(s.DefaultPriority) {
		errs = append(errs, fmt.Errorf("schema.default_priority %q is not a configured priority", s.DefaultPriority))
	}
	if c.DefaultTake < 0 {
		errs = append(errs, fmt.Errorf("default_take must be >= 0, got %d", c.DefaultTake))
	}
	for _, n := range c.PageSizes {
		if n < 0 {
			errs = append(errs, fmt.Errorf("page_sizes must be >= 0, got %d", n))
		}
	}
	switch c.Store.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported (mysql|sqlite)", c.Store.Driver))
	}
	return errors.Join(errs...)
}
