// Package config loads the server configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stevemurr/shopping-list-server/store"
)

type Config struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`

	// Backend is json, sqlite or memory. DataPath is the db.json file, or
	// the database file for sqlite.
	Backend  string `yaml:"backend"`
	DataPath string `yaml:"dataPath"`

	LoadPolicy    string `yaml:"loadPolicy"`
	IDLength      int    `yaml:"idLength"`
	IDOverride    bool   `yaml:"idOverride"`
	FieldDefaults bool   `yaml:"fieldDefaults"`
	CascadeDelete bool   `yaml:"cascadeDelete"`

	ValidateRecords bool                      `yaml:"validateRecords"`
	Schemas         map[string]map[string]any `yaml:"schemas"`

	AllowedOrigins []string `yaml:"allowedOrigins"`
	LogLevel       string   `yaml:"logLevel"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           "3000",
		Backend:        "json",
		DataPath:       "./db.json",
		LoadPolicy:     string(store.ReloadPerRequest),
		IDLength:       8,
		IDOverride:     true,
		FieldDefaults:  true,
		CascadeDelete:  true,
		AllowedOrigins: []string{"*"},
		LogLevel:       "info",
	}
}

// Load starts from Default, applies the YAML file at path when path is not
// empty, then applies environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Host = getenv("HOST", c.Host)
	c.Port = getenv("PORT", c.Port)
	c.Backend = getenv("STORE_BACKEND", c.Backend)
	c.DataPath = getenv("DATA_PATH", c.DataPath)
	c.LoadPolicy = getenv("LOAD_POLICY", c.LoadPolicy)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	var err error
	if c.IDLength, err = getenvInt("ID_LENGTH", c.IDLength); err != nil {
		return err
	}
	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"ID_OVERRIDE", &c.IDOverride},
		{"FIELD_DEFAULTS", &c.FieldDefaults},
		{"CASCADE_DELETE", &c.CascadeDelete},
		{"VALIDATE_RECORDS", &c.ValidateRecords},
	} {
		if *b.dst, err = getenvBool(b.key, *b.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case "json", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("backend must be json, sqlite or memory, got %q", c.Backend))
	}
	if _, err := store.ParseLoadPolicy(c.LoadPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.IDLength < 1 || c.IDLength > 36 {
		errs = append(errs, fmt.Errorf("idLength must be between 1 and 36, got %d", c.IDLength))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port must not be empty"))
	}
	if c.Backend != "memory" && c.DataPath == "" {
		errs = append(errs, errors.New("dataPath must not be empty"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

// StoreOptions translates the configuration into DocumentStore options.
// The validator is left for the caller to attach.
func (c Config) StoreOptions() store.Options {
	policy, _ := store.ParseLoadPolicy(c.LoadPolicy)
	return store.Options{
		Policy:        policy,
		IDLength:      c.IDLength,
		IDOverride:    c.IDOverride,
		FieldDefaults: c.FieldDefaults,
		CascadeDelete: c.CascadeDelete,
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getenvBool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", k, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
