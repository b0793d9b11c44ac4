// Package config loads server configuration from an optional YAML file with
// sensible defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds every tunable of the server.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`
	// DataDir holds the sqlite database and uploaded assets.
	DataDir string `yaml:"data_dir"`
	// Database overrides the sqlite path; defaults to DataDir/projects.sqlite3.
	Database string `yaml:"database"`
	// CompilerURL is the base URL of the external compile service.
	CompilerURL string `yaml:"compiler_url"`
	// CompileTimeout bounds a single compile round trip.
	CompileTimeout Duration `yaml:"compile_timeout"`
	// SnapshotInterval is the periodic persistence cadence.
	SnapshotInterval Duration `yaml:"snapshot_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:             "localhost:3000",
		DataDir:          "data",
		CompilerURL:      "http://localhost:8088",
		CompileTimeout:   Duration(2 * time.Minute),
		SnapshotInterval: Duration(30 * time.Second),
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// DatabasePath resolves the sqlite file location.
func (c Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return c.DataDir + "/projects.sqlite3"
}

// UploadsDir resolves the asset store root.
func (c Config) UploadsDir() string {
	return c.DataDir + "/uploads"
}
