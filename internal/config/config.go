// Package config loads loom.yml and the optional .env overlay.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"loom/internal/logging"
)

const (
	// DefaultFileName is looked up in the project directory when no
	// explicit config path is given.
	DefaultFileName = "loom.yml"
	envFileName     = ".env"

	defaultBundlerCommand  = "webpack"
	defaultCompleteMessage = "Webpack compilation complete."
	defaultServerAddr      = "127.0.0.1:8473"
)

// Config is the full loom configuration.
type Config struct {
	ProjectDir string                    `yaml:"projectDir"`
	LogLevel   string                    `yaml:"logLevel"`
	Bundler    BundlerConfig             `yaml:"bundler"`
	Platforms  map[string]PlatformConfig `yaml:"platforms"`
	Server     ServerConfig              `yaml:"server"`
}

// BundlerConfig describes how the bundler subprocess is spawned.
type BundlerConfig struct {
	Command         string         `yaml:"command"`
	Args            []string       `yaml:"args"`
	CompleteMessage string         `yaml:"completeMessage"`
	Env             map[string]any `yaml:"env"`
	Interactive     bool           `yaml:"interactive"`
}

// PlatformConfig describes one build target platform.
type PlatformConfig struct {
	OutputDir  string         `yaml:"outputDir"`
	NativeRoot string         `yaml:"nativeRoot"`
	Env        map[string]any `yaml:"env"`
}

// ServerConfig describes the optional status server.
type ServerConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	AuthToken      string   `yaml:"authToken"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		ProjectDir: ".",
		LogLevel:   "info",
		Bundler: BundlerConfig{
			Command:         defaultBundlerCommand,
			CompleteMessage: defaultCompleteMessage,
		},
		Platforms: map[string]PlatformConfig{},
		Server: ServerConfig{
			Addr: defaultServerAddr,
		},
	}
}

// Load reads the config file at path, or the defaults when path is
// empty and no loom.yml exists in the working directory. Unknown keys
// are rejected. A .env file next to the config overlays the process
// environment without overriding existing variables.
func Load(path string) (Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg := Default()
			return cfg, cfg.Validate()
		}
		return Default(), fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	loadEnvFile(filepath.Join(filepath.Dir(path), envFileName))

	return cfg, cfg.Validate()
}

func (cfg *Config) applyDefaults() {
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = "."
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Bundler.Command == "" {
		cfg.Bundler.Command = defaultBundlerCommand
	}
	if cfg.Bundler.CompleteMessage == "" {
		cfg.Bundler.CompleteMessage = defaultCompleteMessage
	}
	if cfg.Platforms == nil {
		cfg.Platforms = map[string]PlatformConfig{}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultServerAddr
	}
}

// Validate reports the first configuration problem found.
func (cfg Config) Validate() error {
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("logLevel: unknown level %q", cfg.LogLevel)
	}
	if cfg.Bundler.Command == "" {
		return fmt.Errorf("bundler.command is required")
	}
	if cfg.Server.Enabled && cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}
	return nil
}

// Platform returns the platform's config, falling back to an empty one.
func (cfg Config) Platform(name string) PlatformConfig {
	return cfg.Platforms[name]
}

// OutputDirFor returns the platform's bundler output directory,
// defaulting under the project's platforms tree.
func (cfg Config) OutputDirFor(platform string) string {
	if platformCfg, ok := cfg.Platforms[platform]; ok && platformCfg.OutputDir != "" {
		return platformCfg.OutputDir
	}
	return filepath.Join(cfg.ProjectDir, "platforms", platform, "app")
}

// BundlerEnvFor merges the global bundler env with the platform's, the
// platform winning on conflicts.
func (cfg Config) BundlerEnvFor(platform string) map[string]any {
	merged := make(map[string]any, len(cfg.Bundler.Env)+4)
	for key, value := range cfg.Bundler.Env {
		merged[key] = value
	}
	if platformCfg, ok := cfg.Platforms[platform]; ok {
		for key, value := range platformCfg.Env {
			merged[key] = value
		}
	}
	merged[platform] = true
	return merged
}

func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}
