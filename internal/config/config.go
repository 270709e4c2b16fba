package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/playground/internal/logging"
	"github.com/michaelbrown/playground/internal/playground"
	"github.com/michaelbrown/playground/internal/sandbox"
)

// Sandbox backends.
const (
	BackendJSVM   = "jsvm"
	BackendDocker = "docker"
	BackendLocal  = "local"
)

// DefaultInitialCode is the editor's starting content.
const DefaultInitialCode = `console.log("Welcome to Code Playground!");`

type PolicyConfig struct {
	MaxMemory  string        `mapstructure:"max_memory"`
	MaxTimeout time.Duration `mapstructure:"max_timeout"`
	Network    bool          `mapstructure:"network"`
	Images     []string      `mapstructure:"images"`
}

type SandboxConfig struct {
	Backend   string       `mapstructure:"backend"`
	Command   string       `mapstructure:"command"`
	EntryFile string       `mapstructure:"entry_file"`
	Image     string       `mapstructure:"image"`
	Policy    PolicyConfig `mapstructure:"policy"`
}

type PlaygroundConfig struct {
	InitialCode string `mapstructure:"initial_code"`
	StaleOutput string `mapstructure:"stale_output"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

type Config struct {
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Playground PlaygroundConfig `mapstructure:"playground"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        logging.Config   `mapstructure:"log"`
}

// Load reads configuration from path, or from playground.yaml in the
// working directory or $HOME/.playground when path is empty. A missing
// config file is not an error. PLAYGROUND_* environment variables
// override file values (e.g. PLAYGROUND_SANDBOX_BACKEND).
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("playground")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.playground")
	}

	v.SetEnvPrefix("PLAYGROUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	policy := sandbox.DefaultPolicy()

	v.SetDefault("sandbox.backend", BackendJSVM)
	v.SetDefault("sandbox.command", playground.DefaultCommand)
	v.SetDefault("sandbox.entry_file", playground.DefaultEntryFile)
	v.SetDefault("sandbox.image", "node:22-slim")
	v.SetDefault("sandbox.policy.max_memory", policy.MaxMemory)
	v.SetDefault("sandbox.policy.max_timeout", policy.MaxTimeout)
	v.SetDefault("sandbox.policy.network", policy.Network)
	v.SetDefault("sandbox.policy.images", policy.Images)
	v.SetDefault("playground.initial_code", DefaultInitialCode)
	v.SetDefault("playground.stale_output", string(playground.StaleInterleave))
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".playground", "playground.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Default returns the configuration used when no file or env is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Sandbox.Backend {
	case BackendJSVM, BackendDocker, BackendLocal:
	default:
		return fmt.Errorf("unknown sandbox backend %q (want jsvm, docker or local)", c.Sandbox.Backend)
	}
	switch playground.StalePolicy(c.Playground.StaleOutput) {
	case playground.StaleInterleave, playground.StaleDiscard:
	default:
		return fmt.Errorf("unknown stale_output policy %q (want interleave or discard)", c.Playground.StaleOutput)
	}
	if c.Sandbox.Policy.MaxTimeout < 0 {
		return fmt.Errorf("sandbox.policy.max_timeout must not be negative")
	}
	return nil
}

// Policy converts the policy section into a sandbox.Policy.
func (c *Config) Policy() sandbox.Policy {
	p := c.Sandbox.Policy
	return sandbox.Policy{
		MaxMemory:  p.MaxMemory,
		MaxTimeout: p.MaxTimeout,
		Network:    p.Network,
		Images:     p.Images,
	}
}
