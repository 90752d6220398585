// SPDX-License-Identifier: MIT

// Package config handles loading, saving, and resolving the forkkeeper
// configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/skaphos/forkkeeper/internal/registry"
)

const (
	// LocalConfigFilename is the per-directory forkkeeper config file.
	LocalConfigFilename = ".forkkeeper.yaml"
	// ConfigAPIVersion is the current config schema apiVersion.
	ConfigAPIVersion = "skaphos.io/forkkeeper/v1beta1"
	// ConfigKind is the current config schema kind.
	ConfigKind = "ForkKeeperConfig"
	// EnvConfig overrides the config location.
	EnvConfig = "FORKKEEPER_CONFIG"
)

// Defaults holds default values for sync operations.
type Defaults struct {
	OriginRemote            string   `yaml:"origin_remote"`
	UpstreamRemote          string   `yaml:"upstream_remote"`
	FallbackBranches        []string `yaml:"fallback_branches,omitempty"`
	Concurrency             int      `yaml:"concurrency"`
	TimeoutSeconds          int      `yaml:"timeout_seconds"`
	AutoResolveConflicts    bool     `yaml:"auto_resolve_conflicts"`
	KeepUpstreamRemote      bool     `yaml:"keep_upstream_remote"`
	ConfirmUpdates          bool     `yaml:"confirm_updates"`
	MergeMessage            string   `yaml:"merge_message,omitempty"`
	AllowUnrelatedHistories bool     `yaml:"allow_unrelated_histories"`
	BackupDir               string   `yaml:"backup_dir,omitempty"`
	BackupExclude           []string `yaml:"backup_exclude,omitempty"`
	TokenFile               string   `yaml:"token_file,omitempty"`
}

// Config represents the forkkeeper configuration.
type Config struct {
	APIVersion   string             `yaml:"apiVersion"`
	Kind         string             `yaml:"kind"`
	Exclude      []string           `yaml:"exclude"`
	RegistryPath string             `yaml:"registry_path,omitempty"`
	Registry     *registry.Registry `yaml:"registry,omitempty"`
	Defaults     Defaults           `yaml:"defaults"`
}

// DefaultConfig returns a Config with sensible defaults applied.
func DefaultConfig() Config {
	return Config{
		APIVersion: ConfigAPIVersion,
		Kind:       ConfigKind,
		Exclude:    []string{"**/node_modules/**", "**/.venv/**", "**/target/**", "**/build/**"},
		Defaults: Defaults{
			OriginRemote:     "origin",
			UpstreamRemote:   "upstream",
			FallbackBranches: []string{"main", "master"},
			Concurrency:      4,
			TimeoutSeconds:   120,
		},
	}
}

// Timeout returns the per-repository time limit.
func (d Defaults) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// ConfigDir returns the platform-appropriate config directory path.
// It checks, in order: the override parameter, FORKKEEPER_CONFIG, and
// finally os.UserConfigDir()/forkkeeper.
func ConfigDir(override string) (string, error) {
	if override != "" {
		if isConfigFilePath(override) {
			return filepath.Dir(override), nil
		}
		return override, nil
	}

	if env := os.Getenv(EnvConfig); env != "" {
		if isConfigFilePath(env) {
			return filepath.Dir(env), nil
		}
		return env, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "forkkeeper"), nil
}

// ConfigPath resolves the config file path from override/env/defaults.
func ConfigPath(override string) (string, error) {
	if override != "" {
		if isConfigFilePath(override) {
			return override, nil
		}
		return filepath.Join(override, "config.yaml"), nil
	}

	if env := os.Getenv(EnvConfig); env != "" {
		if isConfigFilePath(env) {
			return env, nil
		}
		return filepath.Join(env, "config.yaml"), nil
	}

	dir, err := ConfigDir("")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ResolveConfigPath resolves config for runtime commands.
// Order: explicit override, FORKKEEPER_CONFIG, nearest local dotfile in
// cwd/parents, then global platform config path.
func ResolveConfigPath(override, cwd string) (string, error) {
	if override != "" || os.Getenv(EnvConfig) != "" {
		return ConfigPath(override)
	}

	if strings.TrimSpace(cwd) == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}

	localPath, err := FindNearestConfigPath(cwd)
	if err != nil {
		return "", err
	}
	if localPath != "" {
		return localPath, nil
	}

	return ConfigPath("")
}

// FindNearestConfigPath searches cwd and each parent directory for
// .forkkeeper.yaml. It returns an empty string when none is found.
func FindNearestConfigPath(cwd string) (string, error) {
	dir := cwd
	for {
		candidate := filepath.Join(dir, LocalConfigFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// LoadOrDefault loads path, returning defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	def := DefaultConfig()
	def.RegistryPath = "registry.yaml"
	reg, regErr := registry.Load(ResolveRegistryPath(path, def.RegistryPath))
	switch {
	case regErr == nil:
		def.Registry = reg
	case !errors.Is(regErr, os.ErrNotExist):
		return nil, regErr
	}
	return &def, nil
}

// Load reads the config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigGVK(&cfg)
	if err := validateConfigGVK(&cfg); err != nil {
		return nil, err
	}

	if cfg.Registry == nil && cfg.RegistryPath != "" {
		reg, err := registry.Load(ResolveRegistryPath(path, cfg.RegistryPath))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			cfg.Registry = reg
		}
	}
	def := DefaultConfig().Defaults
	if cfg.Defaults.Concurrency <= 0 {
		cfg.Defaults.Concurrency = def.Concurrency
	}
	if cfg.Defaults.TimeoutSeconds <= 0 {
		cfg.Defaults.TimeoutSeconds = def.TimeoutSeconds
	}
	if cfg.Defaults.OriginRemote == "" {
		cfg.Defaults.OriginRemote = def.OriginRemote
	}
	if cfg.Defaults.UpstreamRemote == "" {
		cfg.Defaults.UpstreamRemote = def.UpstreamRemote
	}
	if len(cfg.Defaults.FallbackBranches) == 0 {
		cfg.Defaults.FallbackBranches = def.FallbackBranches
	}
	if cfg.Defaults.OriginRemote == cfg.Defaults.UpstreamRemote {
		return nil, fmt.Errorf("origin_remote and upstream_remote must differ (both %q)", cfg.Defaults.OriginRemote)
	}

	return &cfg, nil
}

// ResolveRegistryPath resolves registry_path against the config file location.
// Absolute paths are returned unchanged; relative paths are joined to the
// directory containing configPath.
func ResolveRegistryPath(configPath, registryPath string) string {
	if strings.TrimSpace(registryPath) == "" {
		return ""
	}
	if filepath.IsAbs(registryPath) || strings.TrimSpace(configPath) == "" {
		return filepath.Clean(registryPath)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(configPath), registryPath))
}

// TokenPath returns the credential store location for a config file.
func TokenPath(configPath string, cfg *Config) string {
	name := "tokens.yaml"
	if cfg != nil && strings.TrimSpace(cfg.Defaults.TokenFile) != "" {
		name = cfg.Defaults.TokenFile
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(configPath), name))
}

// Save writes the config to the given path. An attached registry is written
// to its own file when registry_path is set.
func Save(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	applyConfigGVK(cfg)
	if err := validateConfigGVK(cfg); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	out := *cfg
	if cfg.RegistryPath != "" && cfg.Registry != nil {
		if err := registry.Save(cfg.Registry, ResolveRegistryPath(path, cfg.RegistryPath)); err != nil {
			return err
		}
		out.Registry = nil
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func isConfigFilePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func applyConfigGVK(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = ConfigAPIVersion
	}
	if strings.TrimSpace(cfg.Kind) == "" {
		cfg.Kind = ConfigKind
	}
}

func validateConfigGVK(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.APIVersion != ConfigAPIVersion {
		return fmt.Errorf("unsupported config apiVersion %q (expected %q)", cfg.APIVersion, ConfigAPIVersion)
	}
	if cfg.Kind != ConfigKind {
		return fmt.Errorf("unsupported config kind %q (expected %q)", cfg.Kind, ConfigKind)
	}
	return nil
}
