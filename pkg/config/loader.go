package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/quill/pkg/hooks"
)

const (
	userDirName    = ".quill"
	configFileName = "config.yaml"
)

// Config is the fully merged result of one load pass. User and project hook
// declarations stay separate so the registry can assign source priority.
type Config struct {
	Settings Settings

	UserHooks    map[string][]hooks.Declaration
	ProjectHooks map[string][]hooks.Declaration

	UserPath    string
	ProjectPath string
	ProjectRoot string
}

// Load builds the layered settings for a working directory.
func Load(workDir string, overrides Overrides) (*Config, error) {
	return load(workDir, userConfigPath(), overrides)
}

func load(workDir, userPath string, overrides Overrides) (*Config, error) {
	cfg := &Config{Settings: Defaults()}
	applyEnv(&cfg.Settings)

	cfg.UserPath = userPath
	if declared, err := mergeFile(&cfg.Settings, cfg.UserPath); err != nil {
		return nil, fmt.Errorf("user settings: %w", err)
	} else {
		cfg.UserHooks = declared
	}

	cfg.ProjectRoot = FindProjectRoot(workDir)
	if cfg.ProjectRoot != "" {
		cfg.ProjectPath = filepath.Join(cfg.ProjectRoot, userDirName, configFileName)
		if declared, err := mergeFile(&cfg.Settings, cfg.ProjectPath); err != nil {
			return nil, fmt.Errorf("project settings: %w", err)
		} else {
			cfg.ProjectHooks = declared
		}
	}

	overrides.apply(&cfg.Settings)
	return cfg, nil
}

// HookRegistry loads user and project declarations with their priorities.
// Invalid declarations fail the whole load so a bad edit is caught at once.
func (c *Config) HookRegistry() (*hooks.Registry, error) {
	registry := hooks.NewRegistry()
	if len(c.ProjectHooks) > 0 {
		if err := registry.Load(hooks.SourceProject, c.ProjectHooks); err != nil {
			return nil, fmt.Errorf("project hooks: %w", err)
		}
	}
	if len(c.UserHooks) > 0 {
		if err := registry.Load(hooks.SourceUser, c.UserHooks); err != nil {
			return nil, fmt.Errorf("user hooks: %w", err)
		}
	}
	return registry, nil
}

// APIKey resolves the configured key variable.
func (c *Config) APIKey() string {
	if c.Settings.Model.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Settings.Model.APIKeyEnv)
}

// mergeFile decodes a yaml file over the current settings and returns the
// hook declarations that file carried. A missing file is not an error.
func mergeFile(s *Settings, path string) (map[string][]hooks.Declaration, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	s.Hooks = nil
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	declared := s.Hooks
	s.Hooks = nil
	return declared, nil
}

func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, userDirName, configFileName)
}

// FindProjectRoot walks up from dir looking for a .quill directory or a git
// root. It returns "" when neither exists.
func FindProjectRoot(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		if fi, err := os.Stat(filepath.Join(dir, userDirName)); err == nil && fi.IsDir() {
			return dir
		}
		if fi, err := os.Stat(filepath.Join(dir, ".git")); err == nil && fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
