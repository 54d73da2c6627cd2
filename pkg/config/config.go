// Package config loads layered settings: defaults, then environment
// variables, then the user file, then the project file, then command-line
// overrides. Later layers win.
package config

import (
	"os"
	"strconv"

	"github.com/odvcencio/quill/pkg/hooks"
	"github.com/odvcencio/quill/pkg/policy"
)

// EnvPrefix is the prefix for every environment variable the core honors.
const EnvPrefix = "QUILL_"

// Settings is the merged configuration tree.
type Settings struct {
	Model   ModelSettings   `yaml:"model"`
	Chat    ChatSettings    `yaml:"chat"`
	Session SessionSettings `yaml:"session"`
	Logging LoggingSettings `yaml:"logging"`
	Tools   ToolSettings    `yaml:"tools"`

	// Sandbox is a posture name: false, true, container, or a native
	// profile name. It feeds the prompt builder only.
	Sandbox string `yaml:"sandbox"`

	Policy policy.Config `yaml:"policy"`

	// Hooks as declared in this settings layer. The loader keeps user and
	// project declarations apart so registry priority stays correct.
	Hooks map[string][]hooks.Declaration `yaml:"hooks"`

	// MCPServers maps server name to its launch configuration.
	MCPServers map[string]MCPServerSettings `yaml:"mcp_servers"`
}

type ModelSettings struct {
	BaseURL string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env"`

	Default    string `yaml:"default"`
	Flash      string `yaml:"flash"`
	Pro        string `yaml:"pro"`
	Classifier string `yaml:"classifier"`
	// Override pins the model; "auto" defers to the router.
	Override string `yaml:"override"`
}

type ChatSettings struct {
	ContextWindow     int     `yaml:"context_window"`
	CompressThreshold float64 `yaml:"compress_threshold"`
	CompressModel     string  `yaml:"compress_model"`
}

type SessionSettings struct {
	TranscriptDir string `yaml:"transcript_dir"`
}

type LoggingSettings struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

type ToolSettings struct {
	// DiscoveryCommands each emit function declarations for local tools.
	DiscoveryCommands []string `yaml:"discovery_commands"`
	AllowPrivateFetch bool     `yaml:"allow_private_fetch"`
	ShellTimeoutSecs  int      `yaml:"shell_timeout_seconds"`
}

type MCPServerSettings struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	// TimeoutMs bounds each remote call.
	TimeoutMs int `yaml:"timeout_ms"`
}

// Defaults returns the base layer.
func Defaults() Settings {
	return Settings{
		Model: ModelSettings{
			BaseURL:    "https://openrouter.ai/api/v1",
			APIKeyEnv:  "OPENROUTER_API_KEY",
			Default:    "anthropic/claude-sonnet-4.5",
			Flash:      "google/gemini-2.5-flash",
			Pro:        "anthropic/claude-sonnet-4.5",
			Classifier: "google/gemini-2.5-flash",
			Override:   "auto",
		},
		Chat: ChatSettings{
			ContextWindow:     128_000,
			CompressThreshold: 0.70,
		},
		Logging: LoggingSettings{Level: "info"},
		Sandbox: "false",
		Policy:  policy.DefaultConfig(),
	}
}

// applyEnv folds environment overrides into the settings. Files loaded later
// still take precedence over these.
func applyEnv(s *Settings) {
	if v := os.Getenv(EnvPrefix + "MODEL"); v != "" {
		s.Model.Override = v
	}
	if v := os.Getenv(EnvPrefix + "BASE_URL"); v != "" {
		s.Model.BaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "SANDBOX"); v != "" {
		s.Sandbox = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		s.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "COMPRESS_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			s.Chat.CompressThreshold = f
		}
	}
}

// Overrides are command-line flag values, the highest-precedence layer.
// Zero values leave the merged settings untouched.
type Overrides struct {
	Model         string
	Sandbox       string
	TranscriptDir string
	LogLevel      string
}

func (o Overrides) apply(s *Settings) {
	if o.Model != "" {
		s.Model.Override = o.Model
	}
	if o.Sandbox != "" {
		s.Sandbox = o.Sandbox
	}
	if o.TranscriptDir != "" {
		s.Session.TranscriptDir = o.TranscriptDir
	}
	if o.LogLevel != "" {
		s.Logging.Level = o.LogLevel
	}
}
