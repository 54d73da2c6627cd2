package policy

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/odvcencio/quill/pkg/logging"
)

// Engine evaluates tool calls against the policy table.
type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	logger *logging.Logger
}

// NewEngine creates an engine over the given table.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// SetLogger attaches a logger for audit entries.
func (e *Engine) SetLogger(logger *logging.Logger) {
	e.mu.Lock()
	e.logger = logger
	e.mu.Unlock()
}

// SetConfig replaces the active table.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Config returns the active table.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Evaluate decides what happens to one tool call. Mutators without a
// configured rule require approval; trusted folders upgrade that to allow.
func (e *Engine) Evaluate(req Request) Evaluation {
	e.mu.RLock()
	cfg := e.cfg
	logger := e.logger
	e.mu.RUnlock()

	eval := e.evaluate(cfg, req)
	logger.Audit("policy_decision", "", map[string]any{
		"tool":         req.ToolName,
		"decision":     string(eval.Decision),
		"matched_rule": eval.MatchedRule,
	})
	return eval
}

func (e *Engine) evaluate(cfg Config, req Request) Evaluation {
	rule, ok := cfg.Rules[req.ToolName]
	if !ok {
		if req.Kind.IsMutator() {
			if isTrusted(cfg.TrustedFolders, req.WorkDir) {
				return Evaluation{
					Decision:    DecisionAllow,
					MatchedRule: "trusted_folder",
				}
			}
			return Evaluation{
				Decision:    DecisionAskUser,
				Reason:      fmt.Sprintf("%s modifies state and has no policy entry", req.ToolName),
				MatchedRule: "default_mutator",
			}
		}
		return Evaluation{Decision: DecisionAllow, MatchedRule: "default"}
	}

	switch rule.Mode {
	case ModeAlwaysDeny:
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s is denied by policy", req.ToolName)
		}
		return Evaluation{
			Decision:    DecisionDeny,
			Reason:      reason,
			MatchedRule: "rule:" + req.ToolName,
		}

	case ModeAlwaysAllow:
		if pattern := matchedExclusion(rule.Exclude, req.Params); pattern != "" {
			// Exclusions hold even inside trusted folders.
			return Evaluation{
				Decision:    DecisionAskUser,
				Reason:      fmt.Sprintf("path matches excluded pattern %q", pattern),
				MatchedRule: "exclusion:" + req.ToolName,
			}
		}
		return Evaluation{Decision: DecisionAllow, MatchedRule: "rule:" + req.ToolName}

	default:
		if req.Kind.IsMutator() && isTrusted(cfg.TrustedFolders, req.WorkDir) {
			return Evaluation{Decision: DecisionAllow, MatchedRule: "trusted_folder"}
		}
		return Evaluation{
			Decision:    DecisionAskUser,
			Reason:      rule.Reason,
			MatchedRule: "rule:" + req.ToolName,
		}
	}
}

// pathParamKeys marks the parameter names exclusion globs are checked against.
func isPathParam(key string) bool {
	switch key {
	case "path", "directory", "destination", "target":
		return true
	}
	return strings.HasSuffix(key, "_path")
}

func matchedExclusion(patterns []string, params map[string]any) string {
	if len(patterns) == 0 {
		return ""
	}
	for key, raw := range params {
		if !isPathParam(key) {
			continue
		}
		value, ok := raw.(string)
		if !ok || value == "" {
			continue
		}
		for _, pattern := range patterns {
			if matchPathPattern(pattern, value) {
				return pattern
			}
		}
	}
	return ""
}

// matchPathPattern matches a path against a glob, trying the basename, a
// directory prefix form ("dir/*"), and the full path.
func matchPathPattern(pattern, path string) bool {
	if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		dir := strings.TrimSuffix(pattern, "/*")
		if path == dir || strings.HasPrefix(path, dir+"/") {
			return true
		}
	}
	matched, _ := filepath.Match(pattern, path)
	return matched
}

func isTrusted(folders []string, workDir string) bool {
	if workDir == "" {
		return false
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return false
	}
	for _, folder := range folders {
		trusted, err := filepath.Abs(folder)
		if err != nil {
			continue
		}
		if abs == trusted || strings.HasPrefix(abs, trusted+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// DefaultConfig allows read-only tools and asks for everything that mutates.
func DefaultConfig() Config {
	return Config{
		Rules: map[string]Rule{
			"read_file":      {Mode: ModeAlwaysAllow},
			"list_directory": {Mode: ModeAlwaysAllow},
			"find_files":     {Mode: ModeAlwaysAllow},
			"search_text":    {Mode: ModeAlwaysAllow},
			"web_fetch":      {Mode: ModeAlwaysAllow},
			"save_memory":    {Mode: ModeAlwaysAllow},
			"write_file":        {Mode: ModeAskUser},
			"edit_file":         {Mode: ModeAskUser},
			"run_shell_command": {Mode: ModeAskUser},
		},
	}
}
