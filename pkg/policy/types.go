package policy

import (
	"github.com/odvcencio/quill/pkg/tool"
)

// Mode is the configured stance for a tool.
type Mode string

const (
	ModeAlwaysAllow Mode = "always_allow"
	ModeAlwaysDeny  Mode = "always_deny"
	ModeAskUser     Mode = "ask_user"
)

// Decision is the outcome of evaluating one tool call.
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionDeny    Decision = "deny"
	DecisionAskUser Decision = "ask_user"
)

// Rule configures how calls to one tool are handled.
type Rule struct {
	Mode   Mode   `json:"mode" yaml:"mode"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
	// Exclude holds glob patterns matched against path-like parameters.
	// A match downgrades always_allow to ask_user.
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// Config is the full policy table.
type Config struct {
	Rules map[string]Rule `json:"rules" yaml:"rules"`
	// TrustedFolders upgrades ask_user to allow for mutators running inside
	// one of the listed directories.
	TrustedFolders []string `json:"trusted_folders,omitempty" yaml:"trusted_folders,omitempty"`
}

// Request describes one tool call to evaluate.
type Request struct {
	ToolName string
	Kind     tool.Kind
	Params   map[string]any
	WorkDir  string
}

// Evaluation is the result of a policy check.
type Evaluation struct {
	Decision    Decision `json:"decision"`
	Reason      string   `json:"reason,omitempty"`
	MatchedRule string   `json:"matched_rule"`
}
