// Package external wraps user-supplied executables as tools. A discovery
// command prints a JSON array of function declarations on stdout; each
// declaration becomes a registry tool whose execution shells back out to the
// same command with the tool name as the only argument and the parameters as
// JSON on stdin. The process answers with a result object
// {"success": bool, "data": {...}, "error": "..."} on stdout.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/odvcencio/quill/pkg/tool"
)

const defaultExecTimeout = 2 * time.Minute

// Declaration is one tool announced by a discovery command.
type Declaration struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Kind        string               `json:"kind,omitempty"`
	Parameters  tool.ParameterSchema `json:"parameters"`
}

func (d *Declaration) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("declaration name is required")
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("declaration %q: description is required", d.Name)
	}
	if d.Parameters.Type == "" {
		d.Parameters.Type = "object"
	}
	if d.Parameters.Properties == nil {
		d.Parameters.Properties = map[string]tool.PropertySchema{}
	}
	return nil
}

// Options configures discovery and the wrapped tools it produces.
type Options struct {
	WorkDir string
	Env     map[string]string
	// Timeout bounds each wrapped execution. Zero means the default of two
	// minutes.
	Timeout time.Duration
}

// Discover runs a discovery command and wraps every declaration it emits.
func Discover(ctx context.Context, command string, opts Options) ([]*CommandTool, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("discovery command is required")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	cmd.Env = mergeEnv(nil, opts.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("discovery command failed: %w\nstderr: %s", err, stderr.String())
		}
		return nil, fmt.Errorf("discovery command failed: %w", err)
	}

	var declarations []Declaration
	if err := json.Unmarshal(stdout.Bytes(), &declarations); err != nil {
		return nil, fmt.Errorf("parsing declarations: %w", err)
	}

	tools := make([]*CommandTool, 0, len(declarations))
	for i := range declarations {
		decl := declarations[i]
		if err := decl.validate(); err != nil {
			return nil, err
		}
		tools = append(tools, &CommandTool{
			decl:    decl,
			command: command,
			opts:    opts,
		})
	}
	return tools, nil
}

// Register discovers and registers in one step, returning the tool names.
func Register(ctx context.Context, registry *tool.Registry, command string, opts Options) ([]string, error) {
	tools, err := Discover(ctx, command, opts)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		registry.Register(t)
		names = append(names, t.Name())
	}
	return names, nil
}
