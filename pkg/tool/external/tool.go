package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"unicode"

	"github.com/odvcencio/quill/pkg/tool"
)

// CommandTool is a discovered local tool. Execution re-runs the discovery
// command with the tool name appended and the parameters as JSON on stdin.
type CommandTool struct {
	decl    Declaration
	command string
	opts    Options
}

func (t *CommandTool) Name() string        { return t.decl.Name }
func (t *CommandTool) DisplayName() string { return t.decl.Name }
func (t *CommandTool) Description() string { return t.decl.Description }
func (t *CommandTool) Origin() tool.Origin { return tool.OriginLocal }

func (t *CommandTool) Kind() tool.Kind {
	switch tool.Kind(t.decl.Kind) {
	case tool.KindRead, tool.KindEdit, tool.KindDelete, tool.KindMove,
		tool.KindSearch, tool.KindExecute, tool.KindThink, tool.KindFetch:
		return tool.Kind(t.decl.Kind)
	}
	return tool.KindOther
}

func (t *CommandTool) Parameters() tool.ParameterSchema {
	return t.decl.Parameters
}

func (t *CommandTool) Invocation(params map[string]any) (tool.Invocation, error) {
	input, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("serializing parameters: %w", err)
	}
	return &tool.Run{
		Display: t.decl.Name,
		// Discovered commands run arbitrary code.
		Confirm: t.Kind().IsMutator(),
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			return t.run(ctx, input)
		},
	}, nil
}

func (t *CommandTool) run(ctx context.Context, input []byte) (*tool.Result, error) {
	timeout := t.opts.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", t.command+" "+t.decl.Name)
	if t.opts.WorkDir != "" {
		cmd.Dir = t.opts.WorkDir
	}
	cmd.Env = mergeEnv(nil, t.opts.Env)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return tool.Errorf("tool execution timed out after %s", timeout), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if stderr.Len() > 0 {
			return tool.Errorf("tool execution failed: %v\nstderr: %s", err, stderr.String()), nil
		}
		return tool.Errorf("tool execution failed: %v", err), nil
	}

	var result tool.Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return tool.Errorf("tool output is not a result object: %v\noutput: %s", err, stdout.String()), nil
	}
	return &result, nil
}

func sanitizeEnvMap(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		key := strings.TrimSpace(k)
		if !isValidEnvKey(key) {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isValidEnvKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		if i == 0 {
			if !(r == '_' || unicode.IsLetter(r)) {
				return false
			}
			continue
		}
		if !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func mergeEnv(base []string, overrides map[string]string) []string {
	overrides = sanitizeEnvMap(overrides)
	if base == nil {
		base = os.Environ()
	}
	if len(overrides) == 0 {
		return base
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		base = append(base, fmt.Sprintf("%s=%s", k, overrides[k]))
	}
	return base
}
