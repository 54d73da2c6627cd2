package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/quill/pkg/tool"
)

const (
	defaultShellTimeoutSecs = 120
	maxShellTimeoutSecs     = 600
	defaultMaxOutputBytes   = 256 * 1024
)

// RunShellCommandTool executes a shell command in the working directory.
type RunShellCommandTool struct {
	workDirAware
	env map[string]string
}

func (t *RunShellCommandTool) Name() string        { return "run_shell_command" }
func (t *RunShellCommandTool) DisplayName() string { return "Shell" }
func (t *RunShellCommandTool) Kind() tool.Kind     { return tool.KindExecute }
func (t *RunShellCommandTool) Origin() tool.Origin { return tool.OriginBuiltin }

func (t *RunShellCommandTool) Description() string {
	return "Execute a shell command and return stdout, stderr, and exit code. Output is streamed as it is produced and truncated past the output limit."
}

func (t *RunShellCommandTool) Parameters() tool.ParameterSchema {
	return tool.ParameterSchema{
		Type: "object",
		Properties: map[string]tool.PropertySchema{
			"command": {
				Type:        "string",
				Description: "Shell command to execute",
			},
			"timeout_seconds": {
				Type:        "integer",
				Description: fmt.Sprintf("Timeout in seconds (default %d, max %d)", defaultShellTimeoutSecs, maxShellTimeoutSecs),
				Default:     defaultShellTimeoutSecs,
			},
		},
		Required: []string{"command"},
	}
}

// SetEnv adds environment overrides for spawned commands.
func (t *RunShellCommandTool) SetEnv(env map[string]string) {
	if t == nil {
		return
	}
	t.env = env
}

func (t *RunShellCommandTool) Invocation(params map[string]any) (tool.Invocation, error) {
	command, ok := params["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command parameter must be a non-empty string")
	}
	timeout := defaultShellTimeoutSecs
	if raw, ok := params["timeout_seconds"].(int); ok && raw > 0 {
		timeout = raw
	}
	if timeout > maxShellTimeoutSecs {
		timeout = maxShellTimeoutSecs
	}

	return &tool.Run{
		Display: fmt.Sprintf("Run %s", firstLine(command)),
		Confirm: true,
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			return t.run(ctx, command, time.Duration(timeout)*time.Second, onOutput)
		},
	}, nil
}

func (t *RunShellCommandTool) run(ctx context.Context, command string, timeout time.Duration, onOutput tool.OutputFunc) (*tool.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	if t.workDir != "" {
		cmd.Dir = t.workDir
	}
	cmd.Env = t.buildEnv()
	// Own process group so cancellation kills children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	maxOutput := t.maxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}
	stdout := &cappedBuffer{limit: maxOutput, onWrite: onOutput}
	stderr := &cappedBuffer{limit: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if runCtx.Err() == context.DeadlineExceeded {
			return tool.Errorf("command timed out after %s", timeout), nil
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		} else {
			return tool.Errorf("failed to run command: %v", err), nil
		}
	}

	result := &tool.Result{
		Success: exitCode == 0,
		Data: map[string]any{
			"command":     command,
			"stdout":      stdout.String(),
			"stderr":      stderr.String(),
			"exit_code":   exitCode,
			"duration_ms": duration.Milliseconds(),
			"truncated":   stdout.truncated || stderr.truncated,
		},
	}
	if exitCode != 0 {
		result.Error = fmt.Sprintf("command exited with code %d", exitCode)
	}
	return result, nil
}

func (t *RunShellCommandTool) buildEnv() []string {
	env := os.Environ()
	for k, v := range t.env {
		env = append(env, k+"="+v)
	}
	return env
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx] + " ..."
	}
	return s
}

// cappedBuffer collects output up to a limit, optionally forwarding chunks.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
	onWrite   tool.OutputFunc
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.onWrite != nil {
		b.onWrite(string(p))
	}
	if b.buf.Len() >= b.limit {
		b.truncated = true
		return len(p), nil
	}
	remaining := b.limit - b.buf.Len()
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	s := b.buf.String()
	if b.truncated {
		s += "\n... (output truncated)"
	}
	return s
}
