package agent

import (
	"context"
	"fmt"
	"regexp"

	"github.com/odvcencio/quill/pkg/chat"
	"github.com/odvcencio/quill/pkg/hooks"
	"github.com/odvcencio/quill/pkg/logging"
	"github.com/odvcencio/quill/pkg/model"
	"github.com/odvcencio/quill/pkg/policy"
	"github.com/odvcencio/quill/pkg/scheduler"
	"github.com/odvcencio/quill/pkg/tool"
)

var placeholderPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// SubAgentTool exposes an agent definition as a callable tool. Every
// invocation gets its own scheduler: the parent's scheduler is mid-batch
// while a sub-agent runs, so a nested dispatch on it would never start.
type SubAgentTool struct {
	Definition Definition

	Backend      chat.Backend
	Registry     *tool.Registry
	Policy       *policy.Engine
	Router       *model.Router
	HookRegistry *hooks.Registry
	HookExecutor *hooks.Executor
	Logger       *logging.Logger
	WorkDir      string
}

func (t *SubAgentTool) Name() string        { return t.Definition.Name }
func (t *SubAgentTool) DisplayName() string { return "Agent " + t.Definition.Name }
func (t *SubAgentTool) Kind() tool.Kind     { return tool.KindThink }
func (t *SubAgentTool) Origin() tool.Origin { return tool.OriginBuiltin }

func (t *SubAgentTool) Description() string {
	return fmt.Sprintf("Delegate a task to the %s agent and return its result.", t.Definition.Name)
}

// Parameters derives the schema from the query template: one required
// string parameter per placeholder, or a single task parameter when the
// template declares none.
func (t *SubAgentTool) Parameters() tool.ParameterSchema {
	names := templatePlaceholders(t.Definition.QueryTemplate)
	if len(names) == 0 {
		return tool.ParameterSchema{
			Type: "object",
			Properties: map[string]tool.PropertySchema{
				"task": {
					Type:        "string",
					Description: "The task for the agent to carry out",
				},
			},
			Required: []string{"task"},
		}
	}
	props := make(map[string]tool.PropertySchema, len(names))
	for _, name := range names {
		props[name] = tool.PropertySchema{
			Type:        "string",
			Description: "Value for the " + name + " template placeholder",
		}
	}
	return tool.ParameterSchema{Type: "object", Properties: props, Required: names}
}

func (t *SubAgentTool) Invocation(params map[string]any) (tool.Invocation, error) {
	if t.Backend == nil || t.Registry == nil {
		return nil, fmt.Errorf("sub-agent %q is not wired", t.Definition.Name)
	}
	return &tool.Run{
		Display: "Run agent " + t.Definition.Name,
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			exec, err := New(Config{
				Definition:   t.Definition,
				Backend:      t.Backend,
				Registry:     t.Registry,
				Scheduler:    scheduler.New(t.Registry, t.Policy, t.Logger, t.WorkDir),
				Router:       t.Router,
				HookRegistry: t.HookRegistry,
				HookExecutor: t.HookExecutor,
				Logger:       t.Logger,
			})
			if err != nil {
				return nil, err
			}
			res, err := exec.Run(ctx, params)
			if err != nil {
				return nil, err
			}
			if res.Text != "" {
				onOutput(res.Text)
			}
			if res.Reason != TerminateTaskComplete {
				return tool.Errorf("agent %s terminated: %s", t.Definition.Name, res.Reason), nil
			}
			return tool.Ok(map[string]any{
				"result": res.Result,
				"turns":  res.Turns,
			}), nil
		},
	}, nil
}

func templatePlaceholders(template string) []string {
	var names []string
	seen := map[string]bool{}
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	return names
}
