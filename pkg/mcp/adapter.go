package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/quill/pkg/tool"
)

const defaultCallTimeout = 60 * time.Second

// ServerTool adapts one remote tool definition to the registry interface.
// The registry name is namespaced so two servers can export the same tool.
type ServerTool struct {
	client  *Client
	def     ToolDefinition
	timeout time.Duration
}

// NewServerTool wraps a definition from a connected client.
func NewServerTool(client *Client, def ToolDefinition, timeout time.Duration) *ServerTool {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &ServerTool{client: client, def: def, timeout: timeout}
}

func (t *ServerTool) Name() string {
	return fmt.Sprintf("mcp__%s__%s", t.client.Server(), t.def.Name)
}

func (t *ServerTool) DisplayName() string {
	return fmt.Sprintf("%s (%s)", t.def.Name, t.client.Server())
}

func (t *ServerTool) Description() string { return t.def.Description }
func (t *ServerTool) Kind() tool.Kind     { return tool.KindOther }
func (t *ServerTool) Origin() tool.Origin { return tool.OriginRemote }

// Parameters converts the server's inputSchema to the registry schema shape.
func (t *ServerTool) Parameters() tool.ParameterSchema {
	schema := tool.ParameterSchema{
		Type:       "object",
		Properties: map[string]tool.PropertySchema{},
	}
	props, _ := t.def.InputSchema["properties"].(map[string]any)
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		p := tool.PropertySchema{
			Type:        stringField(prop, "type"),
			Description: stringField(prop, "description"),
		}
		if def, ok := prop["default"]; ok {
			p.Default = def
		}
		if enum, ok := prop["enum"].([]any); ok {
			for _, e := range enum {
				if s, ok := e.(string); ok {
					p.Enum = append(p.Enum, s)
				}
			}
		}
		schema.Properties[name] = p
	}
	if required, ok := t.def.InputSchema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func (t *ServerTool) Invocation(params map[string]any) (tool.Invocation, error) {
	return &tool.Run{
		Display: t.DisplayName(),
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			callCtx, cancel := context.WithTimeout(ctx, t.timeout)
			defer cancel()

			result, err := t.client.CallTool(callCtx, t.def.Name, params)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return tool.Errorf("remote tool call failed: %v", err), nil
			}
			return convertResult(t.client.Server(), t.def.Name, result), nil
		},
	}, nil
}

// convertResult flattens content blocks into a registry result. Text blocks
// concatenate into the content field; binary blocks keep their index.
func convertResult(server, name string, result *CallResult) *tool.Result {
	if result.IsError {
		var text strings.Builder
		for _, block := range result.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		msg := text.String()
		if msg == "" {
			msg = "remote tool reported an error"
		}
		return tool.Errorf("%s", msg)
	}

	data := map[string]any{"server": server, "tool": name}
	var text strings.Builder
	for i, block := range result.Content {
		switch block.Type {
		case "text":
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(block.Text)
		default:
			data[fmt.Sprintf("%s_%d", block.Type, i)] = map[string]any{
				"data":     block.Data,
				"mimeType": block.MimeType,
			}
		}
	}
	data["content"] = text.String()
	return tool.Ok(data)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
