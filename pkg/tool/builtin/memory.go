package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/quill/pkg/tool"
)

// MemoryStore persists user-stated facts across sessions. The prompt builder
// appends the stored memory to the system instruction.
type MemoryStore struct {
	path string
	mu   sync.Mutex
}

// NewMemoryStore creates a store backed by the given file.
func NewMemoryStore(path string) *MemoryStore {
	return &MemoryStore{path: path}
}

// Append adds a fact as a dated bullet.
func (s *MemoryStore) Append(fact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating memory directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening memory file: %w", err)
	}
	defer f.Close()
	entry := fmt.Sprintf("- %s (%s)\n", strings.TrimSpace(fact), time.Now().Format("2006-01-02"))
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("writing memory: %w", err)
	}
	return nil
}

// Read returns the stored memory, empty if none exists.
func (s *MemoryStore) Read() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveMemoryTool records a fact the user asked to remember.
type SaveMemoryTool struct {
	Store *MemoryStore
}

func (t *SaveMemoryTool) Name() string        { return "save_memory" }
func (t *SaveMemoryTool) DisplayName() string { return "SaveMemory" }
func (t *SaveMemoryTool) Kind() tool.Kind     { return tool.KindThink }
func (t *SaveMemoryTool) Origin() tool.Origin { return tool.OriginBuiltin }

func (t *SaveMemoryTool) Description() string {
	return "Save a fact the user explicitly asked to remember. The fact is appended to persistent memory and included in future sessions."
}

func (t *SaveMemoryTool) Parameters() tool.ParameterSchema {
	return tool.ParameterSchema{
		Type: "object",
		Properties: map[string]tool.PropertySchema{
			"fact": {
				Type:        "string",
				Description: "The fact to remember, stated concisely",
			},
		},
		Required: []string{"fact"},
	}
}

func (t *SaveMemoryTool) Invocation(params map[string]any) (tool.Invocation, error) {
	fact, ok := params["fact"].(string)
	if !ok || strings.TrimSpace(fact) == "" {
		return nil, fmt.Errorf("fact parameter must be a non-empty string")
	}
	if t.Store == nil {
		return nil, fmt.Errorf("memory store not configured")
	}
	return &tool.Run{
		Display: "Save memory",
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			if err := t.Store.Append(fact); err != nil {
				return tool.Errorf("%v", err), nil
			}
			return tool.Ok(map[string]any{"saved": fact}), nil
		},
	}, nil
}
