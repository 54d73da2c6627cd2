package tool

import (
	"encoding/json"
	"fmt"
)

// Result is what a tool execution produces. Error carries the failure the
// model should see; Data is the machine payload; DisplayData is an abridged
// view for the terminal.
type Result struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	DisplayData   map[string]any `json:"display_data,omitempty"`
	ShouldAbridge bool           `json:"should_abridge,omitempty"`

	// DiffPreview is set by editing tools so approval prompts can show the
	// change before it lands.
	DiffPreview *DiffInfo `json:"diff_preview,omitempty"`
}

// DiffInfo describes a pending or applied file change.
type DiffInfo struct {
	FilePath     string `json:"file_path"`
	IsNew        bool   `json:"is_new"`
	IsDelete     bool   `json:"is_delete"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	UnifiedDiff  string `json:"unified_diff"`
	Preview      string `json:"preview"`
}

// Errorf builds a failed result.
func Errorf(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Ok builds a successful result with the given payload.
func Ok(data map[string]any) *Result {
	return &Result{Success: true, Data: data}
}

// Payload serializes the result for a function response.
func (r *Result) Payload() string {
	if r == nil {
		return "{}"
	}
	data, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"unserializable result"}`
	}
	return string(data)
}
