package hooks

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry flattens hook declarations from every settings source. Conflicts
// do not override: all matching hooks run, priority only decides which copy
// survives deduplication.
type Registry struct {
	mu      sync.RWMutex
	entries map[EventName][]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[EventName][]Entry)}
}

// Load registers the declarations of one source, keyed by event name.
// Entries whose type is not "command" or that omit the command are rejected.
func (r *Registry) Load(source Source, declarations map[string][]Declaration) error {
	flattened := make(map[EventName][]Entry)
	for rawEvent, decls := range declarations {
		event := EventName(rawEvent)
		for _, decl := range decls {
			for _, spec := range decl.Hooks {
				if spec.Type != "command" {
					return fmt.Errorf("hook for %s: unsupported type %q", rawEvent, spec.Type)
				}
				if strings.TrimSpace(spec.Command) == "" {
					return fmt.Errorf("hook for %s: command is required", rawEvent)
				}
				flattened[event] = append(flattened[event], Entry{
					Event:      event,
					Matcher:    decl.Matcher,
					Sequential: decl.Sequential,
					Command:    spec.Command,
					Timeout:    time.Duration(spec.Timeout) * time.Millisecond,
					Source:     source,
				})
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for event, entries := range flattened {
		r.entries[event] = append(r.entries[event], entries...)
	}
	return nil
}

// Entries returns the hooks for an event ordered by source priority
// (project, then user, then extension), stable within a source.
func (r *Registry) Entries(event EventName) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.entries[event]
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Source < out[j].Source
	})
	return out
}

// Events lists the event names that have at least one hook.
func (r *Registry) Events() []EventName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]EventName, 0, len(r.entries))
	for event, entries := range r.entries {
		if len(entries) > 0 {
			names = append(names, event)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
