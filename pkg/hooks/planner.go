package hooks

import (
	"regexp"
	"time"
)

// Plan is the set of hooks to run for one triggered event.
type Plan struct {
	Event      EventName
	Entries    []Entry
	Sequential bool
}

// Empty reports whether there is nothing to run.
func (p Plan) Empty() bool { return len(p.Entries) == 0 }

// BuildPlan selects and orders the hooks for a triggered event. matchValue is
// the tool name for tool events and the trigger for session events; an empty
// matcher matches everything. Duplicate (command, timeout) pairs keep their
// highest-priority occurrence. The plan is sequential if any surviving entry
// asks for it.
func BuildPlan(registry *Registry, event EventName, matchValue string) Plan {
	plan := Plan{Event: event}
	if registry == nil {
		return plan
	}

	type dedupeKey struct {
		command string
		timeout time.Duration
	}
	seen := make(map[dedupeKey]bool)

	for _, entry := range registry.Entries(event) {
		if !matcherMatches(entry.Matcher, matchValue) {
			continue
		}
		key := dedupeKey{entry.Command, entry.Timeout}
		if seen[key] {
			continue
		}
		seen[key] = true
		plan.Entries = append(plan.Entries, entry)
		if entry.Sequential {
			plan.Sequential = true
		}
	}
	return plan
}

// matcherMatches treats the matcher as a regular expression, falling back to
// a literal comparison when it does not compile.
func matcherMatches(matcher, value string) bool {
	if matcher == "" {
		return true
	}
	re, err := regexp.Compile(matcher)
	if err != nil {
		return matcher == value
	}
	return re.MatchString(value)
}
