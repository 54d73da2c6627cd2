package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// AutoModel is the sentinel meaning "let the router decide".
const AutoModel = "auto"

const routerSourcePrefix = "agent-router/"

// Route is the routing decision for one turn.
type Route struct {
	Model     string        `json:"model"`
	Source    string        `json:"source"`
	Latency   time.Duration `json:"latency"`
	Reasoning string        `json:"reasoning,omitempty"`
}

// RoutingContext carries the per-turn state the strategies inspect.
type RoutingContext struct {
	// History is the conversation so far, newest last.
	History []Message
	// OverrideModel is the user-fixed model, or AutoModel.
	OverrideModel string
	// Signal exposes runtime degradation (quota exhaustion).
	Signal *FallbackSignal
}

// FallbackSignal is a process-wide flag flipped when the backend reports
// quota exhaustion. Read-mostly; safe for concurrent use.
type FallbackSignal struct {
	active atomic.Bool
	reason atomic.Value // string
}

// Trip marks the runtime degraded with the given reason.
func (s *FallbackSignal) Trip(reason string) {
	if s == nil {
		return
	}
	s.reason.Store(reason)
	s.active.Store(true)
}

// Clear resets the signal.
func (s *FallbackSignal) Clear() {
	if s == nil {
		return
	}
	s.active.Store(false)
}

// Active reports whether fallback mode is engaged.
func (s *FallbackSignal) Active() bool {
	return s != nil && s.active.Load()
}

// Reason returns the degradation reason, if any.
func (s *FallbackSignal) Reason() string {
	if s == nil {
		return ""
	}
	if v, ok := s.reason.Load().(string); ok {
		return v
	}
	return ""
}

// Strategy is one link in the routing chain. A nil route with a nil error
// means "pass" to the next strategy.
type Strategy interface {
	Name() string
	Route(ctx context.Context, rc *RoutingContext) (*Route, error)
}

// Router walks a prioritized strategy chain. The chain always terminates:
// the last strategy is total.
type Router struct {
	strategies []Strategy
}

// NewRouter builds the standard chain: fallback, override, classifier, default.
// The classifier is skipped when completer is nil.
func NewRouter(cfg RouterConfig, completer Completer) *Router {
	strategies := []Strategy{
		&FallbackStrategy{Model: cfg.FallbackModel},
		&OverrideStrategy{},
	}
	if completer != nil && cfg.ClassifierModel != "" {
		strategies = append(strategies, &ClassifierStrategy{
			Completer:  completer,
			Model:      cfg.ClassifierModel,
			FlashModel: cfg.FlashModel,
			ProModel:   cfg.ProModel,
		})
	}
	strategies = append(strategies, &DefaultStrategy{Model: cfg.DefaultModel})
	return &Router{strategies: strategies}
}

// NewRouterWithStrategies builds a router from an explicit chain.
func NewRouterWithStrategies(strategies ...Strategy) *Router {
	return &Router{strategies: strategies}
}

// RouterConfig names the models the standard chain can return.
type RouterConfig struct {
	DefaultModel    string
	FallbackModel   string
	FlashModel      string
	ProModel        string
	ClassifierModel string
}

// Completer is the slice of Client the classifier strategy needs.
type Completer interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Route selects the model for one turn. Exactly one route is always
// returned; strategy errors demote to a pass.
func (r *Router) Route(ctx context.Context, rc *RoutingContext) (*Route, error) {
	if rc == nil {
		rc = &RoutingContext{}
	}
	start := time.Now()
	for _, s := range r.strategies {
		route, err := s.Route(ctx, rc)
		if err != nil {
			// A failing strategy passes; only the terminal strategy may not fail.
			continue
		}
		if route == nil {
			continue
		}
		route.Source = routerSourcePrefix + s.Name()
		route.Latency = time.Since(start)
		return route, nil
	}
	return nil, fmt.Errorf("routing chain returned no decision")
}

// FallbackStrategy returns the designated fallback model when the runtime
// is degraded.
type FallbackStrategy struct {
	Model string
}

func (s *FallbackStrategy) Name() string { return "FallbackStrategy" }

func (s *FallbackStrategy) Route(_ context.Context, rc *RoutingContext) (*Route, error) {
	if s.Model == "" || !rc.Signal.Active() {
		return nil, nil
	}
	return &Route{
		Model:     s.Model,
		Reasoning: "runtime degraded: " + rc.Signal.Reason(),
	}, nil
}

// OverrideStrategy honors a user-fixed model.
type OverrideStrategy struct{}

func (s *OverrideStrategy) Name() string { return "OverrideStrategy" }

func (s *OverrideStrategy) Route(_ context.Context, rc *RoutingContext) (*Route, error) {
	override := strings.TrimSpace(rc.OverrideModel)
	if override == "" || strings.EqualFold(override, AutoModel) {
		return nil, nil
	}
	return &Route{
		Model:     override,
		Reasoning: "user-selected model",
	}, nil
}

const classifierPrompt = `You are a model router for a coding agent. Given the
recent conversation, decide which model tier should handle the next turn.

Choose "flash" for quick lookups, short answers, and trivial requests.
Choose "pro" for multi-step coding tasks, refactors, debugging, and anything
that needs sustained reasoning.

Respond with JSON only: {"reasoning": "...", "model_choice": "flash"|"pro"}`

// classifierTurns is how many clean turns the classifier sees.
const classifierTurns = 4

// ClassifierStrategy asks a small model which tier should handle the turn.
// Any transport or parse failure passes to the next strategy.
type ClassifierStrategy struct {
	Completer  Completer
	Model      string
	FlashModel string
	ProModel   string
}

func (s *ClassifierStrategy) Name() string { return "ClassifierStrategy" }

type classifierVerdict struct {
	Reasoning   string `json:"reasoning"`
	ModelChoice string `json:"model_choice"`
}

func (s *ClassifierStrategy) Route(ctx context.Context, rc *RoutingContext) (*Route, error) {
	turns := cleanTurns(rc.History, classifierTurns)
	if len(turns) == 0 {
		return nil, nil
	}

	messages := append([]Message{{Role: "system", Content: classifierPrompt}}, turns...)
	resp, err := s.Completer.ChatCompletion(ctx, ChatRequest{
		Model:     s.Model,
		Messages:  messages,
		MaxTokens: 200,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty classifier response")
	}

	verdict, err := parseClassifierVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	var chosen string
	switch strings.ToLower(strings.TrimSpace(verdict.ModelChoice)) {
	case "flash":
		chosen = s.FlashModel
	case "pro":
		chosen = s.ProModel
	default:
		return nil, fmt.Errorf("unknown model choice %q", verdict.ModelChoice)
	}
	if chosen == "" {
		return nil, nil
	}

	return &Route{Model: chosen, Reasoning: verdict.Reasoning}, nil
}

func parseClassifierVerdict(content string) (*classifierVerdict, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}
	var verdict classifierVerdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return nil, fmt.Errorf("parsing classifier verdict: %w", err)
	}
	return &verdict, nil
}

// cleanTurns returns the last n user/assistant text turns, with tool calls
// and tool responses filtered out.
func cleanTurns(history []Message, n int) []Message {
	var turns []Message
	for i := len(history) - 1; i >= 0 && len(turns) < n; i-- {
		msg := history[i]
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if len(msg.ToolCalls) > 0 || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		turns = append(turns, Message{Role: msg.Role, Content: msg.Content})
	}
	// Reverse back to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}

// DefaultStrategy is the terminal strategy; it is a total function.
type DefaultStrategy struct {
	Model string
}

func (s *DefaultStrategy) Name() string { return "DefaultStrategy" }

func (s *DefaultStrategy) Route(_ context.Context, _ *RoutingContext) (*Route, error) {
	return &Route{
		Model:     s.Model,
		Reasoning: "project default",
	}, nil
}
