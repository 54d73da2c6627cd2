package tool

import (
	"context"
)

// Kind classifies what a tool does to the world. Mutating kinds default to
// an ask-user policy posture; the rest default to allow.
type Kind string

const (
	KindRead    Kind = "read"
	KindEdit    Kind = "edit"
	KindDelete  Kind = "delete"
	KindMove    Kind = "move"
	KindSearch  Kind = "search"
	KindExecute Kind = "execute"
	KindThink   Kind = "think"
	KindFetch   Kind = "fetch"
	KindOther   Kind = "other"
)

// IsMutator reports whether the kind changes files or runs commands.
func (k Kind) IsMutator() bool {
	switch k {
	case KindEdit, KindDelete, KindMove, KindExecute:
		return true
	}
	return false
}

// Origin says where a tool came from.
type Origin string

const (
	OriginBuiltin Origin = "builtin"
	OriginLocal   Origin = "discovered-local"
	OriginRemote  Origin = "discovered-remote"
)

// OutputFunc receives streamed output chunks during execution.
type OutputFunc func(chunk string)

// Tool is a callable capability. Implementations bind parameters into an
// Invocation rather than executing directly, so the scheduler can ask about
// confirmation before anything runs.
type Tool interface {
	Name() string
	DisplayName() string
	Description() string
	Kind() Kind
	Origin() Origin
	Parameters() ParameterSchema
	// Invocation validates preconditions and binds params. Schema validation
	// happens before this is called.
	Invocation(params map[string]any) (Invocation, error)
}

// Invocation is a ready-to-run binding of a tool to concrete parameters.
type Invocation interface {
	DisplayName() string
	NeedsConfirmation() bool
	Execute(ctx context.Context, onOutput OutputFunc) (*Result, error)
}

// Run is a plain-function Invocation.
type Run struct {
	Display string
	Confirm bool
	Func    func(ctx context.Context, onOutput OutputFunc) (*Result, error)
}

func (r *Run) DisplayName() string     { return r.Display }
func (r *Run) NeedsConfirmation() bool { return r.Confirm }

func (r *Run) Execute(ctx context.Context, onOutput OutputFunc) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Func(ctx, onOutput)
}

// ToFunctionDeclaration converts a tool to the OpenAI function calling format.
func ToFunctionDeclaration(t Tool) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Parameters(),
		},
	}
}
