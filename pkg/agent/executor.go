package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/odvcencio/quill/pkg/chat"
	"github.com/odvcencio/quill/pkg/hooks"
	"github.com/odvcencio/quill/pkg/logging"
	"github.com/odvcencio/quill/pkg/model"
	"github.com/odvcencio/quill/pkg/scheduler"
	"github.com/odvcencio/quill/pkg/tool"
)

const finalWarning = "You have reached the maximum number of turns. Call " +
	CompleteTaskName + " now with the best result you have, even if partial."

const continueNudge = "Continue working. When the task is finished, call " +
	CompleteTaskName + " with the final result."

// Config wires an executor. Router, hook registry, and logger are optional.
type Config struct {
	Definition   Definition
	Backend      chat.Backend
	Registry     *tool.Registry
	Scheduler    *scheduler.Scheduler
	Router       *model.Router
	HookRegistry *hooks.Registry
	HookExecutor *hooks.Executor
	Logger       *logging.Logger

	// OverrideModel is the user's explicit model choice; "auto" defers to
	// the router.
	OverrideModel string
	Signal        *model.FallbackSignal

	// ContextWindow and CompressThreshold arm auto-compression of the chat
	// history; zero values take the chat defaults. CompressModel summarizes.
	ContextWindow     int
	CompressThreshold float64
	CompressModel     string
}

// Executor runs the agent turn loop.
type Executor struct {
	cfg Config

	// toolFilter narrows the advertised tools when a BeforeToolSelection
	// hook returned a toolConfig. Always a subset of the allow-list.
	toolFilter []string
}

// New validates the wiring.
func New(cfg Config) (*Executor, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("agent %q: backend is required", cfg.Definition.Name)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent %q: tool registry is required", cfg.Definition.Name)
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("agent %q: scheduler is required", cfg.Definition.Name)
	}
	if cfg.HookExecutor == nil {
		cfg.HookExecutor = &hooks.Executor{Logger: cfg.Logger}
	}
	return &Executor{cfg: cfg}, nil
}

// Run executes the loop until the model completes the task or a budget
// expires. Transport errors other than quota exhaustion and cancellation
// are returned as errors.
func (e *Executor) Run(ctx context.Context, params map[string]any) (*RunResult, error) {
	def := e.cfg.Definition
	res := &RunResult{Reason: TerminateMaxTurns}
	if def.MaxTurns <= 0 {
		return res, nil
	}

	runCtx := ctx
	cancel := func() {}
	if def.TimeBudget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, def.TimeBudget)
	}
	defer cancel()

	prompt := fillTemplate(def.QueryTemplate, params)

	before := e.fireHooks(runCtx, hooks.EventBeforeAgent, "", map[string]any{
		"prompt": prompt,
	})
	if before.Blocked {
		res.Reason = TerminateCancelled
		res.Text = before.BlockReason
		return res, nil
	}
	if len(before.AdditionalContext) > 0 {
		prompt += "\n\n" + strings.Join(before.AdditionalContext, "\n\n")
	}

	e.applyToolSelection(runCtx)

	c := chat.New(e.cfg.Backend, chat.Options{
		SystemPrompt:      def.SystemPrompt,
		Model:             def.Model,
		Temperature:       def.Temperature,
		MaxTokens:         def.MaxTokens,
		ContextWindow:     e.cfg.ContextWindow,
		CompressThreshold: e.cfg.CompressThreshold,
		CompressModel:     e.cfg.CompressModel,
	})
	c.SetTools(e.declarations())

	// AfterAgent fires on the parent context: the run may have ended by
	// exhausting its own budget.
	finish := func() (*RunResult, error) {
		e.fireHooks(ctx, hooks.EventAfterAgent, "", map[string]any{
			"prompt":          prompt,
			"prompt_response": res.Text,
		})
		return res, nil
	}

	next := model.Message{Role: "user", Content: prompt}

	for res.Turns < def.MaxTurns {
		res.Turns++
		done, err := e.turn(runCtx, c, &next, res)
		if err != nil {
			return nil, err
		}
		if done {
			return finish()
		}
	}

	// One last chance to surface a partial result.
	next = model.Message{Role: "user", Content: finalWarning}
	res.Turns++
	done, err := e.turn(runCtx, c, &next, res)
	if err != nil {
		return nil, err
	}
	if !done {
		res.Reason = TerminateMaxTurns
	}
	return finish()
}

// applyToolSelection lets BeforeToolSelection hooks narrow the advertised
// tool list. Names outside the definition's allow-list are ignored; a
// filter that excludes everything is dropped.
func (e *Executor) applyToolSelection(ctx context.Context) {
	outcome := e.fireHooks(ctx, hooks.EventBeforeToolSelection, "", map[string]any{
		"llm_request": map[string]any{
			"model": e.cfg.Definition.Model,
			"tools": e.cfg.Registry.AllNames(),
		},
	})
	if len(outcome.ToolConfig) == 0 {
		return
	}
	var config struct {
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal(outcome.ToolConfig, &config); err != nil || len(config.Tools) == 0 {
		return
	}

	filter := config.Tools
	if len(e.cfg.Definition.Tools) > 0 {
		filter = filter[:0]
		for _, name := range config.Tools {
			if member(e.cfg.Definition.Tools, name) {
				filter = append(filter, name)
			}
		}
	}
	if len(filter) == 0 {
		e.cfg.Logger.Warn(logging.CategoryAgent, "tool_selection_ignored", "toolConfig excluded every allowed tool", map[string]any{
			"agent": e.cfg.Definition.Name,
		})
		return
	}
	e.toolFilter = filter
}

// turn executes one loop iteration. It reports true when the run reached a
// terminal condition, with res updated accordingly.
func (e *Executor) turn(ctx context.Context, c *chat.Chat, next *model.Message, res *RunResult) (bool, error) {
	if ctx.Err() != nil {
		res.Reason = terminalFor(ctx)
		return true, nil
	}

	e.maybeCompress(ctx, c)
	e.routeModel(ctx, c)

	text, calls, done, err := e.modelExchange(ctx, c, next, res)
	if done || err != nil {
		return done, err
	}
	if text != "" {
		res.Text = text
	}

	if idx := findCall(calls, CompleteTaskName); idx >= 0 {
		done := e.handleCompleteTask(c, calls, idx, res)
		if !done {
			// The correcting tool response is already in history; resend it
			// as is so the error stays the last message.
			*next = model.Message{}
		}
		return done, nil
	}

	if len(calls) == 0 {
		*next = model.Message{Role: "user", Content: continueNudge}
		return false, nil
	}

	responses := e.runToolBatch(ctx, calls)
	c.Append(responses...)
	*next = model.Message{}
	return false, nil
}

// modelExchange fires BeforeModel hooks, performs the send, and fires
// AfterModel hooks. done is true when the run terminated (quota, budget,
// cancellation).
func (e *Executor) modelExchange(ctx context.Context, c *chat.Chat, next *model.Message, res *RunResult) (string, []model.ToolCall, bool, error) {
	var text string
	var calls []model.ToolCall
	synthetic := false

	before := e.fireHooks(ctx, hooks.EventBeforeModel, "", map[string]any{
		"llm_request": map[string]any{"model": c.Model(), "message": next.Content},
	})
	if len(before.ModifiedRequest) > 0 {
		e.applyRequestOverride(c, next, before.ModifiedRequest)
	}
	if len(before.SyntheticResponse) > 0 {
		text = parseSyntheticContent(before.SyntheticResponse)
		assistant := model.Message{Role: "assistant", Content: text}
		if next.Role != "" {
			c.Append(*next, assistant)
		} else {
			c.Append(assistant)
		}
		synthetic = true
	}

	if !synthetic {
		events, errs := c.Send(ctx, *next)
		var err error
		text, calls, err = chat.Collect(events, errs)
		if err != nil {
			var apiErr *model.APIError
			switch {
			case errors.As(err, &apiErr) && apiErr.IsQuotaExceeded():
				res.Reason = TerminateQuotaExceeded
			case ctx.Err() != nil:
				res.Reason = terminalFor(ctx)
			default:
				return "", nil, false, err
			}
			return "", nil, true, nil
		}
	}

	after := e.fireHooks(ctx, hooks.EventAfterModel, "", map[string]any{
		"llm_request":  map[string]any{"model": c.Model()},
		"llm_response": map[string]any{"content": text, "tool_calls": len(calls)},
	})
	if len(after.ModifiedResponse) > 0 {
		if replaced := parseSyntheticContent(after.ModifiedResponse); replaced != "" {
			text = replaced
		}
	}
	return text, calls, false, nil
}

// handleCompleteTask validates the result argument. Invalid output
// synthesizes an error response so the model can correct itself; any
// sibling calls get cancelled responses to keep history aligned. Responses
// are appended in the original call order.
func (e *Executor) handleCompleteTask(c *chat.Chat, calls []model.ToolCall, idx int, res *RunResult) bool {
	call := calls[idx]
	result, problem := parseCompleteTask(call.Function.Arguments, e.cfg.Definition.OutputSchema)

	responses := make([]model.Message, len(calls))
	for i, sibling := range calls {
		if i != idx {
			responses[i] = toolResponse(sibling, `{"error":"cancelled","cancelled":true}`)
		}
	}

	if problem != "" {
		payload, _ := json.Marshal(map[string]any{"error": problem})
		responses[idx] = toolResponse(call, string(payload))
		c.Append(responses...)
		return false
	}

	responses[idx] = toolResponse(call, `{"status":"ok"}`)
	c.Append(responses...)
	res.Result = result
	res.Reason = TerminateTaskComplete
	return true
}

// runToolBatch validates, hooks, and dispatches one batch, returning one
// tool-role message per call in the original call order.
func (e *Executor) runToolBatch(ctx context.Context, calls []model.ToolCall) []model.Message {
	responses := make([]model.Message, len(calls))
	inputs := make(map[string]map[string]any, len(calls))
	index := make(map[string]int, len(calls))
	var reqs []scheduler.Request

	for i, call := range calls {
		// Some providers omit call ids; the scheduler and the tool-role
		// response both key on them.
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
			calls[i].ID = call.ID
		}
		name := call.Function.Name
		fail := func(reason string) {
			payload, _ := json.Marshal(map[string]any{"error": reason})
			responses[i] = toolResponse(call, string(payload))
		}

		if !e.allowed(name) {
			fail(fmt.Sprintf("tool %q is not available to this agent", name))
			continue
		}
		t, err := e.cfg.Registry.Get(name)
		if err != nil {
			fail(fmt.Sprintf("unknown tool %q", name))
			continue
		}
		params, err := tool.ParseArguments(call.Function.Arguments)
		if err != nil {
			fail(fmt.Sprintf("invalid arguments: %v", err))
			continue
		}
		validated, err := t.Parameters().Validate(params, true)
		if err != nil {
			fail(fmt.Sprintf("invalid parameters: %v", err))
			continue
		}

		outcome := e.fireHooks(ctx, hooks.EventBeforeTool, name, map[string]any{
			"tool_name":  name,
			"tool_input": validated,
		})
		if outcome.Blocked {
			reason := outcome.BlockReason
			if reason == "" {
				reason = "blocked by hook"
			}
			fail(reason)
			continue
		}

		index[call.ID] = i
		inputs[call.ID] = validated
		reqs = append(reqs, scheduler.Request{
			ID:              call.ID,
			Name:            name,
			Params:          validated,
			RequireApproval: outcome.Ask,
		})
	}

	if len(reqs) > 0 {
		for _, resp := range <-e.cfg.Scheduler.Dispatch(ctx, reqs) {
			i := index[resp.ID]
			payload := responsePayload(resp)

			after := e.fireHooks(ctx, hooks.EventAfterTool, resp.Name, map[string]any{
				"tool_name":     resp.Name,
				"tool_input":    inputs[resp.ID],
				"tool_response": payload,
			})
			if len(after.AdditionalContext) > 0 {
				payload += "\n\n" + strings.Join(after.AdditionalContext, "\n")
			}
			responses[i] = toolResponse(calls[i], payload)
		}
	}
	return responses
}

func (e *Executor) routeModel(ctx context.Context, c *chat.Chat) {
	if e.cfg.Router == nil {
		return
	}
	route, err := e.cfg.Router.Route(ctx, &model.RoutingContext{
		History:       c.History(),
		OverrideModel: e.cfg.OverrideModel,
		Signal:        e.cfg.Signal,
	})
	if err != nil || route == nil {
		return
	}
	c.SetModel(route.Model)
	e.cfg.Logger.Debug(logging.CategoryAgent, "model_routed", "model selected for turn", map[string]any{
		"agent":  e.cfg.Definition.Name,
		"model":  route.Model,
		"source": route.Source,
	})
}

func (e *Executor) fireHooks(ctx context.Context, event hooks.EventName, matchValue string, extra map[string]any) hooks.Outcome {
	plan := hooks.BuildPlan(e.cfg.HookRegistry, event, matchValue)
	if plan.Empty() {
		return hooks.Outcome{}
	}
	outcome := e.cfg.HookExecutor.Execute(ctx, plan, e.cfg.HookExecutor.BuildPayload(event, extra))
	for _, msg := range outcome.SystemMessages {
		e.cfg.Logger.Info(logging.CategoryHooks, "hook_message", msg, map[string]any{
			"event": string(event),
		})
	}
	return outcome
}

func (e *Executor) applyRequestOverride(c *chat.Chat, next *model.Message, raw json.RawMessage) {
	var override struct {
		Model   string `json:"model"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &override); err != nil {
		return
	}
	if override.Model != "" {
		c.SetModel(override.Model)
	}
	if override.Content != "" && next.Role != "" {
		next.Content = override.Content
	}
}

// maybeCompress replaces older history with a summary once usage crosses
// the threshold. A failed compression is logged and the turn proceeds on
// the full history.
func (e *Executor) maybeCompress(ctx context.Context, c *chat.Chat) {
	if !c.ShouldCompress() {
		return
	}
	e.fireHooks(ctx, hooks.EventPreCompress, "", map[string]any{"trigger": "auto"})
	compressed, err := c.Compress(ctx)
	if err != nil {
		e.cfg.Logger.Warn(logging.CategoryChat, "compress_failed", "continuing with full history", map[string]any{
			"error": err.Error(),
		})
		return
	}
	e.cfg.Logger.Info(logging.CategoryChat, "compressed", "history compressed", map[string]any{
		"replaced":    compressed.Replaced,
		"kept":        compressed.Kept,
		"tokens_then": compressed.TokensThen,
		"tokens_now":  compressed.TokensNow,
	})
}

func (e *Executor) allowed(name string) bool {
	if len(e.cfg.Definition.Tools) > 0 && !member(e.cfg.Definition.Tools, name) {
		return false
	}
	if len(e.toolFilter) > 0 && !member(e.toolFilter, name) {
		return false
	}
	return true
}

func member(list []string, name string) bool {
	for _, entry := range list {
		if entry == name {
			return true
		}
	}
	return false
}

// declarations advertises the allow-list, narrowed by any tool-selection
// filter, plus complete_task.
func (e *Executor) declarations() []map[string]any {
	names := e.cfg.Definition.Tools
	if len(e.toolFilter) > 0 {
		names = e.toolFilter
	}
	decls := e.cfg.Registry.FunctionDeclarationsFiltered(names)
	return append(decls, completeTaskDeclaration(e.cfg.Definition.OutputSchema))
}

func parseSyntheticContent(raw json.RawMessage) string {
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Content != "" {
		return obj.Content
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	return string(raw)
}

func responsePayload(resp scheduler.Response) string {
	if resp.Result != nil && resp.Result.Success {
		return resp.Result.Payload()
	}
	details := map[string]any{"error": resp.Error}
	if resp.State == scheduler.StateCancelled {
		details["cancelled"] = true
	}
	payload, _ := json.Marshal(details)
	return string(payload)
}

func toolResponse(call model.ToolCall, payload string) model.Message {
	return model.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Name:       call.Function.Name,
		Content:    payload,
	}
}

func findCall(calls []model.ToolCall, name string) int {
	for i, call := range calls {
		if call.Function.Name == name {
			return i
		}
	}
	return -1
}

func terminalFor(ctx context.Context) TerminateReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TerminateTimeout
	}
	return TerminateCancelled
}
