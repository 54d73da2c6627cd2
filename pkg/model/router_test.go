package model

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	resp *ChatResponse
	err  error
	req  ChatRequest
}

func (s *stubCompleter) ChatCompletion(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.req = req
	return s.resp, s.err
}

func classifierResponse(content string) *ChatResponse {
	return &ChatResponse{
		Choices: []Choice{{Message: Message{Role: "assistant", Content: content}}},
	}
}

func testRouterConfig() RouterConfig {
	return RouterConfig{
		DefaultModel:    "default-model",
		FallbackModel:   "fallback-model",
		FlashModel:      "flash-model",
		ProModel:        "pro-model",
		ClassifierModel: "classifier-model",
	}
}

func TestRouterDefaultWhenNothingElseApplies(t *testing.T) {
	router := NewRouter(testRouterConfig(), nil)

	route, err := router.Route(context.Background(), &RoutingContext{
		OverrideModel: AutoModel,
	})
	require.NoError(t, err)
	assert.Equal(t, "default-model", route.Model)
	assert.Equal(t, "agent-router/DefaultStrategy", route.Source)
}

func TestRouterOverrideWins(t *testing.T) {
	router := NewRouter(testRouterConfig(), nil)

	route, err := router.Route(context.Background(), &RoutingContext{
		OverrideModel: "my-pinned-model",
	})
	require.NoError(t, err)
	assert.Equal(t, "my-pinned-model", route.Model)
	assert.Equal(t, "agent-router/OverrideStrategy", route.Source)
}

func TestRouterFallbackBeatsOverride(t *testing.T) {
	router := NewRouter(testRouterConfig(), nil)

	signal := &FallbackSignal{}
	signal.Trip("quota exhausted")

	route, err := router.Route(context.Background(), &RoutingContext{
		OverrideModel: "my-pinned-model",
		Signal:        signal,
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback-model", route.Model)
	assert.Equal(t, "agent-router/FallbackStrategy", route.Source)
	assert.Contains(t, route.Reasoning, "quota exhausted")
}

func TestRouterClassifierChoosesTier(t *testing.T) {
	tests := []struct {
		choice string
		want   string
	}{
		{"flash", "flash-model"},
		{"pro", "pro-model"},
	}

	for _, tt := range tests {
		t.Run(tt.choice, func(t *testing.T) {
			completer := &stubCompleter{
				resp: classifierResponse(fmt.Sprintf(`{"reasoning":"because","model_choice":%q}`, tt.choice)),
			}
			router := NewRouter(testRouterConfig(), completer)

			route, err := router.Route(context.Background(), &RoutingContext{
				OverrideModel: AutoModel,
				History: []Message{
					{Role: "user", Content: "refactor this package"},
				},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, route.Model)
			assert.Equal(t, "agent-router/ClassifierStrategy", route.Source)
			assert.Equal(t, "because", route.Reasoning)
			assert.Equal(t, "classifier-model", completer.req.Model)
		})
	}
}

func TestRouterClassifierErrorFallsThrough(t *testing.T) {
	completer := &stubCompleter{err: fmt.Errorf("backend down")}
	router := NewRouter(testRouterConfig(), completer)

	route, err := router.Route(context.Background(), &RoutingContext{
		OverrideModel: AutoModel,
		History:       []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "default-model", route.Model)
	assert.Equal(t, "agent-router/DefaultStrategy", route.Source)
}

func TestRouterClassifierGarbageFallsThrough(t *testing.T) {
	completer := &stubCompleter{resp: classifierResponse("not json at all")}
	router := NewRouter(testRouterConfig(), completer)

	route, err := router.Route(context.Background(), &RoutingContext{
		OverrideModel: AutoModel,
		History:       []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "default-model", route.Model)
}

func TestRouterTotality(t *testing.T) {
	// Even an empty context routes somewhere.
	router := NewRouter(testRouterConfig(), nil)

	route, err := router.Route(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, "default-model", route.Model)
	assert.NotEmpty(t, route.Source)
}

func TestCleanTurnsFiltersToolTraffic(t *testing.T) {
	history := []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{{ID: "c1"}}},
		{Role: "tool", Content: "result", ToolCallID: "c1"},
		{Role: "assistant", Content: "done with the tool"},
		{Role: "user", Content: "second"},
		{Role: "assistant", Content: "answer"},
		{Role: "user", Content: "third"},
	}

	turns := cleanTurns(history, 4)
	require.Len(t, turns, 4)
	assert.Equal(t, "done with the tool", turns[0].Content)
	assert.Equal(t, "second", turns[1].Content)
	assert.Equal(t, "answer", turns[2].Content)
	assert.Equal(t, "third", turns[3].Content)
	for _, turn := range turns {
		assert.Empty(t, turn.ToolCalls)
	}
}

func TestParseClassifierVerdictFencedJSON(t *testing.T) {
	verdict, err := parseClassifierVerdict("```json\n{\"reasoning\":\"r\",\"model_choice\":\"pro\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "pro", verdict.ModelChoice)
}

func TestFallbackSignal(t *testing.T) {
	var nilSignal *FallbackSignal
	assert.False(t, nilSignal.Active())

	signal := &FallbackSignal{}
	assert.False(t, signal.Active())

	signal.Trip("quota")
	assert.True(t, signal.Active())
	assert.Equal(t, "quota", signal.Reason())

	signal.Clear()
	assert.False(t, signal.Active())
}
