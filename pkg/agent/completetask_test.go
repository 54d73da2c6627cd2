package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/quill/pkg/tool"
)

func answerSchema() *tool.ParameterSchema {
	return &tool.ParameterSchema{
		Type: "object",
		Properties: map[string]tool.PropertySchema{
			"answer": {Type: "string", Description: "The final answer"},
		},
		Required: []string{"answer"},
	}
}

func TestCompleteTaskDeclarationDefault(t *testing.T) {
	decl := completeTaskDeclaration(nil)

	fn := decl["function"].(map[string]any)
	assert.Equal(t, CompleteTaskName, fn["name"])

	params := fn["parameters"].(map[string]any)
	assert.Equal(t, []string{"result"}, params["required"])

	result := params["properties"].(map[string]any)["result"].(map[string]any)
	assert.Equal(t, "string", result["type"])
}

func TestCompleteTaskDeclarationEmbedsOutputSchema(t *testing.T) {
	decl := completeTaskDeclaration(answerSchema())

	fn := decl["function"].(map[string]any)
	params := fn["parameters"].(map[string]any)
	result := params["properties"].(map[string]any)["result"].(map[string]any)

	assert.Equal(t, "object", result["type"])
	props := result["properties"].(map[string]any)
	assert.Contains(t, props, "answer")
}

func TestParseCompleteTaskPlainResult(t *testing.T) {
	result, problem := parseCompleteTask(`{"result":"all done"}`, nil)
	require.Empty(t, problem)
	assert.Equal(t, "all done", result)
}

func TestParseCompleteTaskMissingResult(t *testing.T) {
	result, problem := parseCompleteTask(`{}`, nil)
	assert.Nil(t, result)
	assert.Contains(t, problem, "result")
}

func TestParseCompleteTaskBadJSON(t *testing.T) {
	result, problem := parseCompleteTask(`{"result":`, nil)
	assert.Nil(t, result)
	assert.Contains(t, problem, "not valid JSON")
}

func TestParseCompleteTaskSchemaRejectsNonObject(t *testing.T) {
	result, problem := parseCompleteTask(`{"result":"just text"}`, answerSchema())
	assert.Nil(t, result)
	assert.Contains(t, problem, "object")
}

func TestParseCompleteTaskSchemaRejectsMissingField(t *testing.T) {
	result, problem := parseCompleteTask(`{"result":{"wrong":"field"}}`, answerSchema())
	assert.Nil(t, result)
	assert.Contains(t, problem, "output schema")
}

func TestParseCompleteTaskSchemaAccepts(t *testing.T) {
	result, problem := parseCompleteTask(`{"result":{"answer":"42"}}`, answerSchema())
	require.Empty(t, problem)
	obj, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "42", obj["answer"])
}
