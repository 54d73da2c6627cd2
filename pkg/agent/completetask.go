package agent

import (
	"encoding/json"
	"fmt"

	"github.com/odvcencio/quill/pkg/tool"
)

// CompleteTaskName is the mandatory terminal tool every agent carries.
const CompleteTaskName = "complete_task"

// completeTaskDeclaration builds the function declaration. The result
// property carries the agent's output schema when one is declared.
func completeTaskDeclaration(schema *tool.ParameterSchema) map[string]any {
	result := map[string]any{
		"type":        "string",
		"description": "The final result of the task",
	}
	if schema != nil {
		encoded, _ := json.Marshal(schema)
		var decoded map[string]any
		if json.Unmarshal(encoded, &decoded) == nil {
			decoded["description"] = "The final result of the task"
			result = decoded
		}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        CompleteTaskName,
			"description": "Declare the task finished and report its final result. Call this exactly once, when the work is done.",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"result": result,
				},
				"required": []string{"result"},
			},
		},
	}
}

// parseCompleteTask extracts and validates the result argument. The second
// return is a model-correctable validation message.
func parseCompleteTask(arguments string, schema *tool.ParameterSchema) (any, string) {
	var args map[string]any
	if arguments == "" {
		arguments = "{}"
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Sprintf("complete_task arguments are not valid JSON: %v", err)
	}
	result, ok := args["result"]
	if !ok {
		return nil, "complete_task requires a result argument"
	}
	if schema == nil {
		return result, ""
	}
	obj, ok := result.(map[string]any)
	if !ok {
		return nil, "complete_task result must be an object matching the declared output schema"
	}
	validated, err := schema.Validate(obj, true)
	if err != nil {
		return nil, fmt.Sprintf("complete_task result does not match the output schema: %v", err)
	}
	return validated, ""
}
