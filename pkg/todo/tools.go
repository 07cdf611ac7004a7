package todo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Voyage-Pet-AI/vwork/pkg/toolexecutor"
)

// RegisterTodoTools registers the todo tools backed by a notebook.
func RegisterTodoTools(registry *toolexecutor.Registry, notebook *Notebook) error {
	tools := []toolexecutor.ToolDefinition{
		readTool(notebook),
		addTool(notebook),
		completeTool(notebook),
	}
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func readTool(notebook *Notebook) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "todo__read",
		Description: "Read the task list for a day. Defaults to today.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"date": map[string]interface{}{"type": "string", "description": "Day in YYYY-MM-DD format (default today)"},
			},
		},
		Handler: func(_ context.Context, input map[string]interface{}) (string, error) {
			date := dateOrToday(input)
			items, err := notebook.Read(date)
			if err != nil {
				return "", err
			}
			if len(items) == 0 {
				return fmt.Sprintf("No tasks for %s.", date), nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Tasks for %s:\n", date)
			for _, item := range items {
				mark := " "
				if item.Done {
					mark = "x"
				}
				fmt.Fprintf(&b, "%d. [%s] %s\n", item.Index, mark, item.Text)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}
}

func addTool(notebook *Notebook) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "todo__add",
		Description: "Add a task to a day's list. Defaults to today.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string", "description": "Task text, one line"},
				"date": map[string]interface{}{"type": "string", "description": "Day in YYYY-MM-DD format (default today)"},
			},
			"required": []string{"text"},
		},
		Handler: func(_ context.Context, input map[string]interface{}) (string, error) {
			text, _ := input["text"].(string)
			date := dateOrToday(input)
			item, err := notebook.Add(date, text)
			if err != nil {
				return "", err
			}
			data, err := json.Marshal(map[string]interface{}{
				"date":  date,
				"index": item.Index,
				"text":  item.Text,
			})
			return string(data), err
		},
	}
}

func completeTool(notebook *Notebook) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "todo__complete",
		Description: "Mark a task done by its position in the day's list. Defaults to today.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"index": map[string]interface{}{"type": "number", "description": "1-based task position"},
				"date":  map[string]interface{}{"type": "string", "description": "Day in YYYY-MM-DD format (default today)"},
			},
			"required": []string{"index"},
		},
		Handler: func(_ context.Context, input map[string]interface{}) (string, error) {
			raw, ok := input["index"].(float64)
			if !ok {
				return "", fmt.Errorf("index is required")
			}
			date := dateOrToday(input)
			item, err := notebook.Complete(date, int(raw))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Completed %d. %s", item.Index, item.Text), nil
		},
	}
}

func dateOrToday(input map[string]interface{}) string {
	if date, ok := input["date"].(string); ok && strings.TrimSpace(date) != "" {
		return date
	}
	return Today()
}
