package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Voyage-Pet-AI/vwork/pkg/toolexecutor"
)

// RegisterReportTools registers the report tools backed by a service.
func RegisterReportTools(registry *toolexecutor.Registry, service *Service) error {
	tools := []toolexecutor.ToolDefinition{
		runTool(service),
		listTool(service),
	}
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func runTool(service *Service) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "report__run",
		Description: "Generate a report from a prompt in an isolated session and return its text.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"prompt": map[string]interface{}{"type": "string", "description": "What the report should cover"},
			},
			"required": []string{"prompt"},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			prompt, _ := input["prompt"].(string)
			run, err := service.Generate(ctx, prompt)
			if err != nil {
				return "", err
			}
			if run.Status == StatusFailed {
				return "", fmt.Errorf("report run %s failed: %s", run.ID, run.Error)
			}
			return run.Text, nil
		},
	}
}

func listTool(service *Service) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "report__list",
		Description: "List past report runs, newest first.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Handler: func(_ context.Context, _ map[string]interface{}) (string, error) {
			runs := service.List()
			if len(runs) == 0 {
				return "No report runs yet.", nil
			}

			var b strings.Builder
			for _, run := range runs {
				line, err := json.Marshal(map[string]interface{}{
					"id":        run.ID,
					"status":    run.Status,
					"startedAt": run.StartedAt,
				})
				if err != nil {
					return "", err
				}
				b.Write(line)
				b.WriteByte('\n')
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}
}
