package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/Voyage-Pet-AI/vwork/pkg/agent"
)

// Dispatcher routes model-issued tool calls through the registry. It
// implements agent.Dispatcher.
type Dispatcher struct {
	registry *Registry
	log      zerolog.Logger
}

// NewDispatcher wraps a registry.
func NewDispatcher(registry *Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: logger}
}

// Catalog exposes the registry catalog to the session.
func (d *Dispatcher) Catalog() []agent.ToolDescriptor {
	return d.registry.Catalog()
}

// Dispatch executes one tool call. Failures of any kind come back as an
// error-flagged result, never as a crash of the hosting round.
func (d *Dispatcher) Dispatch(ctx context.Context, call agent.ToolCall) agent.ToolResult {
	start := time.Now()
	content, err := d.execute(ctx, call)
	elapsed := time.Since(start)

	if err != nil {
		d.log.Warn().
			Str("tool", call.Name).
			Str("call_id", call.ID).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("Tool call failed")
		return agent.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("Error: %v", err),
			IsError:    true,
		}
	}

	d.log.Debug().
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Dur("elapsed", elapsed).
		Int("bytes", len(content)).
		Msg("Tool call succeeded")
	return agent.ToolResult{ToolCallID: call.ID, Content: content}
}

func (d *Dispatcher) execute(ctx context.Context, call agent.ToolCall) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	source, namespace, bare, err := SplitToolName(call.Name)
	if err != nil {
		return "", err
	}

	switch source {
	case SourceFile, SourceSearch, SourceWeb, SourceTodo, SourceReport:
		return d.executeFirstParty(ctx, call)
	default:
		return d.executeExternal(ctx, namespace, bare, call)
	}
}

func (d *Dispatcher) executeFirstParty(ctx context.Context, call agent.ToolCall) (string, error) {
	def, ok := d.registry.Lookup(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
	if err := d.registry.Validate(call.Name, call.Input); err != nil {
		return "", err
	}
	return def.Handler(ctx, call.Input)
}

func (d *Dispatcher) executeExternal(ctx context.Context, namespace, bare string, call agent.ToolCall) (string, error) {
	server, ok := d.registry.Server(namespace)
	if !ok {
		return "", fmt.Errorf("unknown tool server: %s", namespace)
	}
	if !d.registry.Allowed(namespace, bare) {
		return "", fmt.Errorf("tool %s is not on the allowlist for %s", bare, namespace)
	}

	result, err := server.CallTool(ctx, bare, call.Input)
	if err != nil {
		return "", err
	}
	return stringifyServerResult(result)
}

// stringifyServerResult flattens a tool-server payload into text for the
// model. Servers following the MCP shape put their text at content[0].text;
// anything else is pretty-printed as JSON.
func stringifyServerResult(result map[string]interface{}) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}

	if text := gjson.GetBytes(data, "content.0.text"); text.Exists() {
		return text.String(), nil
	}

	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return string(pretty), nil
}
