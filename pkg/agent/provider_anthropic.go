package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider for Anthropic Claude.
type AnthropicProvider struct {
	client anthropic.Client
	creds  *CredentialCache
	opts   ProviderOptions
}

// NewAnthropicProvider creates an Anthropic provider. The API key is pulled
// from creds before each call rather than baked into the client.
func NewAnthropicProvider(creds *CredentialCache, opts ProviderOptions) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(),
		creds:  creds,
		opts:   opts,
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Chat makes a single non-streaming call to the Messages API.
func (p *AnthropicProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDescriptor) (*LLMResponse, error) {
	params, key, err := p.buildRequest(ctx, systemPrompt, messages, tools)
	if err != nil {
		return nil, err
	}

	response, err := p.client.Messages.New(ctx, params, option.WithAPIKey(key))
	if err != nil {
		return nil, p.wrapErr(ctx, err)
	}

	return p.decodeMessage(*response)
}

// ChatStream makes a streaming call to the Messages API, reporting text
// deltas and tool-use recognition through cb, and resolves with the same
// aggregate response Chat would have produced.
func (p *AnthropicProvider) ChatStream(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDescriptor, cb *StreamCallbacks) (*LLMResponse, error) {
	params, key, err := p.buildRequest(ctx, systemPrompt, messages, tools)
	if err != nil {
		cb.fail(err)
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params, option.WithAPIKey(key))

	acc := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			wrapped := p.wrapErr(ctx, err)
			cb.fail(wrapped)
			return nil, wrapped
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				// Input is still streaming at this point; the full call
				// arrives with the aggregate response.
				cb.toolStart(ToolCall{ID: tu.ID, Name: tu.Name})
			}
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
				cb.text(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		wrapped := p.wrapErr(ctx, err)
		cb.fail(wrapped)
		return nil, wrapped
	}

	return p.decodeMessage(acc)
}

// MakeAssistantMessage encodes a model response as a transcript message.
func (p *AnthropicProvider) MakeAssistantMessage(resp *LLMResponse) Message {
	msg := Message{Role: RoleAssistant}
	if resp.Text != "" {
		msg.Blocks = append(msg.Blocks, Block{Type: BlockText, Text: resp.Text})
	}
	for i := range resp.ToolCalls {
		call := resp.ToolCalls[i]
		msg.Blocks = append(msg.Blocks, Block{Type: BlockToolUse, Call: &call})
	}
	return msg
}

// MakeToolResultMessage packs tool results into the user-role message the
// Messages API expects, preserving order.
func (p *AnthropicProvider) MakeToolResultMessage(results []ToolResult) Message {
	msg := Message{Role: RoleUser}
	for i := range results {
		res := results[i]
		msg.Blocks = append(msg.Blocks, Block{Type: BlockToolResult, Result: &res})
	}
	return msg
}

func (p *AnthropicProvider) buildRequest(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDescriptor) (anthropic.MessageNewParams, string, error) {
	key, err := p.creds.Refresh(ctx)
	if err != nil {
		return anthropic.MessageNewParams{}, "", &ProviderError{Provider: p.Name(), Err: err}
	}

	maxTokens := p.opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.opts.Model),
		Messages:  encodeAnthropicMessages(messages),
		MaxTokens: int64(maxTokens),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if p.opts.Temperature > 0 {
		params.Temperature = anthropic.Float(p.opts.Temperature)
	}
	if len(tools) > 0 {
		params.Tools = encodeAnthropicTools(tools)
	}
	return params, key, nil
}

func encodeAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			switch b.Type {
			case BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case BlockToolUse:
				if b.Call != nil {
					blocks = append(blocks, anthropic.NewToolUseBlock(b.Call.ID, b.Call.Input, b.Call.Name))
				}
			case BlockToolResult:
				if b.Result != nil {
					blocks = append(blocks, anthropic.NewToolResultBlock(b.Result.ToolCallID, b.Result.Content, b.Result.IsError))
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	return out
}

func encodeAnthropicTools(tools []ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
		}
		if tool.InputSchema != nil {
			toolParam.InputSchema = anthropic.ToolInputSchemaParam{
				Properties: tool.InputSchema["properties"],
			}
			if required, ok := tool.InputSchema["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			} else if raw, ok := tool.InputSchema["required"].([]interface{}); ok {
				strs := make([]string, 0, len(raw))
				for _, v := range raw {
					if s, ok := v.(string); ok {
						strs = append(strs, s)
					}
				}
				toolParam.InputSchema.Required = strs
			}
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

func (p *AnthropicProvider) decodeMessage(response anthropic.Message) (*LLMResponse, error) {
	content := ""
	toolCalls := []ToolCall{}

	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		case anthropic.ToolUseBlock:
			var input map[string]interface{}
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &input); err != nil {
				return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to parse tool input: %w", err)}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: input,
			})
		}
	}

	return &LLMResponse{
		StopReason: anthropicStopReason(string(response.StopReason), len(toolCalls)),
		Text:       content,
		ToolCalls:  toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

func anthropicStopReason(raw string, toolCalls int) StopReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return StopEndTurn
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "":
		if toolCalls > 0 {
			return StopToolUse
		}
		return StopEndTurn
	default:
		return StopReason(raw)
	}
}

func (p *AnthropicProvider) wrapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return &AbortedError{Err: err}
	}
	return &ProviderError{Provider: p.Name(), Err: err}
}
