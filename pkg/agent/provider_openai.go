package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for OpenAI chat completions.
type OpenAIProvider struct {
	client openai.Client
	creds  *CredentialCache
	opts   ProviderOptions
}

// NewOpenAIProvider creates an OpenAI provider. The API key is pulled from
// creds before each call rather than baked into the client.
func NewOpenAIProvider(creds *CredentialCache, opts ProviderOptions) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(),
		creds:  creds,
		opts:   opts,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Chat makes a single non-streaming chat completion call.
func (p *OpenAIProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDescriptor) (*LLMResponse, error) {
	params, key, err := p.buildRequest(ctx, systemPrompt, messages, tools)
	if err != nil {
		return nil, err
	}

	response, err := p.client.Chat.Completions.New(ctx, params, option.WithAPIKey(key))
	if err != nil {
		return nil, p.wrapErr(ctx, err)
	}
	if len(response.Choices) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("no response choices returned")}
	}

	choice := response.Choices[0]
	toolCalls, err := p.decodeToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	return &LLMResponse{
		StopReason: openaiStopReason(choice.FinishReason, len(toolCalls)),
		Text:       choice.Message.Content,
		ToolCalls:  toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}

// ChatStream makes a streaming chat completion call, reporting text deltas
// and finished tool calls through cb.
func (p *OpenAIProvider) ChatStream(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDescriptor, cb *StreamCallbacks) (*LLMResponse, error) {
	params, key, err := p.buildRequest(ctx, systemPrompt, messages, tools)
	if err != nil {
		cb.fail(err)
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params, option.WithAPIKey(key))

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 {
			cb.text(chunk.Choices[0].Delta.Content)
		}
		if tool, ok := acc.JustFinishedToolCall(); ok {
			cb.toolStart(ToolCall{ID: tool.ID, Name: tool.Name})
		}
	}
	if err := stream.Err(); err != nil {
		wrapped := p.wrapErr(ctx, err)
		cb.fail(wrapped)
		return nil, wrapped
	}
	if len(acc.Choices) == 0 {
		err := &ProviderError{Provider: p.Name(), Err: fmt.Errorf("no response choices returned")}
		cb.fail(err)
		return nil, err
	}

	choice := acc.Choices[0]
	toolCalls, err := p.decodeToolCalls(choice.Message.ToolCalls)
	if err != nil {
		cb.fail(err)
		return nil, err
	}

	return &LLMResponse{
		StopReason: openaiStopReason(choice.FinishReason, len(toolCalls)),
		Text:       choice.Message.Content,
		ToolCalls:  toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
		},
	}, nil
}

// MakeAssistantMessage encodes a model response as a transcript message.
func (p *OpenAIProvider) MakeAssistantMessage(resp *LLMResponse) Message {
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

// MakeToolResultMessage packs tool results into a single transcript message;
// the wire encoding fans them out into per-call tool messages.
func (p *OpenAIProvider) MakeToolResultMessage(results []ToolResult) Message {
	msg := Message{Role: RoleUser}
	for i := range results {
		res := results[i]
		msg.Blocks = append(msg.Blocks, Block{Type: BlockToolResult, Result: &res})
	}
	return msg
}

func (p *OpenAIProvider) buildRequest(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDescriptor) (openai.ChatCompletionNewParams, string, error) {
	key, err := p.creds.Refresh(ctx)
	if err != nil {
		return openai.ChatCompletionNewParams{}, "", &ProviderError{Provider: p.Name(), Err: err}
	}

	encoded, err := encodeOpenAIMessages(systemPrompt, messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, "", &ProviderError{Provider: p.Name(), Err: err}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.opts.Model),
		Messages: encoded,
	}
	if p.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.opts.MaxTokens))
	}
	if p.opts.Temperature > 0 {
		params.Temperature = openai.Float(p.opts.Temperature)
	}
	if len(tools) > 0 {
		toolParams := make([]openai.ChatCompletionToolParam, 0, len(tools))
		for _, tool := range tools {
			toolParams = append(toolParams, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.InputSchema),
				},
			})
		}
		params.Tools = toolParams
	}
	return params, key, nil
}

func encodeOpenAIMessages(systemPrompt string, messages []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			calls := msg.ToolCalls()
			if len(calls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Text()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(calls))
			for _, tc := range calls {
				args, err := json.Marshal(tc.Input)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool input: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Text(),
				ToolCalls: toolCalls,
			}
			out = append(out, assistantMsg.ToParam())

		default:
			// User-role messages may carry tool results; those fan out into
			// individual tool messages on this wire format.
			hasResults := false
			for _, b := range msg.Blocks {
				if b.Type == BlockToolResult && b.Result != nil {
					out = append(out, openai.ToolMessage(b.Result.Content, b.Result.ToolCallID))
					hasResults = true
				}
			}
			if !hasResults {
				out = append(out, openai.UserMessage(msg.Text()))
			}
		}
	}

	return out, nil
}

func (p *OpenAIProvider) decodeToolCalls(raw []openai.ChatCompletionMessageToolCall) ([]ToolCall, error) {
	toolCalls := []ToolCall{}
	for _, tc := range raw {
		var input map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to parse tool arguments: %w", err)}
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return toolCalls, nil
}

func (p *OpenAIProvider) wrapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return &AbortedError{Err: err}
	}
	return &ProviderError{Provider: p.Name(), Err: err}
}

func openaiStopReason(finish string, toolCalls int) StopReason {
	switch finish {
	case "stop":
		return StopEndTurn
	case "tool_calls":
		return StopToolUse
	case "length":
		return StopMaxTokens
	case "":
		if toolCalls > 0 {
			return StopToolUse
		}
		return StopEndTurn
	default:
		return StopReason(finish)
	}
}
