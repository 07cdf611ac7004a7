package agent

// Message roles. The transcript only ever holds user and assistant turns;
// tool results travel inside a user-role message the way providers expect.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// BlockType identifies the kind of a content block inside a message.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one content segment of a message: plain text, a tool invocation
// recorded by the assistant, or a tool result fed back to the model.
type Block struct {
	Type   BlockType   `json:"type"`
	Text   string      `json:"text,omitempty"`
	Call   *ToolCall   `json:"call,omitempty"`
	Result *ToolResult `json:"result,omitempty"`
}

// Message is one turn in the conversation. Messages are never mutated after
// they are appended to a session's transcript.
type Message struct {
	Role   string  `json:"role"`
	Blocks []Block `json:"blocks"`
}

// TextMessage builds a message holding a single text block.
func TextMessage(role, text string) Message {
	return Message{
		Role:   role,
		Blocks: []Block{{Type: BlockText, Text: text}},
	}
}

// Text returns the concatenated text blocks of the message.
func (m Message) Text() string {
	out := ""
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns the tool invocations recorded in the message, in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse && b.Call != nil {
			calls = append(calls, *b.Call)
		}
	}
	return calls
}

// ToolCall is a single tool invocation requested by the model. Input is a
// weakly typed mapping validated by the handler, not by the dispatcher.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolResult is the outcome of exactly one tool call. Failures are encoded
// here rather than dropped, so the model can see and react to them.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDescriptor describes a tool offered to the model.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// StopReason enumerates why a model turn ended. Providers map their native
// stop reasons onto these; anything unrecognized passes through verbatim.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// TokenUsage tracks token consumption for a turn.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// LLMResponse is the aggregate result of one model turn. The streaming path
// produces the same response a non-streaming call would; streaming is a view,
// not a different outcome.
type LLMResponse struct {
	StopReason StopReason  `json:"stop_reason"`
	Text       string      `json:"text"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`
}
