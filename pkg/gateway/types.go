package gateway

// Inbound websocket messages.
const (
	MsgChat  = "chat"
	MsgClear = "clear"
)

// Outbound websocket messages.
const (
	MsgText      = "text"
	MsgToolStart = "tool_start"
	MsgToolEnd   = "tool_end"
	MsgComplete  = "complete"
	MsgError     = "error"
)

// ClientMessage is what a websocket client sends.
type ClientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ServerMessage is what the server streams back.
type ServerMessage struct {
	Type            string `json:"type"`
	Text            string `json:"text,omitempty"`
	ToolName        string `json:"toolName,omitempty"`
	ToolCallID      string `json:"toolCallId,omitempty"`
	IsError         bool   `json:"isError,omitempty"`
	Rounds          int    `json:"rounds,omitempty"`
	RoundsExhausted bool   `json:"roundsExhausted,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ReportRequest is the POST /api/report/run payload.
type ReportRequest struct {
	Prompt string `json:"prompt"`
}

// ReportResponse is the POST /api/report/run reply.
type ReportResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	Text            string `json:"text,omitempty"`
	Error           string `json:"error,omitempty"`
	Rounds          int    `json:"rounds"`
	RoundsExhausted bool   `json:"roundsExhausted"`
}
