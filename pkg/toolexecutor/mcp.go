package toolexecutor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Voyage-Pet-AI/vwork/pkg/agent"
)

const serverCallTimeout = 10 * time.Second

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ToolServerClient talks to an external tool server over stdio JSON-RPC
// following the Model Context Protocol framing. The server process is
// spawned lazily on first use and lives until Stop.
type ToolServerClient struct {
	namespace string
	command   string
	args      []string

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	id      int
	pending map[int]chan *rpcResponse
}

// NewToolServerClient configures a client for the given command. Nothing
// is spawned until the first call.
func NewToolServerClient(namespace, command string, args []string) *ToolServerClient {
	return &ToolServerClient{
		namespace: namespace,
		command:   command,
		args:      args,
		pending:   make(map[int]chan *rpcResponse),
	}
}

// Namespace returns the catalog prefix this server was configured with.
func (c *ToolServerClient) Namespace() string { return c.namespace }

// Start spawns the server process and performs the initialize handshake.
// Calling Start on a running client is a no-op.
func (c *ToolServerClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.process != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	c.process = cmd
	c.stdin = stdin
	c.stdout = bufio.NewScanner(stdout)

	go c.listen()

	params := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "VWork",
			"version": "0.1.0",
		},
	}
	_, err = c.callLocked(ctx, "initialize", params)
	return err
}

func (c *ToolServerClient) listen() {
	for c.stdout.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(c.stdout.Bytes(), &resp); err != nil {
			log.Error().Err(err).Str("namespace", c.namespace).Msg("Failed to decode tool server response")
			continue
		}

		id, ok := resp.ID.(float64)
		if !ok {
			continue
		}
		c.mu.Lock()
		ch, exists := c.pending[int(id)]
		if exists {
			delete(c.pending, int(id))
			ch <- &resp
		}
		c.mu.Unlock()
	}
}

// callLocked issues a request while c.mu is held by the caller only for
// id allocation; the wait itself runs unlocked.
func (c *ToolServerClient) callLocked(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	c.id++
	id := c.id
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	stdin := c.stdin

	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}
	data, err := json.Marshal(req)
	if err != nil {
		delete(c.pending, id)
		return nil, err
	}
	if _, err := io.WriteString(stdin, string(data)+"\n"); err != nil {
		delete(c.pending, id)
		return nil, err
	}

	c.mu.Unlock()
	defer c.mu.Lock()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("tool server error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case <-time.After(serverCallTimeout):
		c.dropPending(id)
		return nil, fmt.Errorf("tool server request timed out")
	}
}

// dropPending discards the wait slot of an abandoned call so a long-lived
// client does not accumulate entries for responses nobody reads.
func (c *ToolServerClient) dropPending(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *ToolServerClient) call(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start tool server %s: %w", c.namespace, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callLocked(ctx, method, params)
}

// ListTools fetches the server's tool definitions with their raw JSON
// schemas intact.
func (c *ToolServerClient) ListTools(ctx context.Context) ([]agent.ToolDescriptor, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Tools []struct {
			Name        string                 `json:"name"`
			Description string                 `json:"description"`
			InputSchema map[string]interface{} `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, err
	}

	tools := make([]agent.ToolDescriptor, 0, len(listResult.Tools))
	for _, t := range listResult.Tools {
		tools = append(tools, agent.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

// CallTool invokes a tool on the server and returns the decoded result
// payload.
func (c *ToolServerClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	resp, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Stop kills the server process if it is running.
func (c *ToolServerClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.process != nil && c.process.Process != nil {
		err := c.process.Process.Kill()
		c.process = nil
		return err
	}
	return nil
}
