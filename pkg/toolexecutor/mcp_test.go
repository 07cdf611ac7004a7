package toolexecutor

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkWriter struct{ bytes.Buffer }

func (s *sinkWriter) Close() error { return nil }

func TestToolServerClientCalls(t *testing.T) {
	t.Run("should drop the wait slot when a call is abandoned", func(t *testing.T) {
		c := &ToolServerClient{
			namespace: "demo",
			stdin:     &sinkWriter{},
			pending:   make(map[int]chan *rpcResponse),
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c.mu.Lock()
		_, err := c.callLocked(ctx, "tools/list", nil)
		c.mu.Unlock()
		require.ErrorIs(t, err, context.Canceled)

		c.mu.Lock()
		assert.Empty(t, c.pending)
		c.mu.Unlock()
	})

	t.Run("should deliver a matching response to its waiter", func(t *testing.T) {
		c := &ToolServerClient{
			namespace: "demo",
			stdin:     &sinkWriter{},
			pending:   make(map[int]chan *rpcResponse),
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			c.mu.Lock()
			resp, err := c.callLocked(context.Background(), "tools/list", nil)
			c.mu.Unlock()
			assert.NoError(t, err)
			assert.NotNil(t, resp)
		}()

		// Hand the response to the waiter the way listen does.
		for {
			c.mu.Lock()
			ch, ok := c.pending[1]
			if ok {
				delete(c.pending, 1)
				ch <- &rpcResponse{JSONRPC: "2.0", ID: float64(1)}
			}
			c.mu.Unlock()
			if ok {
				break
			}
		}
		<-done

		c.mu.Lock()
		assert.Empty(t, c.pending)
		c.mu.Unlock()
	})
}
