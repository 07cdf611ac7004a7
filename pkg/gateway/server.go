// Package gateway exposes the assistant over HTTP: a health endpoint, a
// one-shot report endpoint, and a websocket chat stream.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/Voyage-Pet-AI/vwork/pkg/agent"
	"github.com/Voyage-Pet-AI/vwork/pkg/commandqueue"
	"github.com/Voyage-Pet-AI/vwork/pkg/report"
	"github.com/Voyage-Pet-AI/vwork/pkg/session"
)

// DefaultPort is where the desktop shell expects the sidecar to listen.
const DefaultPort = 3141

// SessionFactory builds a fresh chat session for each websocket client.
type SessionFactory func() (*agent.Session, error)

// Config holds server configuration.
type Config struct {
	Port           int
	SessionFactory SessionFactory
	ReportService  *report.Service
	Queue          *commandqueue.Queue
	Store          *session.Store
	Logger         zerolog.Logger
}

// Server is the sidecar HTTP server.
type Server struct {
	port           int
	sessionFactory SessionFactory
	reports        *report.Service
	queue          *commandqueue.Queue
	store          *session.Store
	log            zerolog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlight       sync.WaitGroup

	clientsMu sync.Mutex
	clients   map[string]*websocket.Conn
}

// NewServer validates the config and builds a server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.SessionFactory == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	if cfg.ReportService == nil {
		return nil, fmt.Errorf("report service is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}

	return &Server{
		port:           cfg.Port,
		sessionFactory: cfg.SessionFactory,
		reports:        cfg.ReportService,
		queue:          cfg.Queue,
		store:          cfg.Store,
		log:            cfg.Logger,
		clients:        make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool {
				// The sidecar binds to localhost; the desktop shell is the
				// only expected client.
				return true
			},
		},
	}, nil
}

// Handler returns the HTTP routes. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/report/run", s.handleReportRun)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start begins listening. It returns once the listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}

	s.server = &http.Server{Handler: s.Handler()}
	s.log.Info().Int("port", s.port).Msg("Gateway listening")

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Stop drains in-flight requests, closes websocket clients, and shuts the
// server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.log.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.clientsMu.Lock()
	for _, conn := range s.clients {
		conn.Close()
	}
	s.clientsMu.Unlock()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.log.Info().Msg("Gateway stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReportRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Done()

	value, err := s.queue.Enqueue(r.Context(), commandqueue.LaneReport, func(ctx context.Context) (interface{}, error) {
		return s.reports.Generate(ctx, req.Prompt)
	}, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Report run failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	run := value.(*report.Run)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ReportResponse{
		ID:              run.ID,
		Status:          run.Status,
		Text:            run.Text,
		Error:           run.Error,
		Rounds:          run.Rounds,
		RoundsExhausted: run.RoundsExhausted,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	s.clientsMu.Lock()
	s.clients[clientID] = conn
	s.clientsMu.Unlock()

	s.log.Info().Str("client_id", clientID).Str("ip", r.RemoteAddr).Msg("Client connected")

	sess, err := s.sessionFactory()
	if err != nil {
		s.log.Error().Err(err).Str("client_id", clientID).Msg("Failed to build chat session")
		conn.Close()
		s.removeClient(clientID)
		return
	}

	go s.serveClient(clientID, conn, sess)
}

func (s *Server) removeClient(clientID string) {
	s.clientsMu.Lock()
	delete(s.clients, clientID)
	s.clientsMu.Unlock()
}

func (s *Server) serveClient(clientID string, conn *websocket.Conn, sess *agent.Session) {
	defer func() {
		conn.Close()
		s.removeClient(clientID)
		s.log.Info().Str("client_id", clientID).Msg("Client disconnected")
	}()

	// Serializes writes from the streaming callbacks and the error paths.
	var writeMu sync.Mutex
	send := func(msg ServerMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			s.log.Error().Err(err).Str("client_id", clientID).Msg("Failed to write to client")
		}
	}

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Error().Err(err).Str("client_id", clientID).Msg("WebSocket error")
			}
			return
		}

		switch msg.Type {
		case MsgClear:
			sess.Clear()
			send(ServerMessage{Type: MsgComplete})
		case MsgChat:
			if msg.Text == "" {
				send(ServerMessage{Type: MsgError, Message: "text is required"})
				continue
			}
			s.runChatTurn(clientID, msg.Text, sess, send)
		default:
			send(ServerMessage{Type: MsgError, Message: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

// runChatTurn executes one chat turn on the client's lane so turns from
// the same connection never interleave.
func (s *Server) runChatTurn(clientID, text string, sess *agent.Session, send func(ServerMessage)) {
	s.inFlight.Add(1)
	defer s.inFlight.Done()

	lane := commandqueue.LaneChat + "-" + clientID
	result, err := s.queue.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
		return sess.SendStream(ctx, text, &agent.StreamCallbacks{
			OnText: func(chunk string) {
				send(ServerMessage{Type: MsgText, Text: chunk})
			},
			OnToolStart: func(call agent.ToolCall) {
				send(ServerMessage{Type: MsgToolStart, ToolName: call.Name, ToolCallID: call.ID})
			},
			OnToolEnd: func(_ agent.ToolCall, res agent.ToolResult) {
				send(ServerMessage{Type: MsgToolEnd, ToolCallID: res.ToolCallID, IsError: res.IsError})
			},
		})
	}, nil)
	if err != nil {
		send(ServerMessage{Type: MsgError, Message: err.Error()})
		return
	}

	sendResult := result.(*agent.SendResult)
	send(ServerMessage{
		Type:            MsgComplete,
		Text:            sendResult.Text,
		Rounds:          sendResult.Rounds,
		RoundsExhausted: sendResult.RoundsExhausted,
	})
	s.archiveTurn(clientID, text, sendResult.Text)
}

func (s *Server) archiveTurn(clientID, userText, assistantText string) {
	if s.store == nil {
		return
	}
	key := "chat-" + clientID
	if err := s.store.Append(key, session.Turn{Role: "user", Content: userText}); err != nil {
		s.log.Warn().Str("client_id", clientID).Err(err).Msg("Failed to archive user turn")
		return
	}
	if assistantText == "" {
		return
	}
	if err := s.store.Append(key, session.Turn{Role: "assistant", Content: assistantText}); err != nil {
		s.log.Warn().Str("client_id", clientID).Err(err).Msg("Failed to archive assistant turn")
	}
}
