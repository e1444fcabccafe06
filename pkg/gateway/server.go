// Package gateway exposes the reasoning core over WebSockets: clients
// send inputs for a session and receive the replies the engines
// produce for it.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Dispatcher forwards one user input into the session layer.
// sessions.Manager.HandleInput satisfies it.
type Dispatcher func(ctx context.Context, sessionID, input string) error

// InboundFrame is a client message. type "input" carries a user
// message; type "subscribe" attaches the connection to a session's
// replies without sending anything.
type InboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Input     string `json:"input,omitempty"`
}

// OutboundFrame is a server message.
type OutboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Config holds gateway configuration.
type Config struct {
	Addr       string
	Dispatcher Dispatcher
	Logger     zerolog.Logger
}

// Server accepts WebSocket connections and routes frames between
// clients and the session layer.
type Server struct {
	addr       string
	dispatcher Dispatcher
	logger     zerolog.Logger

	upgrader websocket.Upgrader
	registry *registry
	server   *http.Server
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	return &Server{
		addr:       cfg.Addr,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		registry:   newRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Start begins listening. It returns once the listener is bound; serve
// errors after that are logged.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind gateway listener: %w", err)
	}

	s.server = &http.Server{Handler: mux}
	s.logger.Info().Str("addr", s.addr).Msg("Gateway listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Shutdown closes every connection and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, c := range s.registry.all() {
		_ = c.conn.Close()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Publish delivers a reply to every client subscribed to the session.
func (s *Server) Publish(sessionID, text string) {
	frame := OutboundFrame{Type: "response", SessionID: sessionID, Text: text}
	for _, c := range s.registry.subscribers(sessionID) {
		if err := c.send(frame); err != nil {
			s.logger.Warn().Err(err).Str("client_id", c.id).Str("session_id", sessionID).Msg("Failed to publish reply")
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	id, err := gonanoid.New(8)
	if err != nil {
		id = fmt.Sprintf("c-%d", time.Now().UnixNano())
	}
	c := &client{id: id, conn: conn}

	s.logger.Debug().Str("client_id", c.id).Msg("Client connected")
	defer func() {
		s.registry.remove(c)
		_ = conn.Close()
		s.logger.Debug().Str("client_id", c.id).Msg("Client disconnected")
	}()

	for {
		var frame InboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Str("client_id", c.id).Msg("Client read error")
			}
			return
		}
		s.handleFrame(r.Context(), c, frame)
	}
}

func (s *Server) handleFrame(ctx context.Context, c *client, frame InboundFrame) {
	if frame.SessionID == "" {
		_ = c.send(OutboundFrame{Type: "error", Error: "session_id is required"})
		return
	}

	switch frame.Type {
	case "subscribe":
		s.registry.subscribe(c, frame.SessionID)
		_ = c.send(OutboundFrame{Type: "subscribed", SessionID: frame.SessionID})

	case "input":
		if frame.Input == "" {
			_ = c.send(OutboundFrame{Type: "error", SessionID: frame.SessionID, Error: "input is required"})
			return
		}
		// Senders hear the session's replies without an explicit
		// subscribe frame.
		s.registry.subscribe(c, frame.SessionID)

		if err := s.dispatcher(ctx, frame.SessionID, frame.Input); err != nil {
			s.logger.Warn().Err(err).Str("session_id", frame.SessionID).Msg("Dispatch failed")
			_ = c.send(OutboundFrame{Type: "error", SessionID: frame.SessionID, Error: err.Error()})
			return
		}
		_ = c.send(OutboundFrame{Type: "accepted", SessionID: frame.SessionID})

	default:
		_ = c.send(OutboundFrame{Type: "error", Error: fmt.Sprintf("unknown frame type: %s", frame.Type)})
	}
}
