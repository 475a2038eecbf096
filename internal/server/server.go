// Package server exposes the protocol handler over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zot/repertoire/internal/config"
	"github.com/zot/repertoire/internal/protocol"
)

// Server is the repertoire HTTP server.
type Server struct {
	config       *config.Config
	handler      *protocol.Handler
	log          *zap.SugaredLogger
	httpServer   *http.Server
	httpEndpoint *HTTPEndpoint
	wsEndpoint   *WebSocketEndpoint
}

// New creates a new server. A nil logger discards output.
func New(cfg *config.Config, handler *protocol.Handler, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		config:  cfg,
		handler: handler,
		log:     log,
	}
	s.wsEndpoint = NewWebSocketEndpoint(handler, log)
	s.httpEndpoint = NewHTTPEndpoint(handler, s.wsEndpoint, log)
	return s
}

// Handler returns the server's routes, for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.httpEndpoint
}

// Start listens on the configured address and serves in the background. It
// returns the base URL; a configured port of 0 is replaced by the one chosen.
func (s *Server) Start() (string, error) {
	addr := s.config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.config.Server.Port == 0 {
		_, portStr, _ := net.SplitHostPort(listener.Addr().String())
		s.config.Server.Port, _ = strconv.Atoi(portStr)
	}

	s.httpServer = &http.Server{
		Handler:           s.httpEndpoint,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Infow("HTTP server listening", "addr", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("HTTP server error", "error", err)
		}
	}()

	host := s.config.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(s.config.Server.Port))), nil
}

// Shutdown stops accepting requests, waits for those in flight and closes
// open WebSocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wsEndpoint.Close()
	return err
}
