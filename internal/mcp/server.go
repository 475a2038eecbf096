// Package mcp exposes repertoire operations as Model Context Protocol tools.
// Every tool builds a protocol message and forwards it to the protocol
// handler, so tools share the error codes of the other transports.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/zot/repertoire/internal/protocol"
	"github.com/zot/repertoire/internal/storage"
)

// Server is the MCP tool server.
type Server struct {
	handler *protocol.Handler
	mcp     *server.MCPServer
	tools   map[string]server.ServerTool
	log     *zap.SugaredLogger
}

// NewServer creates an MCP server with the repertoire tools registered. A nil
// logger discards output.
func NewServer(handler *protocol.Handler, version string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		handler: handler,
		tools:   make(map[string]server.ServerTool),
		log:     log,
		mcp: server.NewMCPServer("repertoire", version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	var registered []server.ServerTool
	for _, t := range tools() {
		st := server.ServerTool{Tool: t.tool, Handler: s.forward(t.msg)}
		s.tools[t.tool.Name] = st
		registered = append(registered, st)
	}
	s.mcp.AddTools(registered...)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves requests on stdin and stdout until stdin closes.
func (s *Server) ServeStdio() error {
	s.log.Infow("MCP server serving on stdio")
	return server.ServeStdio(s.mcp)
}

// forward returns a tool handler that turns the call's arguments into a
// protocol message of type t.
func (s *Server) forward(t protocol.MessageType) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args := req.GetArguments()
		table, _ := args["table"].(string)

		var data any
		if t == protocol.MsgCreate {
			data = args["entry"]
		} else {
			fields := make(map[string]any, len(args))
			for k, v := range args {
				if k != "table" {
					fields[k] = v
				}
			}
			data = fields
		}

		msg, err := protocol.NewMessage(t, storage.Table(table), data)
		if err != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("%s: %v", protocol.CodeInvalid, err)), nil
		}
		resp := s.handler.HandleMessage(ctx, msg)
		if !resp.OK() {
			s.log.Debugw("tool failed", "tool", req.Params.Name, "code", resp.Code, "error", resp.Error)
			return mcpgo.NewToolResultError(fmt.Sprintf("%s: %s", resp.Code, resp.Error)), nil
		}

		text, err := json.Marshal(resp.Result)
		if err != nil {
			return nil, fmt.Errorf("encoding %s result: %w", req.Params.Name, err)
		}
		return mcpgo.NewToolResultText(string(text)), nil
	}
}
