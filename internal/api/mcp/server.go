package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"

	"github.com/Zereker/vectorstore/internal/action"
	"github.com/Zereker/vectorstore/pkg/log"
)

// protocolVersion is the MCP revision this server speaks.
const protocolVersion = "2024-11-05"

// maxMessageBytes bounds one JSON-RPC line. Insert calls carry full vectors.
const maxMessageBytes = 32 << 20

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// ServerConfig contains server configuration
type ServerConfig struct {
	Name    string
	Version string
}

// Server answers MCP requests over newline delimited JSON-RPC.
type Server struct {
	logger  *slog.Logger
	handler *Handler
	info    peerInfo
	methods map[string]method
}

// method answers one request. A nil response means nothing is written back.
type method func(ctx context.Context, req *jsonRPCRequest) *jsonRPCResponse

// NewServer creates a new MCP server
func NewServer(vectors *action.Vectors, config ServerConfig) *Server {
	s := &Server{
		logger:  log.Logger("mcp"),
		handler: NewHandler(vectors),
		info:    peerInfo{Name: config.Name, Version: config.Version},
	}
	s.methods = map[string]method{
		"initialize":                s.initialize,
		"notifications/initialized": s.initialized,
		"initialized":               s.initialized,
		"ping":                      s.ping,
		"tools/list":                s.listTools,
		"tools/call":                s.callTool,
	}
	return s
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type peerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string   `json:"protocolVersion"`
	ClientInfo      peerInfo `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      peerInfo       `json:"serverInfo"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func result(id any, v any) *jsonRPCResponse {
	return &jsonRPCResponse{JSONRPC: "2.0", ID: id, Result: v}
}

func failure(id any, code int, message string, data any) *jsonRPCResponse {
	return &jsonRPCResponse{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message, Data: data}}
}

// RunStdio runs the MCP server using stdio transport
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("starting stdio server", "name", s.info.Name, "version", s.info.Version)
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve answers the messages read from r, one per line, until r is exhausted or ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxMessageBytes)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := s.dispatch(ctx, line)
		if resp == nil {
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write response failed", "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read request")
	}
	s.logger.Info("input closed")
	return nil
}

func (s *Server) dispatch(ctx context.Context, line []byte) *jsonRPCResponse {
	var req jsonRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return failure(nil, codeParseError, "Parse error", err.Error())
	}

	m, ok := s.methods[req.Method]
	if !ok {
		if req.ID == nil {
			return nil
		}
		return failure(req.ID, codeMethodNotFound, "Method not found", req.Method)
	}
	return m(ctx, &req)
}

func (s *Server) initialize(_ context.Context, req *jsonRPCRequest) *jsonRPCResponse {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return failure(req.ID, codeInvalidParams, "Invalid params", err.Error())
		}
	}

	s.logger.Info("initialize",
		"client", params.ClientInfo.Name,
		"clientVersion", params.ClientInfo.Version,
		"protocol", params.ProtocolVersion,
	)

	return result(req.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      s.info,
	})
}

func (s *Server) initialized(context.Context, *jsonRPCRequest) *jsonRPCResponse {
	s.logger.Info("client initialized")
	return nil
}

func (s *Server) ping(_ context.Context, req *jsonRPCRequest) *jsonRPCResponse {
	return result(req.ID, map[string]any{})
}

func (s *Server) listTools(_ context.Context, req *jsonRPCRequest) *jsonRPCResponse {
	return result(req.ID, map[string]any{"tools": VectorTools})
}

func (s *Server) callTool(ctx context.Context, req *jsonRPCRequest) *jsonRPCResponse {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return failure(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}

	s.logger.Debug("tools/call", "tool", params.Name)
	return result(req.ID, s.handler.HandleToolCall(ctx, ToolCallRequest(params)))
}
