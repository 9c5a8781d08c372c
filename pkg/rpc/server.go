// Package rpc speaks JSON-RPC 2.0 over Content-Length framed streams and
// forwards cells to a kernel gateway.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/sameehj/cellgate/pkg/kernel"
	"github.com/sameehj/cellgate/pkg/types"
	"github.com/sameehj/cellgate/pkg/version"
)

const ProtocolVersion = "1.0"

// JSON-RPC error codes. The -320xx range is application defined.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeNotInitialized = -32001
	CodeHistory        = -32002
)

const (
	MethodInitialize = "initialize"
	MethodExecute    = "kernel.execute"
	MethodInfo       = "kernel.info"
	MethodActive     = "kernel.active"
	MethodHistory    = "kernel.history"
)

// Server serves one session: every request on a stream goes to the same gateway.
type Server struct {
	gateway *kernel.Gateway
	logger  *slog.Logger
}

func NewServer(gateway *kernel.Gateway) *Server {
	return &Server{gateway: gateway}
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Serve handles requests until the reader is exhausted or ctx is cancelled.
// Requests on one stream are processed in order.
func (s *Server) Serve(ctx context.Context, reader io.Reader, writer io.Writer) error {
	bufReader := bufio.NewReader(reader)
	bufWriter := bufio.NewWriter(writer)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		payload, err := readMessage(bufReader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.logError("rpc_read_failed", "error", err)
			return err
		}

		resp := s.Handle(ctx, payload)
		if resp == nil {
			continue
		}
		data, err := json.Marshal(resp)
		if err != nil {
			s.logError("rpc_encode_failed", "error", err)
			continue
		}
		if err := writeMessage(bufWriter, data); err != nil {
			s.logError("rpc_write_failed", "error", err)
			return err
		}
	}
}

func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Handle processes a single request payload. It returns nil for
// notifications, which get no response.
func (s *Server) Handle(ctx context.Context, payload []byte) *Response {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logWarn("rpc_parse_error", "error", err)
		return errorResponse(nil, CodeParseError, "parse error", err.Error())
	}
	if req.Method == "" {
		return reply(req.ID, errorResponse(req.ID, CodeInvalidRequest, "invalid request", "missing method"))
	}

	switch req.Method {
	case MethodInitialize:
		return reply(req.ID, resultResponse(req.ID, s.initialize()))
	case MethodExecute:
		return reply(req.ID, s.handleExecute(ctx, req))
	case MethodInfo:
		return reply(req.ID, resultResponse(req.ID, s.gateway.Info()))
	case MethodActive:
		return reply(req.ID, resultResponse(req.ID, map[string]any{"workers": s.gateway.Active()}))
	case MethodHistory:
		return reply(req.ID, s.handleHistory(ctx, req))
	default:
		return reply(req.ID, errorResponse(req.ID, CodeMethodNotFound, "method not found", req.Method))
	}
}

func (s *Server) initialize() InitializeResult {
	info := s.gateway.Info()
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		SessionID:       info.SessionID,
		ServerInfo:      ServerInfo{Name: version.Name, Version: version.Version},
		Error:           info.Error,
	}
}

func (s *Server) handleExecute(ctx context.Context, req Request) *Response {
	var params ExecuteParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params", err.Error())
	}
	storeHistory := true
	if params.StoreHistory != nil {
		storeHistory = *params.StoreHistory
	}

	cell := types.NewRequest(params.Code, params.Silent, storeHistory)
	outcome, err := s.gateway.Execute(ctx, cell)
	if err != nil {
		if errors.Is(err, kernel.ErrNotInitialized) {
			return errorResponse(req.ID, CodeNotInitialized, "kernel not initialized", err.Error())
		}
		return errorResponse(req.ID, CodeInvalidRequest, "execute failed", err.Error())
	}
	s.logDebug("rpc_execute", "session", s.gateway.SessionID(), "status", outcome.Status)
	return resultResponse(req.ID, ExecuteResult{Outcome: outcome, Message: outcome.Message()})
}

func (s *Server) handleHistory(ctx context.Context, req Request) *Response {
	var params HistoryParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid params", err.Error())
		}
	}
	entries, err := s.gateway.History(ctx, params.Limit)
	if err != nil {
		return errorResponse(req.ID, CodeHistory, "history unavailable", err.Error())
	}
	return resultResponse(req.ID, map[string]any{"entries": entries})
}

func reply(id any, resp *Response) *Response {
	if id == nil {
		return nil
	}
	return resp
}

func resultResponse(id any, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id any, code int, message string, data any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message, Data: data}}
}

func (s *Server) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Server) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Server) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
