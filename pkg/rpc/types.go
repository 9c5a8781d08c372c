package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/sameehj/cellgate/pkg/types"
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s: %v", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ExecuteParams are the parameters of kernel.execute. StoreHistory defaults
// to true when omitted.
type ExecuteParams struct {
	Code         string `json:"code"`
	Silent       bool   `json:"silent,omitempty"`
	StoreHistory *bool  `json:"store_history,omitempty"`
}

type ExecuteResult struct {
	types.Outcome
	Message string `json:"message"`
}

type HistoryParams struct {
	Limit int `json:"limit,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	SessionID       string     `json:"session_id"`
	ServerInfo      ServerInfo `json:"serverInfo"`
	Error           string     `json:"error,omitempty"`
}
