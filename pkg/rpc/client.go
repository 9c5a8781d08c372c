package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Client issues requests over a framed stream, one at a time.
type Client struct {
	mu     sync.Mutex
	reader *bufio.Reader
	writer *bufio.Writer
	nextID int64
}

func NewClient(rw io.ReadWriter) *Client {
	return &Client{reader: bufio.NewReader(rw), writer: bufio.NewWriter(rw)}
}

// Call sends method with params and decodes the result into out, which may be nil.
// Server side errors are returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	c.nextID++
	req := struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int64  `json:"id"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := writeMessage(c.writer, payload); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	data, err := readMessage(c.reader)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// Execute runs code as a cell and returns its outcome.
func (c *Client) Execute(ctx context.Context, params ExecuteParams) (ExecuteResult, error) {
	var result ExecuteResult
	err := c.Call(ctx, MethodExecute, params, &result)
	return result, err
}
