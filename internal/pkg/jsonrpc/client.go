package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is a JSON-RPC 2.0 request to a node's HTTP endpoint.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// NewRequest is a convenience method to create a Request struct.
func NewRequest(id int, method string, params interface{}) *Request {
	return &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Error is the error object of a JSON-RPC response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client is a thin JSON-RPC client over HTTP with a per-request timeout, so
// one slow call never stalls the caller's poll loop beyond the timeout.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a client for the given node endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Call performs a single RPC and unmarshals the result into out. A non-nil
// error object in the response is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params, out interface{}) error {
	body, err := json.Marshal(NewRequest(1, method, params))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var res response
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("cannot unmarshal %s response: %w", method, err)
	}
	if res.Error != nil {
		return res.Error
	}
	if out == nil || res.Result == nil {
		return nil
	}
	return json.Unmarshal(res.Result, out)
}

// GetSlot returns the node's latest slot at the given commitment level.
func (c *Client) GetSlot(ctx context.Context, commitment string) (uint64, error) {
	params := []interface{}{map[string]string{"commitment": commitment}}
	var slot uint64
	if err := c.Call(ctx, "getSlot", params, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// GetBlockTime returns the producer-claimed creation time of a slot's block
// in ms since epoch. Nodes answer with an error or a null result for slots
// they have not stored yet; both come back as (nil, nil) so the caller can
// retry or move on.
func (c *Client) GetBlockTime(ctx context.Context, slot uint64) (*int64, error) {
	var seconds *int64
	err := c.Call(ctx, "getBlockTime", []interface{}{slot}, &seconds)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return nil, nil
		}
		return nil, err
	}
	if seconds == nil {
		return nil, nil
	}
	ms := *seconds * 1000
	return &ms, nil
}
