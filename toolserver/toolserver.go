// Package toolserver invokes external tool servers over two interchangeable
// transports. A tool server is a subprocess speaking line-delimited JSON
// over its standard streams, or an HTTP endpoint accepting one JSON envelope
// per POST. Both expose the same three operations: initialize, list_tools
// and call_tool.
package toolserver

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/notiva/notiva-sync/metrics"
)

const (
	methodInitialize = "initialize"
	methodListTools  = "list_tools"
	methodCallTool   = "call_tool"
)

// request is one wire envelope. The stdio transport frames one request per
// line; the http transport frames one per POST body.
type request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type callToolParams struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// caller executes one request/response round trip on a concrete transport.
type caller interface {
	call(ctx context.Context, cfg ServerConfig, req request, timeout time.Duration) (json.RawMessage, error)
}

type ClientOption func(*Client)

func WithStore(store ConfigStore) ClientOption {
	return func(c *Client) {
		c.store = store
	}
}

func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithClientCounters(counters *metrics.Counters) ClientOption {
	return func(c *Client) {
		c.counters = counters
	}
}

// Client dispatches calls to the transport matching the config and records
// the outcome on the config record when a store is attached.
type Client struct {
	stdio    caller
	http     caller
	store    ConfigStore
	logger   *zap.Logger
	counters *metrics.Counters
	now      func() time.Time
	reqID    atomic.Int64
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		stdio:  newStdioCaller(),
		http:   newHTTPCaller(),
		logger: zap.NewNop(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) Initialize(ctx context.Context, cfg ServerConfig, timeout time.Duration) (ServerInfo, error) {
	raw, err := c.roundTrip(ctx, cfg, methodInitialize, nil, timeout)
	if err != nil {
		return ServerInfo{}, err
	}

	var info ServerInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return ServerInfo{}, c.recordFailure(ctx, cfg, protocolErr("malformed initialize result", 0))
	}

	return info, nil
}

func (c *Client) ListTools(ctx context.Context, cfg ServerConfig, timeout time.Duration) ([]Tool, error) {
	raw, err := c.roundTrip(ctx, cfg, methodListTools, nil, timeout)
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []Tool `json:"tools"`
	}

	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, c.recordFailure(ctx, cfg, protocolErr("malformed list_tools result", 0))
	}

	return result.Tools, nil
}

// CallTool invokes a named tool and returns the raw result payload. Callers
// own the interpretation of the result shape.
func (c *Client) CallTool(ctx context.Context, cfg ServerConfig, name string, args map[string]any, timeout time.Duration) (json.RawMessage, error) {
	params, err := json.Marshal(callToolParams{Name: name, Args: args})
	if err != nil {
		return nil, err
	}

	return c.roundTrip(ctx, cfg, methodCallTool, params, timeout)
}

func (c *Client) roundTrip(ctx context.Context, cfg ServerConfig, method string, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if c.counters != nil {
		c.counters.IncToolCall()
	}

	var transport caller

	switch cfg.Type {
	case TypeStdio:
		transport = c.stdio
	case TypeHTTP:
		transport = c.http
	}

	req := request{ID: c.reqID.Add(1), Method: method, Params: params}

	raw, err := transport.call(ctx, cfg, req, timeout)
	if err != nil {
		return nil, c.recordFailure(ctx, cfg, err)
	}

	c.recordSuccess(ctx, cfg)

	c.logger.Debug("tool call ok",
		zap.String("server", cfg.Name),
		zap.String("method", method),
	)

	return raw, nil
}

func (c *Client) recordSuccess(ctx context.Context, cfg ServerConfig) {
	if c.store == nil || cfg.ID == "" {
		return
	}

	if err := c.store.MarkConnected(ctx, cfg.ID, c.now().UTC()); err != nil {
		c.logger.Warn("recording server success", zap.String("server", cfg.ID), zap.Error(err))
	}
}

func (c *Client) recordFailure(ctx context.Context, cfg ServerConfig, callErr error) error {
	if c.store != nil && cfg.ID != "" {
		if err := c.store.MarkError(ctx, cfg.ID, callErr.Error()); err != nil {
			c.logger.Warn("recording server failure", zap.String("server", cfg.ID), zap.Error(err))
		}
	}

	return callErr
}
