package fetchmock

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrAgentClosed is reported through OnError when Dispatch is called after
// Close or Destroy.
var ErrAgentClosed = errors.New("mock agent is closed")

// DispatchOptions describe one dispatcher call.
type DispatchOptions struct {
	// Origin is the scheme://host of the target.
	Origin string

	// Path is the request path, with optional query string.
	Path string

	// Method is the HTTP method; defaults to GET.
	Method string

	// Body is the request payload: a string, byte slice, io.Reader, slice
	// of byte chunks, or any other value serialized as JSON.
	Body any

	// Headers are the request headers: an http.Header, a map of string or
	// string-slice values, or a flat [k, v, k, v, ...] list.
	Headers any
}

// DispatchHandler is the callback bundle receiving the outcome of a
// dispatch. Every callback is optional.
type DispatchHandler struct {
	// OnConnect is invoked first with a function that aborts processing.
	OnConnect func(abort func())

	// OnHeaders receives the status code, a flat [name, value, ...] header
	// list and a resume function (a no-op here).
	OnHeaders func(statusCode int, headers []string, resume func())

	// OnData receives the whole response body in a single chunk.
	OnData func(chunk []byte)

	// OnComplete is invoked last with the (always empty) trailer list.
	OnComplete func(trailers []string)

	// OnError receives any failure raised during processing.
	OnError func(err error)
}

// MockAgent is the dispatcher-style entry point: it translates a
// (origin, path, method, body, headers) call plus a callback bundle into the
// same server-dispatch pipeline the fetch facade uses, without CORS or
// credential handling.
type MockAgent struct {
	servers []*MockServer
	closed  atomic.Bool

	logger   *slog.Logger
	logLevel slog.Level
}

// agentConfig collects constructor options before validation.
type agentConfig struct {
	servers  []*MockServer
	logger   *slog.Logger
	logLevel slog.Level
}

// AgentOption is a function that modifies the agent configuration.
type AgentOption func(*agentConfig)

// WithAgentServers is a function that sets the servers the agent dispatches
// to, in match order.
func WithAgentServers(servers ...*MockServer) AgentOption {
	return func(c *agentConfig) {
		c.servers = append(c.servers, servers...)
	}
}

// WithAgentLogger is a function that sets a structured logger for the agent.
func WithAgentLogger(logger *slog.Logger) AgentOption {
	return func(c *agentConfig) {
		c.logger = logger
	}
}

// NewMockAgent creates a dispatcher adapter over the given servers.
func NewMockAgent(opts ...AgentOption) (*MockAgent, error) {
	config := agentConfig{logLevel: slog.LevelDebug}
	for _, opt := range opts {
		opt(&config)
	}

	if len(config.servers) == 0 {
		return nil, errors.New("at least one mock server is required")
	}

	return &MockAgent{
		servers:  config.servers,
		logger:   config.logger,
		logLevel: config.logLevel,
	}, nil
}

// Dispatch begins processing a request. It returns false and reports
// ErrAgentClosed synchronously when the agent is closed; otherwise it starts
// asynchronous processing and returns true. All outcomes, including errors,
// flow through the handler; nothing escapes the adapter.
func (a *MockAgent) Dispatch(opts DispatchOptions, handler *DispatchHandler) bool {
	if a.closed.Load() {
		if handler != nil && handler.OnError != nil {
			handler.OnError(ErrAgentClosed)
		}
		return false
	}

	go a.process(opts, handler)
	return true
}

// process runs the dispatch off the caller's goroutine and delivers the
// callbacks in order.
func (a *MockAgent) process(opts DispatchOptions, handler *DispatchHandler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if handler != nil && handler.OnConnect != nil {
		handler.OnConnect(cancel)
	}

	response, body, err := a.dispatch(ctx, opts)
	if err != nil {
		if handler != nil && handler.OnError != nil {
			handler.OnError(err)
		}
		return
	}

	if handler == nil {
		return
	}

	if handler.OnHeaders != nil {
		handler.OnHeaders(response.StatusCode, flattenHeaders(response.Header), func() {})
	}
	if handler.OnData != nil && len(body) > 0 {
		handler.OnData(body)
	}
	if handler.OnComplete != nil {
		handler.OnComplete([]string{})
	}
}

// dispatch normalizes the options, builds the request and walks the servers.
func (a *MockAgent) dispatch(ctx context.Context, opts DispatchOptions) (*http.Response, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	if opts.Origin == "" {
		return nil, nil, errors.New("dispatch requires an origin")
	}

	header, err := normalizeDispatchHeaders(opts.Headers)
	if err != nil {
		return nil, nil, err
	}

	payload, err := serializeDispatchBody(opts.Body)
	if err != nil {
		return nil, nil, err
	}

	target := strings.TrimSuffix(opts.Origin, "/") + "/" + strings.TrimPrefix(opts.Path, "/")
	httpReq, err := http.NewRequestWithContext(ctx, method, target, readerBody(payload))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to build dispatch request")
	}
	httpReq.Header = header

	req, err := NewRequest(httpReq)
	if err != nil {
		return nil, nil, err
	}

	a.log(ctx, slog.LevelDebug, "agent dispatch",
		slog.String("request_id", req.ID),
		slog.String("method", method),
		slog.String("url", target))

	var partialTraces []Trace
	for _, server := range a.servers {
		clone := req.Clone(ctx)
		response, traces, err := server.TraceReceive(ctx, clone.Request)
		if err != nil {
			return nil, nil, err
		}
		if response != nil {
			body, err := drainResponseBody(response)
			if err != nil {
				return nil, nil, err
			}
			return response, body, nil
		}

		for _, trace := range traces {
			if len(trace.Messages) > 1 {
				partialTraces = append(partialTraces, trace)
			}
		}
	}

	return nil, nil, &NoRouteError{Request: req, Body: req.BodyBytes(), Traces: partialTraces}
}

// Close marks the agent closed. It is idempotent and always returns nil; the
// error result exists for interface parity with real dispatchers.
func (a *MockAgent) Close() error {
	a.closed.Store(true)
	return nil
}

// Destroy marks the agent closed, like Close.
func (a *MockAgent) Destroy() error {
	a.closed.Store(true)
	return nil
}

// Called reports whether any server's matched routes accept the pattern,
// mirroring the facade helper.
func (a *MockAgent) Called(pattern any) (bool, error) {
	var firstErr error
	accepted := false

	for _, server := range a.servers {
		called, err := server.Called(pattern)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		accepted = true
		if called {
			return true, nil
		}
	}

	if !accepted {
		return false, firstErr
	}
	return false, nil
}

// WasCalled is the lenient variant of Called.
func (a *MockAgent) WasCalled(pattern any) bool {
	called, err := a.Called(pattern)
	return err == nil && called
}

// AllRoutesCalled reports whether every route on every server was matched.
func (a *MockAgent) AllRoutesCalled() bool {
	for _, server := range a.servers {
		if !server.AllRoutesCalled() {
			return false
		}
	}
	return true
}

// UncalledRoutes lists the uncalled routes across all servers.
func (a *MockAgent) UncalledRoutes() []string {
	var uncalled []string
	for _, server := range a.servers {
		uncalled = append(uncalled, server.UncalledRoutes()...)
	}
	return uncalled
}

// normalizeDispatchHeaders converts any supported header declaration into
// http.Header.
func normalizeDispatchHeaders(headers any) (http.Header, error) {
	normalized := http.Header{}

	switch value := headers.(type) {
	case nil:
	case http.Header:
		for key, values := range value {
			for _, v := range values {
				normalized.Add(key, v)
			}
		}
	case map[string]string:
		for key, v := range value {
			normalized.Set(key, v)
		}
	case map[string][]string:
		for key, values := range value {
			for _, v := range values {
				normalized.Add(key, v)
			}
		}
	case []string:
		if len(value)%2 != 0 {
			return nil, errors.Errorf("flat header list must have an even length, got %d", len(value))
		}
		for i := 0; i < len(value); i += 2 {
			normalized.Add(value[i], value[i+1])
		}
	default:
		return nil, errors.Errorf("unsupported header declaration type %T", headers)
	}

	return normalized, nil
}

// serializeDispatchBody converts any supported body declaration into bytes.
func serializeDispatchBody(body any) ([]byte, error) {
	switch value := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(value), nil
	case []byte:
		return value, nil
	case io.Reader:
		raw, err := io.ReadAll(value)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read dispatch body")
		}
		return raw, nil
	case [][]byte:
		var joined []byte
		for _, chunk := range value {
			joined = append(joined, chunk...)
		}
		return joined, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Wrap(err, "failed to serialize dispatch body as JSON")
		}
		return encoded, nil
	}
}

// flattenHeaders renders headers as a flat [name, value, ...] list in a
// stable order.
func flattenHeaders(header http.Header) []string {
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)

	var flat []string
	for _, name := range names {
		for _, value := range header[name] {
			flat = append(flat, name, value)
		}
	}
	return flat
}

// drainResponseBody reads the response body so it can be delivered as a
// single OnData chunk.
func drainResponseBody(response *http.Response) ([]byte, error) {
	if response.Body == nil {
		return nil, nil
	}
	defer response.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	return raw, nil
}

// log emits a record when a logger is configured and the level is enabled.
func (a *MockAgent) log(ctx context.Context, level slog.Level, message string, attrs ...slog.Attr) {
	if a.logger == nil || level < a.logLevel || !a.logger.Enabled(ctx, level) {
		return
	}
	a.logger.LogAttrs(ctx, level, message, attrs...)
}
