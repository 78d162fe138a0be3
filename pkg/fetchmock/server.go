package fetchmock

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// MockServer owns an ordered list of routes scoped to one base URL. Routes
// are evaluated in declaration order and each matches at most once until
// Clear is called.
type MockServer struct {
	baseURL *url.URL

	mu     sync.Mutex
	routes []*Route

	logger   *slog.Logger
	logLevel slog.Level
}

// ServerOption is a function that modifies the server configuration.
type ServerOption func(*MockServer)

// WithServerLogger is a function that sets a structured logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *MockServer) {
		s.logger = logger
	}
}

// WithServerLogLevel is a function that sets the minimum log level for
// server dispatch logging.
func WithServerLogLevel(level slog.Level) ServerOption {
	return func(s *MockServer) {
		s.logLevel = level
	}
}

// NewMockServer creates a mock server scoped to the given base URL.
func NewMockServer(baseURL string, opts ...ServerOption) (*MockServer, error) {
	parsed, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	server := &MockServer{
		baseURL:  parsed,
		logLevel: slog.LevelDebug,
	}
	for _, opt := range opts {
		opt(server)
	}
	return server, nil
}

// parseBaseURL validates that the base URL is absolute with a scheme and
// host.
func parseBaseURL(baseURL string) (*url.URL, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base URL %q", baseURL)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Errorf("base URL %q must be absolute", baseURL)
	}
	return parsed, nil
}

// BaseURL returns the server's base URL.
func (s *MockServer) BaseURL() string {
	return s.baseURL.String()
}

// Origin returns the scheme://host part of the base URL.
func (s *MockServer) Origin() string {
	return s.baseURL.Scheme + "://" + s.baseURL.Host
}

// Route registers a route from a full request pattern. The pattern must name
// a method; use the verb helpers when the method is implied.
func (s *MockServer) Route(pattern RequestPattern, response any) error {
	route, err := newRoute(pattern, response, s.baseURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.routes = append(s.routes, route)
	s.mu.Unlock()

	s.log(context.Background(), slog.LevelDebug, "route registered",
		slog.String("route", route.Title()))
	return nil
}

// Get registers a route matching GET requests. The pattern is a URL string
// or a RequestPattern without a method.
func (s *MockServer) Get(pattern, response any) error {
	return s.verbRoute(http.MethodGet, pattern, response)
}

// Post registers a route matching POST requests.
func (s *MockServer) Post(pattern, response any) error {
	return s.verbRoute(http.MethodPost, pattern, response)
}

// Put registers a route matching PUT requests.
func (s *MockServer) Put(pattern, response any) error {
	return s.verbRoute(http.MethodPut, pattern, response)
}

// Delete registers a route matching DELETE requests.
func (s *MockServer) Delete(pattern, response any) error {
	return s.verbRoute(http.MethodDelete, pattern, response)
}

// Patch registers a route matching PATCH requests.
func (s *MockServer) Patch(pattern, response any) error {
	return s.verbRoute(http.MethodPatch, pattern, response)
}

// Head registers a route matching HEAD requests.
func (s *MockServer) Head(pattern, response any) error {
	return s.verbRoute(http.MethodHead, pattern, response)
}

// Options registers a route matching OPTIONS requests.
func (s *MockServer) Options(pattern, response any) error {
	return s.verbRoute(http.MethodOptions, pattern, response)
}

// verbRoute normalizes the pattern for a verb helper, rejecting patterns
// that already name a method.
func (s *MockServer) verbRoute(method string, pattern, response any) error {
	requestPattern, err := normalizeRequestPattern(pattern)
	if err != nil {
		return err
	}
	if requestPattern.Method != "" {
		return errors.Errorf("pattern for a %s route must not specify a method, got %q",
			method, requestPattern.Method)
	}
	requestPattern.Method = method
	return s.Route(requestPattern, response)
}

// normalizeRequestPattern accepts a URL string or a RequestPattern.
func normalizeRequestPattern(pattern any) (RequestPattern, error) {
	switch value := pattern.(type) {
	case string:
		return RequestPattern{URL: value}, nil
	case RequestPattern:
		return value, nil
	case *RequestPattern:
		if value == nil {
			return RequestPattern{}, errors.New("request pattern must not be nil")
		}
		return *value, nil
	default:
		return RequestPattern{}, errors.Errorf("unsupported request pattern type %T", pattern)
	}
}

// Receive dispatches a request to the first unmatched route that accepts it.
// It returns (nil, nil) when no route matches.
func (s *MockServer) Receive(ctx context.Context, req *http.Request) (*http.Response, error) {
	response, _, err := s.TraceReceive(ctx, req)
	return response, err
}

// TraceReceive performs the same walk as Receive but also accumulates a
// trace for every route considered, so callers can report near-misses.
// Already-matched routes are traced last, each ending with an explicit
// "Route was already called" failure.
func (s *MockServer) TraceReceive(ctx context.Context, req *http.Request) (*http.Response, []Trace, error) {
	rr, err := s.buildReceivedRequest(req)
	if err != nil {
		return nil, nil, err
	}

	matchedRoute, params, traces := s.findRoute(rr)
	if matchedRoute == nil {
		s.log(ctx, slog.LevelWarn, "no route matched",
			slog.String("method", rr.method),
			slog.String("url", rr.url.String()))
		return nil, traces, nil
	}

	s.log(ctx, slog.LevelInfo, "route matched",
		slog.String("route", matchedRoute.Title()),
		slog.String("method", rr.method),
		slog.String("url", rr.url.String()))

	info := RequestInfo{
		Cookies: requestCookies(req),
		Params:  params,
		Query:   rr.query,
	}

	response, err := matchedRoute.createResponse(req, info)
	if err != nil {
		return nil, traces, err
	}
	return response, traces, nil
}

// findRoute walks the routes in declaration order under the lock, consuming
// the first unmatched route that accepts the request and tracing the rest.
func (s *MockServer) findRoute(rr *receivedRequest) (*Route, map[string]string, []Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var traces []Trace
	var matchedRoute *Route
	var params map[string]string

	for _, route := range s.routes {
		if route.matched {
			continue
		}

		trace := route.traceMatches(rr)
		if trace.Matches && matchedRoute == nil {
			route.matched = true
			matchedRoute = route
			params = trace.Params
			break
		}
		traces = append(traces, trace)
	}

	if matchedRoute == nil {
		for _, route := range s.routes {
			if !route.matched {
				continue
			}
			trace := route.traceMatches(rr)
			trace.fail("Route was already called.")
			traces = append(traces, trace)
		}
	}

	return matchedRoute, params, traces
}

// buildReceivedRequest reads and parses the request body per content type
// and flattens the request for matching.
func (s *MockServer) buildReceivedRequest(req *http.Request) (*receivedRequest, error) {
	raw, err := readRequestBody(req)
	if err != nil {
		return nil, err
	}

	body, err := parseRequestBody(req.Header, raw)
	if err != nil {
		return nil, err
	}

	return &receivedRequest{
		method:  req.Method,
		url:     req.URL,
		headers: req.Header,
		query:   req.URL.Query(),
		body:    body,
	}, nil
}

// readRequestBody drains the request body, restoring a fresh reader so later
// consumers still see the bytes.
func readRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read request body")
	}
	_ = req.Body.Close()

	req.Body = readerBody(raw)
	return raw, nil
}

// requestCookies collects the request's cookies by name.
func requestCookies(req *http.Request) map[string]string {
	cookies := map[string]string{}
	for _, cookie := range req.Cookies() {
		cookies[cookie.Name] = cookie.Value
	}
	return cookies
}

// Called reports whether any already-matched route accepts the given pattern
// (a URL string or RequestPattern). It returns an error when the pattern
// matches no registered route at all, which usually indicates a
// test-authoring mistake.
func (s *MockServer) Called(pattern any) (bool, error) {
	requestPattern, err := normalizeRequestPattern(pattern)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	anyAccepts := false
	for _, route := range s.routes {
		if !s.routeAcceptsPattern(route, requestPattern) {
			continue
		}
		anyAccepts = true
		if route.matched {
			return true, nil
		}
	}

	if !anyAccepts {
		return false, errors.Errorf("no route, called or uncalled, matches %s %s",
			strings.ToUpper(requestPattern.Method), requestPattern.URL)
	}
	return false, nil
}

// WasCalled is the lenient variant of Called: it never errors and simply
// reports false when nothing matches.
func (s *MockServer) WasCalled(pattern any) bool {
	called, err := s.Called(pattern)
	return err == nil && called
}

// routeAcceptsPattern compares a registered route against a query pattern:
// the pattern URL must satisfy the route's URL template and every field the
// query declares must agree with the route's own pattern.
func (s *MockServer) routeAcceptsPattern(route *Route, pattern RequestPattern) bool {
	target := pattern.URL
	if !hasScheme(target) {
		target = joinBaseURL(s.baseURL, target)
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return false
	}
	if _, ok := route.matcher.template.match(parsed); !ok {
		return false
	}

	declared := route.matcher.pattern
	if pattern.Method != "" && !strings.EqualFold(pattern.Method, declared.Method) {
		return false
	}
	for key, value := range pattern.Headers {
		if declared.Headers[strings.ToLower(key)] != value && declared.Headers[key] != value {
			return false
		}
	}
	for key, value := range pattern.Query {
		if declared.Query[key] != value {
			return false
		}
	}
	for key, value := range pattern.Params {
		if declared.Params[key] != value {
			return false
		}
	}
	if pattern.Body != nil && !reflect.DeepEqual(pattern.Body, declared.Body) {
		return false
	}
	return true
}

// AllRoutesCalled reports whether every registered route has been matched.
func (s *MockServer) AllRoutesCalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, route := range s.routes {
		if !route.matched {
			return false
		}
	}
	return true
}

// UncalledRoutes returns the display strings of routes that have not been
// matched yet.
func (s *MockServer) UncalledRoutes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var uncalled []string
	for _, route := range s.routes {
		if !route.matched {
			uncalled = append(uncalled, route.Title())
		}
	}
	return uncalled
}

// AssertAllRoutesCalled returns an error listing every uncalled route, or
// nil when all routes were consumed.
func (s *MockServer) AssertAllRoutesCalled() error {
	uncalled := s.UncalledRoutes()
	if len(uncalled) == 0 {
		return nil
	}
	return errors.Errorf("expected all routes to be called, but %d were not:\n%s",
		len(uncalled), strings.Join(uncalled, "\n"))
}

// Clear removes every route and all bookkeeping.
func (s *MockServer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = nil
}

// log emits a record when a logger is configured and the level is enabled.
func (s *MockServer) log(ctx context.Context, level slog.Level, message string, attrs ...slog.Attr) {
	if s.logger == nil || level < s.logLevel || !s.logger.Enabled(ctx, level) {
		return
	}
	s.logger.LogAttrs(ctx, level, message, attrs...)
}
