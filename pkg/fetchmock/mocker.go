package fetchmock

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Response type values, mirroring the fetch response types.
const (
	// ResponseTypeBasic marks a same-origin response.
	ResponseTypeBasic = "basic"
	// ResponseTypeCORS marks a cross-origin response that passed CORS
	// validation.
	ResponseTypeCORS = "cors"
	// ResponseTypeOpaqueRedirect marks the placeholder returned for a
	// redirect under the manual redirect mode.
	ResponseTypeOpaqueRedirect = "opaqueredirect"
)

// FetchMocker composes mock servers, base-URL resolution, credential
// attachment, CORS validation, preflight caching and redirect following into
// a single fetch-shaped pipeline.
type FetchMocker struct {
	servers     []*MockServer
	baseURL     *url.URL
	credentials *CookieCredentials

	mu        sync.Mutex
	preflight map[string]PreflightData

	logger   *slog.Logger
	logLevel slog.Level
	metrics  *MetricsCollector

	globalMu       sync.Mutex
	savedTransport http.RoundTripper
}

// mockerConfig collects constructor options before validation.
type mockerConfig struct {
	servers     []*MockServer
	baseURL     string
	credentials *CookieCredentials
	logger      *slog.Logger
	logLevel    slog.Level
	metrics     *MetricsCollector
}

// MockerOption is a function that modifies the mocker configuration.
type MockerOption func(*mockerConfig)

// WithServers is a function that sets the servers the mocker dispatches to,
// in match order.
func WithServers(servers ...*MockServer) MockerOption {
	return func(c *mockerConfig) {
		c.servers = append(c.servers, servers...)
	}
}

// WithBaseURL is a function that sets the client-side base URL: relative
// fetch inputs resolve against it and its origin is the caller origin for
// CORS purposes.
func WithBaseURL(baseURL string) MockerOption {
	return func(c *mockerConfig) {
		c.baseURL = baseURL
	}
}

// WithCredentials is a function that sets the cookie credential store.
// Credentials require a base URL.
func WithCredentials(credentials *CookieCredentials) MockerOption {
	return func(c *mockerConfig) {
		c.credentials = credentials
	}
}

// WithLogger is a function that sets a structured logger for the mocker.
func WithLogger(logger *slog.Logger) MockerOption {
	return func(c *mockerConfig) {
		c.logger = logger
	}
}

// WithLogLevel is a function that sets the minimum log level for fetch
// pipeline logging.
func WithLogLevel(level slog.Level) MockerOption {
	return func(c *mockerConfig) {
		c.logLevel = level
	}
}

// WithMetrics is a function that attaches a Prometheus metrics collector.
func WithMetrics(metrics *MetricsCollector) MockerOption {
	return func(c *mockerConfig) {
		c.metrics = metrics
	}
}

// NewFetchMocker creates a fetch mocker. At least one server is required; a
// credential store additionally requires a base URL.
func NewFetchMocker(opts ...MockerOption) (*FetchMocker, error) {
	config := mockerConfig{logLevel: slog.LevelDebug}
	for _, opt := range opts {
		opt(&config)
	}

	if len(config.servers) == 0 {
		return nil, errors.New("at least one mock server is required")
	}

	mocker := &FetchMocker{
		servers:     config.servers,
		credentials: config.credentials,
		preflight:   map[string]PreflightData{},
		logger:      config.logger,
		logLevel:    config.logLevel,
		metrics:     config.metrics,
	}

	if config.baseURL != "" {
		parsed, err := parseBaseURL(config.baseURL)
		if err != nil {
			return nil, err
		}
		mocker.baseURL = parsed
	}

	if mocker.credentials != nil && mocker.baseURL == nil {
		return nil, errors.New("credentials require a base URL")
	}
	return mocker, nil
}

// Response is the result of a fetch: the underlying HTTP response plus the
// fetch-level attributes the pipeline computed.
type Response struct {
	*http.Response

	// Type is one of basic, cors or opaqueredirect.
	Type string

	// URL is the final request URL after any redirects.
	URL string

	// Redirected reports whether at least one redirect was followed.
	Redirected bool
}

// Text drains the response body as a string.
func (r *Response) Text() (string, error) {
	if r.Body == nil {
		return "", nil
	}
	defer r.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read response body")
	}
	return string(raw), nil
}

// FetchOptions collects per-call settings, mirroring fetch's init argument.
type FetchOptions struct {
	Method      string
	Headers     http.Header
	Body        io.Reader
	Credentials CredentialsMode
	Redirect    RedirectMode

	// Error stores failures from options that cannot return errors directly.
	Error error
}

// FetchOption is a function that modifies the fetch options.
type FetchOption func(*FetchOptions)

// WithMethod is a function that sets the request method.
func WithMethod(method string) FetchOption {
	return func(o *FetchOptions) {
		o.Method = method
	}
}

// WithHeader is a function that adds a request header.
func WithHeader(key string, values ...string) FetchOption {
	return func(o *FetchOptions) {
		for _, value := range values {
			o.Headers.Add(key, value)
		}
	}
}

// WithHeaders is a function that merges the given headers into the request.
func WithHeaders(headers http.Header) FetchOption {
	return func(o *FetchOptions) {
		for key, values := range headers {
			for _, value := range values {
				o.Headers.Add(key, value)
			}
		}
	}
}

// WithBody is a function that sets the request body.
func WithBody(body io.Reader) FetchOption {
	return func(o *FetchOptions) {
		o.Body = body
	}
}

// WithJSONBody is a function that sets a JSON request body and content type.
func WithJSONBody(body any) FetchOption {
	return func(o *FetchOptions) {
		encoded, err := json.Marshal(body)
		if err != nil {
			o.Error = errors.Wrap(err, "failed to encode JSON request body")
			return
		}
		o.Headers.Set("Content-Type", "application/json")
		o.Body = bytes.NewReader(encoded)
	}
}

// WithFormBody is a function that sets a urlencoded form body and content
// type.
func WithFormBody(form url.Values) FetchOption {
	return func(o *FetchOptions) {
		o.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
		o.Body = strings.NewReader(form.Encode())
	}
}

// WithCredentialsMode is a function that sets the credentials mode.
func WithCredentialsMode(mode CredentialsMode) FetchOption {
	return func(o *FetchOptions) {
		o.Credentials = mode
	}
}

// WithRedirectMode is a function that sets the redirect mode.
func WithRedirectMode(mode RedirectMode) FetchOption {
	return func(o *FetchOptions) {
		o.Redirect = mode
	}
}

// Fetch resolves the input URL, builds the decorated request and runs the
// pipeline. A relative input requires a configured base URL.
func (m *FetchMocker) Fetch(ctx context.Context, input string, opts ...FetchOption) (*Response, error) {
	options := FetchOptions{
		Method:      http.MethodGet,
		Headers:     http.Header{},
		Credentials: CredentialsSameOrigin,
		Redirect:    RedirectFollow,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Error != nil {
		return nil, options.Error
	}

	target, err := m.resolveInput(input)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, options.Method, target, options.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	httpReq.Header = options.Headers

	req, err := NewRequest(httpReq)
	if err != nil {
		return nil, err
	}
	req.Credentials = options.Credentials
	req.Redirect = options.Redirect

	return m.FetchRequest(ctx, req)
}

// resolveInput joins a relative input with the base URL, passing absolute
// inputs through.
func (m *FetchMocker) resolveInput(input string) (string, error) {
	if hasScheme(input) {
		return input, nil
	}
	if m.baseURL == nil {
		return "", errors.Errorf("relative URL %q requires a base URL", input)
	}
	resolved, err := m.baseURL.Parse(input)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve %q against base URL", input)
	}
	return resolved.String(), nil
}

// FetchRequest runs the pipeline for an already-decorated request,
// following redirects per the request's redirect mode.
func (m *FetchMocker) FetchRequest(ctx context.Context, req *Request) (*Response, error) {
	if err := req.validateModes(); err != nil {
		return nil, err
	}

	start := time.Now()
	state := newRedirectState(req)
	current := req

	for {
		response, crossOrigin, err := m.dispatchOnce(ctx, current)
		if err != nil {
			m.metrics.observeFetch(current.Method, 0, time.Since(start), false)
			return nil, err
		}

		if !isRedirectStatus(response.StatusCode) || response.Header.Get("Location") == "" {
			m.metrics.observeFetch(current.Method, response.StatusCode, time.Since(start), true)
			return m.finishResponse(response, current, crossOrigin, state.hops > 0), nil
		}

		switch current.Redirect {
		case RedirectManual:
			m.metrics.observeFetch(current.Method, 0, time.Since(start), true)
			return opaqueRedirectResponse(current), nil
		case RedirectError:
			m.metrics.observeFetch(current.Method, response.StatusCode, time.Since(start), false)
			return nil, errors.Errorf("fetch was redirected to %s but the redirect mode is %q",
				response.Header.Get("Location"), RedirectError)
		}

		next, err := buildRedirectRequest(ctx, current, response)
		if err != nil {
			return nil, err
		}
		if err := state.follow(next.URL.String()); err != nil {
			return nil, err
		}

		m.log(ctx, slog.LevelDebug, "following redirect",
			slog.String("request_id", req.ID),
			slog.Int("status_code", response.StatusCode),
			slog.String("location", next.URL.String()))
		current = next
	}
}

// finishResponse wraps the pipeline result with its fetch-level attributes.
func (m *FetchMocker) finishResponse(response *http.Response, req *Request, crossOrigin, redirected bool) *Response {
	responseType := ResponseTypeBasic
	if crossOrigin {
		responseType = ResponseTypeCORS
	}
	return &Response{
		Response:   response,
		Type:       responseType,
		URL:        req.URL.String(),
		Redirected: redirected,
	}
}

// opaqueRedirectResponse is the placeholder returned in the manual redirect
// mode: type opaqueredirect, status 0 and the original request URL.
func opaqueRedirectResponse(req *Request) *Response {
	return &Response{
		Response: &http.Response{
			StatusCode: 0,
			Status:     "0",
			Proto:      "HTTP/1.1",
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     http.Header{},
			Body:       readerBody(nil),
			Request:    req.Request,
		},
		Type: ResponseTypeOpaqueRedirect,
		URL:  req.URL.String(),
	}
}

// dispatchOnce runs one hop of the pipeline: cancellation checks, CORS
// classification and preflight, credential attachment, the server walk and
// the CORS response filter.
func (m *FetchMocker) dispatchOnce(ctx context.Context, req *Request) (*http.Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.log(ctx, slog.LevelDebug, "fetch request",
		slog.String("request_id", req.ID),
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()))

	crossOrigin := m.baseURL != nil && m.origin() != req.Origin()
	if crossOrigin {
		if err := m.prepareCrossOrigin(ctx, req); err != nil {
			return nil, true, err
		}
	} else if req.Credentials != CredentialsOmit {
		m.attachCredentials(req)
	}

	if err := ctx.Err(); err != nil {
		return nil, crossOrigin, err
	}

	response, err := m.dispatchToServers(ctx, req)
	if err != nil {
		return nil, crossOrigin, err
	}

	if err := ctx.Err(); err != nil {
		return nil, crossOrigin, err
	}

	if crossOrigin {
		if reason, ok := checkAllowOrigin(response.Header, m.origin()); !ok {
			return nil, true, m.corsError(req, reason)
		}
		if req.Credentials == CredentialsInclude {
			if reason, ok := checkCredentialedResponse(response.Header); !ok {
				return nil, true, m.corsError(req, reason)
			}
		}
		response.Header = filterCORSResponseHeaders(response.Header)
	}

	m.log(ctx, slog.LevelInfo, "fetch response",
		slog.String("request_id", req.ID),
		slog.Int("status_code", response.StatusCode),
		slog.String("status", response.Status))
	return response, crossOrigin, nil
}

// prepareCrossOrigin enforces the CORS request rules and attaches
// credentials where permitted.
func (m *FetchMocker) prepareCrossOrigin(ctx context.Context, req *Request) error {
	if reason, ok := assertValidCORSRequest(req); !ok {
		return m.corsError(req, reason)
	}

	if !isSimpleRequest(req) {
		data, err := m.preflightData(ctx, req)
		if err != nil {
			return err
		}
		if reason, ok := data.validateAgainstRequest(req); !ok {
			return newPreflightError(req.URL.String(), m.origin(), reason)
		}
		if req.Credentials == CredentialsInclude && !data.AllowCredentials {
			return newPreflightError(req.URL.String(), m.origin(),
				"Credentials are not supported.")
		}
	}

	// The Origin header is appended after classification so it never makes
	// the request look non-simple, and before credential attachment so
	// SameSite filtering sees the cross-origin context.
	req.Header.Set(headerOrigin, m.origin())

	if req.Credentials != CredentialsOmit {
		m.attachCredentials(req)
	}
	return nil
}

// preflightData returns the cached preflight grants for the request URL or
// performs the OPTIONS probe through the same server pipeline.
func (m *FetchMocker) preflightData(ctx context.Context, req *Request) (PreflightData, error) {
	key := req.URL.String()

	m.mu.Lock()
	if data, cached := m.preflight[key]; cached {
		m.mu.Unlock()
		m.metrics.observePreflight(true)
		return data, nil
	}
	m.mu.Unlock()

	m.metrics.observePreflight(false)

	probe, err := m.buildPreflightRequest(ctx, req)
	if err != nil {
		return PreflightData{}, err
	}

	m.log(ctx, slog.LevelDebug, "preflight request",
		slog.String("request_id", req.ID),
		slog.String("url", key))

	response, err := m.dispatchToServers(ctx, probe)
	if err != nil {
		return PreflightData{}, err
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return PreflightData{}, newPreflightError(key, m.origin(),
			"It does not have HTTP ok status.")
	}
	if reason, ok := checkAllowOrigin(response.Header, m.origin()); !ok {
		return PreflightData{}, newPreflightError(key, m.origin(), reason)
	}

	data := preflightDataFromHeaders(response.Header)

	m.mu.Lock()
	m.preflight[key] = data
	m.mu.Unlock()
	return data, nil
}

// buildPreflightRequest constructs the OPTIONS probe carrying the origin,
// the requested method and any non-simple header names.
func (m *FetchMocker) buildPreflightRequest(ctx context.Context, req *Request) (*Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodOptions, req.URL.String(), http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build preflight request")
	}

	httpReq.Header.Set(headerOrigin, m.origin())
	httpReq.Header.Set(headerRequestMethod, strings.ToUpper(req.Method))
	if names := nonSimpleHeaderNames(req.Header); len(names) > 0 {
		httpReq.Header.Set(headerRequestHeaders, strings.Join(names, ", "))
	}

	probe, err := NewRequest(httpReq)
	if err != nil {
		return nil, err
	}
	probe.Credentials = CredentialsOmit
	return probe, nil
}

// dispatchToServers hands a fresh clone of the request to each server in
// order. The first response wins; a full miss produces a NoRouteError
// embedding every partial-match trace (traces with more than one message).
func (m *FetchMocker) dispatchToServers(ctx context.Context, req *Request) (*http.Response, error) {
	var partialTraces []Trace

	for _, server := range m.servers {
		clone := req.Clone(ctx)
		response, traces, err := server.TraceReceive(ctx, clone.Request)
		if err != nil {
			return nil, err
		}
		if response != nil {
			m.metrics.observeMatch(server.BaseURL())
			return response, nil
		}

		for _, trace := range traces {
			if len(trace.Messages) > 1 {
				partialTraces = append(partialTraces, trace)
			}
		}
	}

	m.metrics.observeMiss()
	return nil, &NoRouteError{Request: req, Body: req.BodyBytes(), Traces: partialTraces}
}

// attachCredentials merges the credential store's Cookie header into the
// request.
func (m *FetchMocker) attachCredentials(req *Request) {
	if m.credentials == nil {
		return
	}
	for key, values := range m.credentials.HeadersForRequest(req) {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}
}

// origin returns the configured caller origin.
func (m *FetchMocker) origin() string {
	if m.baseURL == nil {
		return ""
	}
	return m.baseURL.Scheme + "://" + m.baseURL.Host
}

// corsError builds a CORSError for the request.
func (m *FetchMocker) corsError(req *Request, reason string) error {
	return &CORSError{RequestURL: req.URL.String(), Origin: m.origin(), Reason: reason}
}

// Called reports whether any server's matched routes accept the pattern. It
// returns an error when no server has a route accepting the pattern at all.
func (m *FetchMocker) Called(pattern any) (bool, error) {
	var firstErr error
	accepted := false

	for _, server := range m.servers {
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
func (m *FetchMocker) WasCalled(pattern any) bool {
	called, err := m.Called(pattern)
	return err == nil && called
}

// AllRoutesCalled reports whether every route on every server was matched.
func (m *FetchMocker) AllRoutesCalled() bool {
	for _, server := range m.servers {
		if !server.AllRoutesCalled() {
			return false
		}
	}
	return true
}

// UncalledRoutes lists the uncalled routes across all servers.
func (m *FetchMocker) UncalledRoutes() []string {
	var uncalled []string
	for _, server := range m.servers {
		uncalled = append(uncalled, server.UncalledRoutes()...)
	}
	return uncalled
}

// AssertAllRoutesCalled returns an error listing every uncalled route across
// all servers.
func (m *FetchMocker) AssertAllRoutesCalled() error {
	uncalled := m.UncalledRoutes()
	if len(uncalled) == 0 {
		return nil
	}
	return errors.Errorf("expected all routes to be called, but %d were not:\n%s",
		len(uncalled), strings.Join(uncalled, "\n"))
}

// ClearPreflightCache evicts every cached preflight grant.
func (m *FetchMocker) ClearPreflightCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preflight = map[string]PreflightData{}
}

// ClearAll clears every server, the credential store and the preflight
// cache.
func (m *FetchMocker) ClearAll() {
	for _, server := range m.servers {
		server.Clear()
	}
	if m.credentials != nil {
		m.credentials.Clear()
	}
	m.ClearPreflightCache()
}

// MockGlobal installs this mocker as http.DefaultTransport so clients using
// the default transport hit the mocks. UnmockGlobal restores the original.
func (m *FetchMocker) MockGlobal() {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	if m.savedTransport != nil {
		return
	}
	m.savedTransport = http.DefaultTransport
	http.DefaultTransport = m.Transport()
}

// UnmockGlobal restores the transport captured by MockGlobal.
func (m *FetchMocker) UnmockGlobal() {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	if m.savedTransport == nil {
		return
	}
	http.DefaultTransport = m.savedTransport
	m.savedTransport = nil
}

// log emits a record when a logger is configured and the level is enabled.
func (m *FetchMocker) log(ctx context.Context, level slog.Level, message string, attrs ...slog.Attr) {
	if m.logger == nil || level < m.logLevel || !m.logger.Enabled(ctx, level) {
		return
	}
	m.logger.LogAttrs(ctx, level, message, attrs...)
}
