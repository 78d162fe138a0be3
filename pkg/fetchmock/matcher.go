package fetchmock

import (
	"net/http"
	"net/url"
	"strings"
)

// receivedRequest is the flattened view of an incoming request that the
// matcher evaluates: method, URL, headers, parsed query and parsed body.
type receivedRequest struct {
	method  string
	url     *url.URL
	headers http.Header
	query   url.Values
	body    *parsedBody
}

// requestMatcher decides whether a candidate request satisfies a pattern and
// explains its decision with a per-criterion trace.
type requestMatcher struct {
	pattern      RequestPattern
	template     *urlTemplate
	expectedBody *expectedBody
}

// newRequestMatcher validates the pattern and compiles its URL template
// against the server base URL.
func newRequestMatcher(pattern RequestPattern, base *url.URL) (*requestMatcher, error) {
	if err := pattern.validate(); err != nil {
		return nil, err
	}

	template, err := compileTemplate(pattern.URL, base)
	if err != nil {
		return nil, err
	}

	var expected *expectedBody
	if pattern.Body != nil {
		// Already validated by pattern.validate.
		expected, _ = normalizeExpectedBody(pattern.Body)
	}

	return &requestMatcher{
		pattern:      pattern,
		template:     template,
		expectedBody: expected,
	}, nil
}

// title returns the route display string.
func (m *requestMatcher) title() string {
	return strings.ToUpper(m.pattern.Method) + " " + m.template.String()
}

// matches reports whether the request satisfies every criterion, returning
// the URL-template bindings on success.
func (m *requestMatcher) matches(rr *receivedRequest) (map[string]string, bool) {
	trace := m.traceMatches(rr)
	return trace.Params, trace.Matches
}

// traceMatches evaluates the criteria in order (URL, method, query, params,
// headers, body) and records one message per check. Evaluation halts at the
// first failure so the trace contains at most one failed check.
func (m *requestMatcher) traceMatches(rr *receivedRequest) Trace {
	trace := Trace{Title: m.title(), Matches: true, Query: rr.query}

	params, ok := m.template.match(rr.url)
	if !ok {
		trace.fail("URL does not match.")
		return trace
	}
	trace.Params = params
	trace.pass("URL matches.")

	if !strings.EqualFold(m.pattern.Method, rr.method) {
		trace.fail("Method does not match. Expected %s but received %s.",
			strings.ToUpper(m.pattern.Method), strings.ToUpper(rr.method))
		return trace
	}
	trace.pass("Method matches: %s.", strings.ToUpper(rr.method))

	if len(m.pattern.Query) > 0 {
		if key, ok := m.matchQuery(rr.query); !ok {
			trace.fail("Query string does not match. Expected %s=%s but received %s=%s.",
				key, m.pattern.Query[key], key, rr.query.Get(key))
			return trace
		}
		trace.pass("Query string matches.")
	}

	if len(m.pattern.Params) > 0 {
		if key, ok := m.matchParams(params); !ok {
			trace.fail("URL parameters do not match. Expected %s=%s but received %s=%s.",
				key, m.pattern.Params[key], key, params[key])
			return trace
		}
		trace.pass("URL parameters match.")
	}

	if len(m.pattern.Headers) > 0 {
		if key, ok := m.matchHeaders(rr.headers); !ok {
			trace.fail("Headers do not match. Expected %s=%s but received %s=%s.",
				key, m.pattern.Headers[key], key, rr.headers.Get(key))
			return trace
		}
		trace.pass("Headers match.")
	}

	if m.expectedBody != nil {
		if detail, ok := m.matchExpectedBody(rr.body); !ok {
			trace.fail("Body does not match. %s", detail)
			return trace
		}
		trace.pass("Body matches.")
	}

	return trace
}

// matchQuery checks that every expected query parameter is present with the
// expected value; extra actual parameters are ignored.
func (m *requestMatcher) matchQuery(query url.Values) (string, bool) {
	for key, value := range m.pattern.Query {
		if !query.Has(key) || query.Get(key) != value {
			return key, false
		}
	}
	return "", true
}

// matchParams checks the expected URL-template bindings.
func (m *requestMatcher) matchParams(params map[string]string) (string, bool) {
	for key, value := range m.pattern.Params {
		bound, present := params[key]
		if !present || bound != value {
			return key, false
		}
	}
	return "", true
}

// matchHeaders checks expected headers with case-insensitive names and exact
// values.
func (m *requestMatcher) matchHeaders(headers http.Header) (string, bool) {
	for key, value := range m.pattern.Headers {
		if headers.Get(key) != value {
			return key, false
		}
	}
	return "", true
}

// matchExpectedBody dispatches the body comparison per declared variant.
func (m *requestMatcher) matchExpectedBody(body *parsedBody) (string, bool) {
	if body == nil {
		body = &parsedBody{kind: bodyEmpty}
	}
	ok, detail := matchBody(m.expectedBody, body)
	return detail, ok
}
