package fetchmock

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// Route pairs an immutable request pattern with a response producer. Routes
// are owned by a MockServer; a route matches at most once between clears.
type Route struct {
	matcher  *requestMatcher
	creator  ResponseCreator
	response *ResponsePattern

	matched bool
}

// newRoute validates both sides of the pairing and compiles the matcher.
func newRoute(pattern RequestPattern, response any, base *url.URL) (*Route, error) {
	matcher, err := newRequestMatcher(pattern, base)
	if err != nil {
		return nil, err
	}

	creator, literal, err := normalizeResponse(response)
	if err != nil {
		return nil, err
	}

	return &Route{matcher: matcher, creator: creator, response: literal}, nil
}

// Title returns the route display string, e.g. "GET https://api.example.com/users/:id".
func (r *Route) Title() string {
	return r.matcher.title()
}

// matches reports whether the request satisfies the route's pattern.
func (r *Route) matches(rr *receivedRequest) (map[string]string, bool) {
	return r.matcher.matches(rr)
}

// traceMatches evaluates the pattern and returns the full trace.
func (r *Route) traceMatches(rr *receivedRequest) Trace {
	return r.matcher.traceMatches(rr)
}

// createResponse resolves the response producer and builds the HTTP
// response. A positive delay suspends before returning; delays are not
// interruptible.
func (r *Route) createResponse(req *http.Request, info RequestInfo) (*http.Response, error) {
	pattern, err := resolveResponse(r.creator, req, info)
	if err != nil {
		return nil, errors.Wrapf(err, "route %s failed to create a response", r.Title())
	}

	if pattern.Delay > 0 {
		time.Sleep(pattern.Delay)
	}

	return buildResponse(pattern, req)
}

// buildResponse encodes the pattern body and assembles an *http.Response.
// Plain values become JSON, strings text/plain and byte slices
// application/octet-stream; a caller-supplied content-type wins.
func buildResponse(pattern ResponsePattern, req *http.Request) (*http.Response, error) {
	header := http.Header{}
	for key, value := range pattern.Headers {
		header.Set(key, value)
	}

	var payload []byte
	switch body := pattern.Body.(type) {
	case nil:
		payload = nil
	case string:
		payload = []byte(body)
		setDefaultContentType(header, "text/plain")
	case []byte:
		payload = body
		setDefaultContentType(header, "application/octet-stream")
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode response body as JSON")
		}
		payload = encoded
		setDefaultContentType(header, "application/json")
	}

	return &http.Response{
		Status:        formatStatus(pattern.Status),
		StatusCode:    pattern.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(payload)),
		ContentLength: int64(len(payload)),
		Request:       req,
	}, nil
}

// setDefaultContentType applies the default only when the caller did not
// supply a content-type of their own.
func setDefaultContentType(header http.Header, contentType string) {
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}
}
