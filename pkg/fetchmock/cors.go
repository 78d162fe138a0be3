package fetchmock

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Header names used by the CORS protocol.
const (
	headerOrigin                 = "Origin"
	headerAllowOrigin            = "Access-Control-Allow-Origin"
	headerAllowCredentials       = "Access-Control-Allow-Credentials"
	headerAllowMethods           = "Access-Control-Allow-Methods"
	headerAllowHeaders           = "Access-Control-Allow-Headers"
	headerExposeHeaders          = "Access-Control-Expose-Headers"
	headerMaxAge                 = "Access-Control-Max-Age"
	headerRequestMethod          = "Access-Control-Request-Method"
	headerRequestHeaders         = "Access-Control-Request-Headers"
	headerAuthorization          = "authorization"
	wildcard                     = "*"
	forbiddenMethodConnect       = "CONNECT"
	forbiddenMethodTrace         = "TRACE"
	forbiddenMethodTrack         = "TRACK"
	defaultPreflightCacheMaxAge  = time.Duration(1<<63 - 1)
	corsContentTypeHeader        = "content-type"
	corsRangeHeader              = "range"
	methodOverrideHeaderPrefix   = "x-http-method"
	methodOverrideHeaderOverride = "x-method-override"
)

// simpleMethods are the methods a simple CORS request may use.
var simpleMethods = map[string]bool{
	http.MethodGet:  true,
	http.MethodHead: true,
	http.MethodPost: true,
}

// safeMethods never require preflight method permission.
var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// simpleRequestHeaders is the safelist of request headers allowed on a
// simple request.
var simpleRequestHeaders = map[string]bool{
	"accept":           true,
	"accept-language":  true,
	"content-language": true,
	"content-type":     true,
	"range":            true,
}

// safelistedRequestHeaders always pass preflight header validation.
var safelistedRequestHeaders = map[string]bool{
	"accept":           true,
	"accept-language":  true,
	"content-language": true,
}

// simpleContentTypes are the content types allowed on a simple request.
var simpleContentTypes = map[string]bool{
	"application/x-www-form-urlencoded": true,
	"multipart/form-data":               true,
	"text/plain":                        true,
}

// forbiddenRequestHeaders cannot be set by callers; their presence rejects
// the request before any dispatch.
var forbiddenRequestHeaders = map[string]bool{
	"accept-charset":                 true,
	"accept-encoding":                true,
	"access-control-request-headers": true,
	"access-control-request-method":  true,
	"connection":                     true,
	"content-length":                 true,
	"cookie":                         true,
	"cookie2":                        true,
	"date":                           true,
	"dnt":                            true,
	"expect":                         true,
	"host":                           true,
	"keep-alive":                     true,
	"origin":                         true,
	"referer":                        true,
	"set-cookie":                     true,
	"te":                             true,
	"trailer":                        true,
	"transfer-encoding":              true,
	"upgrade":                        true,
	"via":                            true,
}

// forbiddenMethods reject the request outright.
var forbiddenMethods = map[string]bool{
	forbiddenMethodConnect: true,
	forbiddenMethodTrace:   true,
	forbiddenMethodTrack:   true,
}

// corsSafelistedResponseHeaders survive response filtering without being
// exposed explicitly.
var corsSafelistedResponseHeaders = map[string]bool{
	"cache-control":    true,
	"content-language": true,
	"content-type":     true,
	"expires":          true,
	"last-modified":    true,
	"pragma":           true,
}

// forbiddenResponseHeaders never survive response filtering.
var forbiddenResponseHeaders = map[string]bool{
	"set-cookie":  true,
	"set-cookie2": true,
}

// simpleRangePattern admits single bytes ranges: N-M, -M and N-.
var simpleRangePattern = regexp.MustCompile(`^bytes=(\d+-\d*|-\d+)$`)

// PreflightData captures the permissions granted by a preflight response.
// It is cached per absolute request URL until explicitly cleared.
type PreflightData struct {
	AllowedMethods   []string
	AllowAllMethods  bool
	AllowedHeaders   []string
	AllowAllHeaders  bool
	AllowCredentials bool
	MaxAge           time.Duration
}

// preflightDataFromHeaders builds PreflightData from the headers of an
// OPTIONS probe response. An unparseable max-age means "cache forever".
func preflightDataFromHeaders(header http.Header) PreflightData {
	data := PreflightData{MaxAge: defaultPreflightCacheMaxAge}

	methods := splitHeaderList(header.Get(headerAllowMethods))
	for _, method := range methods {
		if method == wildcard {
			data.AllowAllMethods = true
			continue
		}
		data.AllowedMethods = append(data.AllowedMethods, strings.ToUpper(method))
	}

	headers := splitHeaderList(header.Get(headerAllowHeaders))
	for _, name := range headers {
		if name == wildcard {
			data.AllowAllHeaders = true
			continue
		}
		data.AllowedHeaders = append(data.AllowedHeaders, strings.ToLower(name))
	}

	data.AllowCredentials = header.Get(headerAllowCredentials) == "true"

	if maxAge := header.Get(headerMaxAge); maxAge != "" {
		if seconds, err := strconv.Atoi(maxAge); err == nil {
			data.MaxAge = time.Duration(seconds) * time.Second
		}
	}
	return data
}

// allowsMethod checks preflight method permission: safe methods always pass.
func (d PreflightData) allowsMethod(method string) bool {
	method = strings.ToUpper(method)
	if d.AllowAllMethods || safeMethods[method] {
		return true
	}
	return containsString(d.AllowedMethods, method)
}

// allowsHeader checks preflight header permission. Safelisted headers always
// pass; authorization passes only when listed explicitly, never via the
// wildcard.
func (d PreflightData) allowsHeader(name string) bool {
	name = strings.ToLower(name)
	if safelistedRequestHeaders[name] {
		return true
	}
	if name == headerAuthorization {
		return containsString(d.AllowedHeaders, name)
	}
	if d.AllowAllHeaders {
		return true
	}
	return containsString(d.AllowedHeaders, name)
}

// validateAgainstRequest checks the actual request's method and headers
// against the preflight grants and returns the failure reason.
func (d PreflightData) validateAgainstRequest(req *Request) (string, bool) {
	if !d.allowsMethod(req.Method) {
		return "Method " + strings.ToUpper(req.Method) + " is not allowed.", false
	}

	for _, name := range nonSimpleHeaderNames(req.Header) {
		if !d.allowsHeader(name) {
			return "Header " + name + " is not allowed.", false
		}
	}
	return "", true
}

// isSimpleRequest classifies a CORS request as simple: method in the simple
// set, every header safelisted, a simple content type, and at most a single
// bytes range.
func isSimpleRequest(req *Request) bool {
	if !simpleMethods[strings.ToUpper(req.Method)] {
		return false
	}

	for name := range req.Header {
		lower := strings.ToLower(name)
		if !simpleRequestHeaders[lower] {
			return false
		}
	}

	if contentType := req.Header.Get(corsContentTypeHeader); contentType != "" {
		mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
		if !simpleContentTypes[mediaType] {
			return false
		}
	}

	if rangeValue := req.Header.Get(corsRangeHeader); rangeValue != "" {
		if !simpleRangePattern.MatchString(rangeValue) {
			return false
		}
	}
	return true
}

// assertValidCORSRequest rejects forbidden methods and forbidden request
// headers before any dispatch, returning the rejection reason.
func assertValidCORSRequest(req *Request) (string, bool) {
	if forbiddenMethods[strings.ToUpper(req.Method)] {
		return "Method " + strings.ToUpper(req.Method) + " is forbidden.", false
	}

	for name := range req.Header {
		lower := strings.ToLower(name)
		if isForbiddenRequestHeader(lower, req.Header.Get(name)) {
			return "Header " + lower + " is forbidden.", false
		}
	}
	return "", true
}

// isForbiddenRequestHeader applies the fixed forbidden set, the proxy-/sec-
// prefixes and method-override headers naming forbidden methods.
func isForbiddenRequestHeader(name, value string) bool {
	if forbiddenRequestHeaders[name] {
		return true
	}
	if strings.HasPrefix(name, "proxy-") || strings.HasPrefix(name, "sec-") {
		return true
	}
	if strings.HasPrefix(name, methodOverrideHeaderPrefix) || name == methodOverrideHeaderOverride {
		return forbiddenMethods[strings.ToUpper(strings.TrimSpace(value))]
	}
	return false
}

// checkAllowOrigin validates the Access-Control-Allow-Origin response header
// against the caller origin and returns the failure reason.
func checkAllowOrigin(header http.Header, origin string) (string, bool) {
	allowOrigin := header.Get(headerAllowOrigin)
	if allowOrigin == "" {
		return "No 'Access-Control-Allow-Origin' header is present on the requested resource.", false
	}
	if strings.Contains(allowOrigin, ",") {
		return "The 'Access-Control-Allow-Origin' header contains multiple values '" +
			allowOrigin + "', but only one is allowed.", false
	}
	if allowOrigin != wildcard && allowOrigin != origin {
		return "The 'Access-Control-Allow-Origin' header has a value '" + allowOrigin +
			"' that is not equal to the supplied origin.", false
	}
	return "", true
}

// checkCredentialedResponse validates the extra constraints of a
// credentialed response: allow-credentials must be "true" and no
// CORS header may be the wildcard.
func checkCredentialedResponse(header http.Header) (string, bool) {
	if header.Get(headerAllowCredentials) != "true" {
		return "The value of the 'Access-Control-Allow-Credentials' header in the response is '" +
			header.Get(headerAllowCredentials) + "' which must be 'true' when the request's credentials mode is 'include'.", false
	}

	wildcardChecks := []string{headerAllowOrigin, headerAllowHeaders, headerAllowMethods, headerExposeHeaders}
	for _, name := range wildcardChecks {
		if header.Get(name) == wildcard {
			return "The '" + name + "' header must not be '*' when the request's credentials mode is 'include'.", false
		}
	}
	return "", true
}

// filterCORSResponseHeaders retains safelisted and explicitly exposed
// response headers, dropping forbidden ones and everything else. The filter
// is idempotent.
func filterCORSResponseHeaders(header http.Header) http.Header {
	exposed := map[string]bool{}
	for _, name := range splitHeaderList(header.Get(headerExposeHeaders)) {
		exposed[strings.ToLower(name)] = true
	}

	filtered := http.Header{}
	for name, values := range header {
		lower := strings.ToLower(name)
		if forbiddenResponseHeaders[lower] {
			continue
		}
		if !corsSafelistedResponseHeaders[lower] && !exposed[lower] && lower != strings.ToLower(headerExposeHeaders) {
			continue
		}
		for _, value := range values {
			filtered.Add(name, value)
		}
	}
	return filtered
}

// nonSimpleHeaderNames lists the request headers outside the simple
// safelist, lowercased.
func nonSimpleHeaderNames(header http.Header) []string {
	var names []string
	for name := range header {
		lower := strings.ToLower(name)
		if simpleRequestHeaders[lower] {
			continue
		}
		names = append(names, lower)
	}
	return names
}

// splitHeaderList splits a comma-separated header value, trimming blanks.
func splitHeaderList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var values []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
