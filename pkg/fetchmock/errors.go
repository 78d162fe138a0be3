package fetchmock

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// NoRouteError is returned when a request reaches the server pipeline and no
// registered route matches it. The message embeds a dump of the request and
// the traces of every partial match so a failing test explains itself.
type NoRouteError struct {
	Request *Request
	Body    []byte
	Traces  []Trace
}

// Error implements the error interface.
func (e *NoRouteError) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "no route matched for %s %s", e.Request.Method, e.Request.URL)
	sb.WriteString("\n\nFull request:\n\n")
	fmt.Fprintf(&sb, "%s %s\n", e.Request.Method, e.Request.URL)
	for _, name := range sortedHeaderNames(e.Request.Header) {
		for _, value := range e.Request.Header.Values(name) {
			fmt.Fprintf(&sb, "%s: %s\n", name, value)
		}
	}
	if len(e.Body) > 0 {
		fmt.Fprintf(&sb, "\n%s\n", string(e.Body))
	}

	if len(e.Traces) > 0 {
		sb.WriteString("\nPartial matches:\n")
		for _, trace := range e.Traces {
			fmt.Fprintf(&sb, "\n🚧 [Route: %s]:\n", trace.Title)
			for _, message := range trace.Messages {
				fmt.Fprintf(&sb, "  %s\n", message)
			}
		}
	} else {
		sb.WriteString("\nNo partial matches found.\n")
	}

	return sb.String()
}

// Is reports whether the target is a NoRouteError.
func (e *NoRouteError) Is(target error) bool {
	_, ok := target.(*NoRouteError)
	return ok
}

// CORSError is returned when a cross-origin request is blocked by the CORS
// policy layer. The message follows the browser console wording so failures
// read the same as they would in a real client.
type CORSError struct {
	RequestURL string
	Origin     string
	Reason     string
}

// Error implements the error interface.
func (e *CORSError) Error() string {
	return fmt.Sprintf(
		"Access to fetch at '%s' from origin '%s' has been blocked by CORS policy: %s",
		e.RequestURL, e.Origin, e.Reason,
	)
}

// Is reports whether the target is a CORSError.
func (e *CORSError) Is(target error) bool {
	_, ok := target.(*CORSError)
	return ok
}

// PreflightError is a CORSError subtype raised when the OPTIONS probe for a
// non-simple request fails or fails validation.
type PreflightError struct {
	CORSError
}

// newPreflightError builds a PreflightError with the standard message prefix.
func newPreflightError(requestURL, origin, reason string) *PreflightError {
	return &PreflightError{
		CORSError: CORSError{
			RequestURL: requestURL,
			Origin:     origin,
			Reason:     "Response to preflight request doesn't pass access control check: " + reason,
		},
	}
}

// Is reports whether the target is a PreflightError.
func (e *PreflightError) Is(target error) bool {
	_, ok := target.(*PreflightError)
	return ok
}

// Unwrap exposes the underlying CORSError so errors.Is works across the
// subtype boundary.
func (e *PreflightError) Unwrap() error {
	return &e.CORSError
}

// IsNoRouteError reports whether err is a NoRouteError.
func IsNoRouteError(err error) bool {
	noRoute := &NoRouteError{}
	return errors.As(err, &noRoute)
}

// IsCORSError reports whether err is a CORSError or one of its subtypes.
func IsCORSError(err error) bool {
	corsErr := &CORSError{}
	return errors.As(err, &corsErr)
}

// IsPreflightError reports whether err is a PreflightError.
func IsPreflightError(err error) bool {
	preflightErr := &PreflightError{}
	return errors.As(err, &preflightErr)
}

// sortedHeaderNames returns canonical header names in a stable order for
// request dumps.
func sortedHeaderNames(header http.Header) []string {
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
