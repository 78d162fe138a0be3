package fetchmock

import (
	"fmt"
	"net/url"
)

// Trace records the outcome of evaluating a single route against a request.
// Messages are ordered by check (URL, method, query, params, headers, body);
// the first failing check is the last message and the only failure recorded.
// Traces of already-called routes additionally end with a "Route was already
// called" failure.
type Trace struct {
	// Title is the route's display string, e.g. "GET https://api.example.com/users/:id".
	Title string

	// Messages holds one human-readable line per evaluated check.
	Messages []string

	// Matches reports whether every check passed.
	Matches bool

	// Params holds the URL-template bindings extracted during URL matching.
	Params map[string]string

	// Query holds the parsed query string of the candidate request.
	Query url.Values
}

// pass appends a successful check message.
func (t *Trace) pass(format string, args ...any) {
	t.Messages = append(t.Messages, "✅ "+fmt.Sprintf(format, args...))
}

// fail appends a failed check message and marks the trace as a miss.
func (t *Trace) fail(format string, args ...any) {
	t.Messages = append(t.Messages, "❌ "+fmt.Sprintf(format, args...))
	t.Matches = false
}
