package fetchmock

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// statusText returns the standard reason phrase for a status code.
func statusText(code int) string {
	return http.StatusText(code)
}

// validateStatus checks that the given status code is a recognized HTTP
// status code.
func validateStatus(code int) error {
	if statusText(code) == "" {
		return errors.Errorf("invalid status code: %d", code)
	}
	return nil
}

// formatStatus renders the status line used on constructed responses,
// e.g. "200 OK".
func formatStatus(code int) string {
	return fmt.Sprintf("%d %s", code, statusText(code))
}

// isRedirectStatus reports whether the status code triggers redirect
// handling.
func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

// redirectPreservesMethod reports whether a redirect status keeps the
// original method and body (307/308) as opposed to rewriting to GET.
func redirectPreservesMethod(code int) bool {
	return code == http.StatusTemporaryRedirect || code == http.StatusPermanentRedirect
}
