package fetchmock

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// paramNamePattern restricts URL-template variable names to identifier-like
// tokens so ":8080" in a port position is never mistaken for a variable.
var paramNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// urlTemplate is a compiled URL template. Templates are full absolute URLs
// whose path segments may contain :name variables; matching a candidate URL
// yields the variable bindings.
type urlTemplate struct {
	source string
	regexp *regexp.Regexp
	names  []string
}

// compileTemplate resolves the template against the server base URL and
// compiles it. A leading slash on the template is stripped and the base URL
// is forced to end with a slash, so the template always joins as a relative
// path under the base.
func compileTemplate(template string, base *url.URL) (*urlTemplate, error) {
	resolved := template
	if !hasScheme(template) {
		if base == nil {
			return nil, errors.Errorf("relative URL %q requires a base URL", template)
		}
		resolved = joinBaseURL(base, template)
	}

	compiled, names, err := compileTemplatePattern(resolved)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile URL template %q", template)
	}

	return &urlTemplate{source: resolved, regexp: compiled, names: names}, nil
}

// match compares the candidate URL (scheme, host and path; the query string
// is ignored) against the template and returns the extracted bindings.
func (t *urlTemplate) match(candidate *url.URL) (map[string]string, bool) {
	target := candidate.Scheme + "://" + candidate.Host + candidate.EscapedPath()

	groups := t.regexp.FindStringSubmatch(target)
	if groups == nil {
		return nil, false
	}

	params := make(map[string]string, len(t.names))
	for i, name := range t.names {
		value, err := url.PathUnescape(groups[i+1])
		if err != nil {
			value = groups[i+1]
		}
		params[name] = value
	}
	return params, true
}

// String returns the resolved template source.
func (t *urlTemplate) String() string {
	return t.source
}

// compileTemplatePattern turns a resolved template into an anchored regexp
// with one capture group per :name variable.
func compileTemplatePattern(resolved string) (*regexp.Regexp, []string, error) {
	var pattern strings.Builder
	var names []string

	pattern.WriteString("^")

	segments := strings.Split(resolved, "/")
	for i, segment := range segments {
		if i > 0 {
			pattern.WriteString("/")
		}

		if !strings.HasPrefix(segment, ":") || i < 3 {
			// Segments before the path (scheme, empty, host) are literal.
			pattern.WriteString(regexp.QuoteMeta(segment))
			continue
		}

		name := segment[1:]
		if !paramNamePattern.MatchString(name) {
			return nil, nil, errors.Errorf("invalid URL parameter name %q", segment)
		}
		if containsString(names, name) {
			return nil, nil, errors.Errorf("duplicate URL parameter name %q", name)
		}

		names = append(names, name)
		pattern.WriteString("([^/]+)")
	}

	pattern.WriteString("$")

	compiled, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, nil, err
	}
	return compiled, names, nil
}

// joinBaseURL joins a template path under the base URL, normalizing slashes
// on both sides.
func joinBaseURL(base *url.URL, template string) string {
	prefix := base.Scheme + "://" + base.Host + base.EscapedPath()
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + strings.TrimPrefix(template, "/")
}

// hasScheme reports whether the raw URL names a scheme and is therefore
// absolute.
func hasScheme(raw string) bool {
	return strings.Contains(raw, "://")
}

// containsString reports whether the slice contains the value.
func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
