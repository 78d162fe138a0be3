package fetchmock

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
)

// maxRedirects bounds the redirect chase.
const maxRedirects = 20

// redirectState tracks a redirect chain: every URL visited and the number of
// hops followed so far.
type redirectState struct {
	visited map[string]bool
	hops    int
}

// newRedirectState starts a chain at the original request URL.
func newRedirectState(req *Request) *redirectState {
	return &redirectState{visited: map[string]bool{req.URL.String(): true}}
}

// follow validates one more hop: the chain must stay under the redirect
// limit and never revisit a URL.
func (s *redirectState) follow(target string) error {
	s.hops++
	if s.hops > maxRedirects {
		return errors.Errorf("too many redirects (limit is %d)", maxRedirects)
	}
	if s.visited[target] {
		return errors.Errorf("redirect loop detected at %s", target)
	}
	s.visited[target] = true
	return nil
}

// buildRedirectRequest constructs the follow-up request for a redirect
// response. Statuses 301, 302 and 303 rewrite the method to GET and drop the
// body; 307 and 308 preserve both. The Location header is resolved against
// the current request URL. Crossing origins drops Authorization and rejects
// the include credentials mode.
func buildRedirectRequest(ctx context.Context, req *Request, resp *http.Response) (*Request, error) {
	location := resp.Header.Get("Location")
	target, err := req.URL.Parse(location)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid redirect location %q", location)
	}

	method := req.Method
	body := req.BodyBytes()
	if !redirectPreservesMethod(resp.StatusCode) {
		method = http.MethodGet
		body = nil
	}

	crossOrigin := target.Scheme+"://"+target.Host != req.Origin()
	if crossOrigin && req.Credentials == CredentialsInclude {
		return nil, errors.Errorf(
			"cannot follow cross-origin redirect to %s with credentials mode %q",
			target, CredentialsInclude)
	}

	next, err := http.NewRequestWithContext(ctx, method, target.String(), readerBody(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build redirect request")
	}

	next.Header = req.Header.Clone()
	next.Header.Del("Origin")
	next.Header.Del("Cookie")
	if crossOrigin {
		next.Header.Del("Authorization")
	}
	if method != req.Method {
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Length")
	}
	next.ContentLength = int64(len(body))

	return &Request{
		Request:     next,
		ID:          req.ID,
		Credentials: req.Credentials,
		Redirect:    req.Redirect,
		body:        body,
	}, nil
}
