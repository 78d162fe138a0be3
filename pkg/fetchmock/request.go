package fetchmock

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CredentialsMode mirrors the fetch credentials setting and controls when
// cookies accompany a request.
type CredentialsMode string

const (
	// CredentialsOmit never attaches credentials.
	CredentialsOmit CredentialsMode = "omit"
	// CredentialsSameOrigin is the default. The facade attaches credentials
	// to same-origin and cross-origin requests alike (cookie SameSite rules
	// still apply), but unlike CredentialsInclude it does not require the
	// CORS credential grants on cross-origin responses.
	CredentialsSameOrigin CredentialsMode = "same-origin"
	// CredentialsInclude attaches credentials to all requests.
	CredentialsInclude CredentialsMode = "include"
)

// RedirectMode mirrors the fetch redirect setting.
type RedirectMode string

const (
	// RedirectFollow chases redirects automatically. This is the default.
	RedirectFollow RedirectMode = "follow"
	// RedirectManual returns an opaque redirect instead of following.
	RedirectManual RedirectMode = "manual"
	// RedirectError fails on any redirect response.
	RedirectError RedirectMode = "error"
)

// Request decorates *http.Request with a stable id and normalized
// credentials and redirect modes. The id survives cloning so a request can
// be tracked across the pipeline.
type Request struct {
	*http.Request

	// ID is a random identifier assigned at construction and preserved by
	// Clone.
	ID string

	// Credentials controls cookie attachment for this request.
	Credentials CredentialsMode

	// Redirect controls how 3xx responses are handled.
	Redirect RedirectMode

	body []byte
}

// NewRequest decorates an *http.Request, buffering its body so every server
// in the pipeline can read it. The credentials mode defaults to same-origin
// and the redirect mode to follow.
func NewRequest(req *http.Request) (*Request, error) {
	body, err := readRequestBody(req)
	if err != nil {
		return nil, err
	}

	return &Request{
		Request:     req,
		ID:          uuid.New().String(),
		Credentials: CredentialsSameOrigin,
		Redirect:    RedirectFollow,
		body:        body,
	}, nil
}

// Clone produces a deep copy carrying the same id, with a fresh body reader.
func (r *Request) Clone(ctx context.Context) *Request {
	cloned := r.Request.Clone(ctx)
	cloned.Body = readerBody(r.body)

	return &Request{
		Request:     cloned,
		ID:          r.ID,
		Credentials: r.Credentials,
		Redirect:    r.Redirect,
		body:        r.body,
	}
}

// BodyBytes returns the buffered request body.
func (r *Request) BodyBytes() []byte {
	return r.body
}

// setBody replaces the buffered body and the live reader together.
func (r *Request) setBody(body []byte) {
	r.body = body
	r.Request.Body = readerBody(body)
	r.Request.ContentLength = int64(len(body))
}

// Origin returns the scheme://host of the request URL.
func (r *Request) Origin() string {
	return r.URL.Scheme + "://" + r.URL.Host
}

// validateModes rejects unknown credentials or redirect settings before the
// pipeline runs.
func (r *Request) validateModes() error {
	switch r.Credentials {
	case CredentialsOmit, CredentialsSameOrigin, CredentialsInclude:
	default:
		return errors.Errorf("invalid credentials mode %q", r.Credentials)
	}

	switch r.Redirect {
	case RedirectFollow, RedirectManual, RedirectError:
	default:
		return errors.Errorf("invalid redirect mode %q", r.Redirect)
	}
	return nil
}

// readerBody wraps buffered bytes in a fresh ReadCloser.
func readerBody(body []byte) io.ReadCloser {
	if len(body) == 0 {
		return http.NoBody
	}
	return io.NopCloser(bytes.NewReader(body))
}
