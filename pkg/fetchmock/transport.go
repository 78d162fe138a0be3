package fetchmock

import (
	"net/http"
)

// mockTransport adapts a FetchMocker to http.RoundTripper so a standard
// http.Client can be pointed at the mocks.
type mockTransport struct {
	mocker *FetchMocker
}

// Transport returns an http.RoundTripper backed by this mocker's pipeline.
func (m *FetchMocker) Transport() http.RoundTripper {
	return &mockTransport{mocker: m}
}

// Client returns an http.Client whose transport is this mocker. Redirects
// are handled inside the pipeline, so the client's own redirect following is
// disabled.
func (m *FetchMocker) Client() *http.Client {
	return &http.Client{
		Transport: m.Transport(),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// RoundTrip implements http.RoundTripper by decorating the request and
// running the fetch pipeline.
func (t *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	decorated, err := NewRequest(req)
	if err != nil {
		return nil, err
	}

	response, err := t.mocker.FetchRequest(req.Context(), decorated)
	if err != nil {
		return nil, err
	}
	return response.Response, nil
}
