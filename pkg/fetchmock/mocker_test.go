package fetchmock_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdpiprava/mock-fetch/pkg/fetchmock"
)

func newMocker(t *testing.T, server *fetchmock.MockServer, opts ...fetchmock.MockerOption) *fetchmock.FetchMocker {
	t.Helper()

	opts = append([]fetchmock.MockerOption{fetchmock.WithServers(server)}, opts...)
	mocker, err := fetchmock.NewFetchMocker(opts...)
	require.NoError(t, err)
	return mocker
}

func TestNewFetchMocker(t *testing.T) {
	t.Parallel()

	t.Run("requires at least one server", func(t *testing.T) {
		t.Parallel()

		_, err := fetchmock.NewFetchMocker()
		assert.ErrorContains(t, err, "at least one mock server")
	})

	t.Run("credentials require a base URL", func(t *testing.T) {
		t.Parallel()

		credentials, err := fetchmock.NewCookieCredentials("https://example.com")
		require.NoError(t, err)

		_, err = fetchmock.NewFetchMocker(
			fetchmock.WithServers(newServer(t)),
			fetchmock.WithCredentials(credentials),
		)
		assert.ErrorContains(t, err, "require a base URL")
	})

	t.Run("rejects an invalid base URL", func(t *testing.T) {
		t.Parallel()

		_, err := fetchmock.NewFetchMocker(
			fetchmock.WithServers(newServer(t)),
			fetchmock.WithBaseURL("not a url"),
		)
		assert.Error(t, err)
	})
}

func TestFetchMocker_Fetch(t *testing.T) {
	t.Parallel()

	t.Run("serves a registered route", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/hello", fetchmock.ResponsePattern{Status: 200, Body: "Hello world!"}))
		subject := newMocker(t, server)

		response, err := subject.Fetch(context.Background(), "https://api.example.com/hello")
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, response.StatusCode)
		assert.Equal(t, fetchmock.ResponseTypeBasic, response.Type)
		assert.False(t, response.Redirected)

		text, err := response.Text()
		require.NoError(t, err)
		assert.Equal(t, "Hello world!", text)
		assert.True(t, subject.AllRoutesCalled())
	})

	t.Run("a second identical fetch reports no route", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/hello", 200))
		subject := newMocker(t, server)

		_, err := subject.Fetch(context.Background(), "https://api.example.com/hello")
		require.NoError(t, err)

		_, err = subject.Fetch(context.Background(), "https://api.example.com/hello")
		require.Error(t, err)
		assert.True(t, fetchmock.IsNoRouteError(err))
		assert.Contains(t, err.Error(), "no route matched")
		assert.Contains(t, err.Error(), "Route was already called")
	})

	t.Run("a miss reports every partial match", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get(fetchmock.RequestPattern{
			URL:    "/user/:id",
			Params: map[string]string{"id": "1"},
		}, 200))
		require.NoError(t, server.Get(fetchmock.RequestPattern{
			URL:   "/user/settings",
			Query: map[string]string{"page": "profile"},
		}, 200))
		subject := newMocker(t, server)

		_, err := subject.Fetch(context.Background(), "https://api.example.com/user/settings")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "URL parameters do not match")
		assert.Contains(t, err.Error(), "page=profile")
	})

	t.Run("pure URL misses are not reported", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/elsewhere", 200))
		subject := newMocker(t, server)

		_, err := subject.Fetch(context.Background(), "https://api.example.com/missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "No partial matches found")
	})

	t.Run("resolves a relative URL against the base URL", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/hello", 200))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.com"))

		response, err := subject.Fetch(context.Background(), "/hello")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, response.StatusCode)
	})

	t.Run("a relative URL without a base URL fails", func(t *testing.T) {
		t.Parallel()

		subject := newMocker(t, newServer(t))

		_, err := subject.Fetch(context.Background(), "/hello")
		assert.ErrorContains(t, err, "requires a base URL")
	})

	t.Run("a cancelled context aborts immediately", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/hello", 200))
		subject := newMocker(t, server)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := subject.Fetch(ctx, "https://api.example.com/hello")
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, subject.AllRoutesCalled())
	})

	t.Run("posts a JSON body through to the route", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Post(fetchmock.RequestPattern{
			URL:  "/users",
			Body: map[string]any{"name": "Alice"},
		}, 201))
		subject := newMocker(t, server)

		response, err := subject.Fetch(context.Background(), "https://api.example.com/users",
			fetchmock.WithMethod(http.MethodPost),
			fetchmock.WithJSONBody(map[string]any{"name": "Alice"}),
		)
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, response.StatusCode)
	})
}

func TestFetchMocker_CORS(t *testing.T) {
	t.Parallel()

	t.Run("simple cross-origin request passes with allow-origin", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/hello", fetchmock.ResponsePattern{
			Status:  200,
			Headers: map[string]string{"Access-Control-Allow-Origin": "https://api.example.org"},
			Body:    "Hello world!",
		}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.org"))

		response, err := subject.Fetch(context.Background(), "https://api.example.com/hello")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, response.StatusCode)
		assert.Equal(t, fetchmock.ResponseTypeCORS, response.Type)
	})

	t.Run("missing allow-origin is a CORS rejection", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/hello", 200))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.org"))

		_, err := subject.Fetch(context.Background(), "https://api.example.com/hello")
		require.Error(t, err)
		assert.True(t, fetchmock.IsCORSError(err))
		assert.Contains(t, err.Error(),
			"Access to fetch at 'https://api.example.com/hello' from origin 'https://api.example.org' has been blocked by CORS policy:")
	})

	t.Run("forbidden method is rejected before dispatch", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.org"))

		_, err := subject.Fetch(context.Background(), "https://api.example.com/hello",
			fetchmock.WithMethod("TRACE"))
		require.Error(t, err)
		assert.True(t, fetchmock.IsCORSError(err))
		assert.False(t, fetchmock.IsPreflightError(err))
	})

	t.Run("the response filter drops unexposed headers", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/hello", fetchmock.ResponsePattern{
			Status: 200,
			Headers: map[string]string{
				"Access-Control-Allow-Origin": "*",
				"X-Internal":                  "secret",
				"Content-Type":                "text/plain",
			},
			Body: "ok",
		}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.org"))

		response, err := subject.Fetch(context.Background(), "https://api.example.com/hello")
		require.NoError(t, err)
		assert.Empty(t, response.Header.Get("X-Internal"))
		assert.Equal(t, "text/plain", response.Header.Get("Content-Type"))
	})

	t.Run("non-simple request preflights and validates", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Options("/data", fetchmock.ResponsePattern{
			Status: 204,
			Headers: map[string]string{
				"Access-Control-Allow-Origin":  "https://api.example.org",
				"Access-Control-Allow-Methods": "PUT",
			},
		}))
		require.NoError(t, server.Put("/data", fetchmock.ResponsePattern{
			Status:  200,
			Headers: map[string]string{"Access-Control-Allow-Origin": "https://api.example.org"},
			Body:    "updated",
		}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.org"))

		response, err := subject.Fetch(context.Background(), "https://api.example.com/data",
			fetchmock.WithMethod(http.MethodPut))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, response.StatusCode)
		assert.True(t, subject.AllRoutesCalled())
	})

	t.Run("preflight rejects a method that is not allowed", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Options("/data", fetchmock.ResponsePattern{
			Status: 204,
			Headers: map[string]string{
				"Access-Control-Allow-Origin":  "https://api.example.org",
				"Access-Control-Allow-Methods": "PUT",
			},
		}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.org"))

		_, err := subject.Fetch(context.Background(), "https://api.example.com/data",
			fetchmock.WithMethod(http.MethodDelete))
		require.Error(t, err)
		assert.True(t, fetchmock.IsPreflightError(err))
		assert.Contains(t, err.Error(), "Response to preflight request doesn't pass access control check")
	})

	t.Run("a failed preflight probe is a preflight error", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Options("/data", 500))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.org"))

		_, err := subject.Fetch(context.Background(), "https://api.example.com/data",
			fetchmock.WithMethod(http.MethodPut))
		require.Error(t, err)
		assert.True(t, fetchmock.IsPreflightError(err))
		assert.Contains(t, err.Error(), "It does not have HTTP ok status")
	})

	t.Run("the preflight cache suppresses a second probe", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		// Only one OPTIONS route exists; a second probe would be a miss.
		require.NoError(t, server.Options("/data", fetchmock.ResponsePattern{
			Status: 204,
			Headers: map[string]string{
				"Access-Control-Allow-Origin":  "https://api.example.org",
				"Access-Control-Allow-Methods": "PUT",
			},
		}))
		putResponse := fetchmock.ResponsePattern{
			Status:  200,
			Headers: map[string]string{"Access-Control-Allow-Origin": "https://api.example.org"},
		}
		require.NoError(t, server.Put("/data", putResponse))
		require.NoError(t, server.Put("/data", putResponse))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.org"))

		_, err := subject.Fetch(context.Background(), "https://api.example.com/data",
			fetchmock.WithMethod(http.MethodPut))
		require.NoError(t, err)

		_, err = subject.Fetch(context.Background(), "https://api.example.com/data",
			fetchmock.WithMethod(http.MethodPut))
		require.NoError(t, err)
		assert.True(t, subject.AllRoutesCalled())
	})

	t.Run("clearing the preflight cache forces a new probe", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Options("/data", fetchmock.ResponsePattern{
			Status: 204,
			Headers: map[string]string{
				"Access-Control-Allow-Origin":  "https://api.example.org",
				"Access-Control-Allow-Methods": "PUT",
			},
		}))
		require.NoError(t, server.Put("/data", fetchmock.ResponsePattern{
			Status:  200,
			Headers: map[string]string{"Access-Control-Allow-Origin": "https://api.example.org"},
		}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.org"))

		_, err := subject.Fetch(context.Background(), "https://api.example.com/data",
			fetchmock.WithMethod(http.MethodPut))
		require.NoError(t, err)

		subject.ClearPreflightCache()

		// The single OPTIONS route was consumed, so the forced probe misses.
		_, err = subject.Fetch(context.Background(), "https://api.example.com/data",
			fetchmock.WithMethod(http.MethodPut))
		require.Error(t, err)
		assert.True(t, fetchmock.IsNoRouteError(err))
	})

	t.Run("include credentials require allow-credentials", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Options("/data", fetchmock.ResponsePattern{
			Status: 204,
			Headers: map[string]string{
				"Access-Control-Allow-Origin":  "https://app.example.org",
				"Access-Control-Allow-Methods": "PUT",
			},
		}))

		credentials, err := fetchmock.NewCookieCredentials("https://app.example.org")
		require.NoError(t, err)

		subject := newMocker(t, server,
			fetchmock.WithBaseURL("https://app.example.org"),
			fetchmock.WithCredentials(credentials),
		)

		_, err = subject.Fetch(context.Background(), "https://api.example.com/data",
			fetchmock.WithMethod(http.MethodPut),
			fetchmock.WithCredentialsMode(fetchmock.CredentialsInclude),
		)
		require.Error(t, err)
		assert.True(t, fetchmock.IsPreflightError(err))
		assert.Contains(t, err.Error(), "Credentials are not supported")
	})
}

func TestFetchMocker_Credentials(t *testing.T) {
	t.Parallel()

	t.Run("same-origin requests carry cookies", func(t *testing.T) {
		t.Parallel()

		server, err := fetchmock.NewMockServer("https://example.com")
		require.NoError(t, err)
		require.NoError(t, server.Get(fetchmock.RequestPattern{
			URL:     "/profile",
			Headers: map[string]string{"cookie": "session=123"},
		}, 200))

		credentials, err := fetchmock.NewCookieCredentials("https://example.com")
		require.NoError(t, err)
		require.NoError(t, credentials.SetCookie(fetchmock.Cookie{
			Name: "session", Value: "123", SameSite: fetchmock.SameSiteLax,
		}))

		subject := newMocker(t, server,
			fetchmock.WithBaseURL("https://example.com"),
			fetchmock.WithCredentials(credentials),
		)

		response, err := subject.Fetch(context.Background(), "/profile")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, response.StatusCode)
	})

	t.Run("omit suppresses cookies", func(t *testing.T) {
		t.Parallel()

		server, err := fetchmock.NewMockServer("https://example.com")
		require.NoError(t, err)
		require.NoError(t, server.Get(fetchmock.RequestPattern{
			URL:     "/profile",
			Headers: map[string]string{"cookie": "session=123"},
		}, 200))

		credentials, err := fetchmock.NewCookieCredentials("https://example.com")
		require.NoError(t, err)
		require.NoError(t, credentials.SetCookie(fetchmock.Cookie{Name: "session", Value: "123"}))

		subject := newMocker(t, server,
			fetchmock.WithBaseURL("https://example.com"),
			fetchmock.WithCredentials(credentials),
		)

		_, err = subject.Fetch(context.Background(), "/profile",
			fetchmock.WithCredentialsMode(fetchmock.CredentialsOmit))
		require.Error(t, err)
		assert.True(t, fetchmock.IsNoRouteError(err))
	})
}

func TestFetchMocker_Redirects(t *testing.T) {
	t.Parallel()

	t.Run("307 preserves the method and body", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Post("/original", fetchmock.ResponsePattern{
			Status:  307,
			Headers: map[string]string{"Location": "/redirected"},
		}))
		require.NoError(t, server.Post(fetchmock.RequestPattern{
			URL:  "/redirected",
			Body: map[string]any{"data": "test"},
		}, fetchmock.ResponsePattern{
			Status: 200,
			Body:   `Got request with body: {"data":"test"}`,
		}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.com"))

		response, err := subject.Fetch(context.Background(), "/original",
			fetchmock.WithMethod(http.MethodPost),
			fetchmock.WithJSONBody(map[string]any{"data": "test"}),
		)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, response.StatusCode)
		assert.True(t, response.Redirected)
		assert.Equal(t, "https://api.example.com/redirected", response.URL)

		text, err := response.Text()
		require.NoError(t, err)
		assert.Equal(t, `Got request with body: {"data":"test"}`, text)
	})

	t.Run("303 rewrites to GET and drops the body", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Post("/submit", fetchmock.ResponsePattern{
			Status:  303,
			Headers: map[string]string{"Location": "/done"},
		}))
		require.NoError(t, server.Get("/done", fetchmock.ResponsePattern{Status: 200, Body: "done"}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.com"))

		response, err := subject.Fetch(context.Background(), "/submit",
			fetchmock.WithMethod(http.MethodPost),
			fetchmock.WithJSONBody(map[string]any{"a": 1}),
		)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, response.StatusCode)
		assert.True(t, subject.AllRoutesCalled())
	})

	t.Run("manual mode returns an opaque redirect", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/moved", fetchmock.ResponsePattern{
			Status:  301,
			Headers: map[string]string{"Location": "/new"},
		}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.com"))

		response, err := subject.Fetch(context.Background(), "/moved",
			fetchmock.WithRedirectMode(fetchmock.RedirectManual))
		require.NoError(t, err)

		assert.Equal(t, fetchmock.ResponseTypeOpaqueRedirect, response.Type)
		assert.Equal(t, 0, response.StatusCode)
		assert.Equal(t, "https://api.example.com/moved", response.URL)
	})

	t.Run("error mode rejects redirects", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/moved", fetchmock.ResponsePattern{
			Status:  302,
			Headers: map[string]string{"Location": "/new"},
		}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.com"))

		_, err := subject.Fetch(context.Background(), "/moved",
			fetchmock.WithRedirectMode(fetchmock.RedirectError))
		assert.ErrorContains(t, err, "redirect mode")
	})

	t.Run("a redirect loop is detected", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/a", fetchmock.ResponsePattern{
			Status:  302,
			Headers: map[string]string{"Location": "/b"},
		}))
		require.NoError(t, server.Get("/b", fetchmock.ResponsePattern{
			Status:  302,
			Headers: map[string]string{"Location": "/a"},
		}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.com"))

		_, err := subject.Fetch(context.Background(), "/a")
		assert.ErrorContains(t, err, "redirect loop")
	})

	t.Run("a chain over the redirect limit fails", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		for i := 0; i < 22; i++ {
			require.NoError(t, server.Get(fmt.Sprintf("/hop/%d", i), fetchmock.ResponsePattern{
				Status:  302,
				Headers: map[string]string{"Location": fmt.Sprintf("/hop/%d", i+1)},
			}))
		}
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.com"))

		_, err := subject.Fetch(context.Background(), "/hop/0")
		assert.ErrorContains(t, err, "too many redirects")
	})

	t.Run("a chain under the redirect limit terminates", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, server.Get(fmt.Sprintf("/step/%d", i), fetchmock.ResponsePattern{
				Status:  301,
				Headers: map[string]string{"Location": fmt.Sprintf("/step/%d", i+1)},
			}))
		}
		require.NoError(t, server.Get("/step/5", fetchmock.ResponsePattern{Status: 200, Body: "landed"}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.com"))

		response, err := subject.Fetch(context.Background(), "/step/0")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, response.StatusCode)
		assert.True(t, response.Redirected)
		assert.Equal(t, "https://api.example.com/step/5", response.URL)
	})

	t.Run("cross-origin redirect with include credentials fails", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/away", fetchmock.ResponsePattern{
			Status: 302,
			Headers: map[string]string{
				"Location":                    "https://other.example.com/target",
				"Access-Control-Allow-Origin": "https://api.example.com",
			},
		}))
		subject := newMocker(t, server, fetchmock.WithBaseURL("https://api.example.com"))

		_, err := subject.Fetch(context.Background(), "/away",
			fetchmock.WithCredentialsMode(fetchmock.CredentialsInclude))
		assert.ErrorContains(t, err, "cross-origin redirect")
	})
}

func TestFetchMocker_Helpers(t *testing.T) {
	t.Parallel()

	t.Run("clear all resets servers and caches", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/hello", 200))
		subject := newMocker(t, server)

		subject.ClearAll()
		assert.True(t, subject.AllRoutesCalled())
		assert.Empty(t, subject.UncalledRoutes())
	})

	t.Run("called aggregates across servers", func(t *testing.T) {
		t.Parallel()

		first := newServer(t)
		second, err := fetchmock.NewMockServer("https://other.example.com")
		require.NoError(t, err)
		require.NoError(t, first.Get("/a", 200))
		require.NoError(t, second.Get("/b", 200))

		subject, err := fetchmock.NewFetchMocker(fetchmock.WithServers(first, second))
		require.NoError(t, err)

		_, err = subject.Fetch(context.Background(), "https://other.example.com/b")
		require.NoError(t, err)

		called, err := subject.Called("https://other.example.com/b")
		require.NoError(t, err)
		assert.True(t, called)

		assert.False(t, subject.AllRoutesCalled())
		assert.Equal(t, []string{"GET https://api.example.com/a"}, subject.UncalledRoutes())
		assert.ErrorContains(t, subject.AssertAllRoutesCalled(), "GET https://api.example.com/a")
	})
}

func TestFetchMocker_Transport(t *testing.T) {
	t.Parallel()

	t.Run("a standard client round-trips through the mocks", func(t *testing.T) {
		t.Parallel()

		server := newServer(t)
		require.NoError(t, server.Get("/hello", fetchmock.ResponsePattern{Status: 200, Body: "hi"}))
		subject := newMocker(t, server)

		client := subject.Client()
		response, err := client.Get("https://api.example.com/hello")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, response.StatusCode)
		assert.Equal(t, "hi", readBody(t, response))
	})
}

func TestFetchMocker_MockGlobal(t *testing.T) {
	// Not parallel: this test swaps process-global state.
	server, err := fetchmock.NewMockServer("https://global.example.com")
	require.NoError(t, err)
	require.NoError(t, server.Get("/ping", fetchmock.ResponsePattern{Status: 200, Body: "pong"}))

	subject, err := fetchmock.NewFetchMocker(fetchmock.WithServers(server))
	require.NoError(t, err)

	original := http.DefaultTransport
	subject.MockGlobal()
	defer subject.UnmockGlobal()

	assert.NotEqual(t, original, http.DefaultTransport)

	response, err := http.DefaultTransport.RoundTrip(
		mustRequest(t, http.MethodGet, "https://global.example.com/ping"))
	require.NoError(t, err)
	assert.Equal(t, "pong", readBody(t, response))

	subject.UnmockGlobal()
	assert.Equal(t, original, http.DefaultTransport)
}

func mustRequest(t *testing.T, method, target string) *http.Request {
	t.Helper()

	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	return req
}
