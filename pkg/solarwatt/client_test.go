package solarwatt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPassword = "s3cret"

func newTestClient(t *testing.T, host, password string) *Client {
	endpoint, err := NewEndpoint(host, "", password)
	require.NoError(t, err)
	client, err := NewClient(endpoint, 5*time.Second, zap.Must(zap.NewDevelopment()))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewEndpoint(t *testing.T) {

	assert := assert.New(t)

	e, err := NewEndpoint("192.168.1.20", "", "pw")
	require.NoError(t, err)
	assert.Equal("http://192.168.1.20", e.BaseURL())
	assert.Equal(DEFAULT_USERNAME, e.Username)

	e, err = NewEndpoint("https://manager.local:8443/", "admin", "pw")
	require.NoError(t, err)
	assert.Equal("https://manager.local:8443", e.BaseURL())
	assert.Equal("admin", e.Username)
	assert.Equal("https://manager.local:8443/rest/items", e.resolve(ITEMS_PATH))
	assert.Equal("https://manager.local:8443/rest/items/a%20b", e.resolve(ITEMS_PATH, "a b"))
	assert.Equal("https://manager.local:8443/rest/items/a%2Fb", e.resolve(ITEMS_PATH, "a/b"))

	_, err = NewEndpoint("  ", "", "pw")
	assert.Error(err)
}

func TestLoginSuccess(t *testing.T) {

	gw := NewTestGateway(testPassword, nil)
	defer gw.Close()

	client := newTestClient(t, gw.Host(), testPassword)
	assert.False(t, client.Authenticated())

	require.NoError(t, client.Login(context.Background()))
	assert.True(t, client.Authenticated())
	assert.Equal(t, 1, gw.Logins())

	// session cookie captured by the jar
	u, _ := url.Parse(gw.URL())
	cookies := client.http.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, TEST_SESSION_COOKIE, cookies[0].Name)
}

func TestLoginWrongPassword(t *testing.T) {

	gw := NewTestGateway(testPassword, nil)
	defer gw.Close()

	client := newTestClient(t, gw.Host(), "wrong")
	err := client.Login(context.Background())

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.False(t, client.Authenticated())
}

func TestLoginPageShownAgain(t *testing.T) {

	gw := NewTestGateway(testPassword, nil)
	defer gw.Close()
	gw.SetLoginPageOnFailure(true)

	client := newTestClient(t, gw.Host(), "wrong")
	err := client.Login(context.Background())

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusOK, authErr.StatusCode)
	assert.False(t, client.Authenticated())
}

func TestLoginMalformedResponses(t *testing.T) {

	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, ""},
		{"forbidden", http.StatusForbidden, ""},
		{"server error", http.StatusInternalServerError, "oops"},
		{"not found", http.StatusNotFound, ""},
		{"created", http.StatusCreated, ""},
		{"no content", http.StatusNoContent, ""},
		{"ok with login form", http.StatusOK, testLoginPage},
		{"found with login form", http.StatusFound, `<FORM ACTION="/auth/login">`},
		{"see other with password field", http.StatusSeeOther, `<input type="password">`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL, testPassword)
			err := client.Login(context.Background())

			var authErr *AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.False(t, client.Authenticated())
		})
	}
}

func TestLoginAcceptsRedirectStatusWithoutLocation(t *testing.T) {

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Equal(t, "installer", r.FormValue("username"))
		assert.Equal(t, testPassword, r.FormValue("password"))
		assert.Equal(t, "/", r.FormValue("url"))
		assert.Contains(t, r.Header.Get("User-Agent"), "solarwatt2mqtt/")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, testPassword)
	require.NoError(t, client.Login(context.Background()))
	assert.True(t, client.Authenticated())
}

func TestEnsureAuthenticatedLogsInOnce(t *testing.T) {

	gw := NewTestGateway(testPassword, nil)
	defer gw.Close()

	client := newTestClient(t, gw.Host(), testPassword)
	require.NoError(t, client.EnsureAuthenticated(context.Background()))
	require.NoError(t, client.EnsureAuthenticated(context.Background()))
	assert.Equal(t, 1, gw.Logins())

	client.Invalidate()
	require.NoError(t, client.EnsureAuthenticated(context.Background()))
	assert.Equal(t, 2, gw.Logins())
}

func TestCloseIsIdempotent(t *testing.T) {

	gw := NewTestGateway(testPassword, nil)
	defer gw.Close()

	client := newTestClient(t, gw.Host(), testPassword)
	require.NoError(t, client.Login(context.Background()))

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.False(t, client.Authenticated())

	assert.ErrorIs(t, client.Login(context.Background()), ErrClientClosed)
	_, err := client.FetchAllItems(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestCloseAbortsInFlightRequest(t *testing.T) {

	gw := NewTestGateway(testPassword, []Item{{Name: "Grid", Type: "Number:Power", State: "1 W"}})
	defer gw.Close()

	client := newTestClient(t, gw.Host(), testPassword)
	require.NoError(t, client.Login(context.Background()))
	gw.BlockItems()

	errCh := make(chan error, 1)
	go func() {
		_, err := client.FetchAllItems(context.Background())
		errCh <- err
	}()

	require.Eventually(t, func() bool { return gw.ItemRequests() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrClientClosed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request not aborted by Close")
	}
}
