package solarwatt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const (
	DEFAULT_USERNAME = "installer"
	LOGIN_PATH       = "/auth/login"
	ITEMS_PATH       = "/rest/items"

	maxLoginBodyBytes = 1 << 20
)

// markers of the gateway login form, some firmwares answer 200 with the form on bad credentials
var loginPageMarkers = []string{
	`action="/auth/login"`,
	`type="password"`,
	`name="password"`,
}

// Endpoint identifies a gateway and the credential used to log into it.
type Endpoint struct {
	Host     string
	Username string
	Password string
	baseURL  *url.URL
}

func NewEndpoint(host, username, password string) (Endpoint, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Endpoint{}, fmt.Errorf("solarwatt: empty gateway host")
	}
	if username == "" {
		username = DEFAULT_USERNAME
	}
	raw := host
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("solarwatt: invalid gateway host %q: %w", host, err)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("solarwatt: invalid gateway host %q", host)
	}
	u.Path = ""
	u.RawQuery = ""
	return Endpoint{
		Host:     host,
		Username: username,
		Password: password,
		baseURL:  u,
	}, nil
}

// BaseURL returns the gateway root, e.g. http://192.168.1.10
func (e Endpoint) BaseURL() string {
	if e.baseURL == nil {
		return ""
	}
	return e.baseURL.String()
}

// resolve appends segments to path, escaping each segment once.
func (e Endpoint) resolve(path string, segments ...string) string {
	u := *e.baseURL
	u.Path, u.RawPath = path, path
	for _, segment := range segments {
		u.Path += "/" + segment
		u.RawPath += "/" + url.PathEscape(segment)
	}
	return u.String()
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// Client holds one cookie session against a gateway. The zero value is not usable,
// use NewClient.
type Client struct {
	endpoint  Endpoint
	http      *http.Client
	transport *http.Transport
	logger    *zap.Logger

	mu            sync.Mutex
	authenticated bool
	closed        bool
	closeCtx      context.Context
	closeFn       context.CancelFunc
}

func NewClient(endpoint Endpoint, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if endpoint.baseURL == nil {
		return nil, fmt.Errorf("solarwatt: endpoint not initialized")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	closeCtx, closeFn := context.WithCancel(context.Background())
	return &Client{
		endpoint:  endpoint,
		transport: transport,
		http: &http.Client{
			Jar:     jar,
			Timeout: timeout,
			Transport: &userAgentTransport{
				transport: transport,
				userAgent: "solarwatt2mqtt/" + versioninfo.Short(),
			},
		},
		logger:   logger.With(zap.String("gateway", endpoint.BaseURL())),
		closeCtx: closeCtx,
		closeFn:  closeFn,
	}, nil
}

func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Invalidate drops the authenticated flag so that the next call logs in again.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated {
		c.logger.Debug("solarwatt: session invalidated")
	}
	c.authenticated = false
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Login posts the installer credentials to the gateway. The session cookie ends up
// in the client cookie jar.
func (c *Client) Login(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}

	data := url.Values{}
	data.Set("username", c.endpoint.Username)
	data.Set("password", c.endpoint.Password)
	data.Set("url", "/")

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.resolve(LOGIN_PATH), strings.NewReader(data.Encode()))
	if err != nil {
		return &AuthenticationError{Reason: "could not build login request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("solarwatt: login request failed", zap.Error(err))
		return &AuthenticationError{Reason: "login request failed", Err: c.wrapClosed(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLoginBodyBytes))
	if err != nil {
		return &AuthenticationError{StatusCode: resp.StatusCode, Reason: "could not read login response", Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusFound, http.StatusSeeOther:
	default:
		c.logger.Warn("solarwatt: login rejected", zap.Int("status", resp.StatusCode))
		return &AuthenticationError{StatusCode: resp.StatusCode, Reason: "unexpected login status"}
	}

	if landedOnLogin(resp) || containsLoginPage(body) {
		c.logger.Warn("solarwatt: login page shown again after login", zap.Int("status", resp.StatusCode))
		return &AuthenticationError{StatusCode: resp.StatusCode, Reason: "login page returned, credentials rejected"}
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	c.logger.Debug("solarwatt: login success", zap.Int("status", resp.StatusCode), zap.String("username", c.endpoint.Username))
	return nil
}

// EnsureAuthenticated logs in unless the session is already established.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if c.Authenticated() {
		return nil
	}
	return c.Login(ctx)
}

// Close releases the transport and aborts in-flight requests. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.authenticated = false
	c.closeFn()
	c.transport.CloseIdleConnections()
	c.logger.Debug("solarwatt: client closed")
	return nil
}

// requestContext binds ctx to the client lifetime so Close cancels it.
func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.closeCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Client) wrapClosed(err error) error {
	if c.isClosed() {
		return fmt.Errorf("%w: %w", ErrClientClosed, err)
	}
	return err
}

func landedOnLogin(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	// the login POST itself is not a redirect back to the form
	if resp.Request.Method == http.MethodPost {
		return false
	}
	return strings.TrimSuffix(resp.Request.URL.Path, "/") == LOGIN_PATH
}

func containsLoginPage(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, marker := range loginPageMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
