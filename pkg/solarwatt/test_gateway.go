package solarwatt

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	TEST_SESSION_COOKIE = "JSESSIONID"
	testLoginPage       = `<html><head><title>Login</title></head><body>
<form method="post" action="/auth/login"><input name="username"><input type="password" name="password"></form>
</body></html>`
	testHomePage = `<html><head><title>SOLARWATT Manager</title></head><body>dashboard</body></html>`
)

// TestGateway is an in-process gateway used by tests. It serves the login form,
// the items collection and single items behind a cookie session.
type TestGateway struct {
	server   *httptest.Server
	password string

	mu                 sync.Mutex
	items              []Item
	sessions           map[string]bool
	logins             int
	itemRequests       int
	plainText          bool
	loginPageOnFailure bool
	rejectWith401      bool
	itemsStatus        int
	rawItemsBody       string
	blockItems         chan struct{}
}

func NewTestGateway(password string, items []Item) *TestGateway {
	g := &TestGateway{
		password: password,
		items:    items,
		sessions: make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(LOGIN_PATH, g.handleLogin)
	mux.HandleFunc(ITEMS_PATH, g.handleItems)
	mux.HandleFunc(ITEMS_PATH+"/", g.handleItem)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testHomePage))
	})
	g.server = httptest.NewServer(mux)
	return g
}

// Host returns host:port, the way a user would configure it.
func (g *TestGateway) Host() string {
	u, _ := url.Parse(g.server.URL)
	return u.Host
}

func (g *TestGateway) URL() string {
	return g.server.URL
}

func (g *TestGateway) Close() {
	g.mu.Lock()
	if g.blockItems != nil {
		close(g.blockItems)
		g.blockItems = nil
	}
	g.mu.Unlock()
	g.server.Close()
}

func (g *TestGateway) SetItems(items []Item) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.items = items
}

// ExpireSessions forgets every issued session cookie.
func (g *TestGateway) ExpireSessions() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = make(map[string]bool)
}

// SetPlainText makes the items endpoints declare text/plain.
func (g *TestGateway) SetPlainText(enable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.plainText = enable
}

// SetLoginPageOnFailure answers bad credentials with 200 and the login form.
func (g *TestGateway) SetLoginPageOnFailure(enable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loginPageOnFailure = enable
}

// SetRejectWith401 answers data calls without a valid session with 401 instead of
// redirecting to the login page.
func (g *TestGateway) SetRejectWith401(enable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectWith401 = enable
}

// SetItemsStatus forces a status code on the items collection, 0 restores normal answers.
func (g *TestGateway) SetItemsStatus(status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.itemsStatus = status
}

// SetRawItemsBody replaces the items collection body, "" restores normal answers.
func (g *TestGateway) SetRawItemsBody(body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rawItemsBody = body
}

// BlockItems makes the items collection hang until UnblockItems or Close.
func (g *TestGateway) BlockItems() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.blockItems == nil {
		g.blockItems = make(chan struct{})
	}
}

func (g *TestGateway) UnblockItems() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.blockItems != nil {
		close(g.blockItems)
		g.blockItems = nil
	}
}

func (g *TestGateway) Logins() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.logins
}

func (g *TestGateway) ItemRequests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.itemRequests
}

func (g *TestGateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testLoginPage))
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if r.PostForm.Get("username") != DEFAULT_USERNAME || r.PostForm.Get("password") != g.password {
		if g.loginPageOnFailure {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(testLoginPage))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	g.logins++
	token := uuid.NewString()
	g.sessions[token] = true
	http.SetCookie(w, &http.Cookie{Name: TEST_SESSION_COOKIE, Value: token, Path: "/", HttpOnly: true})
	target := r.PostForm.Get("url")
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (g *TestGateway) authorized(w http.ResponseWriter, r *http.Request) bool {
	cookie, err := r.Cookie(TEST_SESSION_COOKIE)
	g.mu.Lock()
	ok := err == nil && g.sessions[cookie.Value]
	reject := g.rejectWith401
	g.mu.Unlock()
	if ok {
		return true
	}
	if reject {
		w.WriteHeader(http.StatusUnauthorized)
	} else {
		http.Redirect(w, r, LOGIN_PATH, http.StatusFound)
	}
	return false
}

func (g *TestGateway) handleItems(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(w, r) {
		return
	}

	g.mu.Lock()
	g.itemRequests++
	block := g.blockItems
	status := g.itemsStatus
	raw := g.rawItemsBody
	items := g.items
	plain := g.plainText
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	g.writeBody(w, plain, raw, items)
}

func (g *TestGateway) handleItem(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(w, r) {
		return
	}
	name := strings.TrimPrefix(r.URL.Path, ITEMS_PATH+"/")

	g.mu.Lock()
	g.itemRequests++
	plain := g.plainText
	var found *Item
	for i := range g.items {
		if g.items[i].Name == name {
			item := g.items[i]
			found = &item
			break
		}
	}
	g.mu.Unlock()

	if found == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	g.writeBody(w, plain, "", found)
}

func (g *TestGateway) writeBody(w http.ResponseWriter, plain bool, raw string, value any) {
	if plain {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	if raw != "" {
		_, _ = w.Write([]byte(raw))
		return
	}
	_ = json.NewEncoder(w).Encode(value)
}
