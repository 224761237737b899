package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const testSessionSecret = "test-secret-test-secret-test-sec"

func newBrowserSessionHandler(store SessionStore, captured *string) http.Handler {
	return NewBrowserSessionMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured, _ = BrowserSessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestBrowserSessionMiddleware_IssuesNewID(t *testing.T) {
	store := NewCookieStore(BrowserSessionConfig{Secret: testSessionSecret, MaxAge: 3600, CookieSecure: true})

	var id string
	handler := newBrowserSessionHandler(store, &id)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("browser session id = %q, want uuid", id)
	}

	cookie := findCookie(w.Result(), browserSessionName)
	if cookie == nil {
		t.Fatal("browser session cookie should be set")
	}
	if !cookie.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if !cookie.Secure {
		t.Error("cookie should be Secure")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
	if cookie.MaxAge != 3600 {
		t.Errorf("MaxAge = %d, want 3600", cookie.MaxAge)
	}
}

func TestBrowserSessionMiddleware_ReusesIDFromCookie(t *testing.T) {
	store := NewCookieStore(BrowserSessionConfig{Secret: testSessionSecret, MaxAge: 3600})

	var first, second string
	w := httptest.NewRecorder()
	newBrowserSessionHandler(store, &first).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	cookie := findCookie(w.Result(), browserSessionName)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	w2 := httptest.NewRecorder()
	newBrowserSessionHandler(store, &second).ServeHTTP(w2, req)

	if second != first {
		t.Errorf("second id = %q, want %q", second, first)
	}
	if findCookie(w2.Result(), browserSessionName) != nil {
		t.Error("cookie should not be rewritten for an existing session")
	}
}

func TestBrowserSessionMiddleware_TamperedCookie_IssuesNewID(t *testing.T) {
	store := NewCookieStore(BrowserSessionConfig{Secret: testSessionSecret, MaxAge: 3600})
	other := NewCookieStore(BrowserSessionConfig{Secret: "another-secret-another-secret-12", MaxAge: 3600})

	var forged string
	w := httptest.NewRecorder()
	newBrowserSessionHandler(other, &forged).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(findCookie(w.Result(), browserSessionName))

	var id string
	w2 := httptest.NewRecorder()
	newBrowserSessionHandler(store, &id).ServeHTTP(w2, req)

	if id == "" || id == forged {
		t.Errorf("id = %q, forged cookie must not be trusted", id)
	}
	if findCookie(w2.Result(), browserSessionName) == nil {
		t.Error("a new cookie should be issued")
	}
}

type failingStore struct{}

func (failingStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.NewSession(nil, name), nil
}

func (failingStore) Save(r *http.Request, w http.ResponseWriter, s *sessions.Session) error {
	return errors.New("save failed")
}

func TestBrowserSessionMiddleware_SaveFailure_Returns500(t *testing.T) {
	var id string
	handler := newBrowserSessionHandler(failingStore{}, &id)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if id != "" {
		t.Error("handler should not be called")
	}
}

func TestBrowserSessionIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := BrowserSessionIDFromContext(req.Context()); err == nil {
		t.Error("expected error for missing browser session")
	}
}
