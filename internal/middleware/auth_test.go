package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmeshcher/invoicing-system/internal/model"
)

type resolverStub struct {
	user *model.User
	err  error
}

func (s *resolverStub) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.user, s.err
}

func authCookie(t *testing.T, m *AuthMiddleware, userID int64) *http.Cookie {
	t.Helper()

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, userID)
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}
	return cookies[0]
}

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	resolver := &resolverStub{user: &model.User{ID: 42, Email: "user@example.com"}}
	m := NewAuthMiddleware("test-secret", time.Hour, resolver)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		u, ok := GetUserFromContext(r.Context())
		if !ok {
			t.Fatalf("user not in context")
		}
		if u.ID != 42 {
			t.Fatalf("user id from context = %d, want 42", u.ID)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(authCookie(t, m, 42))

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret", time.Hour, &resolverStub{})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.Middleware(next).ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	resolver := &resolverStub{user: &model.User{ID: 42}}
	m := NewAuthMiddleware("test-secret", -time.Minute, resolver)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called for expired token")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(authCookie(t, m, 42))

	m.Middleware(next).ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_TamperedSignature(t *testing.T) {
	resolver := &resolverStub{user: &model.User{ID: 42}}
	m := NewAuthMiddleware("test-secret", time.Hour, resolver)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called for tampered token")
	})

	cookie := authCookie(t, m, 42)
	// Подмена идентификатора пользователя в payload без перерасчёта подписи.
	parts := strings.SplitN(cookie.Value, ".", 2)
	cookie.Value = "1." + parts[1]

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookie)

	m.Middleware(next).ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_UnknownUser(t *testing.T) {
	resolver := &resolverStub{err: errors.New("user not found")}
	m := NewAuthMiddleware("test-secret", time.Hour, resolver)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called for unresolved user")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(authCookie(t, m, 42))

	m.Middleware(next).ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}
