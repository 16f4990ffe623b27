// Package middleware содержит HTTP middleware сервиса выставления счетов.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/invoicing-system/internal/model"
)

type contextKey string

const userKey contextKey = "user"

const authCookieName = "token"

// UserResolver разрешает идентификатор из проверенного токена в запись пользователя.
type UserResolver interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному
// cookie с ограниченным сроком действия.
type AuthMiddleware struct {
	secretKey []byte
	ttl       time.Duration
	users     UserResolver
}

// NewAuthMiddleware создаёт AuthMiddleware с указанным секретным ключом,
// сроком жизни токена и источником записей пользователей.
func NewAuthMiddleware(secret string, ttl time.Duration, users UserResolver) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		ttl:       ttl,
		users:     users,
	}
}

// Middleware проверяет cookie авторизации, разрешает пользователя через
// хранилище и добавляет его в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		userID, ok := a.parseToken(cookie.Value, time.Now())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		user, err := a.users.GetUserByID(r.Context(), userID)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного идентификатора пользователя.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID int64) {
	expires := time.Now().Add(a.ttl)

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.signToken(userID, expires),
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// ClearAuthCookie сбрасывает cookie авторизации.
func (a *AuthMiddleware) ClearAuthCookie(w http.ResponseWriter) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// signToken формирует значение cookie вида "id.expiry.signature",
// где подпись покрывает и идентификатор, и срок действия.
func (a *AuthMiddleware) signToken(userID int64, expires time.Time) string {
	payload := strconv.FormatInt(userID, 10) + "." + strconv.FormatInt(expires.Unix(), 10)
	return payload + "." + a.sign(payload)
}

func (a *AuthMiddleware) parseToken(value string, now time.Time) (int64, bool) {
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return 0, false
	}

	payload := parts[0] + "." + parts[1]
	expected := a.sign(payload)
	if !hmac.Equal([]byte(parts[2]), []byte(expected)) {
		return 0, false
	}

	expUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || now.After(time.Unix(expUnix, 0)) {
		return 0, false
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// ContextWithUser возвращает контекст с аутентифицированным пользователем.
func ContextWithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// GetUserFromContext извлекает аутентифицированного пользователя из контекста запроса.
func GetUserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}
