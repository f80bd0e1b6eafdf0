// Package middleware содержит HTTP middleware для реферального сервиса.
package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// AuthMiddleware пропускает к внутренним эндпоинтам только запросы с сервисным токеном.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным токеном.
// При пустом токене генерируется случайный ключ, и внутренние эндпоинты недоступны.
// Если ключ получить не удалось, отклоняются все запросы.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет заголовок Authorization: Bearer <token>.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		if !a.validToken(strings.TrimPrefix(header, bearerPrefix)) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SetAuthHeader добавляет сервисный токен в исходящий запрос.
func (a *AuthMiddleware) SetAuthHeader(r *http.Request) {
	r.Header.Set("Authorization", bearerPrefix+string(a.secretKey))
}

// validToken сравнивает дайджесты, чтобы время сравнения не зависело от длины токена.
func (a *AuthMiddleware) validToken(token string) bool {
	if len(a.secretKey) == 0 {
		return false
	}
	got := sha256.Sum256([]byte(token))
	want := sha256.Sum256(a.secretKey)
	return hmac.Equal(got[:], want[:])
}
