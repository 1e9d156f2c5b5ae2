package httpmw

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
)

type Verifier interface {
	Verify(token string) (domain.Identity, error)
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "unauthorized", "message": msg},
	})
}

func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) <= 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

// Auth требует валидный bearer JWT и кладёт identity в контекст.
func Auth(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r)
			if token == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			id, err := v.Verify(token)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			if !id.Role.Valid() {
				unauthorized(w, "role is not allowed")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyIdentity, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFromCtx(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(domain.Identity)
	return id, ok
}

// InternalToken защищает служебные маршруты общим секретом в X-Internal-Token.
// Пустой токен отключает проверку.
func InternalToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("X-Internal-Token"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				unauthorized(w, "invalid internal token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
