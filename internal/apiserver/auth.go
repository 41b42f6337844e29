package apiserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of tokens issued by Sign.
const DefaultTokenTTL = 30 * 24 * time.Hour

// JWT signs and verifies HS256 bearer tokens whose subject is the owner id.
type JWT struct {
	secret []byte
}

// NewJWT creates a JWT with the shared secret.
func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

// Sign issues a token for ownerID.
func (j *JWT) Sign(ownerID string, ttl time.Duration) (string, error) {
	if ownerID == "" {
		return "", errors.New("owner id required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(j.secret)
}

// Verify returns the owner id of a valid token.
func (j *JWT) Verify(tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	t, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	})
	if err != nil || !t.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("missing sub")
	}
	return claims.Subject, nil
}

type ctxKey string

const ownerIDKey ctxKey = "owner_id"

// OwnerFromContext returns the owner id set by RequireAuth.
func OwnerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerIDKey).(string)
	return id, ok
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(jwtSvc *JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if h == "" || !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			owner, err := jwtSvc.Verify(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDKey, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
