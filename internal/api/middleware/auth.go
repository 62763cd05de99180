package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when no user is present in the context.
var ErrUnauthenticated = errors.New("user not authenticated")

// User is the authenticated caller.
type User struct {
	ID string
	// Currency is the user's preferred currency, empty when the token has none.
	Currency string
}

// Claims are the bearer token claims. Subject is the user id.
type Claims struct {
	Currency string `json:"currency,omitempty"`
	jwt.RegisteredClaims
}

// AuthConfig configures Auth.
type AuthConfig struct {
	Secret []byte
	// PublicPaths are served without a token. Entries ending in "/" match
	// every path below them.
	PublicPaths []string
}

func (c AuthConfig) isPublic(path string) bool {
	for _, p := range c.PublicPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

// Auth validates HS256 bearer tokens and stores the User in the context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.isPublic(r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			h := r.Header.Get("Authorization")
			if h == "" || !strings.HasPrefix(h, "Bearer ") {
				WriteError(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			user, err := ParseToken(cfg.Secret, strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// ParseToken validates tokenStr and returns its user.
func ParseToken(secret []byte, tokenStr string) (User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return User{}, err
	}
	if !token.Valid || claims.Subject == "" {
		return User{}, errors.New("token has no subject")
	}
	return User{ID: claims.Subject, Currency: strings.ToUpper(claims.Currency)}, nil
}

// IssueToken signs a token for userID valid for ttl.
func IssueToken(secret []byte, userID, currency string, ttl time.Duration, now time.Time) (string, error) {
	claims := &Claims{
		Currency: currency,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user.
func UserFromContext(ctx context.Context) (User, error) {
	user, ok := ctx.Value(userKey).(User)
	if !ok || user.ID == "" {
		return User{}, ErrUnauthenticated
	}
	return user, nil
}
