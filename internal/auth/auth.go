package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/iurnickita/keyvend/internal/auth/config"
)

// Auth checks bearer tokens on the HTTP API. The order engine itself never
// authenticates: handlers behind Middleware are already authorized.
type Auth interface {
	Middleware(h http.HandlerFunc, roles ...string) http.HandlerFunc
	IssueToken(subject string, role string, ttl time.Duration) (string, error)
}

const (
	RoleAdmin   = "admin"
	RoleService = "service"
)

const (
	HeaderSubjectKey = "X-Keyvend-Subject"
	HeaderRoleKey    = "X-Keyvend-Role"
)

var (
	ErrNoToken      = errors.New("no bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("forbidden")
	ErrNoSecret     = errors.New("jwt secret is not configured")
)

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type auth struct {
	secret []byte
}

func NewAuth(cfg config.Config) Auth {
	return &auth{secret: []byte(cfg.JWTSecret)}
}

func (a *auth) IssueToken(subject string, role string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSecret
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *auth) Middleware(h http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// проверка токена
		claims, err := a.getClaims(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
			http.Error(w, ErrForbidden.Error(), http.StatusForbidden)
			return
		}

		// записываем
		r.Header.Set(HeaderSubjectKey, claims.Subject)
		r.Header.Set(HeaderRoleKey, claims.Role)

		// передаём управление хендлеру
		h.ServeHTTP(w, r)
	}
}

func (a *auth) getClaims(r *http.Request) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrNoSecret
	}
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return nil, ErrNoToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
