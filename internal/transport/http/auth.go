package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/asquebay/zuvees-sync/internal/model"
)

var ErrUnauthenticated = errors.New("missing or invalid bearer token")

type principalKey struct{}

// tokenClaims выдаёт провайдер идентификации
type tokenClaims struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator проверяет bearer-токены, подписанные общим секретом (HS256)
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator создаёт проверяющего с секретом из конфигурации
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Authenticate извлекает вызывающего из заголовка Authorization
func (a *Authenticator) Authenticate(r *http.Request) (model.Principal, error) {
	const op = "transport.http.Authenticator.Authenticate"

	header := r.Header.Get("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		return model.Principal{}, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	claims := &tokenClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return model.Principal{}, fmt.Errorf("%s: %w: %v", op, ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return model.Principal{}, fmt.Errorf("%s: token has no subject: %w", op, ErrUnauthenticated)
	}

	return model.Principal{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// withPrincipal кладёт аутентифицированного вызывающего в контекст запроса
func withPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom достаёт вызывающего, положенного middleware
func PrincipalFrom(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(model.Principal)
	return p, ok
}
