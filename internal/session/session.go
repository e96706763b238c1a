// Package session хранит bearer-токен провайдера идентификации для исходящих запросов
// жизненный цикл: init (загрузка сохранённого токена) → active → cleared (выход)
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/asquebay/zuvees-sync/internal/model"
	"github.com/asquebay/zuvees-sync/internal/repository/sqlite"
)

// TokenKey — ключ записи в таблице auth_tokens
const TokenKey = "authToken"

var ErrNoSession = errors.New("no active session")

// State — состояние сессии
type State string

const (
	StateInit    State = "init"
	StateActive  State = "active"
	StateCleared State = "cleared"
)

// TokenStore определяет контракт для постоянного хранилища токена
type TokenStore interface {
	Save(ctx context.Context, key string, token sqlite.StoredToken) error
	Load(ctx context.Context, key string) (sqlite.StoredToken, error)
	Delete(ctx context.Context, key string) error
}

// Claims — то, что агенту нужно знать о владельце токена
type Claims struct {
	Subject   string
	Email     string
	Role      model.Role
	ExpiresAt time.Time
}

// Session хранит текущий токен и его claims
type Session struct {
	store TokenStore
	log   *slog.Logger

	mu     sync.RWMutex
	state  State
	raw    string
	claims Claims
}

// New создаёт сессию в состоянии init
func New(store TokenStore, log *slog.Logger) *Session {
	return &Session{
		store: store,
		log:   log,
		state: StateInit,
	}
}

// ParseClaims разбирает claims токена без проверки подписи:
// подпись проверяет сервер, агенту нужны только роль, субъект и срок
func ParseClaims(raw string) (Claims, error) {
	m := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, m); err != nil {
		return Claims{}, fmt.Errorf("failed to parse token: %w", err)
	}

	var c Claims
	c.Subject, _ = m.GetSubject()
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if email, ok := m["email"].(string); ok {
		c.Email = email
	}
	if role, ok := m["role"].(string); ok {
		c.Role = model.Role(role)
	}

	return c, nil
}

// Init загружает сохранённый токен, если он есть
// отсутствие токена — не ошибка, сессия просто остаётся без владельца
func (s *Session) Init(ctx context.Context) error {
	const op = "session.Session.Init"
	log := s.log.With(slog.String("op", op))

	stored, err := s.store.Load(ctx, TokenKey)
	if err != nil {
		s.setCleared()
		if errors.Is(err, sqlite.ErrTokenNotFound) {
			log.Debug("no persisted token")
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	claims, err := ParseClaims(stored.Token)
	if err != nil {
		// испорченный токен нам не нужен
		log.Warn("persisted token is malformed, discarding", slog.String("error", err.Error()))
		s.setCleared()
		if err := s.store.Delete(ctx, TokenKey); err != nil {
			log.Warn("failed to delete malformed token", slog.String("error", err.Error()))
		}
		return nil
	}

	s.activate(stored.Token, claims)
	log.Info("session restored", slog.String("subject", claims.Subject), slog.String("role", string(claims.Role)))
	return nil
}

// SignIn активирует сессию с новым токеном и сохраняет его
// сбой сохранения не мешает работе: токен остаётся в памяти до перезапуска
func (s *Session) SignIn(ctx context.Context, raw string) error {
	const op = "session.Session.SignIn"
	log := s.log.With(slog.String("op", op))

	claims, err := ParseClaims(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.activate(raw, claims)

	if err := s.store.Save(ctx, TokenKey, sqlite.StoredToken{Token: raw, ExpiresAt: claims.ExpiresAt}); err != nil {
		log.Warn("failed to persist token, session is memory-only", slog.String("error", err.Error()))
	}

	log.Info("signed in", slog.String("subject", claims.Subject), slog.String("role", string(claims.Role)))
	return nil
}

// SignOut очищает сессию в памяти и в хранилище
func (s *Session) SignOut(ctx context.Context) error {
	const op = "session.Session.SignOut"

	s.setCleared()

	if err := s.store.Delete(ctx, TokenKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("signed out", slog.String("op", op))
	return nil
}

// Token возвращает текущий токен для заголовка Authorization
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateActive {
		return nil, ErrNoSession
	}

	return &oauth2.Token{
		AccessToken: s.raw,
		TokenType:   "Bearer",
		Expiry:      s.claims.ExpiresAt,
	}, nil
}

// State возвращает текущее состояние сессии
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Claims возвращает claims активной сессии
func (s *Session) Claims() (Claims, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims, s.state == StateActive
}

func (s *Session) activate(raw string, claims Claims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = raw
	s.claims = claims
	s.state = StateActive
}

func (s *Session) setCleared() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = ""
	s.claims = Claims{}
	s.state = StateCleared
}
