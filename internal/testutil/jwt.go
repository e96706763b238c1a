// Package testutil содержит помощники для тестов: выпуск JWT, как это делает провайдер идентификации
package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/asquebay/zuvees-sync/internal/model"
)

// TestSecret — общий секрет HS256 для тестов orderapi и агента
const TestSecret = "test-secret"

// Token выпускает подписанный HS256 токен для пользователя с указанной ролью
func Token(t testing.TB, secret, subject, email string, role model.Role, ttl time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"role":  string(role),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// RiderToken — токен курьера со сроком жизни в час
func RiderToken(t testing.TB, riderID string) string {
	t.Helper()
	return Token(t, TestSecret, riderID, riderID+"@zuvees.test", model.RoleRider, time.Hour)
}
