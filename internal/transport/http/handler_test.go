package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asquebay/zuvees-sync/internal/lib/logger"
	"github.com/asquebay/zuvees-sync/internal/model"
	"github.com/asquebay/zuvees-sync/internal/repository/postgres"
	"github.com/asquebay/zuvees-sync/internal/service"
	"github.com/asquebay/zuvees-sync/internal/testutil"
)

// stubService отвечает фиксированными данными и запоминает вызывающего
type stubService struct {
	principal model.Principal
	orders    []model.Order
	err       error
	change    model.StatusChange
}

func (s *stubService) record(p model.Principal) ([]model.Order, error) {
	s.principal = p
	return s.orders, s.err
}

func (s *stubService) ListAll(ctx context.Context, p model.Principal) ([]model.Order, error) {
	return s.record(p)
}
func (s *stubService) ListForCustomer(ctx context.Context, p model.Principal) ([]model.Order, error) {
	return s.record(p)
}
func (s *stubService) ListForRider(ctx context.Context, p model.Principal) ([]model.Order, error) {
	return s.record(p)
}
func (s *stubService) ListRiders(ctx context.Context, p model.Principal) ([]model.User, error) {
	s.principal = p
	return []model.User{{ID: "rider-1", Email: "rider@zuvees.test", Role: model.RoleRider}}, s.err
}
func (s *stubService) GetOrder(ctx context.Context, p model.Principal, id string) (model.Order, error) {
	s.principal = p
	if s.err != nil {
		return model.Order{}, s.err
	}
	return model.Order{ID: id, Status: model.StatusShipped}, nil
}
func (s *stubService) RiderUpdateStatus(ctx context.Context, p model.Principal, id string, status model.Status) (model.Order, error) {
	s.principal = p
	s.change = model.StatusChange{Status: status}
	if s.err != nil {
		return model.Order{}, s.err
	}
	return model.Order{ID: id, Status: status}, nil
}
func (s *stubService) AdminUpdateStatus(ctx context.Context, p model.Principal, id string, change model.StatusChange) (model.Order, error) {
	s.principal = p
	s.change = change
	if s.err != nil {
		return model.Order{}, s.err
	}
	return model.Order{ID: id, Status: change.Status}, nil
}

func newTestHandler(svc OrderService) *Handler {
	return NewHandler(svc, NewAuthenticator(testutil.TestSecret), "", logger.Discard())
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHandler_Healthz(t *testing.T) {
	rec := do(newTestHandler(&stubService{}), http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_RequiresValidToken(t *testing.T) {
	h := newTestHandler(&stubService{})

	cases := map[string]string{
		"missing":      "",
		"garbage":      "not-a-jwt",
		"wrong secret": testutil.Token(t, "other-secret", "rider-1", "r@zuvees.test", model.RoleRider, time.Hour),
		"expired":      testutil.Token(t, testutil.TestSecret, "rider-1", "r@zuvees.test", model.RoleRider, -time.Minute),
		"no subject":   testutil.Token(t, testutil.TestSecret, "", "r@zuvees.test", model.RoleRider, time.Hour),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(h, http.MethodGet, "/orders/rider-orders", token, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", errorMessage(t, rec))
		})
	}
}

func TestHandler_PrincipalFromToken(t *testing.T) {
	svc := &stubService{orders: []model.Order{{ID: "o1"}}}
	h := newTestHandler(svc)

	rec := do(h, http.MethodGet, "/orders/rider-orders", testutil.RiderToken(t, "rider-1"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	assert.Equal(t, model.Principal{UserID: "rider-1", Email: "rider-1@zuvees.test", Role: model.RoleRider}, svc.principal)

	var orders []model.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].ID)
}

func TestHandler_Routes(t *testing.T) {
	admin := testutil.Token(t, testutil.TestSecret, "admin-1", "admin@zuvees.test", model.RoleAdmin, time.Hour)

	for _, path := range []string{"/orders", "/orders/my-orders", "/orders/rider-orders", "/orders/o1", "/riders"} {
		rec := do(newTestHandler(&stubService{}), http.MethodGet, path, admin, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestHandler_UpdateStatus(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc)

	rec := do(h, http.MethodPatch, "/orders/o1", testutil.RiderToken(t, "rider-1"), `{"status":"delivered"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusDelivered, svc.change.Status)

	admin := testutil.Token(t, testutil.TestSecret, "admin-1", "admin@zuvees.test", model.RoleAdmin, time.Hour)
	rec = do(h, http.MethodPatch, "/orders/o1/status", admin, `{"status":"shipped","riderId":"rider-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusChange{Status: model.StatusShipped, RiderID: "rider-1"}, svc.change)

	rec = do(h, http.MethodPatch, "/orders/o1", testutil.RiderToken(t, "rider-1"), `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ErrorMapping(t *testing.T) {
	token := testutil.RiderToken(t, "rider-1")

	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrapped: %w", postgres.ErrOrderNotFound), http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", service.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", service.ErrInvalidStatus), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", service.ErrRiderRequired), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", postgres.ErrRiderNotFound), http.StatusBadRequest},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			rec := do(newTestHandler(&stubService{err: tc.err}), http.MethodPatch, "/orders/o1", token, `{"status":"delivered"}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.NotEmpty(t, errorMessage(t, rec))
		})
	}
}
