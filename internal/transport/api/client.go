package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/asquebay/zuvees-sync/internal/model"
)

var ErrInvalidUpdate = errors.New("invalid status update")

// Outcome — класс результата попытки смены статуса
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeOffline  Outcome = "offline"  // транспорт не дошёл до сервера
	OutcomeRejected Outcome = "rejected" // сервер ответил не 2xx
)

// Result описывает итог одной попытки Apply
type Result struct {
	Outcome    Outcome
	HTTPStatus int
	Message    string
	Err        error
}

// OK сообщает, принял ли сервер изменение
func (r Result) OK() bool {
	return r.Outcome == OutcomeOK
}

// Client — HTTP-клиент удалённого API заказов
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
	log     *slog.Logger
}

// NewClient создаёт клиента; токен берётся из tokens в момент каждого запроса
// повторов внутри клиента нет, timeout ограничивает одну попытку
func NewClient(baseURL string, timeout time.Duration, tokens oauth2.TokenSource, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     log,
	}
}

// Apply выполняет одну попытку PATCH /orders/{orderID} с новым статусом
func (c *Client) Apply(ctx context.Context, orderID string, status model.Status) Result {
	const op = "transport.api.Client.Apply"
	log := c.log.With(slog.String("op", op), slog.String("order_id", orderID), slog.String("status", string(status)))

	if orderID == "" || !status.Valid() {
		return Result{Outcome: OutcomeRejected, Err: fmt.Errorf("%s: %w", op, ErrInvalidUpdate)}
	}

	body, err := json.Marshal(model.StatusChange{Status: status})
	if err != nil {
		return Result{Outcome: OutcomeRejected, Err: fmt.Errorf("%s: failed to marshal body: %w", op, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/orders/"+url.PathEscape(orderID), bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: OutcomeRejected, Err: fmt.Errorf("%s: failed to build request: %w", op, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		// сюда попадают dial, DNS, обрыв соединения и таймауты
		log.Warn("status update did not reach the server", slog.String("error", err.Error()))
		return Result{Outcome: OutcomeOffline, Err: fmt.Errorf("%s: %w", op, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		log.Debug("status update accepted", slog.Int("http_status", resp.StatusCode))
		return Result{Outcome: OutcomeOK, HTTPStatus: resp.StatusCode}
	}

	msg := readErrorMessage(resp)
	log.Warn("status update rejected", slog.Int("http_status", resp.StatusCode), slog.String("message", msg))
	return Result{
		Outcome:    OutcomeRejected,
		HTTPStatus: resp.StatusCode,
		Message:    msg,
		Err:        fmt.Errorf("%s: server rejected update with status %d: %s", op, resp.StatusCode, msg),
	}
}

// RiderOrders получает заказы, назначенные текущему курьеру
func (c *Client) RiderOrders(ctx context.Context) ([]model.Order, error) {
	const op = "transport.api.Client.RiderOrders"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/rider-orders", nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, readErrorMessage(resp))
	}

	var orders []model.Order
	if err := json.NewDecoder(resp.Body).Decode(&orders); err != nil {
		return nil, fmt.Errorf("%s: failed to decode orders: %w", op, err)
	}

	return orders, nil
}

// Ping проверяет связность: любой HTTP-ответ значит, что сервер достижим
func (c *Client) Ping(ctx context.Context) error {
	const op = "transport.api.Client.Ping"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return nil
}

// authorize ставит X-Request-ID и, если есть сессия, заголовок Authorization
// без сессии запрос уходит как есть, сервер ответит 401
func (c *Client) authorize(req *http.Request) {
	req.Header.Set("X-Request-ID", uuid.NewString())

	if c.tokens == nil {
		return
	}
	tok, err := c.tokens.Token()
	if err != nil {
		c.log.Debug("sending request without credentials", slog.String("error", err.Error()))
		return
	}
	tok.SetAuthHeader(req)
}

// readErrorMessage достаёт текст ошибки из тела вида {"error": "..."} или {"message": "..."}
func readErrorMessage(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(raw) == 0 {
		return http.StatusText(resp.StatusCode)
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}

	return strings.TrimSpace(string(raw))
}
