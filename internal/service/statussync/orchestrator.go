// Package statussync решает судьбу каждой смены статуса заказа:
// сначала запись в локальную очередь, затем попытка доставки,
// а при потере связи — оптимистичное обновление и отложенная синхронизация
package statussync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/asquebay/zuvees-sync/internal/model"
	"github.com/asquebay/zuvees-sync/internal/repository/sqlite"
	"github.com/asquebay/zuvees-sync/internal/transport/api"
)

// SyncTag регистрируется у хоста при отложенной смене статуса
const SyncTag = "order-status-update"

// Outcome — конечное состояние одной смены статуса
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDeferred  Outcome = "offline-deferred"
	OutcomeRejected  Outcome = "rejected"
)

// RejectedError возвращается, когда сервер явно отклонил смену статуса
type RejectedError struct {
	OrderID    string
	HTTPStatus int
	Message    string
	Err        error
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status update for order %s rejected (%d): %s", e.OrderID, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("status update for order %s rejected (%d)", e.OrderID, e.HTTPStatus)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Orchestrator — машина состояний Requested → Queued → Applying → {Confirmed | Offline-Deferred | Rejected}
type Orchestrator struct {
	store     PendingStore
	client    StatusApplier
	registrar SyncRegistrar
	state     OrderState
	session   SessionCloser
	log       *slog.Logger
	now       func() time.Time

	// два дренажа одновременно отправили бы одни и те же записи дважды
	drainMu sync.Mutex
	// смена статуса и дренаж одного заказа не пересекаются
	orders *orderLocks
}

// New создаёт оркестратор; session может быть nil
func New(store PendingStore, client StatusApplier, registrar SyncRegistrar, state OrderState, session SessionCloser, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		client:    client,
		registrar: registrar,
		state:     state,
		session:   session,
		log:       log,
		now:       time.Now,
		orders:    newOrderLocks(),
	}
}

// ChangeStatus обрабатывает действие пользователя «сменить статус заказа»
// ошибка возвращается только для неверного ввода и явного отказа сервера
func (o *Orchestrator) ChangeStatus(ctx context.Context, orderID string, status model.Status) (Outcome, error) {
	const op = "service.statussync.Orchestrator.ChangeStatus"
	log := o.log.With(slog.String("op", op), slog.String("order_id", orderID), slog.String("status", string(status)))

	if orderID == "" || !status.Valid() {
		return OutcomeRejected, fmt.Errorf("%s: %w", op, api.ErrInvalidUpdate)
	}

	// принятую смену статуса не отменяем, даже если вызывающий ушёл
	ctx = context.WithoutCancel(ctx)

	unlock := o.orders.lock(orderID)
	defer unlock()

	// 1. Queued: намерение сохраняется до любой сетевой попытки
	id, err := o.store.Enqueue(ctx, model.NewPendingUpdate(orderID, status, o.now()))
	if err != nil {
		// деградированный режим: доставка без гарантии долговечности
		log.Error("failed to persist pending update, continuing without durability", slog.String("error", err.Error()))
		id = 0
	} else {
		log.Debug("pending update queued", slog.Int64("pending_id", id))
	}

	// 2. Applying
	res := o.client.Apply(ctx, orderID, status)

	switch res.Outcome {
	case api.OutcomeOK:
		// 3a. Confirmed
		o.forget(ctx, log, id)
		o.state.SetStatus(orderID, status)
		log.Info("status update confirmed")
		return OutcomeConfirmed, nil

	case api.OutcomeOffline:
		// 3b. Offline-Deferred: запись остаётся в очереди, статус показываем сразу
		o.state.SetStatus(orderID, status)
		if err := o.registrar.Register(ctx, SyncTag); err != nil {
			log.Error("failed to register background sync", slog.String("error", err.Error()))
		}
		log.Info("offline, status update deferred")
		return OutcomeDeferred, nil

	default:
		// 3c. Rejected: запись не офлайновая, поэтому удаляем её
		// локальное состояние не откатываем
		o.forget(ctx, log, id)
		o.handleUnauthorized(ctx, log, res)
		log.Warn("status update rejected", slog.Int("http_status", res.HTTPStatus), slog.String("message", res.Message))
		return OutcomeRejected, &RejectedError{
			OrderID:    orderID,
			HTTPStatus: res.HTTPStatus,
			Message:    res.Message,
			Err:        res.Err,
		}
	}
}

// Drain пытается доставить все отложенные изменения, от самого старого к новому
// неудача одной записи не мешает попыткам следующих; возвращает число оставшихся записей
func (o *Orchestrator) Drain(ctx context.Context) (int, error) {
	const op = "service.statussync.Orchestrator.Drain"
	log := o.log.With(slog.String("op", op))

	o.drainMu.Lock()
	defer o.drainMu.Unlock()

	updates, err := o.store.Drain(ctx)
	if err != nil {
		log.Error("failed to read pending updates", slog.String("error", err.Error()))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if len(updates) == 0 {
		log.Debug("nothing to sync")
		return 0, nil
	}

	log.Info("syncing pending updates", slog.Int("count", len(updates)))

	synced, remaining := 0, 0
	for _, u := range updates {
		ulog := log.With(slog.Int64("pending_id", u.ID), slog.String("order_id", u.OrderID), slog.String("status", string(u.Status)))

		switch o.drainOne(ctx, ulog, u) {
		case drainSynced:
			synced++
		case drainKept:
			remaining++
		}
	}

	log.Info("sync pass finished", slog.Int("synced", synced), slog.Int("remaining", remaining))
	return remaining, nil
}

type drainResult int

const (
	drainSynced drainResult = iota
	drainKept
	drainSuperseded
)

// drainOne доставляет одну запись под блокировкой её заказа
// пока дренаж шёл, запись могла быть заменена новой сменой статуса, тогда она не отправляется
func (o *Orchestrator) drainOne(ctx context.Context, log *slog.Logger, u model.PendingUpdate) drainResult {
	unlock := o.orders.lock(u.OrderID)
	defer unlock()

	if _, err := o.store.Get(ctx, u.ID); err != nil {
		if errors.Is(err, sqlite.ErrPendingUpdateNotFound) {
			log.Debug("pending update superseded, skipping")
			return drainSuperseded
		}
		// прочитать не вышли, отправляем то, что уже прочитано
		log.Warn("failed to recheck pending update", slog.String("error", err.Error()))
	}

	res := o.client.Apply(ctx, u.OrderID, u.Status)
	if !res.OK() {
		o.handleUnauthorized(ctx, log, res)
		log.Warn("pending update not applied, keeping it for the next drain",
			slog.String("outcome", string(res.Outcome)),
			slog.Int("http_status", res.HTTPStatus),
		)
		return drainKept
	}

	o.state.SetStatus(u.OrderID, u.Status)
	if err := o.store.Remove(ctx, u.ID); err != nil {
		// сервер уже принял изменение, повторная отправка того же статуса безвредна
		log.Error("failed to remove applied update", slog.String("error", err.Error()))
		return drainKept
	}

	log.Info("pending update synced")
	return drainSynced
}

// Refresh кладёт в локальное состояние свежий список заказов с сервера
// и накладывает поверх ещё не доставленные изменения, чтобы оптимистичные статусы не пропали
func (o *Orchestrator) Refresh(ctx context.Context, orders []model.Order) error {
	const op = "service.statussync.Orchestrator.Refresh"
	log := o.log.With(slog.String("op", op))

	o.state.LoadAll(orders)

	updates, err := o.store.Drain(ctx)
	if err != nil {
		log.Error("failed to read pending updates, local state shows server statuses only", slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, u := range updates {
		o.state.SetStatus(u.OrderID, u.Status)
	}

	log.Debug("local state refreshed", slog.Int("orders", len(orders)), slog.Int("pending", len(updates)))
	return nil
}

func (o *Orchestrator) forget(ctx context.Context, log *slog.Logger, id int64) {
	if id == 0 {
		return
	}
	if err := o.store.Remove(ctx, id); err != nil {
		log.Error("failed to remove pending update", slog.Int64("pending_id", id), slog.String("error", err.Error()))
	}
}

// handleUnauthorized завершает сессию, если сервер ответил 401
func (o *Orchestrator) handleUnauthorized(ctx context.Context, log *slog.Logger, res api.Result) {
	if res.HTTPStatus != http.StatusUnauthorized || o.session == nil {
		return
	}
	if err := o.session.SignOut(ctx); err != nil {
		log.Error("failed to clear session after 401", slog.String("error", err.Error()))
		return
	}
	log.Warn("session cleared after 401")
}

// IsRejected сообщает, является ли err отказом сервера
func IsRejected(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
