package statussync

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asquebay/zuvees-sync/internal/lib/logger"
	"github.com/asquebay/zuvees-sync/internal/model"
	"github.com/asquebay/zuvees-sync/internal/repository/cache"
	"github.com/asquebay/zuvees-sync/internal/repository/sqlite"
	"github.com/asquebay/zuvees-sync/internal/transport/api"
)

// fakeClient отвечает заранее заданным исходом и запоминает вызовы
type fakeClient struct {
	mu      sync.Mutex
	outcome map[string]api.Result // по orderID, по умолчанию — def
	def     api.Result
	calls   []model.PendingUpdate
	onApply func(orderID string)
}

func (f *fakeClient) Apply(ctx context.Context, orderID string, status model.Status) api.Result {
	f.mu.Lock()
	f.calls = append(f.calls, model.PendingUpdate{OrderID: orderID, Status: status})
	hook := f.onApply
	res, ok := f.outcome[orderID]
	if !ok {
		res = f.def
	}
	f.mu.Unlock()

	if hook != nil {
		hook(orderID)
	}
	return res
}

func (f *fakeClient) setDefault(res api.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.def = res
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRegistrar struct {
	tags []string
	err  error
}

func (f *fakeRegistrar) Register(ctx context.Context, tag string) error {
	f.tags = append(f.tags, tag)
	return f.err
}

type fakeSession struct{ signedOut int }

func (f *fakeSession) SignOut(context.Context) error {
	f.signedOut++
	return nil
}

// brokenStore имитирует недоступное хранилище
type brokenStore struct{}

func (brokenStore) Enqueue(context.Context, model.PendingUpdate) (int64, error) {
	return 0, errors.New("storage blocked")
}
func (brokenStore) Drain(context.Context) ([]model.PendingUpdate, error) {
	return nil, errors.New("storage blocked")
}
func (brokenStore) Get(context.Context, int64) (model.PendingUpdate, error) {
	return model.PendingUpdate{}, errors.New("storage blocked")
}
func (brokenStore) Remove(context.Context, int64) error { return errors.New("storage blocked") }

// interleavingStore выполняет afterDrain сразу после чтения очереди, один раз
type interleavingStore struct {
	*sqlite.PendingUpdateRepository
	afterDrain func()
}

func (s *interleavingStore) Drain(ctx context.Context) ([]model.PendingUpdate, error) {
	updates, err := s.PendingUpdateRepository.Drain(ctx)
	if hook := s.afterDrain; hook != nil {
		s.afterDrain = nil
		hook()
	}
	return updates, err
}

var (
	accepted = api.Result{Outcome: api.OutcomeOK, HTTPStatus: http.StatusOK}
	offline  = api.Result{Outcome: api.OutcomeOffline, Err: errors.New("dial tcp: connection refused")}
	rejected = api.Result{Outcome: api.OutcomeRejected, HTTPStatus: http.StatusBadRequest, Message: "invalid status"}
)

type fixture struct {
	store     *sqlite.PendingUpdateRepository
	client    *fakeClient
	registrar *fakeRegistrar
	state     *cache.OrderCache
	session   *fakeSession
	orch      *Orchestrator
}

func newFixture(t *testing.T, def api.Result) *fixture {
	t.Helper()
	db := sqlite.New(filepath.Join(t.TempDir(), "zuvees.db"))
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		store:     sqlite.NewPendingUpdateRepository(db),
		client:    &fakeClient{def: def, outcome: map[string]api.Result{}},
		registrar: &fakeRegistrar{},
		state:     cache.NewOrderCache(),
		session:   &fakeSession{},
	}
	f.orch = New(f.store, f.client, f.registrar, f.state, f.session, logger.Discard())
	return f
}

func (f *fixture) pending(t *testing.T) []model.PendingUpdate {
	t.Helper()
	updates, err := f.store.Drain(context.Background())
	require.NoError(t, err)
	return updates
}

func TestChangeStatus_EnqueuesBeforeFirstAttempt(t *testing.T) {
	f := newFixture(t, accepted)

	var seen []model.PendingUpdate
	f.client.onApply = func(orderID string) {
		seen = f.pending(t)
	}

	_, err := f.orch.ChangeStatus(context.Background(), "abc123", model.StatusDelivered)
	require.NoError(t, err)

	require.Len(t, seen, 1, "entry must be durable before the network attempt")
	assert.Equal(t, "abc123", seen[0].OrderID)
	assert.Equal(t, model.StatusDelivered, seen[0].Status)
}

func TestChangeStatus_Confirmed(t *testing.T) {
	f := newFixture(t, accepted)
	f.state.Set(model.Order{ID: "abc123", Status: model.StatusShipped})

	outcome, err := f.orch.ChangeStatus(context.Background(), "abc123", model.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)

	assert.Empty(t, f.pending(t), "confirmed entry is removed")
	got, _ := f.state.Get("abc123")
	assert.Equal(t, model.StatusDelivered, got.Status)
	assert.Empty(t, f.registrar.tags)
}

func TestChangeStatus_OfflineIsOptimisticAndRegistersOnce(t *testing.T) {
	f := newFixture(t, offline)
	f.state.Set(model.Order{ID: "X", Status: model.StatusShipped})

	outcome, err := f.orch.ChangeStatus(context.Background(), "X", model.StatusUndelivered)
	require.NoError(t, err, "offline is not a user-facing error")
	assert.Equal(t, OutcomeDeferred, outcome)

	got, _ := f.state.Get("X")
	assert.Equal(t, model.StatusUndelivered, got.Status)
	assert.Equal(t, []string{SyncTag}, f.registrar.tags)

	updates := f.pending(t)
	require.Len(t, updates, 1)
	assert.Equal(t, "X", updates[0].OrderID)
}

func TestChangeStatus_OfflineRegistrationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, offline)
	f.registrar.err = errors.New("sync manager unavailable")

	outcome, err := f.orch.ChangeStatus(context.Background(), "X", model.StatusDelivered)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, outcome)
	assert.Len(t, f.pending(t), 1)
}

func TestChangeStatus_RejectedRemovesEntryAndKeepsState(t *testing.T) {
	f := newFixture(t, rejected)
	f.state.Set(model.Order{ID: "abc123", Status: model.StatusShipped})

	outcome, err := f.orch.ChangeStatus(context.Background(), "abc123", model.StatusDelivered)
	assert.Equal(t, OutcomeRejected, outcome)

	rej, isRejected := IsRejected(err)
	require.True(t, isRejected)
	assert.Equal(t, http.StatusBadRequest, rej.HTTPStatus)
	assert.Equal(t, "invalid status", rej.Message)

	assert.Empty(t, f.pending(t))
	got, _ := f.state.Get("abc123")
	assert.Equal(t, model.StatusShipped, got.Status, "last confirmed status is shown")
	assert.Empty(t, f.registrar.tags)
	assert.Zero(t, f.session.signedOut)
}

func TestChangeStatus_UnauthorizedSignsOut(t *testing.T) {
	f := newFixture(t, api.Result{Outcome: api.OutcomeRejected, HTTPStatus: http.StatusUnauthorized})

	_, err := f.orch.ChangeStatus(context.Background(), "abc123", model.StatusDelivered)
	assert.Error(t, err)
	assert.Equal(t, 1, f.session.signedOut)
}

func TestChangeStatus_InvalidInput(t *testing.T) {
	f := newFixture(t, accepted)

	_, err := f.orch.ChangeStatus(context.Background(), "", model.StatusDelivered)
	assert.ErrorIs(t, err, api.ErrInvalidUpdate)

	_, err = f.orch.ChangeStatus(context.Background(), "abc123", "lost")
	assert.ErrorIs(t, err, api.ErrInvalidUpdate)

	assert.Zero(t, f.client.callCount())
	assert.Empty(t, f.pending(t))
}

func TestChangeStatus_DegradedStorageStillDelivers(t *testing.T) {
	client := &fakeClient{def: accepted}
	state := cache.NewOrderCache()
	orch := New(brokenStore{}, client, &fakeRegistrar{}, state, nil, logger.Discard())

	outcome, err := orch.ChangeStatus(context.Background(), "abc123", model.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)
	assert.Equal(t, 1, client.callCount())

	got, _ := state.Get("abc123")
	assert.Equal(t, model.StatusDelivered, got.Status)
}

func TestChangeStatus_CallerCancellationDoesNotAbort(t *testing.T) {
	f := newFixture(t, accepted)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := f.orch.ChangeStatus(ctx, "abc123", model.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)
	assert.Empty(t, f.pending(t))
}

func TestDrain_AllRejectedKeepsEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rejected)

	for _, id := range []string{"o1", "o2", "o3"} {
		_, err := f.store.Enqueue(ctx, model.NewPendingUpdate(id, model.StatusDelivered, f.orch.now()))
		require.NoError(t, err)
	}
	before := f.pending(t)

	remaining, err := f.orch.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
	assert.Equal(t, before, f.pending(t), "none lost, none duplicated")
	assert.Equal(t, 3, f.client.callCount())
}

func TestDrain_FailureDoesNotBlockLaterEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, accepted)
	f.client.outcome["o1"] = offline

	for _, id := range []string{"o1", "o2", "o3"} {
		_, err := f.store.Enqueue(ctx, model.NewPendingUpdate(id, model.StatusDelivered, f.orch.now()))
		require.NoError(t, err)
	}

	remaining, err := f.orch.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	// FIFO: попытки идут в порядке вставки
	require.Len(t, f.client.calls, 3)
	assert.Equal(t, "o1", f.client.calls[0].OrderID)
	assert.Equal(t, "o2", f.client.calls[1].OrderID)
	assert.Equal(t, "o3", f.client.calls[2].OrderID)

	left := f.pending(t)
	require.Len(t, left, 1)
	assert.Equal(t, "o1", left[0].OrderID)

	got, _ := f.state.Get("o3")
	assert.Equal(t, model.StatusDelivered, got.Status)
}

func TestDrain_SkipsUpdateReplacedDuringPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, accepted)
	store := &interleavingStore{PendingUpdateRepository: f.store}
	orch := New(store, f.client, f.registrar, f.state, nil, logger.Discard())

	_, err := f.store.Enqueue(ctx, model.NewPendingUpdate("X", model.StatusShipped, orch.now()))
	require.NoError(t, err)

	// курьер меняет статус, пока дренаж уже держит прочитанную очередь
	store.afterDrain = func() {
		outcome, err := orch.ChangeStatus(ctx, "X", model.StatusDelivered)
		require.NoError(t, err)
		require.Equal(t, OutcomeConfirmed, outcome)
	}

	remaining, err := orch.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	require.Len(t, f.client.calls, 1, "replaced entry is not sent")
	assert.Equal(t, model.StatusDelivered, f.client.calls[0].Status)

	got, _ := f.state.Get("X")
	assert.Equal(t, model.StatusDelivered, got.Status)
	assert.Empty(t, f.pending(t))
}

func TestDrain_WaitsForChangeOfSameOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, offline)

	_, err := f.orch.ChangeStatus(ctx, "X", model.StatusShipped)
	require.NoError(t, err)

	// новая смена статуса X зависает в сети
	f.client.setDefault(accepted)
	inFlight := make(chan struct{})
	release := make(chan struct{})
	f.client.mu.Lock()
	f.client.onApply = func(orderID string) {
		if orderID == "X" {
			select {
			case <-inFlight:
			default:
				close(inFlight)
				<-release
			}
		}
	}
	f.client.mu.Unlock()

	changed := make(chan struct{})
	go func() {
		defer close(changed)
		f.orch.ChangeStatus(ctx, "X", model.StatusDelivered)
	}()
	<-inFlight

	drained := make(chan int)
	go func() {
		remaining, _ := f.orch.Drain(ctx)
		drained <- remaining
	}()

	select {
	case <-drained:
		t.Fatal("drain must wait for the change of the same order")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-changed
	assert.Zero(t, <-drained)

	// shipped (офлайн), delivered (подтверждён); старое shipped повторно не уходит
	require.Equal(t, 2, f.client.callCount())
	assert.Equal(t, model.StatusDelivered, f.client.calls[1].Status)
	got, _ := f.state.Get("X")
	assert.Equal(t, model.StatusDelivered, got.Status)
	assert.Zero(t, f.orch.orders.len(), "order locks are released")
}

func TestDrain_StoreUnavailable(t *testing.T) {
	orch := New(brokenStore{}, &fakeClient{def: accepted}, &fakeRegistrar{}, cache.NewOrderCache(), nil, logger.Discard())
	_, err := orch.Drain(context.Background())
	assert.Error(t, err)
}

func TestOfflineThenReconnect_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, offline)
	f.state.Set(model.Order{ID: "abc123", Status: model.StatusShipped})

	outcome, err := f.orch.ChangeStatus(ctx, "abc123", model.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, outcome)

	updates := f.pending(t)
	require.Len(t, updates, 1)
	assert.Equal(t, "abc123", updates[0].OrderID)
	assert.Equal(t, model.StatusDelivered, updates[0].Status)

	// связь вернулась, хост присылает сигнал синхронизации
	f.client.setDefault(accepted)
	callsBefore := f.client.callCount()

	remaining, err := f.orch.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.Equal(t, 1, f.client.callCount()-callsBefore, "apply invoked once")

	assert.Empty(t, f.pending(t))
	got, _ := f.state.Get("abc123")
	assert.Equal(t, model.StatusDelivered, got.Status)
}

func TestRefresh_KeepsOptimisticStatuses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, offline)

	_, err := f.orch.ChangeStatus(ctx, "o1", model.StatusDelivered)
	require.NoError(t, err)

	// сервер ещё не знает о смене статуса
	err = f.orch.Refresh(ctx, []model.Order{
		{ID: "o1", Status: model.StatusShipped},
		{ID: "o2", Status: model.StatusShipped},
	})
	require.NoError(t, err)

	got, _ := f.state.Get("o1")
	assert.Equal(t, model.StatusDelivered, got.Status)
	got, _ = f.state.Get("o2")
	assert.Equal(t, model.StatusShipped, got.Status)
}

func TestRefresh_DropsOrdersMissingFromServerList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, accepted)

	require.NoError(t, f.orch.Refresh(ctx, []model.Order{
		{ID: "o1", Status: model.StatusShipped},
		{ID: "o2", Status: model.StatusShipped},
	}))

	// o2 переназначили на другого курьера
	require.NoError(t, f.orch.Refresh(ctx, []model.Order{{ID: "o1", Status: model.StatusShipped}}))

	_, ok := f.state.Get("o2")
	assert.False(t, ok)
	assert.Len(t, f.state.List(), 1)
}

func TestRefresh_StoreUnavailable(t *testing.T) {
	state := cache.NewOrderCache()
	orch := New(brokenStore{}, &fakeClient{def: accepted}, &fakeRegistrar{}, state, nil, logger.Discard())

	err := orch.Refresh(context.Background(), []model.Order{{ID: "o1", Status: model.StatusShipped}})
	assert.Error(t, err)

	got, ok := state.Get("o1")
	require.True(t, ok, "server list is still applied")
	assert.Equal(t, model.StatusShipped, got.Status)
}
