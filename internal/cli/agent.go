package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/asquebay/zuvees-sync/internal/config"
	"github.com/asquebay/zuvees-sync/internal/gateway"
	"github.com/asquebay/zuvees-sync/internal/host"
	"github.com/asquebay/zuvees-sync/internal/lib/logger"
	"github.com/asquebay/zuvees-sync/internal/repository/cache"
	"github.com/asquebay/zuvees-sync/internal/repository/sqlite"
	"github.com/asquebay/zuvees-sync/internal/service/statussync"
	"github.com/asquebay/zuvees-sync/internal/session"
	"github.com/asquebay/zuvees-sync/internal/transport/api"
)

// agent собирает компоненты; каждая команда создаёт свой экземпляр
type agent struct {
	cfg *config.Config
	log *slog.Logger

	db        *sqlite.DB
	pending   *sqlite.PendingUpdateRepository
	resources *sqlite.ResourceRepository

	session *session.Session
	client  *api.Client
	orders  *cache.OrderCache
	sync    *host.BackgroundSync
	orch    *statussync.Orchestrator
}

// newAgent читает конфиг и связывает компоненты
// файл базы не открывается до первого обращения к хранилищу
func newAgent(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*agent, error) {
	const op = "cli.newAgent"

	cfg, err := config.Load(config.Path(opts.ConfigPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// логи идут в stderr, stdout остаётся для вывода команд
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Logger.Level)

	db := sqlite.New(cfg.Rider.DBPath)
	a := &agent{
		cfg:       cfg,
		log:       log,
		db:        db,
		pending:   sqlite.NewPendingUpdateRepository(db),
		resources: sqlite.NewResourceRepository(db),
		session:   session.New(sqlite.NewTokenRepository(db), log),
		orders:    cache.NewOrderCache(),
	}

	if err := a.session.Init(ctx); err != nil {
		// без хранилища продолжаем без сессии, вход можно выполнить заново
		log.Warn("failed to restore session", slog.String("error", err.Error()))
	}

	a.client = api.NewClient(cfg.Rider.APIBaseURL, cfg.Rider.RequestTimeout, a.session, log)
	a.sync = host.New(a.client, cfg.Rider.ProbeInterval, log)
	a.orch = statussync.New(a.pending, a.client, a.sync, a.orders, a.session, log)

	return a, nil
}

// newGateway создаёт шлюз и делает его обработчиком фоновой синхронизации
func (a *agent) newGateway() (*gateway.Gateway, error) {
	gw, err := gateway.New(gateway.Config{
		Origin:     a.cfg.Rider.OriginURL,
		CacheName:  a.cfg.Rider.CacheName,
		OfflineURL: a.cfg.Rider.OfflineURL,
		Manifest:   a.cfg.Rider.Precache,
		Timeout:    a.cfg.Rider.RequestTimeout,
	}, a.resources, a.orch, nil, a.log)
	if err != nil {
		return nil, err
	}

	a.sync.SetHandler(gw)
	return gw, nil
}

// refreshOrders подтягивает заказы курьера; без сети остаётся то, что есть
func (a *agent) refreshOrders(ctx context.Context) {
	orders, err := a.client.RiderOrders(ctx)
	if err != nil {
		a.log.Warn("failed to load rider orders", slog.String("error", err.Error()))
		return
	}
	if err := a.orch.Refresh(ctx, orders); err != nil {
		a.log.Warn("failed to overlay pending updates", slog.String("error", err.Error()))
	}
	a.log.Info("rider orders loaded", slog.Int("count", len(orders)))
}

func (a *agent) close() {
	if err := a.db.Close(); err != nil {
		a.log.Error("failed to close database", slog.String("error", err.Error()))
	}
}
