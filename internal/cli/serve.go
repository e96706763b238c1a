package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/asquebay/zuvees-sync/internal/repository/sqlite"
	"github.com/asquebay/zuvees-sync/internal/service/statussync"
	httptransport "github.com/asquebay/zuvees-sync/internal/transport/http"
)

const shutdownTimeout = 5 * time.Second

// NewServeCommand создаёт команду serve
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent: local API, caching gateway and background sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, rootOpts)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *RootOptions) error {
	a, err := newAgent(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log

	log.Info("starting rider agent",
		slog.String("port", a.cfg.Rider.Port),
		slog.String("api", a.cfg.Rider.APIBaseURL),
		slog.String("origin", a.cfg.Rider.OriginURL),
	)

	// 1. Шлюз: установка текущей версии кэша (если она ещё не установлена) и активация
	gw, err := a.newGateway()
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	if _, err := a.resources.Match(ctx, a.cfg.Rider.CacheName, http.MethodGet, a.cfg.Rider.OfflineURL); errors.Is(err, sqlite.ErrResourceNotFound) {
		if err := gw.OnInstall(ctx); err != nil {
			// работаем и без предзагрузки, кэш наполнится по мере запросов
			log.Warn("precache failed, continuing with an empty cache", slog.String("error", err.Error()))
		}
	}
	if err := gw.OnActivate(ctx); err != nil {
		log.Error("gateway activation failed", slog.String("error", err.Error()))
	}

	// 2. Локальное состояние заказов
	a.refreshOrders(ctx)

	// 3. Фоновая синхронизация: то, что осталось в очереди с прошлого запуска, догоняем сразу
	if n, err := a.pending.Count(ctx); err == nil && n > 0 {
		log.Info("pending updates found on startup", slog.Int("count", n))
		if err := a.sync.Register(ctx, statussync.SyncTag); err != nil {
			log.Error("failed to register background sync", slog.String("error", err.Error()))
		}
	}
	go a.sync.Run(ctx)

	// 4. HTTP-сервер
	handler := httptransport.NewRiderHandler(httptransport.RiderDeps{
		Orchestrator: a.orch,
		Queue:        a.pending,
		Source:       a.client,
		Orders:       a.orders,
		Session:      a.session,
		Sync:         a.sync,
		Fallback:     gw,
	}, log)
	server := httptransport.NewServer(a.cfg.Rider.Port, handler, a.cfg.Rider.RequestTimeout)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	log.Info("rider agent listening", slog.String("addr", server.Addr()))

	// 5. Graceful shutdown
	select {
	case <-ctx.Done():
		log.Info("shutting down rider agent")
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", slog.String("error", err.Error()))
	}

	// дожидаемся записей в кэш, начатых последними ответами
	gw.Wait()

	log.Info("rider agent stopped")
	return nil
}
