package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asquebay/zuvees-sync/internal/config"
	"github.com/asquebay/zuvees-sync/internal/lib/logger"
	"github.com/asquebay/zuvees-sync/internal/repository/cache"
	"github.com/asquebay/zuvees-sync/internal/repository/postgres"
	"github.com/asquebay/zuvees-sync/internal/service"
	httptransport "github.com/asquebay/zuvees-sync/internal/transport/http"
	"github.com/asquebay/zuvees-sync/internal/transport/kafka"
)

func main() {
	// 1. Инициализация конфигурации
	cfg := config.MustLoad(config.Path(""))

	// 2. Инициализация логгера
	log := logger.New(cfg.Logger.Level)
	log.Info("starting orderapi", slog.String("log_level", cfg.Logger.Level))

	// 3. Инициализация репозитория (БД) и схемы
	initCtx := context.Background()
	dbpool, err := postgres.New(initCtx, cfg.Postgres)
	if err != nil {
		log.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dbpool.Close()
	log.Info("successfully connected to postgres")

	if err := postgres.Migrate(initCtx, dbpool); err != nil {
		log.Error("failed to apply schema", slog.String("error", err.Error()))
		os.Exit(1)
	}

	orderRepo := postgres.NewOrderRepository(dbpool)

	// 4. Инициализация кэша
	orderCache := cache.NewOrderCache()
	log.Info("order cache initialized")

	// 5. Продюсер событий смены статуса
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.StatusTopic, log)

	// 6. Инициализация сервисного слоя
	orderSvc := service.NewOrderService(orderRepo, orderCache, producer, log)

	// 7. Восстановление кэша из БД при старте
	if err := orderSvc.RestoreCache(initCtx); err != nil {
		// не фатальная ошибка, сервис может работать и с пустым кэшем
		log.Error("failed to restore cache", slog.String("error", err.Error()))
	}

	// 8. Инициализация и запуск Kafka-консьюмера заказов из оформления
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, orderSvc, log)
	ctx, cancel := context.WithCancel(context.Background())
	go consumer.Run(ctx)

	// 9. Инициализация и запуск HTTP-сервера
	auth := httptransport.NewAuthenticator(cfg.Auth.JWTSecret)
	handler := httptransport.NewHandler(orderSvc, auth, "./web/", log)
	httpServer := httptransport.NewServer(cfg.HTTPServer.Port, handler, cfg.HTTPServer.Timeout)
	log.Info("starting http server", slog.String("port", cfg.HTTPServer.Port))

	go func() {
		if err := httpServer.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed to start", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// 10. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down application")
	cancel() // сигнал для консьюмера на завершение

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", slog.String("error", err.Error()))
	}

	if err := consumer.Close(); err != nil {
		log.Error("error closing kafka consumer", slog.String("error", err.Error()))
	}
	// продюсер закрываем последним
	if err := producer.Close(); err != nil {
		log.Error("error closing kafka producer", slog.String("error", err.Error()))
	}

	log.Info("application stopped")
}
