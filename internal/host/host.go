// Package host — фоновая синхронизация на стороне хоста: хранит зарегистрированные теги
// и сам решает, когда вызвать обработчик (появилась связь или пришёл явный сигнал)
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var ErrEmptyTag = errors.New("sync tag is empty")

// SyncHandler получает сигнал синхронизации от хоста
type SyncHandler interface {
	OnBackgroundSync(ctx context.Context, tag string) error
}

// Prober проверяет, есть ли сейчас связь с сервером
type Prober interface {
	Ping(ctx context.Context) error
}

// BackgroundSync — реестр тегов и цикл их доставки
type BackgroundSync struct {
	prober   Prober
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	tags    map[string]struct{}
	handler SyncHandler

	wake chan struct{}
}

// New создаёт фасилити фоновой синхронизации
func New(prober Prober, interval time.Duration, log *slog.Logger) *BackgroundSync {
	return &BackgroundSync{
		prober:   prober,
		interval: interval,
		log:      log,
		tags:     make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// SetHandler задаёт обработчик сигналов, делается один раз при старте
func (b *BackgroundSync) SetHandler(h SyncHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Register запоминает тег; повторная регистрация того же тега ничего не меняет
func (b *BackgroundSync) Register(ctx context.Context, tag string) error {
	const op = "host.BackgroundSync.Register"

	if tag == "" {
		return fmt.Errorf("%s: %w", op, ErrEmptyTag)
	}

	b.mu.Lock()
	_, existed := b.tags[tag]
	b.tags[tag] = struct{}{}
	b.mu.Unlock()

	if !existed {
		b.log.Info("background sync registered", slog.String("op", op), slog.String("tag", tag))
	}
	return nil
}

// Pending возвращает зарегистрированные и ещё не доставленные теги
func (b *BackgroundSync) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	tags := make([]string, 0, len(b.tags))
	for tag := range b.tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Notify будит цикл Run без ожидания тикера
func (b *BackgroundSync) Notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run крутит цикл доставки до отмены контекста
// эта функция блокирующая, поэтому она запускается в отдельной горутине
func (b *BackgroundSync) Run(ctx context.Context) {
	log := b.log.With(slog.String("component", "background_sync"))
	log.Info("background sync started", slog.Duration("interval", b.interval))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("context cancelled, stopping background sync")
			return
		case <-ticker.C:
			b.Dispatch(ctx, false)
		case <-b.wake:
			b.Dispatch(ctx, true)
		}
	}
}

// Dispatch доставляет все зарегистрированные теги обработчику; без force сначала проверяет связь
// тег снимается после успешной обработки и остаётся при ошибке до следующего раза
func (b *BackgroundSync) Dispatch(ctx context.Context, force bool) {
	const op = "host.BackgroundSync.Dispatch"
	log := b.log.With(slog.String("op", op))

	tags := b.Pending()
	if len(tags) == 0 {
		return
	}

	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler == nil {
		log.Warn("no sync handler set, keeping tags")
		return
	}

	if !force && b.prober != nil {
		if err := b.prober.Ping(ctx); err != nil {
			log.Debug("still offline", slog.String("error", err.Error()))
			return
		}
	}

	for _, tag := range tags {
		if err := handler.OnBackgroundSync(ctx, tag); err != nil {
			log.Warn("background sync failed, will retry", slog.String("tag", tag), slog.String("error", err.Error()))
			continue
		}

		b.mu.Lock()
		delete(b.tags, tag)
		b.mu.Unlock()
		log.Info("background sync completed", slog.String("tag", tag))
	}
}
