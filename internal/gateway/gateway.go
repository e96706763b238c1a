// Package gateway — прокси перед веб-origin витрины: сначала сеть, при сбое — сохранённый ответ
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asquebay/zuvees-sync/internal/model"
	"github.com/asquebay/zuvees-sync/internal/service/statussync"
)

// ErrSyncIncomplete — после дренажа в очереди остались записи, хосту стоит повторить позже
var ErrSyncIncomplete = errors.New("pending updates remain after sync")

// Worker — четыре возможности, которые хост вызывает у шлюза
type Worker interface {
	OnInstall(ctx context.Context) error
	OnActivate(ctx context.Context) error
	OnFetch(w http.ResponseWriter, r *http.Request)
	OnBackgroundSync(ctx context.Context, tag string) error
}

// ResourceStore определяет контракт для постоянного кэша ответов
type ResourceStore interface {
	Put(ctx context.Context, cacheName string, res model.CachedResource) error
	PutAll(ctx context.Context, cacheName string, resources []model.CachedResource) error
	Match(ctx context.Context, cacheName, method, url string) (model.CachedResource, error)
	DeleteOtherCaches(ctx context.Context, keep string) (int64, error)
}

// Drainer догоняет отложенные смены статуса
type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

// Config — настройки шлюза
type Config struct {
	Origin     string   // scheme://host веб-приложения, без пути
	CacheName  string   // версия кэша, например zuvees-cache-v1
	OfflineURL string   // страница, которая отдаётся навигационным запросам без сети и без кэша
	Manifest   []string // ресурсы, загружаемые при установке
	Timeout    time.Duration
}

// Gateway реализует Worker и http.Handler
type Gateway struct {
	cfg     Config
	origin  *url.URL
	store   ResourceStore
	drainer Drainer
	log     *slog.Logger

	proxy  *httputil.ReverseProxy
	client *http.Client

	active atomic.Bool
	writes sync.WaitGroup
}

var _ Worker = (*Gateway)(nil)

// New создаёт шлюз; transport может быть nil, тогда используется http.DefaultTransport
func New(cfg Config, store ResourceStore, drainer Drainer, transport http.RoundTripper, log *slog.Logger) (*Gateway, error) {
	const op = "gateway.New"

	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid origin %q: %w", op, cfg.Origin, err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("%s: origin %q must be an absolute URL", op, cfg.Origin)
	}
	if origin.Path != "" && origin.Path != "/" {
		// ключ кэша — путь входящего запроса, поэтому origin без собственного пути
		return nil, fmt.Errorf("%s: origin %q must not contain a path", op, cfg.Origin)
	}
	origin.Path = ""

	if transport == nil {
		transport = http.DefaultTransport
	}

	g := &Gateway{
		cfg:     cfg,
		origin:  origin,
		store:   store,
		drainer: drainer,
		log:     log,
		client:  &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}

	g.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(g.origin)
			pr.SetXForwarded()
		},
		Transport:      transport,
		ModifyResponse: g.captureResponse,
		ErrorHandler:   g.fallback,
	}

	return g, nil
}

// ServeHTTP делает Gateway совместимым с http.Handler
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.OnFetch(w, r)
}

// OnFetch перехватывает запрос: сеть, затем кэш, затем офлайн-страница или 503
func (g *Gateway) OnFetch(w http.ResponseWriter, r *http.Request) {
	g.proxy.ServeHTTP(w, r)
}

// OnInstall загружает ресурсы манифеста и сохраняет их одной пачкой
// если хоть один ресурс не загрузился, не сохраняется ничего
func (g *Gateway) OnInstall(ctx context.Context) error {
	const op = "gateway.Gateway.OnInstall"
	log := g.log.With(slog.String("op", op), slog.String("cache", g.cfg.CacheName))

	resources := make([]model.CachedResource, len(g.cfg.Manifest))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, path := range g.cfg.Manifest {
		eg.Go(func() error {
			res, err := g.fetchAsset(egCtx, path)
			if err != nil {
				return err
			}
			resources[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Error("install failed, cache not seeded", slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := g.store.PutAll(ctx, g.cfg.CacheName, resources); err != nil {
		log.Error("failed to store precached resources", slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("cache seeded", slog.Int("resources", len(resources)))
	return nil
}

// OnActivate сразу берёт запросы под контроль текущей версии кэша и удаляет старые версии
func (g *Gateway) OnActivate(ctx context.Context) error {
	const op = "gateway.Gateway.OnActivate"
	log := g.log.With(slog.String("op", op), slog.String("cache", g.cfg.CacheName))

	g.active.Store(true)
	log.Info("gateway activated, serving through cache")

	removed, err := g.store.DeleteOtherCaches(ctx, g.cfg.CacheName)
	if err != nil {
		log.Error("failed to delete stale caches", slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}
	if removed > 0 {
		log.Info("stale cache entries deleted", slog.Int64("removed", removed))
	}

	return nil
}

// OnBackgroundSync обрабатывает сигнал хоста; интересен только тег смены статусов
func (g *Gateway) OnBackgroundSync(ctx context.Context, tag string) error {
	const op = "gateway.Gateway.OnBackgroundSync"
	log := g.log.With(slog.String("op", op), slog.String("tag", tag))

	if tag != statussync.SyncTag {
		log.Debug("ignoring unknown sync tag")
		return nil
	}

	remaining, err := g.drainer.Drain(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if remaining > 0 {
		return fmt.Errorf("%s: %d left: %w", op, remaining, ErrSyncIncomplete)
	}

	return nil
}

// Active сообщает, обслуживает ли шлюз запросы через кэш
func (g *Gateway) Active() bool {
	return g.active.Load()
}

// Wait дожидается завершения фоновых записей в кэш
func (g *Gateway) Wait() {
	g.writes.Wait()
}

// captureResponse вызывается ReverseProxy для каждого ответа сети
// тело читается целиком: оригинал уходит клиенту, копия — в кэш
func (g *Gateway) captureResponse(resp *http.Response) error {
	if !g.active.Load() || resp.Request.Method != http.MethodGet {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		// обрыв посреди тела считаем сетевым сбоем, ErrorHandler отдаст кэш
		return fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	clone := model.CachedResource{
		Method:   http.MethodGet,
		URL:      resp.Request.URL.RequestURI(),
		Status:   resp.StatusCode,
		Header:   cacheableHeader(resp.Header),
		Body:     bytes.Clone(body),
		StoredAt: time.Now(),
	}
	ctx := context.WithoutCancel(resp.Request.Context())

	g.writes.Add(1)
	go func() {
		defer g.writes.Done()
		if err := g.store.Put(ctx, g.cfg.CacheName, clone); err != nil {
			g.log.Warn("failed to cache response", slog.String("url", clone.URL), slog.String("error", err.Error()))
		}
	}()

	return nil
}

// fallback вызывается ReverseProxy, когда сеть недоступна
func (g *Gateway) fallback(w http.ResponseWriter, r *http.Request, proxyErr error) {
	log := g.log.With(slog.String("url", r.URL.RequestURI()), slog.String("error", proxyErr.Error()))

	if !g.active.Load() || r.Method != http.MethodGet {
		log.Warn("network request failed")
		writeOffline(w)
		return
	}

	ctx := r.Context()

	// 1. Тот же запрос из кэша
	res, err := g.store.Match(ctx, g.cfg.CacheName, http.MethodGet, r.URL.RequestURI())
	if err == nil {
		log.Debug("serving cached response")
		writeCached(w, res)
		return
	}

	// 2. Навигация — офлайн-страница
	if isNavigation(r) {
		res, err := g.store.Match(ctx, g.cfg.CacheName, http.MethodGet, g.cfg.OfflineURL)
		if err == nil {
			log.Debug("serving offline page")
			writeCached(w, res)
			return
		}
	}

	// 3. Всё остальное — синтетический 503
	log.Debug("no cached response, serving 503")
	writeOffline(w)
}

func (g *Gateway) fetchAsset(ctx context.Context, path string) (model.CachedResource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.origin.JoinPath(path).String(), nil)
	if err != nil {
		return model.CachedResource{}, fmt.Errorf("failed to build request for %s: %w", path, err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return model.CachedResource{}, fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.CachedResource{}, fmt.Errorf("failed to fetch %s: status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.CachedResource{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return model.CachedResource{
		Method:   http.MethodGet,
		URL:      path,
		Status:   resp.StatusCode,
		Header:   cacheableHeader(resp.Header),
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}

func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// cacheableHeader убирает заголовки, которые не имеют смысла при повторной отдаче из кэша
func cacheableHeader(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Content-Length", "Set-Cookie", "Date"} {
		out.Del(name)
	}
	return out
}

func writeCached(w http.ResponseWriter, res model.CachedResource) {
	for name, values := range res.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(res.Status)
	w.Write(res.Body)
}

func writeOffline(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("Offline"))
}
