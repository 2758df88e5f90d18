package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shouni/go-http-kit/pkg/httpkit"

	"github.com/shop1gableo-creator/dropetsy-studio/internal/config"
	"github.com/shop1gableo-creator/dropetsy-studio/internal/metrics"
	"github.com/shop1gableo-creator/dropetsy-studio/internal/server"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/batch"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/refstore"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/settings"
	"github.com/shop1gableo-creator/dropetsy-studio/pkg/studio"
)

var _ refstore.Fetcher = httpkit.ClientInterface(nil)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("設定の読み込みに失敗しました", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))
	gin.SetMode(gin.ReleaseMode)

	if err := run(cfg); err != nil {
		slog.Error("サーバーが異常終了しました", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	hub := server.NewHub()
	go hub.Run(ctx)

	scheduler, err := batch.NewScheduler(cfg.Concurrency,
		batch.WithMode(cfg.SchedulerMode),
		batch.WithObserver(batch.Observers{collector, hub}),
	)
	if err != nil {
		return err
	}

	refs := refstore.New(
		refstore.WithMaxBytes(cfg.MaxUploadBytes()),
		refstore.WithNormalization(cfg.MaxDimension, cfg.JPEGQuality),
		refstore.WithFetcher(httpkit.New(cfg.FetchTimeout)),
		refstore.WithCache(cache.New(cfg.CacheTTL, 2*cfg.CacheTTL), cfg.CacheTTL),
	)

	st := studio.New(
		settings.New(settings.NewFileStore(cfg.SettingsFile)),
		refs,
		scheduler,
		nil,
		studio.WithNormalization(cfg.MaxDimension, cfg.JPEGQuality),
		studio.WithMaxPerLine(cfg.MaxPerLine),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(st, hub, reg, int64(cfg.MaxUploadBytes())).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// シグナル受信時に SSE のストリームも終了させる
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("サーバーを起動しました",
			"addr", cfg.HTTPAddr,
			"concurrency", cfg.Concurrency,
			"mode", cfg.SchedulerMode,
			"max_per_line", cfg.MaxPerLine,
			"settings_file", cfg.SettingsFile)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("サーバーを停止しています")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("サーバーを停止しました")
	return nil
}
