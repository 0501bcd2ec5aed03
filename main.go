package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/NamanBalaji/webdl/internal/config"
	"github.com/NamanBalaji/webdl/internal/logger"
	"github.com/NamanBalaji/webdl/internal/metrics"
	"github.com/NamanBalaji/webdl/internal/report"
	"github.com/NamanBalaji/webdl/pkg/download"
	"github.com/NamanBalaji/webdl/pkg/engine"
	httpProto "github.com/NamanBalaji/webdl/pkg/protocol/http"
)

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogFile != "" {
		if err := logger.InitLogging(cfg.Debug, cfg.LogFile); err != nil {
			fmt.Printf("Warning: Failed to initialize logging: %v\n", err)
		}
	} else {
		level := logger.LevelWarn
		if cfg.Debug {
			level = logger.LevelDebug
		}
		logger.SetOutput(os.Stderr, level)
	}
	defer logger.Close()

	if err := run(cfg); err != nil {
		logger.Errorf("%v", err)
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server stopped: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	httpCfg := httpProto.DefaultConfig()
	httpCfg.MaxRedirects = cfg.HTTP.MaxRedirects
	httpCfg.SkipTLSVerify = cfg.HTTP.SkipTLSVerify
	httpCfg.DefaultHeaders["User-Agent"] = cfg.HTTP.UserAgent

	eng, err := engine.New(&engine.Config{
		DBPath:                cfg.DBPath,
		BucketURL:             cfg.Storage.BucketURL,
		DestinationDir:        cfg.Storage.DestinationDir,
		MaxConcurrent:         cfg.MaxConcurrentDownloads,
		MaxRetries:            cfg.HTTP.MaxRetries,
		RetryDelay:            cfg.HTTP.RetryDelay,
		Disabled:              cfg.Policy.Disabled,
		RestrictNotifications: cfg.Policy.RestrictNotifications,
		LegacyLocalPath:       cfg.Policy.LegacyLocalPath,
		HTTP:                  httpCfg,
		Metrics:               collector,
	})
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := eng.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Error during engine shutdown: %v", err)
		}
		logger.Infof("Shutdown complete.")
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(cfg.Urls) == 0 {
		records, err := eng.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list downloads: %w", err)
		}
		fmt.Println(report.Records(records))
		return nil
	}

	return fetchAll(ctx, cfg, eng, httpProto.NewClient(httpCfg), collector)
}

// fetchAll hands every URL to the download manager the way a browser
// download listener would, then prints each outcome as it arrives.
func fetchAll(ctx context.Context, cfg *config.Config, host download.Host, prober *httpProto.HTTPClient, m download.Metrics) error {
	results := make(chan download.CompletedDownload, len(cfg.Urls))
	mgr := download.NewManager(host, download.ListenerFunc(func(d download.CompletedDownload) {
		results <- d
	}), download.WithMetrics(m))
	defer mgr.Destroy()

	rejected := 0
	handler := &download.DownloadStartHandler{
		Enqueuer: mgr,
		Context:  ctx,
		OnError: func(url string, err error) {
			rejected++
			fmt.Println(report.Rejected(url, err))
		},
	}

	for _, u := range cfg.Urls {
		var contentDisposition, contentType string
		var size int64 = -1

		info, err := prober.Probe(ctx, u, nil)
		if err != nil {
			logger.Warnf("Probe of %s failed, resolving name from URL only: %v", u, err)
		} else {
			contentDisposition, contentType, size = info.ContentDisposition, info.ContentType, info.Size
		}

		handler.OnDownloadStart(u, cfg.HTTP.UserAgent, contentDisposition, contentType, size)
	}

	succeeded, failed := 0, rejected
	for pending := len(cfg.Urls) - rejected; pending > 0; pending-- {
		select {
		case <-ctx.Done():
			fmt.Println(report.Summary(succeeded, failed))
			return fmt.Errorf("interrupted with %d downloads outstanding", pending)
		case d := <-results:
			if d.IsSuccess() {
				succeeded++
			} else {
				failed++
			}
			fmt.Println(report.Completed(d))
		}
	}

	fmt.Println(report.Summary(succeeded, failed))
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(cfg.Urls))
	}
	return nil
}
