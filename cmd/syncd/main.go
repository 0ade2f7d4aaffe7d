package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casewatch/internal/alert"
	"casewatch/internal/cases/models"
	"casewatch/internal/metadata"
	"casewatch/internal/platform/config"
	"casewatch/internal/platform/httpserver"
	"casewatch/internal/platform/logger"
	"casewatch/internal/platform/metrics"
	"casewatch/internal/platform/postgres"
	"casewatch/internal/platform/redis"
	"casewatch/internal/scheduler"
	"casewatch/internal/source"
	"casewatch/internal/source/captcha"
	"casewatch/internal/source/ecourts"
	"casewatch/internal/source/itat"
	"casewatch/internal/source/nclat"
	"casewatch/internal/source/nclt"
	"casewatch/internal/source/sci"
	"casewatch/internal/store"
	httptransport "casewatch/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router and runs the
// sync loop. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	logg := logger.New()

	cases, tracked, runs := buildStores(cfg, logg)
	dispatcher, closeDispatcher := buildDispatcher(cfg, logg)
	defer closeDispatcher()

	httpClient := &http.Client{Timeout: cfg.SourceTimeout}
	m := metrics.New()

	dcSessions := ecourts.NewSessionManager(httpClient, cfg.EcourtsBaseDC+"/appReleaseWebService.php", cfg.EcourtsUID)
	dcSessions.OnRefresh(m.SessionRefresh.Inc)
	hcSessions := ecourts.NewSessionManager(httpClient, cfg.EcourtsBaseHC+"/appReleaseWebService.php", cfg.EcourtsUID)
	hcSessions.OnRefresh(m.SessionRefresh.Inc)

	dcClient := ecourts.NewClient(httpClient, cfg.EcourtsBaseDC, dcSessions,
		models.SourceDistrictCourt, cfg.SourceTimeout, logg)
	hcClient := ecourts.NewClient(httpClient, cfg.EcourtsBaseHC, hcSessions,
		models.SourceHighCourt, cfg.SourceTimeout, logg)

	adapters := []source.Adapter{
		ecourts.NewDistrictAdapter(dcClient),
		ecourts.NewHighCourtAdapter(hcClient),
		nclt.New(httpClient, cfg.SourceTimeout),
	}
	if cfg.CaptchaURL != "" {
		resolver := captcha.NewHTTPResolver(httpClient, cfg.CaptchaURL)
		adapters = append(adapters,
			sci.New(httpClient, resolver, cfg.SourceTimeout, logg,
				sci.WithCaptchaAttempts(cfg.CaptchaRetries),
				sci.WithAttemptHook(m.CaptchaAttempts.WithLabelValues(string(models.SourceSupremeCourt)).Inc)),
			itat.New(httpClient, resolver, cfg.SourceTimeout, logg,
				itat.WithCaptchaAttempts(cfg.CaptchaRetries),
				itat.WithAttemptHook(m.CaptchaAttempts.WithLabelValues(string(models.SourceITAT)).Inc)),
			nclat.New(httpClient, resolver, cfg.SourceTimeout, logg,
				nclat.WithCaptchaAttempts(cfg.CaptchaRetries),
				nclat.WithAttemptHook(m.CaptchaAttempts.WithLabelValues(string(models.SourceNCLAT)).Inc)),
		)
	} else {
		logg.Printf("no captcha resolver configured, supreme court, itat and nclat sources disabled")
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.RecheckInterval = cfg.RecheckInterval
	schedCfg.Concurrency = map[models.CourtSource]int64{
		models.SourceDistrictCourt: cfg.ProtocolConcurrency,
		models.SourceHighCourt:     cfg.ProtocolConcurrency,
		models.SourceSupremeCourt:  cfg.ScrapedConcurrency,
		models.SourceITAT:          cfg.ScrapedConcurrency,
		models.SourceNCLAT:         cfg.ScrapedConcurrency,
		models.SourceNCLT:          cfg.ScrapedConcurrency,
	}
	sched := scheduler.New(adapters, cases, tracked, runs, dispatcher, m, logg, schedCfg)

	directory := metadata.New(dcClient, metadataCache(cfg, logg), cfg.EcourtsUID)

	handler := httptransport.New(adapters, cases, tracked, runs, sched, directory, logg)
	srv := httpserver.New(cfg.Addr, handler.Router())

	logg.Printf("starting casewatch on %s", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatalf("server error: %v", err)
		}
	}()

	runCtx, stopRuns := context.WithCancel(context.Background())
	go runLoop(runCtx, sched, cfg.SyncInterval, logg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	stopRuns()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logg.Fatalf("graceful shutdown failed: %v", err)
	}
}

// runLoop triggers one pass immediately, then on every tick. A pass already
// in flight (e.g. manually triggered over HTTP) is simply skipped.
func runLoop(ctx context.Context, sched *scheduler.Scheduler, interval time.Duration, logg *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := sched.RunOnce(ctx)
		switch {
		case errors.Is(err, scheduler.ErrRunInFlight):
			logg.Printf("sync pass skipped, previous still running")
		case err != nil:
			logg.Printf("sync pass failed: %v", err)
		default:
			logg.Printf("sync pass done: %d updated, %d unchanged, %d failed, %d skipped",
				run.Updated, run.Unchanged, run.Failed, run.Skipped)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// buildStores opens Postgres when a DSN is configured and falls back to the
// in-memory stores otherwise, so the daemon stays runnable in development.
func buildStores(cfg config.App, logg *log.Logger) (store.CaseStore, store.TrackedCaseStore, store.SyncRunStore) {
	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		logg.Fatalf("postgres: %v", err)
	}
	if db == nil {
		logg.Printf("no postgres configured, using in-memory stores")
		return store.NewInMemoryCaseStore(), store.NewInMemoryTrackedCaseStore(), store.NewInMemorySyncRunStore(0)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Migrate(ctx, db); err != nil {
		logg.Fatalf("migrate: %v", err)
	}
	return store.NewPostgresCaseStore(db), store.NewPostgresTrackedCaseStore(db), store.NewPostgresSyncRunStore(db)
}

func buildDispatcher(cfg config.App, logg *log.Logger) (alert.Dispatcher, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		logg.Printf("no kafka brokers configured, alerts go to the process log")
		return alert.NewLogDispatcher(logg), func() {}
	}
	d, err := alert.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.AlertTopic)
	if err != nil {
		logg.Fatalf("kafka: %v", err)
	}
	return d, d.Close
}

func metadataCache(cfg config.App, logg *log.Logger) *redis.Client {
	client, err := redis.New(cfg.RedisURL)
	if err != nil {
		logg.Printf("redis unavailable, metadata caching disabled: %v", err)
		return nil
	}
	return client
}
