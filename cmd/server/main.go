package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/adinsights/internal/api"
	"github.com/ignite/adinsights/internal/audit"
	"github.com/ignite/adinsights/internal/cache"
	"github.com/ignite/adinsights/internal/config"
	"github.com/ignite/adinsights/internal/metrics"
	"github.com/ignite/adinsights/internal/pkg/distlock"
	"github.com/ignite/adinsights/internal/pkg/logger"
	"github.com/ignite/adinsights/internal/report"
	"github.com/ignite/adinsights/internal/snapshot"
	"github.com/ignite/adinsights/internal/windsor"
)

const warmerLockKey = "cache-warmer"

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("Failed to load config", err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting ad insights server...")

	if cfg.Windsor.APIKey == "" {
		logger.Warn("WINDSOR_API_KEY not set, every dataset request will fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(reg)

	observers := windsor.Observers{recorder}
	serviceOpts := []report.Option{report.WithCacheMetrics(recorder)}

	// Optional dependencies. Health pingers stay nil interfaces when absent.
	var (
		cachePinger, dbPinger, s3Pinger api.Pinger
		redisClient                     *redis.Client
		db                              *sql.DB
		fetchLog                        *audit.FetchLog
	)

	if cfg.Cache.Enabled {
		tc, err := cache.NewFromURL(cfg.Cache.RedisURL, cfg.Cache.TTL())
		if err != nil {
			logger.Warn("Table cache disabled", "error", err)
		} else {
			defer tc.Close()
			redisClient = tc.Client()
			cachePinger = tc
			serviceOpts = append(serviceOpts, report.WithCache(tc))
			logger.Info("Table cache connected", "ttl", cfg.Cache.TTL().String())
		}
	}

	if cfg.Audit.Enabled {
		db, err = audit.Open(ctx, cfg.Audit.DatabaseURL)
		if err != nil {
			logger.Warn("Fetch audit log disabled", "error", err)
			db = nil
		} else {
			defer db.Close()
			fetchLog = audit.NewFetchLog(db)
			if err := fetchLog.EnsureSchema(ctx); err != nil {
				fatal("Failed to create fetch log schema", err)
			}
			dbPinger = fetchLog
			observers = append(observers, fetchLog)
			logger.Info("Fetch audit log connected")
		}
	}

	if cfg.Snapshot.Enabled {
		store, err := snapshot.NewS3Store(ctx, cfg.Snapshot.S3Bucket, cfg.Snapshot.S3Region, cfg.Snapshot.Prefix)
		if err != nil {
			logger.Warn("Snapshots disabled", "error", err)
		} else {
			s3Pinger = store
			serviceOpts = append(serviceOpts, report.WithSnapshots(store))
			logger.Info("Snapshot store ready", "bucket", store.Bucket())
		}
	}

	fb := windsor.NewFacebookClient(cfg.Windsor, windsor.WithObserver(observers))
	ga := windsor.NewGA4Client(cfg.Windsor, windsor.WithObserver(observers))
	serviceOpts = append(serviceOpts, report.WithAccounts(fb))
	service := report.NewService([]report.Facade{fb, ga}, serviceOpts...)

	handlers := api.NewHandlers(service)
	if fetchLog != nil {
		handlers.SetFetchLog(fetchLog)
	}
	health := api.NewHealthChecker(cfg.Windsor.APIKey != "", cachePinger, dbPinger, s3Pinger)

	if cfg.Warmer.Enabled && len(cfg.Warmer.Datasets) > 0 {
		lock := distlock.NewLock(redisClient, db, warmerLockKey, cfg.Warmer.Interval())
		warmer := report.NewWarmer(service, lock, cfg.Warmer, report.WithWarmHook(recorder.WarmDone))
		health.SetWarmer(warmer)
		go warmer.Start(ctx)
	}

	server := api.NewServer(cfg.Server, handlers, api.RouteDeps{
		Health:   health,
		Metrics:  recorder,
		Gatherer: reg,
	})

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		fatal("Cannot start server", err)
	}

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
		logger.Info("Starting server", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			fatal("Server error", err)
		}
	}()

	<-done
	logger.Info("Shutting down...")

	// Cancel background tasks
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
