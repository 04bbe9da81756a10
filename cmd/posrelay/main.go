package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"posrelay/internal/api"
	"posrelay/internal/connectivity"
	"posrelay/internal/dispatch"
	"posrelay/internal/invoke"
	"posrelay/internal/queue"
	"posrelay/internal/remote"
	"posrelay/internal/scheduler"
	"posrelay/internal/storage"
)

func main() {
	_ = godotenv.Load()

	var (
		addr        = flag.String("addr", envOr("POSRELAY_ADDR", ":8080"), "HTTP bind address")
		backendURL  = flag.String("backend", envOr("POSRELAY_BACKEND_URL", "http://localhost:9090"), "backend base URL")
		store       = flag.String("store", envOr("POSRELAY_STORE", "sqlite"), "storage backend: sqlite|file|redis|memory")
		storePath   = flag.String("store-path", envOr("POSRELAY_STORE_PATH", "posrelay.db"), "sqlite/file store path")
		redisAddr   = flag.String("redis", envOr("POSRELAY_REDIS_ADDR", "localhost:6379"), "redis address (store=redis)")
		interval    = flag.Duration("sync-interval", 30*time.Second, "periodic sync interval")
		cronExpr    = flag.String("sync-cron", os.Getenv("POSRELAY_SYNC_CRON"), "cron spec overriding the sync interval")
		callTimeout = flag.Duration("call-timeout", 30*time.Second, "remote call timeout")
		maxRetries  = flag.Int("max-retries", 3, "retry ceiling per operation")
		probeEvery  = flag.Duration("probe-interval", 10*time.Second, "connectivity probe interval")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if *cronExpr != "" {
		if err := scheduler.ValidateCronExpression(*cronExpr); err != nil {
			log.Fatal().Err(err).Str("cron", *cronExpr).Msg("invalid sync cron")
		}
	}

	kv, err := openStore(*store, *storePath, *redisAddr)
	if err != nil {
		log.Fatal().Err(err).Str("store", *store).Msg("open store")
	}
	defer kv.Close()

	caller := remote.NewHTTPCaller(*backendURL, *callTimeout)
	monitor := connectivity.NewProbe(*backendURL+"/health", *probeEvery)

	q := queue.New(kv, caller, monitor, queue.Config{
		MaxRetries:  *maxRetries,
		CallTimeout: *callTimeout,
	})

	invoker := invoke.New(caller)
	dispatcher := dispatch.New(invoker, q, monitor, invoke.Options{
		Timeout:    *callTimeout,
		MaxRetries: *maxRetries,
	})

	opts := []scheduler.Option{scheduler.WithInterval(*interval)}
	if *cronExpr != "" {
		opts = append(opts, scheduler.WithCron(*cronExpr))
	}
	sched := scheduler.New(q, monitor, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go monitor.Start(ctx)
	go sched.Start(ctx)

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(q, dispatcher, sched, monitor)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	sched.Stop()
	monitor.Stop()
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}

func openStore(kind, path, redisAddr string) (storage.KV, error) {
	switch kind {
	case "file":
		return storage.NewFile(path), nil
	case "redis":
		return storage.NewRedis(redisAddr), nil
	case "memory":
		return storage.NewMemory(), nil
	default:
		return storage.OpenSQLite(path)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
