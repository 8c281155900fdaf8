package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"skytrail/server/internal/api"
	"skytrail/server/internal/catalog"
	"skytrail/server/internal/config"
	"skytrail/server/internal/debrief"
	"skytrail/server/internal/domain"
	"skytrail/server/internal/logger"
	"skytrail/server/internal/mastery"
	"skytrail/server/internal/observability"
	"skytrail/server/internal/orchestrator"
	"skytrail/server/internal/rng"
	"skytrail/server/internal/session"
	"skytrail/server/internal/timeline"
)

const usage = `usage: skytrail [serve|seed|validate] [-config path]

  serve     start the HTTP/WebSocket server (default)
  seed      load the embedded PSTAR question bank into the catalog store
  validate  check catalog integrity against the static content tables
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	// DATABASE_URL / REDIS_ADDR / LOG_MODE / SKYTRAIL_SEED 环境变量覆盖文件配置。
	configPath := fs.String("config", "server/configs/config.yaml", "config file path")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, log)
	case "seed":
		err = seed(ctx, cfg, log)
	case "validate":
		err = validate(ctx, cfg, log)
	default:
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error("skytrail failed", "command", cmd, "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	store, err := catalog.Open(cfg.Database.DSN, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.AutoMigrate(ctx); err != nil {
		return err
	}
	seeded, err := store.HasDocument(ctx)
	if err != nil {
		return err
	}
	if !seeded {
		log.Info("Catalog is empty, loading embedded seed")
		set, err := catalog.LoadSeed()
		if err != nil {
			return err
		}
		if err := catalog.Seed(ctx, store, set); err != nil {
			return err
		}
	}

	lib, err := domain.Load()
	if err != nil {
		return fmt.Errorf("load static content: %w", err)
	}
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := catalog.Validate(snap.All(), lib); err != nil {
		return err
	}

	sessions, closeSessions, err := openSessions(ctx, cfg.Session, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	masteryStore := mastery.NewGormStore(store.DB(), log)
	if err := masteryStore.AutoMigrate(ctx); err != nil {
		return err
	}
	recorder := debrief.NewGormRecorder(store.DB(), log)
	if err := recorder.AutoMigrate(ctx); err != nil {
		return err
	}

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}()

	seedValue := cfg.Hop.Seed
	if seedValue == 0 {
		seedValue = uint64(time.Now().UnixNano())
	}
	r := rng.NewSeeded(seedValue)

	orch := orchestrator.New(orchestrator.Deps{
		Sessions:     sessions,
		Timeline:     timeline.NewInMemoryStore(),
		Library:      lib,
		Catalog:      snap,
		Rand:         r,
		Mastery:      masteryStore,
		Recorder:     recorder,
		Log:          log,
		ClockSeconds: cfg.Hop.ClockSeconds,
		CardSeconds:  cfg.Hop.SVFRCardSeconds,
	})
	srv := api.NewServer(cfg, orch, store, r, log).WithDebriefs(recorder)

	// 只限制请求头读取时间；WebSocket 连接被接管后不能带着整体读写超时。
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("skytrail server listening", "addr", cfg.Addr(), "questions", snap.Len(), "session_store", cfg.Session.Store)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := orch.Sweep(gctx, cfg.Session.TTL); err != nil {
					log.Warn("idle session sweep failed", "error", err)
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openSessions(ctx context.Context, cfg config.SessionConfig, log *logger.Logger) (session.Store, func(), error) {
	if cfg.Store != "redis" {
		return session.NewInMemoryStore(), func() {}, nil
	}
	rs, err := session.NewRedisStore(ctx, cfg.RedisAddr, cfg.TTL, log)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

func seed(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	store, err := catalog.Open(cfg.Database.DSN, log)
	if err != nil {
		return err
	}
	defer store.Close()

	set, err := catalog.LoadSeed()
	if err != nil {
		return err
	}
	return catalog.Seed(ctx, store, set)
}

func validate(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	store, err := catalog.Open(cfg.Database.DSN, log)
	if err != nil {
		return err
	}
	defer store.Close()

	lib, err := domain.Load()
	if err != nil {
		return fmt.Errorf("load static content: %w", err)
	}
	questions, err := store.All(ctx)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return errors.New("catalog is empty, run `skytrail seed` first")
	}
	if err := catalog.Validate(questions, lib); err != nil {
		var integrity *catalog.IntegrityError
		if errors.As(err, &integrity) {
			for _, problem := range integrity.Problems {
				log.Warn("Catalog defect", "problem", problem)
			}
		}
		return err
	}
	log.Info("Catalog is valid", "questions", len(questions))
	return nil
}
