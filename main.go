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

	"github.com/EmpoweredVote/GIS-Backend/internal/config"
	"github.com/EmpoweredVote/GIS-Backend/internal/db"
	"github.com/EmpoweredVote/GIS-Backend/internal/layers"
	"github.com/EmpoweredVote/GIS-Backend/internal/logging"
	"github.com/EmpoweredVote/GIS-Backend/internal/metrics"
	"github.com/EmpoweredVote/GIS-Backend/internal/middleware"
	"github.com/EmpoweredVote/GIS-Backend/internal/parcels"
	"github.com/EmpoweredVote/GIS-Backend/internal/reproject/projlib"
	"github.com/EmpoweredVote/GIS-Backend/internal/tilecache"
	"github.com/EmpoweredVote/GIS-Backend/internal/watch"
	"github.com/EmpoweredVote/GIS-Backend/web"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "Server is up!")
}

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	var archive parcels.Archive
	if cfg.DatabaseURL != "" {
		gdb, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		a, err := parcels.InitArchive(gdb)
		switch {
		case errors.Is(err, parcels.ErrPostGISUnavailable):
			log.Warn("archive disabled", zap.Error(err))
		case err != nil:
			return err
		default:
			archive = a
		}
	}

	cat := parcels.NewCatalogue(archive)
	if n, err := cat.Hydrate(ctx); err != nil {
		log.Warn("hydrate failed", zap.Error(err))
	} else if n > 0 {
		log.Info("layers restored", zap.Int("count", n))
	}

	var tiles tilecache.Cache = tilecache.NewMemory(4096)
	if cfg.RedisURL != "" {
		rc, err := tilecache.OpenRedis(ctx, cfg.RedisURL, cfg.TileCacheTTL)
		if err != nil {
			log.Warn("redis unavailable, using in-memory tile cache", zap.Error(err))
		} else {
			defer rc.Close()
			tiles = rc
		}
	}

	svc, err := layers.Init(cfg, cat, projlib.Factory{}, tiles)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(logging.AccessMiddleware(log))
	r.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	r.Get("/health", HealthHandler)
	r.Handle("/metrics", metrics.Handler())
	r.Mount("/api", svc.SetupRoutes(
		middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		cfg.AdminTokenHash,
	))
	r.Handle("/*", web.Handler())

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var watcher *watch.Watcher
	if cfg.WatchDir != "" {
		watcher, err = watch.New(cfg.WatchDir, cat, svc.Loader)
		if err != nil {
			return err
		}
		if err := watcher.Scan(ctx); err != nil {
			log.Warn("watch scan failed", zap.Error(err))
		}
		log.Info("watching directory", zap.String("dir", cfg.WatchDir))
	}

	g, gctx := errgroup.WithContext(ctx)
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
