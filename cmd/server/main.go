package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/coordinator"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matching"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/relay"
	"github.com/example/ride-dispatch/internal/reviews"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var db *sql.DB
	if cfg.PGDSN != "" {
		db, err = sql.Open("postgres", cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		if err := db.Ping(); err != nil {
			logger.Error("postgres ping failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := runMigrations(db, "migrations"); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
	}

	var regStore registry.Store = registry.NewMemoryStore()
	var relayStore relay.Store = relay.NewMemoryStore()
	var reviewStore reviews.Store = reviews.NewMemoryStore()
	if db != nil {
		regStore = registry.NewPostgresStore(db)
		relayStore = relay.NewPostgresStore(db)
		reviewStore = reviews.NewPostgresStore(db)
	}

	var geoIdx geo.Index
	if cfg.RedisAddr != "" {
		geoIdx = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.StalenessWindow, cfg.DebounceDeg)
	} else {
		geoIdx = geo.NewMemIndex(cfg.StalenessWindow, cfg.DebounceDeg)
	}

	reg := registry.New(regStore)
	reg.AllowMultipleActive = cfg.AllowMultiple

	eng := &matching.Engine{
		Geo:             geoIdx,
		Requests:        reg,
		RadiusKm:        cfg.NearbyRadius,
		Limit:           cfg.NearbyLimit,
		DefaultSpeedMps: cfg.DefaultSpeed,
		ETACache:        eta.NewCache(cfg.ETACacheTTL),
	}
	if cfg.OSRMEndpoint != "" {
		eng.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	wsreg := notify.NewRegistry(logger)
	coord := coordinator.New(reg, geoIdx, eng, relay.New(relayStore, reg), reviews.New(reviewStore, reg), logger)
	coord.Notify = wsreg

	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		defer producer.Close()
		coord.Events = producer
	}

	srv := httpapi.NewServer(coord, wsreg, logger)
	if len(cfg.KafkaBrokers) > 0 {
		positions := events.NewPositionProducer(cfg.KafkaBrokers, cfg.KafkaGeoTopic)
		defer positions.Close()
		srv.Positions = positions
	}

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("ride-dispatch stopped")
}

func runMigrations(db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}
