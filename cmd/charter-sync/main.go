package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	"golang.org/x/sync/errgroup"

	chartersync "github.com/goliatone/go-charter-sync"
	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/metrics/prom"
	chartermigrations "github.com/goliatone/go-charter-sync/migrations"
	sqlstore "github.com/goliatone/go-charter-sync/store/sql"
)

func main() {
	flags := newFlagSet()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, raw, err := loadSettings(ctx, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := newLogger(opts.Log.Level)

	if err := run(ctx, opts, raw, logger); err != nil {
		logger.Error("charter-sync stopped with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *settings, raw map[string]any, logger *slogLogger) error {
	runtime := chartersync.Config{}
	if secret := strings.TrimSpace(opts.Webhooks.Secret); secret != "" {
		runtime.Webhooks.SigningKeys = []core.SigningKeyConfig{{Version: "v1", Secret: secret}}
	}

	client, err := openPersistence(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	service, err := chartersync.NewService(runtime,
		chartersync.WithLoggerProvider(loggerProvider{root: logger}),
		chartersync.WithMetricsRecorder(prom.NewRecorder(registry)),
		chartersync.WithConfigProvider(core.NewCfgxConfigProvider(core.StaticConfigLoader{Values: raw})),
		chartersync.WithRepositoryFactory(factory),
		chartersync.WithOperatorCache(opts.Cache.Operators),
	)
	if err != nil {
		return err
	}
	cfg := service.Config()
	if service.Keyring().Len() == 0 {
		logger.Warn("no webhook signing keys configured; every delivery will be rejected")
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Webhooks.Path, service.HTTPHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := client.DB().PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	server := &http.Server{
		Addr:              opts.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", "addr", opts.HTTP.Addr, "webhook_path", cfg.Webhooks.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("event poller started",
			"concurrency", cfg.Worker.Concurrency,
			"batch_size", cfg.Worker.BatchSize,
			"poll_interval", cfg.Worker.PollInterval.String(),
		)
		return service.NewPoller().Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func openPersistence(ctx context.Context, opts *settings) (*persistence.Client, error) {
	driver, dialectName, dialect, err := resolveDialect(opts.DB.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, opts.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{driver: driver, server: opts.DB.DSN}, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}
	if !opts.DB.Migrate {
		return client, nil
	}
	_, err = chartermigrations.Register(ctx, func(_ context.Context, source chartermigrations.Source) error {
		client.RegisterSQLMigrations(source.FS)
		return nil
	}, dialectName)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}

func resolveDialect(driver string) (string, string, schema.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pq":
		return "postgres", chartermigrations.DialectPostgres, pgdialect.New(), nil
	case "sqlite", "sqlite3":
		return "sqlite3", chartermigrations.DialectSQLite, sqlitedialect.New(), nil
	default:
		return "", "", nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool { return false }

func (c persistenceConfig) GetDriver() string { return c.driver }

func (c persistenceConfig) GetServer() string { return c.server }

func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }

func (c persistenceConfig) GetOtelIdentifier() string { return "" }
