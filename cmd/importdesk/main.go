package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/importdesk/importdesk/cmd/importdesk/cli"
	"github.com/importdesk/importdesk/internal/app"
	"github.com/importdesk/importdesk/internal/ar"
	"github.com/importdesk/importdesk/internal/customs"
	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/observability"
	"github.com/importdesk/importdesk/internal/platform/cache"
	"github.com/importdesk/importdesk/internal/platform/db"
	"github.com/importdesk/importdesk/internal/platform/lock"
	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/internal/sales/customers"
	"github.com/importdesk/importdesk/internal/store"
	"github.com/importdesk/importdesk/jobs"
)

const usage = `usage: importdesk [serve | reconcile [--item ID] [--gd N] [--json] | invoice NUMBER | jobs trigger NAME [ITEM...] | jobs stats]`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "reconcile":
		os.Exit(reconcile(ctx, cfg, logger, args))
	case "invoice":
		err = printInvoice(ctx, cfg, logger, args)
	case "jobs":
		err = manageJobs(ctx, cfg, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func connect(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGConnLifetime})
	if err != nil {
		return nil, err
	}
	if cfg.DBAutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("schema applied")
	}
	return pool, nil
}

func redisOpts(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	var redisClient *redis.Client
	var locker *lock.Locker
	redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable, stock locks fall back to row locks", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		locker = lock.New(redisClient, cfg.Lock(), logger)
	}

	metrics := observability.NewMetrics()
	ledger := inventory.NewLedger(logger, metrics)
	uow := store.New(pool)

	customsService := customs.NewService(uow.Customs(), ledger, cfg.Rates(), logger)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), logger)
	salesService := sales.NewService(uow.Sales(), ledger, locker, cfg.Sales(), metrics, logger)
	customerService := customers.NewService(customers.NewRepository(pool), logger)
	arService := ar.NewService(uow.AR(), logger)

	inspector := asynq.NewInspector(redisOpts(cfg))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CustomsHandler:   customs.NewHandler(logger, customsService),
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		SalesHandler:     sales.NewHandler(logger, salesService),
		CustomersHandler: customers.NewHandler(logger, customerService),
		ARHandler:        ar.NewHandler(logger, arService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func reconcile(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	opts := cli.ReconcileOptions{}
	fs.StringVar(&opts.ItemID, "item", "", "item id to check (default all)")
	fs.Int64Var(&opts.GDID, "gd", 0, "GD id to check (default all)")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	return cli.ReconcileCommand(ctx, inventory.NewService(inventory.NewRepository(pool), logger), opts)
}

func printInvoice(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New(usage)
	}
	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := sales.NewService(store.New(pool).Sales(), inventory.NewLedger(logger, nil), nil, cfg.Sales(), nil, logger)
	inv, err := svc.GetInvoice(ctx, args[0])
	if err != nil {
		return err
	}
	return cli.PrintInvoice(os.Stdout, inv)
}

func manageJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	c, err := cli.NewJobsCLI(redisOpts(cfg))
	if err != nil {
		return err
	}
	defer c.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New(usage)
		}
		info, err := c.Trigger(ctx, args[1], args[2:]...)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return fmt.Errorf("unknown jobs command %q (want %s)", args[0], strings.Join([]string{"trigger", "stats"}, ", "))
	}
	return nil
}
