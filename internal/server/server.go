// Package server wires the application together: storage, providers,
// usecases, background workers and the HTTP surface.
package server

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/fees"
	"github.com/DesignerDev23/MiiMii-sub000/internal/handler"
	"github.com/DesignerDev23/MiiMii-sub000/internal/provider"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pub"
	"github.com/DesignerDev23/MiiMii-sub000/internal/repository"
	"github.com/DesignerDev23/MiiMii-sub000/internal/router"
	"github.com/DesignerDev23/MiiMii-sub000/internal/usecase"
)

// App owns the HTTP server and the background workers.
type App struct {
	Server *http.Server

	poller  *usecase.Poller
	sweeper *usecase.Sweeper
	alerter *pub.Alerter
	db      *pgxpool.Pool
	logger  *zap.Logger
}

func NewApp(cfg config.AppConfig, logger *zap.Logger) *App {
	ctx := context.Background()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect DB: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})

	store := repository.NewStore(db)
	wallets := repository.NewWalletRepo(db)
	txns := repository.NewTransactionRepo(db)
	webhooks := repository.NewWebhookRepo(db)
	idem := repository.NewIdempotencyRepo(db)
	pinRepo := repository.NewPinRepo(db)

	registry, err := provider.NewRegistry(cfg)
	if err != nil {
		log.Fatalf("failed to build provider registry: %v", err)
	}

	feeTable := fees.DefaultTable()
	notifier := pub.NewNotifier(rdb, logger)
	alerter := pub.NewAlerter(cfg.KafkaBrokers, cfg.AlertsTopic, logger)
	pins := usecase.NewPinService(pinRepo, rdb, cfg.PinPolicy)

	orchestrator, err := usecase.NewOrchestrator(
		store, wallets, txns, idem, pins, feeTable, registry, notifier, alerter, cfg, logger)
	if err != nil {
		log.Fatalf("failed to build orchestrator: %v", err)
	}
	reconciler := usecase.NewReconciler(store, wallets, txns, webhooks, registry, notifier, alerter, logger)
	poller := usecase.NewPoller(store, wallets, txns, registry, notifier, alerter, cfg, logger)
	sweeper := usecase.NewSweeper(store, wallets, txns, idem, feeTable, notifier, cfg, logger)

	paymentHandler := handler.NewPaymentHandler(orchestrator, reconciler, pins, feeTable, logger)

	r := chi.NewRouter()
	r = router.SetupRoutes(r, paymentHandler).(*chi.Mux)

	return &App{
		Server: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: r,
		},
		poller:  poller,
		sweeper: sweeper,
		alerter: alerter,
		db:      db,
		logger:  logger,
	}
}

// StartWorkers launches the poller and sweeper; they stop when ctx is
// cancelled.
func (a *App) StartWorkers(ctx context.Context) {
	go a.poller.Run(ctx)
	go a.sweeper.Run(ctx)
}

func (a *App) Shutdown(ctx context.Context) {
	if err := a.Server.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown", zap.Error(err))
	}
	if err := a.alerter.Close(); err != nil {
		a.logger.Error("close alert writer", zap.Error(err))
	}
	a.db.Close()
}
