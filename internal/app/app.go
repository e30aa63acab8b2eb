package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/controller"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/core"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/middlewareinternal"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/repository"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg      *Config
	Router   *chi.Mux
	store    repository.Store
	Logger   *zap.Logger
	Server   *http.Server
	Ledger   core.Ledger
	Auth     core.AuthService
	registry *prometheus.Registry

	closeOnce sync.Once
	closeErr  error
}

func New(cfg *Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.L()
	}
	app := &App{
		cfg:      cfg,
		Router:   chi.NewRouter(),
		Logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ledger, err := service.NewLedgerService(app.store, cfg.LedgerParams(), service.NewMetrics(app.registry), logger)
	if err != nil {
		app.store.Close()
		return nil, fmt.Errorf("ledger initialization failed: %w", err)
	}
	app.Ledger = ledger
	app.Auth = service.NewAuthService(app.store, cfg.JWTSecretKey)

	app.initRouter()
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	a.Server = &http.Server{
		Addr:              a.cfg.RunAddress,
		Handler:           a.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Starting HTTP server",
			zap.String("address", a.cfg.RunAddress),
			zap.String("storage", a.cfg.Storage),
			zap.String("denom", a.cfg.Denom))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			if closeErr := a.Close(); closeErr != nil {
				a.Logger.Error("Failed to close storage", zap.Error(closeErr))
			}
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		a.Logger.Info("Shutting down server...")
	}
	return a.shutdown()
}

func (a *App) initStore() error {
	store, err := repository.Open(a.cfg.StoreConfig())
	if err != nil {
		a.Logger.Error("Storage initialization failed",
			zap.String("storage", a.cfg.Storage),
			zap.String("dsn", a.cfg.MaskDBPassword()),
			zap.Error(err))
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	a.store = store
	a.Logger.Info("Storage initialized successfully",
		zap.String("storage", a.cfg.Storage))

	return nil
}

func (a *App) initRouter() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(middleware.Logger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.Compress(5))

	authController := controller.NewAuthController(a.Auth, a.Logger)
	ledgerController := controller.NewLedgerController(a.Ledger, a.Logger)

	// Public routes
	a.Router.Post("/api/user/register", authController.Register)
	a.Router.Post("/api/user/login", authController.Login)

	a.Router.Get("/api/ledger/balance/{address}", ledgerController.GetBalance)
	a.Router.Get("/api/ledger/debt/{address}", ledgerController.GetDebt)
	a.Router.Get("/api/ledger/accounts/{address}", ledgerController.GetAccount)
	a.Router.Get("/api/ledger/config", ledgerController.GetConfig)

	a.Router.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	// Protected routes
	a.Router.Group(func(r chi.Router) {
		if a.cfg.RateLimitRPM > 0 {
			r.Use(middlewareinternal.NewRateLimiter(a.cfg.RateLimitRPM, a.cfg.RateLimitBurst).Middleware)
		}
		r.Use(middlewareinternal.JWTAuthMiddleware(a.Auth))

		r.Post("/api/ledger/instantiate", ledgerController.Instantiate)
		r.Post("/api/ledger/deposit", ledgerController.Deposit)
		r.Post("/api/ledger/borrow", ledgerController.Borrow)
	})
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.Server.Shutdown(ctx)
	if closeErr := a.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Close releases the store. Safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.store != nil {
			a.closeErr = a.store.Close()
		}
	})
	return a.closeErr
}
