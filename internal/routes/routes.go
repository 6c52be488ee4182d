package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletledger/internal/alerts"
	"github.com/congo-pay/walletledger/internal/balancecache"
	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/funding"
	"github.com/congo-pay/walletledger/internal/gateway"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/middleware"
	"github.com/congo-pay/walletledger/internal/notification"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Gateway overrides the provider selected by GATEWAY_MODE.
	Gateway gateway.Gateway
}

// Services holds the wired application services.
type Services struct {
	Store      ledger.Store
	Breaker    *gateway.Breaker
	Wallet     *wallet.Service
	Funding    *funding.Service
	Alerts     *alerts.Service
	Reconciler *funding.Reconciler
}

// Build wires the ledger, cache, gateway and services. Without a database or
// Redis it falls back to the memory store and a disabled cache, which config
// only allows in development.
func Build(d Deps) (*Services, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	var (
		store      ledger.Store
		alertRepo  alerts.Repository
		thresholds alerts.ThresholdStore
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
		repo := alerts.NewPostgresRepository(d.DB)
		alertRepo, thresholds = repo, repo
	} else {
		store = ledger.NewInMemory()
		repo := alerts.NewMemoryRepository()
		alertRepo, thresholds = repo, repo
	}

	var kv balancecache.Store
	if d.Cache != nil {
		kv = balancecache.NewRedisStore(d.Cache)
	}
	cache := balancecache.New(kv, d.Cfg.BalanceCacheTTL, d.Logger)

	provider := d.Gateway
	if provider == nil {
		var err error
		if provider, err = newGateway(d.Cfg); err != nil {
			return nil, err
		}
	}
	breaker := gateway.NewBreaker(provider, gateway.DefaultBreakerSettings("payment-gateway"), d.Logger)

	var notifier notification.Notifier = notification.NewLoggerNotifier(d.Logger)
	if d.Cache != nil {
		notifier = notification.Fanout{notifier, notification.NewStreamNotifier(d.Cache, notification.DefaultStream)}
	}

	alertSvc, err := alerts.NewService(alerts.Deps{
		Repository: alertRepo,
		Thresholds: thresholds,
		Cache:      kv,
		Notifier:   notifier,
		Logger:     d.Logger,
	})
	if err != nil {
		return nil, err
	}

	walletSvc, err := wallet.NewService(wallet.Deps{
		Store:           store,
		Cache:           cache,
		Alerter:         alertSvc,
		Logger:          d.Logger,
		DefaultCurrency: d.Cfg.DefaultCurrency,
	})
	if err != nil {
		return nil, err
	}

	fundingSvc, err := funding.NewService(funding.Deps{
		Store:           store,
		Cache:           cache,
		Gateway:         breaker,
		Alerter:         alertSvc,
		Logger:          d.Logger,
		DefaultCurrency: d.Cfg.DefaultCurrency,
		ReservationTTL:  d.Cfg.ReservationTTL,
		GatewayTimeout:  d.Cfg.GatewayTimeout,
	})
	if err != nil {
		return nil, err
	}

	reconciler := funding.NewReconciler(funding.ReconcilerDeps{
		Store:     store,
		Cache:     cache,
		Gateway:   breaker,
		Logger:    d.Logger,
		Interval:  d.Cfg.ReconcileInterval,
		BatchSize: d.Cfg.ReconcileBatch,
	})

	return &Services{
		Store:      store,
		Breaker:    breaker,
		Wallet:     walletSvc,
		Funding:    fundingSvc,
		Alerts:     alertSvc,
		Reconciler: reconciler,
	}, nil
}

func newGateway(cfg config.Config) (gateway.Gateway, error) {
	switch cfg.GatewayMode {
	case config.GatewayStatic:
		return gateway.Static{}, nil
	case config.GatewayStripe:
		s, err := gateway.NewStripe(cfg.StripeSecretKey, "")
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		sim := gateway.DefaultSimulatedConfig()
		sim.FailureRate = cfg.GatewayFailureRate
		return gateway.NewSimulated(sim), nil
	}
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, svc *Services) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d, svc.Breaker)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	limiter := middleware.MovementRateLimit(d.Cache, d.Cfg.MovementRateLimit)
	RegisterFundingRoutes(api, funding.NewHandler(svc.Funding), limiter)
	RegisterWalletRoutes(api, wallet.NewHandler(svc.Wallet), limiter)
	RegisterAlertRoutes(api, alerts.NewHandler(svc.Alerts))
}
