package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/funding"
	"github.com/congo-pay/walletledger/internal/routes"
)

// Server wraps the Fiber application and the background reconciler.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	reconciler *funding.Reconciler
}

// New builds the services and delegates route wiring to routes.Setup. db and
// cache may be nil in development.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	deps := routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger}
	svc, err := routes.Build(deps)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: true,
	})
	routes.Setup(app, deps, svc)

	return &Server{app: app, cfg: cfg, reconciler: svc.Reconciler}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Reconcile runs the reservation sweeper until ctx is canceled.
func (s *Server) Reconcile(ctx context.Context) error {
	return s.reconciler.Run(ctx)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
