package billing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/stocktally/stocktally/internal/billing/registry"
	bstripe "github.com/stocktally/stocktally/internal/billing/stripe"
	"github.com/stocktally/stocktally/internal/logging"
	"github.com/stocktally/stocktally/pkg/entitlements"
)

const shutdownTimeout = 30 * time.Second

// Run starts the billing service and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "billing",
	})

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "billing",
	})
	log.Info().Str("version", version).Msg("Starting StockTally billing service")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return Serve(ctx, cfg, ln, version)
}

// Serve opens the team registry, wires the handlers and background loops,
// and serves on ln until ctx is done.
func Serve(ctx context.Context, cfg *Config, ln net.Listener, version string) error {
	if err := os.MkdirAll(cfg.RegistryDir(), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	reg, err := registry.NewTeamRegistry(cfg.RegistryDir())
	if err != nil {
		return fmt.Errorf("open team registry: %w", err)
	}
	defer reg.Close()

	deps := &Deps{
		Config:   cfg,
		Registry: reg,
		Resolver: entitlements.NewResolver(nil),
		Version:  version,
	}
	if cfg.StripeEnabled() {
		client := bstripe.NewStripeClient(cfg.StripeAPIKey)
		deps.Reconciler = bstripe.NewReconciler(reg, client, cfg.Prices.ExtraUser)
		deps.Checkout = bstripe.NewCheckoutService(client, cfg.Prices, cfg.BaseURL)
		log.Info().Msg("Stripe API client configured")
	} else {
		log.Warn().Msg("STRIPE_API_KEY not set, checkout and add-on changes disabled")
	}

	srv := &http.Server{
		Handler:           NewHandler(deps),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	sweeper := bstripe.NewSweeper(reg, cfg.SweepInterval)
	g.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})

	g.Go(func() error {
		runPlanMetrics(ctx, reg, deps.Resolver.Now)
		return nil
	})

	for _, rl := range deps.limiters {
		g.Go(func() error {
			rl.Run(ctx, 0)
			return nil
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("Billing service listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down billing service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Billing service stopped")
	return nil
}
