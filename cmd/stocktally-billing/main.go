package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stocktally/stocktally/internal/billing"
	"github.com/stocktally/stocktally/internal/billing/registry"
	bstripe "github.com/stocktally/stocktally/internal/billing/stripe"
	"github.com/stocktally/stocktally/internal/logging"
	"github.com/stocktally/stocktally/pkg/entitlements"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "stocktally-billing",
	Short: "StockTally team billing and entitlement service",
	Long:  `Tracks each team's plan, trial and Stripe subscription and answers what the team may do.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return billing.Run(cmd.Context(), Version)
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the billing HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return billing.Run(cmd.Context(), Version)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Downgrade teams whose trial has ended, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep(cmd.Context(), cmd.OutOrStdout(), time.Now().UTC())
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <team-id>",
	Short: "Print a team's effective entitlement as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolve(cmd.Context(), cmd.OutOrStdout(), args[0], time.Now().UTC())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "stocktally-billing %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Fprintf(out, "Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Fprintf(out, "Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openRegistry() (*registry.TeamRegistry, error) {
	cfg, err := billing.LoadStoreConfig()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "billing-cli",
	})
	if err := os.MkdirAll(cfg.RegistryDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	return registry.NewTeamRegistry(cfg.RegistryDir())
}

func runSweep(ctx context.Context, out io.Writer, now time.Time) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	n, err := bstripe.NewSweeper(reg, 0).Sweep(ctx, now)
	if err != nil {
		log.Error().Err(err).Int("downgraded", n).Msg("Sweep finished with errors")
		return err
	}
	fmt.Fprintf(out, "Downgraded %d expired trial(s)\n", n)
	return nil
}

func runResolve(ctx context.Context, out io.Writer, teamID string, now time.Time) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	team, err := reg.Get(ctx, teamID)
	if err != nil {
		return err
	}
	if team == nil {
		return fmt.Errorf("team %s not found", teamID)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(entitlements.Resolve(team.TrialState(), now))
}
