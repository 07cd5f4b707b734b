package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/maverick/internal/scheduler"
	"github.com/sawpanic/maverick/internal/store"
)

const (
	appName = "maverick"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var cfgPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Daily equity screening service",
		Version: version,
		Long: `Maverick fetches daily OHLCV bars through a provider-fallback chain,
computes technical indicators over a ticker universe, and publishes ranked
screening results for bullish momentum, bearish weakness, and supply/demand
breakout setups.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if level, err := zerolog.ParseLevel(os.Getenv("MAVERICK_LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
				zerolog.SetGlobalLevel(level)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config/maverick.yaml", "Path to configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and ops HTTP server",
		Long:  "Starts the daily screening scheduler and the read-only HTTP server with screening, watchlist, status, health, and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgPath)
		},
	}

	screenCmd := &cobra.Command{
		Use:   "screen",
		Short: "Run one screening cycle immediately",
		Long:  "Refreshes bars for the active universe, scores every algorithm, and persists ranked results. Skips if today's cycle already completed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScreen(cfgPath)
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh [symbols...]",
		Short: "Deep-backfill bar history for specific symbols",
		Long:  "Fetches the full targeted lookback window for the given symbols so they carry enough history for 200-day indicators",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(cfgPath, args)
		},
	}

	universeCmd := &cobra.Command{
		Use:   "universe",
		Short: "Manage the active ticker universe",
	}

	registerCmd := &cobra.Command{
		Use:   "register [symbols...]",
		Short: "Register tickers into the active universe",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backfill, _ := cmd.Flags().GetBool("backfill")
			return runRegister(cfgPath, args, backfill)
		},
	}
	registerCmd.Flags().Bool("backfill", true, "Backfill bar history for newly registered tickers")

	deactivateCmd := &cobra.Command{
		Use:   "deactivate [symbols...]",
		Short: "Remove tickers from active screening coverage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeactivate(cfgPath, args)
		},
	}

	universeCmd.AddCommand(registerCmd, deactivateCmd)

	resultsCmd := &cobra.Command{
		Use:   "results [algorithm]",
		Short: "Print the latest ranked results for an algorithm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return runResults(cfgPath, args[0], limit)
		},
	}
	resultsCmd.Flags().Int("limit", 20, "Maximum number of results to print")

	rootCmd.AddCommand(serveCmd, screenCmd, refreshCmd, universeCmd, resultsCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func runServe(cfgPath string) error {
	a, err := newApp(cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.service.Start(ctx); err != nil {
		return err
	}
	defer a.service.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	log.Info().Str("version", version).Time("next_run", a.service.NextRun()).
		Msg("maverick started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runScreen(cfgPath string) error {
	a, err := newApp(cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := a.scheduler.RunCycle(ctx)
	if errors.Is(err, scheduler.ErrCycleAlreadyCompleted) {
		log.Info().Msg("today's screening cycle already completed, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runRefresh(cfgPath string, symbols []string) error {
	a, err := newApp(cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	normalized, err := normalizeSymbols(symbols)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := a.scheduler.RefreshSymbols(ctx, normalized)
	if err != nil {
		return err
	}

	for _, symbol := range normalized {
		latest, err := a.db.Bars().LatestDate(ctx, symbol)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("symbol", symbol).Msg("could not confirm stored history")
		case latest.IsZero():
			log.Warn().Str("symbol", symbol).Msg("no bars stored after backfill")
		default:
			log.Info().Str("symbol", symbol).Str("latest_bar", latest.Format("2006-01-02")).Msg("history current through")
		}
	}

	log.Info().Int("symbols", len(normalized)).Int("bars", n).Msg("backfill complete")
	return nil
}

func runRegister(cfgPath string, symbols []string, backfill bool) error {
	a, err := newApp(cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registered := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		symbol := store.NormalizeTicker(raw)
		if err := store.ValidateTicker(symbol); err != nil {
			return err
		}
		inserted, err := a.db.Universe().Register(ctx, symbol, "", "")
		if err != nil {
			return err
		}
		if inserted {
			registered = append(registered, symbol)
		}
		log.Info().Str("symbol", symbol).Bool("new", inserted).Msg("ticker registered")
	}

	if backfill && len(registered) > 0 {
		n, err := a.scheduler.RefreshSymbols(ctx, registered)
		if err != nil {
			return err
		}
		log.Info().Int("symbols", len(registered)).Int("bars", n).Msg("backfill complete")
	}
	return nil
}

func runDeactivate(cfgPath string, symbols []string) error {
	a, err := newApp(cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, raw := range symbols {
		symbol := store.NormalizeTicker(raw)
		if err := a.db.Universe().Deactivate(ctx, symbol); err != nil {
			return err
		}
		log.Info().Str("symbol", symbol).Msg("ticker deactivated")
	}
	return nil
}

func runResults(cfgPath, algorithm string, limit int) error {
	a, err := newApp(cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := a.db.Results().TopRanked(ctx, algorithm, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Printf("no results for %s\n", algorithm)
		return nil
	}

	if run, err := a.db.Runs().LatestSucceeded(ctx, algorithm); err == nil && run != nil {
		fmt.Printf("%s run %s, analyzed %s, %d candidates\n\n",
			algorithm, run.ID, run.DateAnalyzed.Format("2006-01-02"), run.Candidates)
	}

	fmt.Printf("%-6s %-10s %8s  %s\n", "RANK", "SYMBOL", "SCORE", "DATE")
	for _, r := range results {
		fmt.Printf("%-6d %-10s %8.1f  %s\n", r.Rank, r.Symbol, r.Score, r.DateAnalyzed.Format("2006-01-02"))
	}
	return nil
}

func normalizeSymbols(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		symbol := store.NormalizeTicker(strings.TrimSpace(s))
		if err := store.ValidateTicker(symbol); err != nil {
			return nil, err
		}
		out = append(out, symbol)
	}
	return out, nil
}
