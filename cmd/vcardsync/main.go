package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/octobees/vcardsync/internal/config"
	"github.com/octobees/vcardsync/internal/logger"
	"github.com/octobees/vcardsync/internal/quota"
	"github.com/octobees/vcardsync/internal/service"
)

var (
	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vcardsync [term] [location]",
	Short: "Synchronize directory listings into vCard files and CSV snapshots",
	Long: `vcardsync pages through the search.ch directory for a search term and an
optional location, downloads one vCard per listing and merges the results into
<OUTPUT_DIR>/<term>/<location>/csv/results_master.csv.

Missing arguments are prompted for. All other settings come from the
environment, a .env file or the YAML file named by VCARDSYNC_CONFIG.`,
	Args:          cobra.MaximumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log, err = logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
	RunE: runSync,
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the API calls used and remaining this month",
	Args:  cobra.NoArgs,
	RunE:  runQuota,
}

func init() {
	rootCmd.AddCommand(quotaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	query, err := resolveQuery(cmd.InOrStdin(), cmd.ErrOrStderr(), args)
	if err != nil {
		return err
	}

	a := newApp(cfg, log)
	defer a.Close()

	syncer, err := a.Syncer(ctx)
	if err != nil {
		return err
	}

	summary, err := syncer.Sync(ctx, query)
	switch {
	case errors.Is(err, quota.ErrExhausted):
		fmt.Fprintln(cmd.OutOrStdout(), "API quota for this month is exhausted; nothing was written.")
		return nil
	case errors.Is(err, service.ErrNoResults):
		fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		log.Warn("run interrupted, nothing was written")
		return nil
	case err != nil:
		return err
	}

	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func runQuota(cmd *cobra.Command, args []string) error {
	a := newApp(cfg, log)
	defer a.Close()

	limiter, err := a.Limiter(cmd.Context())
	if err != nil {
		return err
	}
	usage, remaining, err := limiter.Status(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "month: %s\nused: %d\nremaining: %d\n", usage.Month, usage.Calls, remaining)
	return nil
}
