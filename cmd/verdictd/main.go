package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"verdict/internal/app"
	"verdict/internal/config"
	"verdict/internal/consensus"
	"verdict/internal/domain"
	"verdict/internal/logging"
	"verdict/internal/reconcile"
	"verdict/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose bool

	application *app.App
	logger      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "verdictd",
	Short: "Operator tooling for the verdict service",
	Long: `verdictd manages the verdict store: schema migration, profiles and
credits, on-demand consensus synthesis and verdict count reconciliation.

Configuration comes from config.yaml (or CONFIG_PATH) and the environment.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// PersistentPostRun is skipped when a command fails.
		if application != nil {
			_ = application.Close()
			application = nil
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		logger, err = logging.New(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		application, err = app.New(cmd.Context(), cfg, logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			_ = application.Close()
			application = nil
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Opening the store applies the schema.
		fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", application.Store.Driver())
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage user profiles",
}

var profileCreateCredits int

var profileCreateCmd = &cobra.Command{
	Use:   "create [user-id]",
	Short: "Create a profile with a starting credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now().UTC()
		p, err := application.Store.CreateProfile(cmd.Context(), domain.Profile{
			UserID:    args[0],
			Credits:   profileCreateCredits,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("profile %s already exists", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s with %d credit(s)\n", p.UserID, p.Credits)
		return nil
	},
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and grant credits",
}

var creditsGrantReason string

var creditsGrantCmd = &cobra.Command{
	Use:   "grant [user-id] [amount]",
	Short: "Add credits to a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.Atoi(strings.TrimSpace(args[1]))
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[1])
		}
		balance, err := application.Ledger.Add(cmd.Context(), args[0], amount, creditsGrantReason)
		if err != nil {
			return userError(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s now has %d credit(s)\n", args[0], balance)
		return nil
	},
}

var creditsShowCmd = &cobra.Command{
	Use:   "show [user-id]",
	Short: "Show balance and recent credit movements",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := application.Ledger.EnsureProfile(cmd.Context(), args[0])
		if err != nil {
			return userError(err)
		}
		txs, err := application.Ledger.History(cmd.Context(), args[0], 20)
		if err != nil {
			return userError(err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %d credit(s)\n", p.UserID, p.Credits)
		for _, tx := range txs {
			fmt.Fprintf(out, "  %s  %+d -> %d  %s\n", tx.CreatedAt.Format(time.RFC3339), tx.Delta, tx.BalanceAfter, tx.Reason)
		}
		return nil
	},
}

var consensusNotify bool

var consensusCmd = &cobra.Command{
	Use:   "consensus [request-id]",
	Short: "Synthesise the verdicts on a pro request and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		req, err := application.Requests.Get(ctx, args[0])
		if err != nil {
			return userError(err)
		}
		verdicts, err := application.Recorder.ListForRequest(ctx, req.ID)
		if err != nil {
			return userError(err)
		}
		if !consensus.ShouldSynthesize(req.RequestTier, len(verdicts)) {
			return fmt.Errorf("request %s is not eligible: tier %s with %d verdict(s)", req.ID, req.RequestTier, len(verdicts))
		}
		result, err := application.Synthesizer.Synthesize(ctx, verdicts, req.Context, req.Category)
		if err != nil {
			return err
		}
		if consensusNotify {
			if err := application.Notifier.ConsensusReady(ctx, req, result); err != nil {
				logger.Warn("consensus notification failed", zap.Error(err))
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var reconcileOnce bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair received verdict counts that lag the stored verdicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reconcileOnce {
			result, err := application.Reconciler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reconcile.FormatSummary(result))
			return nil
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return application.Reconciler.Run(ctx, application.Config.ReconcileSchedule)
	},
}

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue an API bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := application.Auth.Issue(args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

// userError replaces infrastructure details with the public message; the
// cause has already been logged.
func userError(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return errors.New(de.PublicMessage())
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	profileCreateCmd.Flags().IntVar(&profileCreateCredits, "credits", 0, "Starting credit balance")
	profileCmd.AddCommand(profileCreateCmd)

	creditsGrantCmd.Flags().StringVar(&creditsGrantReason, "reason", "operator grant", "Reason recorded in the credit audit trail")
	creditsCmd.AddCommand(creditsGrantCmd, creditsShowCmd)

	consensusCmd.Flags().BoolVar(&consensusNotify, "notify", false, "Post the result to Slack")
	reconcileCmd.Flags().BoolVar(&reconcileOnce, "once", false, "Run a single pass and exit")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")

	rootCmd.AddCommand(migrateCmd, profileCmd, creditsCmd, consensusCmd, reconcileCmd, tokenCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
