package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/amirasaad/ecclesia/infra/initializer"
	"github.com/amirasaad/ecclesia/pkg/app"
	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/middleware"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	okColor  = color.New(color.FgGreen, color.Bold)
	errColor = color.New(color.FgRed, color.Bold)
)

func main() {
	color.NoColor = !term.IsTerminal(int(os.Stdout.Fd()))
	if err := rootCmd().Execute(); err != nil {
		_, _ = errColor.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "ecclesia",
		Short:         "Operational commands for the contribution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file")

	// withApp loads configuration, builds the app and releases it after fn.
	withApp := func(fn func(ctx context.Context, a *app.App, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return fmt.Errorf("failed to load application configuration: %w", err)
			}
			deps, cleanup, err := initializer.InitializeDependencies(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}
			defer cleanup()
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()
			return fn(ctx, app.New(deps, cfg), cmd.OutOrStdout(), args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "scheduler",
			Short: "Run one notification pass",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
				sum, err := a.Scheduler.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(out, sum)
			}),
		},
		&cobra.Command{
			Use:   "cleanup-tokens",
			Short: "Delete expired payment tokens",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
				n, err := a.Tokens.CleanupExpired(ctx)
				if err != nil {
					return err
				}
				_, _ = okColor.Fprintf(out, "Removed %d expired tokens\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "issue-token <payer_id> <tenant_id>",
			Short: "Issue a magic link for a payer",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				link, err := a.Tokens.IssueLink(ctx, ids[0], ids[1])
				if err != nil {
					return err
				}
				_, _ = okColor.Fprintln(out, "Payment link issued")
				_, err = fmt.Fprintln(out, link)
				return err
			}),
		},
		&cobra.Command{
			Use:   "reconcile <transaction_id>",
			Short: "Query the gateway for one transaction",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				res, err := a.Payments.Reconcile(ctx, ids[0])
				if err != nil {
					return err
				}
				_, _ = okColor.Fprintf(out, "Transaction %s is %s (%s)\n", res.Transaction.ID, res.Transaction.Status, res.Outcome)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "reconcile-pending",
			Short: "Reconcile stale pending transactions",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
				sched := a.Config.Scheduler
				sum, err := a.Payments.ReconcilePending(ctx, sched.ReconcileOlder, sched.ReconcileLimit)
				if err != nil {
					return err
				}
				return printJSON(out, sum)
			}),
		},
		jwtCmd(&envFile),
	)
	return root
}

// jwtCmd mints operator tokens; it needs only the JWT configuration.
func jwtCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "jwt <user_id> <tenant_id> <member|admin|treasurer>",
		Short: "Mint an access token",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return fmt.Errorf("failed to load application configuration: %w", err)
			}
			tok, err := mintJWT(cfg.Auth.Jwt, args, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
}

func mintJWT(cfg *config.Jwt, args []string, now time.Time) (string, error) {
	ids, err := parseIDs(args[:2])
	if err != nil {
		return "", err
	}
	role := middleware.Role(args[2])
	switch role {
	case middleware.RoleMember, middleware.RoleAdmin, middleware.RoleTreasurer:
	default:
		return "", fmt.Errorf("unknown role %q", args[2])
	}
	return middleware.GenerateToken(cfg, middleware.Principal{UserID: ids[0], TenantID: ids[1], Role: role}, now)
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(args))
	for _, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", a, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
