// Package cli содержит команды операторской утилиты restaurantctl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-system/internal/model"
	"github.com/mmeshcher/restaurant-system/internal/service"
)

// Operations описывает операции сервиса, доступные из командной строки.
type Operations interface {
	SeedTables(ctx context.Context) (int, error)
	AdjustPoints(ctx context.Context, actor model.Actor, identifier string, adj model.PointsAdjustment) (*model.User, error)
	ReconcileCredits(ctx context.Context, autoCredit bool, limit int) (*service.ReconcileResult, error)
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}

// Opener подключается к хранилищу и возвращает операции и функцию закрытия.
type Opener func(dsn string, logger *zap.Logger) (Operations, func() error, error)

// RootOptions содержит глобальные флаги.
type RootOptions struct {
	DatabaseURI string `env:"DATABASE_URI"`
	Verbose     bool

	open   Opener
	logger *zap.Logger
}

// operator описывает автора действий, выполняемых из командной строки.
var operator = model.Actor{Role: model.RoleAdmin, IP: "restaurantctl"}

// NewRootCommand создаёт корневую команду restaurantctl.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}
	_ = env.Parse(opts)

	cmd := &cobra.Command{
		Use:   "restaurantctl",
		Short: "Operator tools for the restaurant service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.DatabaseURI == "" {
				return errors.New("database URI is required: set DATABASE_URI or --database-uri")
			}
			logger := zap.NewNop()
			if opts.Verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return fmt.Errorf("create logger: %w", err)
				}
				logger = l
			}
			opts.logger = logger
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.DatabaseURI, "database-uri", "d", opts.DatabaseURI, "database URI")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log service activity to stderr")

	cmd.AddCommand(newSeedTablesCommand(opts))
	cmd.AddCommand(newPointsCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newPurgeTokensCommand(opts))

	return cmd
}

// withOperations открывает хранилище на время выполнения fn.
func (o *RootOptions) withOperations(fn func(ops Operations) error) error {
	ops, closeFn, err := o.open(o.DatabaseURI, o.logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer closeFn()
	return fn(ops)
}

func newSeedTablesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-tables",
		Short: "Create or update the default tables (3x4 and 3x6 seats)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withOperations(func(ops Operations) error {
				n, err := ops.SeedTables(cmd.Context())
				if err != nil {
					return err
				}
				return printf(cmd.OutOrStdout(), "seeded %d tables\n", n)
			})
		},
	}
}

func newPointsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "points",
		Short: "Manage loyalty point balances",
	}

	var delta, points int64
	adjust := &cobra.Command{
		Use:   "adjust <user id or email>",
		Short: "Add to a balance (--delta) or set it (--points); the result never goes below zero",
		Example: `  restaurantctl points adjust 42 --delta -100
  restaurantctl points adjust alice@example.com --points 500`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var adj model.PointsAdjustment
			if cmd.Flags().Changed("delta") {
				adj.Delta = &delta
			}
			if cmd.Flags().Changed("points") {
				adj.Points = &points
			}

			return opts.withOperations(func(ops Operations) error {
				u, err := ops.AdjustPoints(cmd.Context(), operator, args[0], adj)
				if err != nil {
					if msg := service.Message(err); msg != "" {
						return errors.New(msg)
					}
					return err
				}
				return printf(cmd.OutOrStdout(), "user %d (%s) now has %d points\n", u.ID, u.Email, u.Points)
			})
		},
	}
	adjust.Flags().Int64Var(&delta, "delta", 0, "points to add (negative to subtract)")
	adjust.Flags().Int64Var(&points, "points", 0, "absolute balance to set")
	adjust.MarkFlagsMutuallyExclusive("delta", "points")
	adjust.MarkFlagsOneRequired("delta", "points")

	cmd.AddCommand(adjust)
	return cmd
}

func newReconcileCommand(opts *RootOptions) *cobra.Command {
	var (
		credit bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find delivered orders whose loyalty points were never credited",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withOperations(func(ops Operations) error {
				res, err := ops.ReconcileCredits(cmd.Context(), credit, limit)
				if err != nil {
					return err
				}
				return printf(cmd.OutOrStdout(), "found %d uncredited orders, credited %d\n", res.Found, res.Credited)
			})
		},
	}
	cmd.Flags().BoolVar(&credit, "credit", false, "credit the points instead of only reporting")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of orders to process")

	return cmd
}

func newPurgeTokensCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-tokens",
		Short: "Delete expired refresh tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withOperations(func(ops Operations) error {
				n, err := ops.PurgeExpiredTokens(cmd.Context())
				if err != nil {
					return err
				}
				return printf(cmd.OutOrStdout(), "purged %d expired refresh tokens\n", n)
			})
		},
	}
}

func printf(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
