package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/fitcore/pkg/config"
	"github.com/dmitrymomot/fitcore/pkg/logger"
	mongoconn "github.com/dmitrymomot/fitcore/pkg/mongo"
	"github.com/dmitrymomot/fitcore/svc/billing/store"
	"github.com/dmitrymomot/fitcore/svc/billing/sweeper"
)

const exitInterrupted = 130

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		os.Exit(exitInterrupted)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func newRootCmd() *cobra.Command {
	var dryRun bool
	var userID string

	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Billing maintenance tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	root.PersistentFlags().StringVar(&userID, "user", "", "limit the operation to one user id")

	root.AddCommand(
		&cobra.Command{
			Use:   "cleanup",
			Short: "Run the expiry, past-due and retention sweeps once",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd.Context(), func(ctx context.Context, st *store.MongoStore) error {
					return runCleanup(ctx, st, dryRun)
				})
			},
		},
		&cobra.Command{
			Use:   "fix-flags",
			Short: "Clear stale isActive flags on user projections",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd.Context(), func(ctx context.Context, st *store.MongoStore) error {
					n, err := st.FixActiveFlags(ctx, userID, dryRun)
					return report("fix-flags", n, dryRun, err)
				})
			},
		},
		&cobra.Command{
			Use:   "fix-period-end",
			Short: "Drop stale period fields from terminal projections",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd.Context(), func(ctx context.Context, st *store.MongoStore) error {
					n, err := st.FixPeriodEnds(ctx, userID, dryRun)
					return report("fix-period-end", n, dryRun, err)
				})
			},
		},
		&cobra.Command{
			Use:   "backfill-status",
			Short: "Give users without a subscription status the free projection",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd.Context(), func(ctx context.Context, st *store.MongoStore) error {
					n, err := st.BackfillStatuses(ctx, userID, dryRun)
					return report("backfill-status", n, dryRun, err)
				})
			},
		},
	)
	return root
}

func withStore(ctx context.Context, fn func(context.Context, *store.MongoStore) error) error {
	var mongoCfg mongoconn.Config
	if err := config.Load(&mongoCfg); err != nil {
		return err
	}

	db, err := mongoconn.NewWithDatabase(ctx, mongoCfg)
	if err != nil {
		return err
	}
	defer db.Client().Disconnect(context.Background())

	return fn(ctx, store.NewMongoStore(db))
}

func runCleanup(ctx context.Context, st *store.MongoStore, dryRun bool) error {
	var sweepCfg sweeper.Config
	if err := config.Load(&sweepCfg); err != nil {
		return err
	}
	now := time.Now().UTC()

	if dryRun {
		var expired, pastDue int64
		if err := st.FindExpired(ctx, now, func(store.User) error {
			expired++
			return nil
		}); err != nil {
			return err
		}
		if err := st.FindLongPastDue(ctx, now.Add(-sweepCfg.PastDueGrace), func(store.User) error {
			pastDue++
			return nil
		}); err != nil {
			return err
		}
		deletable, err := st.CountCanceledBefore(ctx, now.Add(-sweepCfg.Retention))
		if err != nil {
			return err
		}
		fmt.Printf("cleanup (dry run): %d to expire, %d past-due to cancel, %d rows to delete\n",
			expired, pastDue, deletable)
		return nil
	}

	var logCfg logger.Config
	if err := config.Load(&logCfg); err != nil {
		return err
	}
	sw := sweeper.New(st, logger.NewFromConfig(logCfg), sweepCfg)

	expiredCounts, err := sw.SweepExpired(ctx)
	if err != nil {
		return err
	}
	pastDueCounts, err := sw.SweepPastDue(ctx)
	if err != nil {
		return err
	}
	retentionCounts, err := sw.SweepRetention(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("cleanup: %d expired, %d canceled at period end, %d past-due canceled, %d rows deleted\n",
		expiredCounts.Expired, expiredCounts.Canceled, pastDueCounts.PastDueCanceled, retentionCounts.Deleted)
	return nil
}

func report(name string, n int64, dryRun bool, err error) error {
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Printf("%s (dry run): %d documents would change\n", name, n)
		return nil
	}
	fmt.Printf("%s: %d documents updated\n", name, n)
	return nil
}
