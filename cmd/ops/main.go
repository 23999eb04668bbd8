// Command ops is the Crossguard operations CLI. It works directly against
// the shared Postgres store, so it can inspect and repair a running cluster.
//
// Usage:
//
//	crossguard-ops crosswalks list
//	crossguard-ops crosswalks show --id 42
//	crossguard-ops sweep
//	crossguard-ops leases list
//	crossguard-ops leases clear --older-than 30s
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/crossguard/crossguard/internal/config"
	"github.com/crossguard/crossguard/internal/crosswalk"
	"github.com/crossguard/crossguard/internal/lease"
	"github.com/crossguard/crossguard/internal/push"
	"github.com/crossguard/crossguard/internal/risk"
	"github.com/crossguard/crossguard/internal/store"
	"github.com/crossguard/crossguard/internal/sweep"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "crossguard-ops",
		Short: "Crossguard operations CLI",
	}

	root.AddCommand(crosswalksCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(leasesCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// withStore loads config, connects to the Postgres store, and runs fn.
func withStore(fn func(ctx context.Context, st *store.Postgres) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreBackend != config.StorePostgres {
		return fmt.Errorf("ops commands require STORE_BACKEND=postgres (the memory store is process-local)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	st, err := store.NewPostgres(ctx, store.PostgresConfig{
		DatabaseURL: cfg.DatabaseURL,
		MinConns:    1,
		MaxConns:    2,
		MaxConnLife: cfg.DBPoolMaxLife,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(ctx, st)
}

// --------------------------------------------------------------------------
// crosswalks command
// --------------------------------------------------------------------------

func crosswalksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crosswalks",
		Short: "Inspect crosswalk documents",
	}
	cmd.AddCommand(crosswalksListCmd())
	cmd.AddCommand(crosswalksShowCmd())
	return cmd
}

func crosswalksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List crosswalks with presence counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Postgres) error {
				registry := crosswalk.NewRegistry(st)
				ids, err := registry.ListIDs(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					state, ok, err := registry.Get(ctx, id)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					fmt.Printf("%s\tpeds=%d\tdrivers=%d\n", id, len(state.Peds), len(state.Drivers))
				}
				logger.Info("crosswalks listed", "count", len(ids))
				return nil
			})
		},
	}
}

func crosswalksShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Dump one crosswalk document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Postgres) error {
				doc, ok, err := st.Get(ctx, store.Crosswalks, id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("crosswalk %q not found", id)
				}
				out, err := json.MarshalIndent(doc, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Crosswalk id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// --------------------------------------------------------------------------
// sweep command
// --------------------------------------------------------------------------

// nopPusher satisfies push.Pusher for CLI runs: the CLI holds no client
// connections, so state mutations (TTL pruning, GC) happen and deliveries
// silently miss.
type nopPusher struct{}

func (nopPusher) Push(ctx context.Context, sid, event string, payload any) error { return nil }

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one synchronous sweep over all crosswalks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Postgres) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}

				registry := crosswalk.NewRegistry(st)
				dispatcher := push.NewDispatcher(nopPusher{}, logger)
				evaluator := risk.NewEvaluator(registry, dispatcher, risk.Params{
					ReactionTime:  cfg.ReactionTime,
					Deceleration:  cfg.Deceleration,
					SafetyBuffer:  cfg.SafetyBuffer,
					OuterFactor:   cfg.OuterFactor,
					MinAlertSpeed: cfg.MinAlertSpeed,
					DebounceDelta: cfg.DebounceDelta,
					DriverTTL:     cfg.DriverPresenceTTL,
				}, logger)
				coordinator := lease.NewCoordinator(st, evaluator.Run, logger)

				start := time.Now()
				scheduler := sweep.NewScheduler(registry, coordinator,
					sweep.Config{Interval: cfg.SweepInterval, Workers: cfg.SweepWorkers}, logger)
				scheduler.Tick(ctx)
				coordinator.Close() // waits for requested passes to finish

				logger.Info("sweep complete", "duration", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// leases command
// --------------------------------------------------------------------------

func leasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leases",
		Short: "Inspect and repair evaluation leases",
	}
	cmd.AddCommand(leasesListCmd())
	cmd.AddCommand(leasesClearCmd())
	return cmd
}

func leaseAge(doc store.Document, now time.Time) (time.Duration, bool) {
	acquired, ok := doc["acquired_at"].(float64)
	if !ok {
		return 0, false
	}
	return now.Sub(time.UnixMilli(int64(acquired * 1000))), true
}

func leasesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List in-flight evaluation leases with their age",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Postgres) error {
				ids, err := st.ListKeys(ctx, store.Leases)
				if err != nil {
					return err
				}
				now := time.Now()
				for _, id := range ids {
					doc, ok, err := st.Get(ctx, store.Leases, id)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					if age, ok := leaseAge(doc, now); ok {
						fmt.Printf("%s\tage=%s\n", id, age.Round(time.Millisecond))
					} else {
						fmt.Printf("%s\tage=unknown\n", id)
					}
				}
				logger.Info("leases listed", "count", len(ids))
				return nil
			})
		},
	}
}

// leasesClearCmd is the operator remedy for a lease orphaned by a crashed
// instance: leases have no automatic expiry, so a crosswalk whose lease never
// got released stops evaluating until the lease is cleared.
func leasesClearCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete leases older than a threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Postgres) error {
				ids, err := st.ListKeys(ctx, store.Leases)
				if err != nil {
					return err
				}
				now := time.Now()
				cleared := 0
				for _, id := range ids {
					doc, ok, err := st.Get(ctx, store.Leases, id)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					age, known := leaseAge(doc, now)
					if !known || age < olderThan {
						continue
					}
					if err := st.Delete(ctx, store.Leases, id); err != nil {
						return err
					}
					logger.Info("lease cleared", "crosswalk_id", id, "age", age.Round(time.Millisecond))
					cleared++
				}
				logger.Info("clear complete", "cleared", cleared, "total", len(ids))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*time.Second, "Only clear leases at least this old")
	return cmd
}
