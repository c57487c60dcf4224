package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/queuesync/internal/config"
	"github.com/clinic/queuesync/internal/domain/queue"
	"github.com/clinic/queuesync/internal/platform/db"
	"github.com/clinic/queuesync/internal/platform/pubsub"
	"github.com/clinic/queuesync/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "queuesync",
		Short:        "Keep the clinic queue in step with today's appointments",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringSlice("env-file", nil, "Extra env file to load before reading the environment (repeatable)")

	root.AddCommand(syncCmd())
	root.AddCommand(resetCmd())
	root.AddCommand(snapshotCmd())
	root.AddCommand(transitionCmd("call", "Mark a patient as called in", (*queue.Reconciler).Call))
	root.AddCommand(transitionCmd("complete", "Mark a consultation as finished", (*queue.Reconciler).Complete))
	root.AddCommand(migrateCmd())
	root.AddCommand(healthCmd())
	return root
}

// app holds everything one command invocation needs.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	pub    *pubsub.RedisPublisher
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	lvl, err := cfg.Level()
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads config, builds the logger and connects to PostgreSQL. Redis is
// optional: when it cannot be reached the command runs without publishing.
func setup(cmd *cobra.Command, withPublisher bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: newLogger(cfg, os.Stderr)}

	ctx := cmd.Context()
	a.pool, err = db.NewPool(ctx, db.PoolConfig{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "queuesync",
	})
	if err != nil {
		if db.IsConnectivity(err) {
			return nil, fmt.Errorf("database unreachable: %w", err)
		}
		return nil, err
	}
	a.logger.Debug().Str("schema", cfg.DBSchema).Msg("connected to database")

	if withPublisher && cfg.RedisURL != "" {
		a.pub, err = pubsub.NewRedisPublisher(ctx, cfg.RedisURL, cfg.QueueEventsChannel, cfg.QueueSnapshotTTL)
		if err != nil {
			a.logger.Warn().Err(err).Msg("redis unavailable, queue events will not be published")
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.pub != nil {
		a.pub.Close()
	}
	a.pool.Close()
}

func (a *app) reconciler() (*queue.Reconciler, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	opts := []queue.Option{queue.WithLocation(loc)}
	if a.pub != nil {
		opts = append(opts, queue.WithPublisher(a.pub))
	}
	return queue.NewReconciler(queue.NewRepoPG(a.pool), a.logger, opts...), nil
}

// run executes fn on one connection scoped to the configured schema.
func (a *app) run(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithConn(ctx, a.pool, a.cfg.DBSchema, fn)
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("clinic", "", "Limit to one clinic id")
	cmd.Flags().String("doctor", "", "Limit to one doctor id")
	cmd.Flags().Bool("json", false, "Print JSON instead of the text report")
}

func parseScope(cmd *cobra.Command) (queue.Scope, error) {
	var s queue.Scope
	for flag, dst := range map[string]**uuid.UUID{"clinic": &s.ClinicID, "doctor": &s.DoctorID} {
		raw, _ := cmd.Flags().GetString(flag)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return s, fmt.Errorf("--%s: invalid id %q: %w", flag, raw, err)
		}
		*dst = &id
	}
	return s, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile today's queue with the appointment ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			every, _ := cmd.Flags().GetDuration("watch")
			if every < 0 {
				return fmt.Errorf("--watch must not be negative")
			}

			a, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()
			rec, err := a.reconciler()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			pass := func(ctx context.Context) error {
				return a.run(ctx, func(ctx context.Context) error {
					res, err := rec.Sync(ctx, rec.Today(), scope)
					if res != nil {
						if asJSON {
							if jerr := writeJSON(out, res); jerr != nil {
								return jerr
							}
						} else {
							queue.NewRenderer(out).RenderSync(res)
						}
					}
					return err
				})
			}

			if every == 0 {
				return pass(cmd.Context())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, every, a.logger, pass)
		},
	}
	addScopeFlags(cmd)
	cmd.Flags().Duration("watch", 0, "Repeat the pass at this interval until interrupted")
	return cmd
}

// watch runs pass immediately and then on every tick until ctx is done.
// A failed pass is logged and the loop keeps going.
func watch(ctx context.Context, every time.Duration, logger zerolog.Logger, pass func(ctx context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := pass(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("reconciliation pass failed")
		}
		if ctx.Err() != nil {
			logger.Info().Msg("watch stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			logger.Info().Msg("watch stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Move today's stuck in-progress entries back to waiting",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			a, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()
			rec, err := a.reconciler()
			if err != nil {
				return err
			}

			return a.run(cmd.Context(), func(ctx context.Context) error {
				res, err := rec.Reset(ctx, rec.Today(), scope)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				queue.NewRenderer(cmd.OutOrStdout()).RenderReset(res)
				return nil
			})
		},
	}
	addScopeFlags(cmd)
	return cmd
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print today's queue without changing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			var only queue.QueueStatus
			if raw, _ := cmd.Flags().GetString("status"); raw != "" {
				if only, err = queue.ParseQueueStatus(raw); err != nil {
					return err
				}
			}

			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()
			rec, err := a.reconciler()
			if err != nil {
				return err
			}

			return a.run(cmd.Context(), func(ctx context.Context) error {
				snap, err := rec.Snapshot(ctx, rec.Today(), scope)
				if err != nil {
					return err
				}
				if only != "" {
					snap = snap.Only(only)
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), snap)
				}
				queue.NewRenderer(cmd.OutOrStdout()).RenderSnapshot(snap)
				return nil
			})
		},
	}
	addScopeFlags(cmd)
	cmd.Flags().String("status", "", "Only show one bucket: waiting, in_progress or completed")
	return cmd
}

type transition func(r *queue.Reconciler, ctx context.Context, appointmentID uuid.UUID) (*queue.QueueEntry, error)

func transitionCmd(use, short string, fn transition) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <appointment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid appointment id %q: %w", args[0], err)
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			a, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()
			rec, err := a.reconciler()
			if err != nil {
				return err
			}

			return a.run(cmd.Context(), func(ctx context.Context) error {
				e, err := fn(rec, ctx, id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), e)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Appointment %s is now %s\n", e.AppointmentID, e.Status)
				return nil
			})
		},
	}
	cmd.Flags().Bool("json", false, "Print the updated entry as JSON")
	return cmd
}

func migrator(pool *pgxpool.Pool, dir string) *db.Migrator {
	if dir == "" {
		return db.NewMigrator(pool, migrations.Files)
	}
	return db.NewDirMigrator(pool, dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the queue_status storage contract",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			to, _ := cmd.Flags().GetInt("to")

			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", a.cfg.DBSchema)
			count, err := migrator(a.pool, dir).UpTo(cmd.Context(), a.cfg.DBSchema, to)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies everything)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			statuses, err := migrator(a.pool, dir).Status(cmd.Context(), a.cfg.DBSchema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(cmd.OutOrStdout(), a.cfg.DBSchema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatuses(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-45s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- --------------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-45s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity and pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			report := db.CheckHealth(cmd.Context(), a.pool, db.GetPoolStats(a.pool))
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Status != "healthy" {
				return fmt.Errorf("database unhealthy: %s", report.Error)
			}
			return nil
		},
	}
}
