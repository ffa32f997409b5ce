package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/circulation/libs/config"
	"github.com/md-rashed-zaman/circulation/libs/db"
	"github.com/md-rashed-zaman/circulation/libs/runtime"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/jobs"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/outbox"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/settings"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/storage/memory"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/storage/postgres"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "circulation-service",
		Short:         "Library circulation: appointments, reservations, borrowals and renewals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML policy file (defaults to $CIRCULATION_CONFIG)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newHealthcheckCommand(opts))
	return cmd
}

// deps is everything a command needs from the outside world.
type deps struct {
	settings settings.Settings
	logger   *slog.Logger
	store    circulation.Store
	events   outbox.Source
	pool     *db.Pool
	redis    *redis.Client
	checks   []runtime.ReadyCheck
}

func (d *deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	d.pool.Close()
}

func loadDeps(ctx context.Context, opts *rootOptions) (*deps, error) {
	st, err := settings.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	d := &deps{
		settings: st,
		logger:   runtime.NewLogger(config.String("SERVICE_NAME", "circulation-service")),
	}

	switch st.Store {
	case settings.StoreMemory:
		mem := memory.New()
		d.store, d.events = mem, mem
		d.logger.Warn("using in-memory store; state is lost on restart")
	default:
		pool, err := db.Open(ctx, st.DatabaseURL, db.PoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("db connection failed: %w", err)
		}
		pg := postgres.New(pool)
		d.pool = pool
		d.store, d.events = pg, pg
		d.checks = append(d.checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}

	if st.RedisAddr != "" {
		d.redis = redis.NewClient(&redis.Options{Addr: st.RedisAddr})
		rdb := d.redis
		d.checks = append(d.checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return d, nil
}

func (d *deps) service() *circulation.Service {
	return circulation.NewService(d.store, d.settings.Policy, d.logger,
		circulation.WithRetry(db.WithMaxAttempts(5), db.WithBaseDelay(20*time.Millisecond)),
	)
}

// locker picks the Redis lease when Redis is configured so replicas do not
// sweep concurrently.
func (d *deps) locker() jobs.Locker {
	if d.redis != nil {
		return jobs.NewRedisLock(d.redis)
	}
	return jobs.NewLocalLock()
}

var errMemoryStore = errors.New("command requires STORE=postgres")
