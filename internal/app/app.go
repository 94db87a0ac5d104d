package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"transmute/internal/config"
	"transmute/internal/convert"
	"transmute/internal/janitor"
	"transmute/internal/models"
	"transmute/internal/progress"
	"transmute/internal/queue"
	"transmute/internal/removal"
	"transmute/internal/storage"
	"transmute/internal/store"
	"transmute/internal/store/history"
)

const redisPingTimeout = 3 * time.Second

type App struct {
	Config *config.Config
	Logger *log.Entry

	Storage   *storage.LocalProvider
	Converter *convert.Converter
	Queue     *queue.Queue

	Dispatcher *progress.Dispatcher
	Broker     *progress.Broker
	Snapshots  progress.SnapshotStore

	Redis        *redis.Client      // nil when Redis is not configured or unreachable
	HistoryStore store.HistoryStore // nil when history is disabled or unavailable
	Removal      store.RemovalScheduler
	Janitor      *janitor.Janitor

	memSnapshots *progress.MemoryStore
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()
	app := &App{Config: cfg, Logger: log.WithField("app", "transmute")}

	if err := app.initStorage(); err != nil {
		return nil, err
	}
	app.initRedis(ctx)
	app.initHistoryStore(ctx)
	app.initProgress()
	if err := app.initQueue(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initRemoval()
	if err := app.initJanitor(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}

	app.Logger.Info("Application initialization complete.")
	return app, nil
}

// UsesAsynq reports whether deferred removals go through asynq.
func (a *App) UsesAsynq() bool {
	_, ok := a.Removal.(*store.AsynqRemovalClient)
	return ok
}

// RedisOpt is the asynq connection option derived from the Redis config.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

// Close stops the queue monitor, waits for running conversions (bounded by
// ctx), flushes progress and releases connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Queue != nil {
		a.Queue.Shutdown()
		if err := a.Queue.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for running jobs: %w", err))
		}
	}
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush progress: %w", err))
		}
	}
	a.cleanupPartialInit()
	return errors.Join(errs...)
}

// --- Private Helper Methods ---

func (a *App) initStorage() error {
	st, err := storage.NewLocalProvider(a.Config.Storage.WorkDir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	a.Storage = st
	return nil
}

// initRedis connects when an address is configured. An unreachable server
// is not fatal: snapshots fall back to memory and removals to timers.
func (a *App) initRedis(ctx context.Context) {
	if a.Config.Redis.Address == "" {
		return
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.Logger.WithError(err).Warn("Redis not available, using in-memory progress and removal")
		client.Close()
		return
	}
	a.Logger.WithField("addr", a.Config.Redis.Address).Info("Redis connected")
	a.Redis = client
}

func (a *App) initHistoryStore(ctx context.Context) {
	if a.Config.History.DSN == "" {
		return
	}
	hs, err := history.Open(ctx, a.Config.History.DSN)
	if err != nil {
		a.Logger.WithError(err).Warn("job history disabled")
		return
	}
	a.HistoryStore = hs
}

func (a *App) initProgress() {
	a.Broker = progress.NewBroker()
	sinks := []progress.Sink{a.Broker}

	if a.Redis != nil {
		rs := progress.NewRedisSink(a.Redis, a.Config.Redis.ChannelPrefix, a.Config.Redis.SnapshotTTL)
		a.Snapshots = rs
		sinks = append(sinks, rs)
	} else {
		a.memSnapshots = progress.NewMemoryStore(a.Config.Redis.SnapshotTTL)
		a.Snapshots = a.memSnapshots
		sinks = append(sinks, a.memSnapshots)
	}

	if a.HistoryStore != nil {
		hs := a.HistoryStore
		sinks = append(sinks, progress.TerminalOnly(progress.SinkFunc(
			func(ctx context.Context, u models.ProgressUpdate) error {
				return hs.Record(ctx, history.EntryFromUpdate(u))
			})))
	}

	a.Dispatcher = progress.NewDispatcher(a.Logger.WithField("component", "progress"), sinks...)
}

func (a *App) initQueue() error {
	a.Converter = convert.New(convert.Config{
		FFmpeg:    a.Config.Tools.FFmpeg,
		Magick:    a.Config.Tools.Magick,
		Soffice:   a.Config.Tools.Soffice,
		Timeout:   a.Config.Tools.Timeout,
		KillGrace: a.Config.Tools.KillGrace,
	}, a.Logger.WithField("component", "convert"))

	q, err := queue.New(queue.Config{
		BacklogCapacity:   a.Config.Queue.BacklogCapacity,
		ConcurrencyLimit:  a.Config.Queue.ConcurrencyLimit,
		HeartbeatTimeout:  a.Config.Queue.HeartbeatTimeout,
		HeartbeatInterval: a.Config.Queue.HeartbeatInterval,
	}, a.Converter,
		queue.WithStorage(a.Storage),
		queue.WithNotifier(a.Dispatcher),
		queue.WithLogger(a.Logger.WithField("component", "queue")),
	)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	a.Queue = q
	return nil
}

func (a *App) initRemoval() {
	if a.Redis != nil {
		a.Removal = store.NewAsynqRemovalClient(a.RedisOpt())
		return
	}
	a.Removal = removal.NewTimerScheduler(a.Queue)
}

func (a *App) initJanitor() error {
	j, err := janitor.New(a.Config.Queue.CleanupSchedule, a.Logger.WithField("component", "janitor"))
	if err != nil {
		return fmt.Errorf("init janitor: %w", err)
	}

	maxAge := a.Config.Queue.TerminalJobMaxAge
	j.Add("queue", func(context.Context) error {
		a.Queue.CleanupOlderThan(maxAge)
		return nil
	})
	if a.memSnapshots != nil {
		j.Add("snapshots", func(context.Context) error {
			a.memSnapshots.Prune()
			return nil
		})
	}
	if a.HistoryStore != nil && a.Config.History.Retention > 0 {
		retention := a.Config.History.Retention
		j.Add("history", func(ctx context.Context) error {
			n, err := a.HistoryStore.Prune(ctx, time.Now().Add(-retention))
			if err == nil && n > 0 {
				a.Logger.WithField("pruned", n).Info("pruned job history")
			}
			return err
		})
	}
	a.Janitor = j
	return nil
}

func (a *App) cleanupPartialInit() {
	if a.Removal != nil {
		if err := a.Removal.Close(); err != nil {
			a.Logger.WithError(err).Warn("Error closing removal scheduler")
		}
	}
	if a.HistoryStore != nil {
		if err := a.HistoryStore.Close(); err != nil {
			a.Logger.WithError(err).Warn("Error closing history store")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.WithError(err).Warn("Error closing Redis client")
		}
	}
}
