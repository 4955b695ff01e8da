// Package app wires the marketchat server runtime: config, logging, HTTP routes,
// persistence backends and the realtime chat gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"marketchat/cmd/internal/realtime"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// chatStore is what the gateway and reconciler need from a persistence backend.
type chatStore interface {
	realtime.MessageStore
	realtime.ConversationStore
}

// App is the marketchat server runtime: it owns HTTP server wiring and chat dependencies.
type App struct {
	cfg Config
	log Logger

	store     chatStore
	dbPool    *pgxpool.Pool
	dbEnabled bool

	rdb        *redis.Client
	queue      realtime.ReconcileQueue
	reconciler *realtime.Reconciler

	// nil when the gateway failed to initialise; /ws then answers 503.
	chat *realtime.Gateway
}

// New constructs a fully wired App instance from config and logger.
//
// Backend failures (database, Redis) are fatal. A gateway configuration error is not:
// it is logged as chat.init.fail and the server runs without the chat endpoint.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	ctx := context.Background()

	store, dbPool, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	dbEnabled := dbPool != nil

	rdb, queue, err := newReconcileQueue(ctx, cfg, log)
	if err != nil {
		_ = store.Close()
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	reconciler := realtime.NewReconciler(log, queue, store, realtime.ReconcilerOptions{
		MaxAttempts: cfg.ReconcileRetries,
	})

	opts := realtime.DefaultOptions()
	opts.AllowedOrigins = cfg.FrontendOrigins
	// Participant checks need real participant rows; memory mode has none unless seeded.
	opts.RequireParticipant = dbEnabled
	opts = realtime.OptionsFromEnv(opts)

	chat, err := realtime.NewGateway(log, realtime.Deps{
		Messages:      store,
		Conversations: store,
		Reconciler:    reconciler,
	}, opts)
	if err != nil {
		log.Error("chat.init.fail",
			"err", err,
			"step", "gateway",
			"allowed_origins", cfg.FrontendOrigins,
		)
		chat = nil
	}

	return &App{
		cfg:        cfg,
		log:        log,
		store:      store,
		dbPool:     dbPool,
		dbEnabled:  dbEnabled,
		rdb:        rdb,
		queue:      queue,
		reconciler: reconciler,
		chat:       chat,
	}, nil
}

// Chat returns the chat gateway, or nil when it failed to initialise.
func (a *App) Chat() *realtime.Gateway { return a.chat }

// Handler returns the root HTTP handler with the middleware chain applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.rdb, a.chat)

	var h http.Handler = mux
	h = WithSecurityHeaders(h)
	h = WithRecovery(h, a.log)
	h = WithRequestLogging(h, a.log)
	h = middleware.RealIP(h)
	h = middleware.RequestID(h)
	return h
}

// Run starts the HTTP server and the summary reconciler and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"redis_enabled", a.rdb != nil,
		"chat_enabled", a.chat != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.reconciler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = a.queue.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.close()

	if err != nil {
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// close releases backend resources. The app owns the pool and the Redis client;
// the stores built on them do not.
func (a *App) close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and the in-memory dev store.
// The returned pool is nil in memory mode.
func newStore(ctx context.Context, cfg Config, log Logger) (chatStore, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return realtime.NewInMemoryStore(), nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	st, err := realtime.NewPostgresStore(pool, realtime.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	if cfg.DBEnsureSchema {
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("db.schema.ensured", "schema", st.Schema())
	}

	log.Info("db.enabled.postgres_store", "schema", st.Schema())
	return st, pool, nil
}

// newReconcileQueue picks the Redis list queue when CHAT_REDIS_URL is set,
// the bounded in-process queue otherwise.
func newReconcileQueue(ctx context.Context, cfg Config, log Logger) (*redis.Client, realtime.ReconcileQueue, error) {
	if cfg.RedisURL == "" {
		log.Info("reconcile.queue.memory")
		return nil, realtime.NewMemoryReconcileQueue(1024), nil
	}

	rdb, err := NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Info("reconcile.queue.redis", "key", realtime.DefaultReconcileKey)
	return rdb, realtime.NewRedisReconcileQueue(rdb, realtime.DefaultReconcileKey), nil
}
