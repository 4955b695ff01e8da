package app

import (
	"context"
	"net/http"
	"time"

	"marketchat/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// registerHTTP mounts the probe, metrics and WebSocket routes.
// The WebSocket route enforces its own origin policy, so CORS only wraps the plain HTTP routes.
func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	rdb *redis.Client,
	chat *realtime.Gateway,
) {
	plain := http.NewServeMux()

	plain.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	plain.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		if rdb != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := rdb.Ping(ctx).Err()
			cancel()
			if err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				log.Info("readyz.redis.not_ready", "err", err)
				return
			}
		}

		if chat == nil {
			http.Error(w, "chat not ready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	plain.Handle("/metrics", promhttp.Handler())

	mux.Handle("/", WithCORS(plain, cfg, log))

	if chat == nil {
		// Init failed: the HTTP server keeps serving, sockets are refused.
		mux.HandleFunc("/ws", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "chat unavailable", http.StatusServiceUnavailable)
		})
		return
	}
	mux.Handle("/ws", chat)
}
