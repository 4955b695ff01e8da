package app

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// WithCORS applies the frontend origin policy.
//
// Requests without an Origin header pass through untouched. Requests from an origin
// outside cfg.FrontendOrigins are rejected with 403 before reaching next.
// Preflights are answered with 204 here.
// Patterns may carry one "*" wildcard (e.g. "http://127.0.0.1:*").
func WithCORS(next http.Handler, cfg Config, log *slog.Logger) http.Handler {
	allowed := newOriginMatcher(cfg.FrontendOrigins)

	c := cors.New(cors.Options{
		AllowOriginFunc:    func(_ *http.Request, origin string) bool { return allowed(origin) },
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Request-Id"},
		ExposedHeaders:     []string{"X-Request-Id"},
		AllowCredentials:   cfg.CORSAllowCredentials,
		MaxAge:             cfg.CORSMaxAgeSeconds,
		OptionsPassthrough: true,
	})

	inner := c.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPreflight(r) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	}))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !allowed(origin) {
			log.Info("http.cors.reject", "origin", origin, "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		inner.ServeHTTP(w, r)
	})
}

// WithSecurityHeaders sets baseline response hardening headers.
func WithSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

func newOriginMatcher(patterns []string) func(origin string) bool {
	type wildcard struct{ prefix, suffix string }

	exact := make(map[string]struct{}, len(patterns))
	var wild []wildcard
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(p), "/"))
		if p == "" {
			continue
		}
		if i := strings.IndexByte(p, '*'); i >= 0 {
			wild = append(wild, wildcard{prefix: p[:i], suffix: p[i+1:]})
			continue
		}
		exact[p] = struct{}{}
	}

	return func(origin string) bool {
		origin = strings.ToLower(strings.TrimSpace(origin))
		if _, ok := exact[origin]; ok {
			return true
		}
		for _, w := range wild {
			if len(origin) >= len(w.prefix)+len(w.suffix) &&
				strings.HasPrefix(origin, w.prefix) &&
				strings.HasSuffix(origin, w.suffix) {
				return true
			}
		}
		return false
	}
}
