package http

import (
	"net/http"
	"strings"
)

// RouterConfig wires the handlers served by NewRouter. Nil handlers leave
// their routes unmounted.
type RouterConfig struct {
	Health *HealthHandler
	Jobs   *JobHandler
	// RunGuard wraps the manual trigger route. A nil guard keeps the route
	// unmounted.
	RunGuard   func(http.Handler) http.Handler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Health != nil {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				methodNotAllowed(w, http.MethodGet, http.MethodHead)
				return
			}
			cfg.Health.Check(w, r)
		})
	}

	if cfg.Jobs != nil {
		mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Jobs.List(w, r)
		})

		if cfg.RunGuard != nil {
			run := cfg.RunGuard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				cfg.Jobs.Run(w, r, jobNameFromContext(r.Context()))
			}))
			mux.HandleFunc("/jobs/", func(w http.ResponseWriter, r *http.Request) {
				rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
				name, action, ok := strings.Cut(rest, "/")
				if !ok || name == "" || action != "run" {
					http.NotFound(w, r)
					return
				}
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				run.ServeHTTP(w, r.WithContext(contextWithJobName(r.Context(), name)))
			})
		}
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	return handler
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
