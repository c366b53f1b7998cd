package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bhosaleparag/dev-battle-sub000/internal/session"
)

// ReadyChecker reports whether downstream dependencies (the durable store)
// are reachable. A nil checker means there is nothing external to wait on.
type ReadyChecker func(ctx context.Context) error

func SetupRoutes(ctx context.Context, coord *session.Coordinator, ready ReadyChecker) http.Handler {
	r := chi.NewRouter()

	r.Get("/ws", coord.Handler(ctx))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil {
			if err := ready(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}
