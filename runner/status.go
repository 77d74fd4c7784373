package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/votemap/secroll/checkpoint"
	"github.com/votemap/secroll/roll"
)

// StatusHandler serves the read-only operational surface: liveness and
// run progress from the checkpoint store. No mutation, no auth — bind
// it to localhost.
func StatusHandler(store *checkpoint.Store, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/progress", func(w http.ResponseWriter, req *http.Request) {
		counts, err := store.Counts(req.Context())
		if err != nil {
			logger.Error("runner: progress query failed", "error", err)
			http.Error(w, "state unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"done":        counts[roll.StatusDone],
			"failed":      counts[roll.StatusFailed],
			"in_progress": counts[roll.StatusInProgress],
			"pending":     counts[roll.StatusPending],
		})
	})

	return r
}

// ServeStatus runs the status endpoint until ctx is cancelled.
func ServeStatus(ctx context.Context, addr string, store *checkpoint.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           StatusHandler(store, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info("runner: status endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
