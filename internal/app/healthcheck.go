package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ominit/nix-relay/internal/ctxlog"
	"github.com/ominit/nix-relay/internal/worker"
)

// workerStatus is the part of a worker the health check reports on.
type workerStatus interface {
	State() worker.State
	Builds() int64
}

// healthHandler reports the worker's state: 200 while registered with the
// relay, 503 otherwise.
func (a *App) healthHandler(w workerStatus) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		state := w.State()
		a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path, "state", state)
		if state.Registered() {
			rw.WriteHeader(http.StatusOK)
		} else {
			rw.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(rw, "%s builds=%d\n", state, w.Builds())
	}
}

// startHealthcheckServer runs the health check HTTP server in the
// background. A non-positive port disables it.
func (a *App) startHealthcheckServer(ctx context.Context, port int, w workerStatus) {
	logger := ctxlog.FromContext(ctx)
	if port <= 0 {
		logger.Debug("Health check server disabled.")
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler(w))

	addr := fmt.Sprintf(":%d", port)
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		// ListenAndServe returns ErrServerClosed on graceful shutdown.
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed unexpectedly", "error", err)
		}
	}()
}

func (a *App) closeHealthcheckServer(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	if a.httpServer == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	logger.Info("🩺 Shutting down health check server...")
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Health check server shutdown failed", "error", err)
	}
}
