package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/logger"
)

// Serve exposes Handler on its own port until ctx is cancelled. Scrapes stay
// off the rewrite listener so its rate limiter and timeouts never apply.
func Serve(ctx context.Context, port int) error {
	log := logger.WithComponent("metrics")
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics listener started", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Error("metrics listener failed", "error", err)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
