package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/health"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/middleware"
)

// requestTimeout bounds every ops request; readiness checks give up earlier.
const requestTimeout = 8 * time.Second

// NewMux builds the ops routes: /metrics plus liveness and readiness probes.
func NewMux(metricsHandler http.Handler, checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/health/live", checker.LiveHandler())
	mux.HandleFunc("/health/ready", checker.ReadyHandler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><h1>Kafka OpenSearch Bridge</h1><p><a href="/metrics">/metrics</a> <a href="/health/ready">/health/ready</a></p></body></html>`)
	})
	return mux
}

// StartServer serves the ops routes on port in the background and returns
// the server's Shutdown.
func StartServer(port int, checker *health.Checker) (shutdown func(context.Context) error) {
	var handler http.Handler = NewMux(Handler(), checker)
	handler = middleware.Timeout(requestTimeout)(handler)
	handler = middleware.Logging(slog.Default().With("component", "ops-server"))(handler)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("ops server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server error", "error", err)
		}
	}()

	return server.Shutdown
}
