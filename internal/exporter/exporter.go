package exporter

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter serves /metrics and /healthz while the converter runs in interval mode.
type Exporter struct {
	mux    *http.ServeMux
	server *http.Server
	health func() error
}

// New builds the server. health may be nil; when it returns an error
// /healthz answers 503 with the error text.
func New(addr string, g prometheus.Gatherer, health func() error, readTO, writeTO, idleTO time.Duration) *Exporter {
	mux := http.NewServeMux()
	e := &Exporter{mux: mux, health: health}

	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", e.healthz)
	e.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  readTO,
		WriteTimeout: writeTO,
		IdleTimeout:  idleTO,
	}
	return e
}

func (e *Exporter) Handler() http.Handler { return e.mux }

func (e *Exporter) Serve() error                       { return e.server.ListenAndServe() }
func (e *Exporter) Shutdown(ctx context.Context) error { return e.server.Shutdown(ctx) }

func (e *Exporter) healthz(w http.ResponseWriter, _ *http.Request) {
	if e.health != nil {
		if err := e.health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
