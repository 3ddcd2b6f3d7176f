// Package metrics exposes Prometheus counters for the bot and a small HTTP
// listener serving them together with a health check.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Request outcomes used as the "result" label.
const (
	ResultDelivered   = "delivered"
	ResultNotURL      = "not_url"
	ResultGateDenied  = "gate_denied"
	ResultFetchFailed = "fetch_failed"
	ResultMissing     = "artifact_missing"
	ResultSendFailed  = "send_failed"
	ResultThrottled   = "throttled"
)

type Metrics struct {
	Registry *prometheus.Registry

	Requests      *prometheus.CounterVec
	GateChecks    *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	Replies       *prometheus.CounterVec
	Users         prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediabot_requests_total",
			Help: "Link requests by final result.",
		}, []string{"result"}),
		GateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediabot_gate_checks_total",
			Help: "Subscription checks by outcome.",
		}, []string{"subscribed"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediabot_fetch_duration_seconds",
			Help:    "Time spent in the extraction engine.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediabot_replies_total",
			Help: "Delivered attachments by kind.",
		}, []string{"kind"}),
		Users: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediabot_new_users_total",
			Help: "Users registered since start.",
		}),
	}
	reg.MustRegister(m.Requests, m.GateChecks, m.FetchDuration, m.Replies, m.Users,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return r
}

// Serve runs the ops listener until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listener started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
