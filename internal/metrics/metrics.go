// Package metrics exposes migration progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nethalo/dbalter/internal/copier"
)

// Store holds the collectors of one run on a private registry.
type Store struct {
	Registry *prometheus.Registry

	Chunks        *prometheus.CounterVec
	Rows          *prometheus.CounterVec
	ChunkRetries  *prometheus.CounterVec
	ChunkDuration *prometheus.HistogramVec
	Progress      *prometheus.GaugeVec
	LockAttempts  *prometheus.CounterVec
	Phase         *prometheus.GaugeVec
}

// NewStore creates and registers the collectors. Every series carries the
// migrated table as a constant label.
func NewStore(database, table string) *Store {
	registry := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{
		"database": database,
		"table":    table,
	}, registry))

	return &Store{
		Registry: registry,
		Chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbalter_chunks_total",
			Help: "Chunks completed, by pass.",
		}, []string{"pass"}),
		Rows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbalter_rows_total",
			Help: "Rows affected by chunk statements, by pass.",
		}, []string{"pass"}),
		ChunkRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbalter_chunk_retries_total",
			Help: "Chunk statements retried after a failure, by pass.",
		}, []string{"pass"}),
		ChunkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbalter_chunk_duration_seconds",
			Help:    "Duration of the successful chunk statement.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"pass"}),
		Progress: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dbalter_progress_ratio",
			Help: "Position of the last chunk within the key range, 0 to 1. Only set for integer and temporal keys.",
		}, []string{"pass"}),
		LockAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dbalter_lock_attempts_total",
			Help: "LOCK TABLES attempts, by result.",
		}, []string{"result"}),
		Phase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dbalter_phase",
			Help: "1 for the phase the migration is in, 0 for phases it has left.",
		}, []string{"phase"}),
	}
}

// ChunkDone records a completed chunk.
func (s *Store) ChunkDone(p copier.ChunkProgress) {
	pass := string(p.Pass)
	s.Chunks.WithLabelValues(pass).Inc()
	s.Rows.WithLabelValues(pass).Add(float64(p.Affected))
	s.ChunkDuration.WithLabelValues(pass).Observe(p.Elapsed.Seconds())
	if p.Ratio != nil {
		s.Progress.WithLabelValues(pass).Set(*p.Ratio)
	}
}

// ChunkRetried records one retry of a chunk statement.
func (s *Store) ChunkRetried(pass copier.Pass) {
	s.ChunkRetries.WithLabelValues(string(pass)).Inc()
}

// LockAttempt records one LOCK TABLES attempt.
func (s *Store) LockAttempt(acquired bool) {
	result := "failed"
	if acquired {
		result = "acquired"
	}
	s.LockAttempts.WithLabelValues(result).Inc()
}

// PhaseEntered marks phase as current.
func (s *Store) PhaseEntered(phase string) {
	s.Phase.Reset()
	s.Phase.WithLabelValues(phase).Set(1)
}

// Handler serves the registry in the Prometheus text format.
func (s *Store) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})
	return mux
}

// Serve listens on addr until ctx is done.
func (s *Store) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics listener shutdown", zap.Error(err))
		}
		return nil
	}
}
