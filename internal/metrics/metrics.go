// Package metrics exposes the pipeline's prometheus instrumentation and the
// HTTP endpoint that serves it.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docflowhq/docflow/internal/queue"
)

var (
	DocumentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_documents_processed_total",
		Help: "Documents finished per terminal status.",
	}, []string{"status"})

	FilesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_files_scanned_total",
		Help: "Files seen per scan outcome.",
	}, []string{"outcome"})

	JobEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_job_events_total",
		Help: "Queue job lifecycle events.",
	}, []string{"queue", "event"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docflow_queue_depth",
		Help: "Jobs per queue and status.",
	}, []string{"queue", "status"})

	ExtractionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docflow_extraction_confidence",
		Help:    "Confidence score distribution of finished extractions.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_delivery_failures_total",
		Help: "Notification delivery failures per class.",
	}, []string{"class"})
)

// QueueObserver adapts the gauges to the queue monitor's sampling hook.
type QueueObserver struct{}

func (QueueObserver) ObserveQueueDepth(name string, c queue.Counts) {
	QueueDepth.WithLabelValues(name, "waiting").Set(float64(c.Waiting))
	QueueDepth.WithLabelValues(name, "active").Set(float64(c.Active))
	QueueDepth.WithLabelValues(name, "completed").Set(float64(c.Completed))
	QueueDepth.WithLabelValues(name, "failed").Set(float64(c.Failed))
	QueueDepth.WithLabelValues(name, "delayed").Set(float64(c.Delayed))
}

// ObserveEvents drains the queue manager's event channel into counters.
// Blocks until the channel closes.
func ObserveEvents(events <-chan queue.Event, logger *slog.Logger) {
	for ev := range events {
		JobEvents.WithLabelValues(ev.Queue, string(ev.Type)).Inc()
		if ev.Type == queue.EventFailed && logger != nil {
			logger.Warn("job terminally failed",
				"queue", ev.Queue, "job_id", ev.JobID, "attempts", ev.Attempts, "error", ev.Err)
		}
	}
}

// StartServer serves /metrics and /healthz on addr until ctx is cancelled.
func StartServer(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}
