package queue

import (
	"context"
	"log/slog"
	"time"
)

// DepthObserver receives periodic queue depth samples. The metrics package
// implements it with prometheus gauges.
type DepthObserver interface {
	ObserveQueueDepth(queue string, counts Counts)
}

// DepthSource serves per-queue depth counts, normally a *Manager.
type DepthSource interface {
	QueueNames() []string
	Counts(ctx context.Context, queue string) (Counts, error)
}

// MonitorConfig tunes the health monitor loop.
type MonitorConfig struct {
	Interval          time.Duration // sample period
	WaitingThreshold  int           // alert when waiting jobs exceed this
	FailedThreshold   int           // alert when failed jobs exceed this
	FailedDelta       int           // alert when failures grow by more than this between samples
	Instance          string        // heartbeat identity
	HeartbeatInterval time.Duration
}

// Monitor samples queue depths, raises backlog alerts, and writes the
// process heartbeat so external probes can tell a dead worker from an idle
// one.
type Monitor struct {
	source     DepthSource
	store      Store
	observer   DepthObserver
	logger     *slog.Logger
	cfg        MonitorConfig
	lastFailed map[string]int
}

func NewMonitor(source DepthSource, store Store, observer DepthObserver, logger *slog.Logger, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.WaitingThreshold <= 0 {
		cfg.WaitingThreshold = 100
	}
	if cfg.FailedThreshold <= 0 {
		cfg.FailedThreshold = 25
	}
	if cfg.FailedDelta <= 0 {
		cfg.FailedDelta = 10
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		source:     source,
		store:      store,
		observer:   observer,
		logger:     logger.With("component", "queue-monitor"),
		cfg:        cfg,
		lastFailed: make(map[string]int),
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	sample := time.NewTicker(m.cfg.Interval)
	defer sample.Stop()
	beat := time.NewTicker(m.cfg.HeartbeatInterval)
	defer beat.Stop()

	m.beat(ctx)
	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sample.C:
			m.sample(ctx)
		case <-beat.C:
			m.beat(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	for _, name := range m.source.QueueNames() {
		counts, err := m.source.Counts(ctx, name)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Error("queue depth sample failed", "queue", name, "error", err)
			}
			continue
		}
		if m.observer != nil {
			m.observer.ObserveQueueDepth(name, counts)
		}
		if counts.Waiting > m.cfg.WaitingThreshold {
			m.logger.Warn("queue backlog above threshold",
				"queue", name, "waiting", counts.Waiting, "threshold", m.cfg.WaitingThreshold)
		}
		if counts.Failed > m.cfg.FailedThreshold {
			m.logger.Warn("queue failure count above threshold",
				"queue", name, "failed", counts.Failed, "threshold", m.cfg.FailedThreshold)
		}
		if prev, ok := m.lastFailed[name]; ok && counts.Failed-prev > m.cfg.FailedDelta {
			m.logger.Warn("queue failures rising sharply",
				"queue", name, "failed", counts.Failed, "previous", prev, "delta", m.cfg.FailedDelta)
		}
		m.lastFailed[name] = counts.Failed
	}
}

func (m *Monitor) beat(ctx context.Context) {
	if err := m.store.Heartbeat(ctx, m.cfg.Instance, time.Now().UTC()); err != nil && ctx.Err() == nil {
		m.logger.Error("heartbeat write failed", "error", err)
	}
}
