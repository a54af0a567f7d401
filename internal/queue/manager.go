package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docflowhq/docflow/internal/common"
)

// EventType labels a job lifecycle notification.
type EventType string

const (
	EventActive    EventType = "active"
	EventCompleted EventType = "completed"
	EventRetried   EventType = "retried"
	EventStalled   EventType = "stalled"
	EventFailed    EventType = "failed"
)

// Event is the single lifecycle notification path out of the orchestrator.
// Observers (logging, metrics) subscribe via Manager.Events.
type Event struct {
	Type     EventType
	Queue    string
	JobID    uuid.UUID
	JobName  string
	Attempts int
	Err      error
}

// Manager owns the named queues: registration, worker pools, stall monitors
// and enqueueing. One Manager per process.
type Manager struct {
	store  Store
	dead   DeadLetterStore
	logger *slog.Logger

	mu      sync.Mutex
	runners map[string]*queueRunner
	started bool

	events chan Event
	wg     sync.WaitGroup
	stop   context.CancelFunc
	once   sync.Once
}

func NewManager(store Store, dead DeadLetterStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		dead:    dead,
		logger:  logger.With("component", "queue"),
		runners: make(map[string]*queueRunner),
		events:  make(chan Event, 256),
	}
}

// Register binds a handler to a named queue. Must be called before Start.
func (m *Manager) Register(cfg QueueConfig, handler HandlerFunc) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: queue name required", common.ErrInvalidInput)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler required for queue %s", common.ErrInvalidInput, cfg.Name)
	}
	cfg.applyDefaults()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("%w: cannot register %s after start", common.ErrInvalidInput, cfg.Name)
	}
	if _, dup := m.runners[cfg.Name]; dup {
		return fmt.Errorf("%w: queue %s already registered", common.ErrInvalidInput, cfg.Name)
	}
	m.runners[cfg.Name] = &queueRunner{cfg: cfg, handler: handler}
	return nil
}

// Start launches the worker pools and stall monitors. Workers run until
// Shutdown or ctx cancellation.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	ctx, m.stop = context.WithCancel(ctx)
	for _, r := range m.runners {
		for i := 0; i < r.cfg.Concurrency; i++ {
			m.wg.Add(1)
			go m.runWorker(ctx, r, i)
		}
		m.wg.Add(1)
		go m.runStallMonitor(ctx, r)
		m.logger.Info("queue started",
			"queue", r.cfg.Name,
			"concurrency", r.cfg.Concurrency,
			"lock_duration", r.cfg.LockDuration,
			"max_attempts", r.cfg.MaxAttempts)
	}
}

// Shutdown stops acquiring new jobs and waits for in-flight handlers, up to
// ctx's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	m.once.Do(func() {
		m.mu.Lock()
		stop := m.stop
		m.mu.Unlock()
		if stop != nil {
			stop()
		}
		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			m.logger.Info("queue manager drained")
		case <-ctx.Done():
			err = fmt.Errorf("queue drain interrupted: %w", ctx.Err())
		}
		close(m.events)
	})
	return err
}

// Events exposes lifecycle notifications. The channel is buffered; events
// are dropped rather than blocking workers when no one drains it.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}

// EnqueueJSON marshals payload and enqueues it on the named queue.
func (m *Manager) EnqueueJSON(ctx context.Context, queue, name string, payload any, opts ...JobOption) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", queue, err)
	}
	job := &Job{Queue: queue, Name: name, Payload: raw}
	for _, opt := range opts {
		opt(job)
	}
	if err := m.store.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	m.logger.Debug("job enqueued", "queue", queue, "job_id", job.ID, "job_name", name)
	return job, nil
}

// HasPending reports whether key already has a waiting/active/delayed job on
// the queue, for upstream dedup before enqueueing.
func (m *Manager) HasPending(ctx context.Context, queue, key string) (bool, error) {
	return m.store.HasPending(ctx, queue, key)
}

// CancelBatch removes an import batch's not-yet-started jobs from a queue.
func (m *Manager) CancelBatch(ctx context.Context, queue, batchID string) (int, error) {
	return m.store.CancelWaiting(ctx, queue, batchID)
}

// Counts samples a queue's depth per status.
func (m *Manager) Counts(ctx context.Context, queue string) (Counts, error) {
	return m.store.Counts(ctx, queue)
}

// QueueNames lists the registered queues.
func (m *Manager) QueueNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.runners))
	for name := range m.runners {
		names = append(names, name)
	}
	return names
}

// PurgeCompleted removes completed jobs older than maxAge.
func (m *Manager) PurgeCompleted(ctx context.Context, maxAge time.Duration) (int, error) {
	return m.store.PurgeCompleted(ctx, time.Now().UTC().Add(-maxAge))
}
