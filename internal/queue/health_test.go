package queue

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubDepths struct {
	counts map[string]Counts
}

func (s *stubDepths) QueueNames() []string {
	names := make([]string, 0, len(s.counts))
	for name := range s.counts {
		names = append(names, name)
	}
	return names
}

func (s *stubDepths) Counts(_ context.Context, queue string) (Counts, error) {
	return s.counts[queue], nil
}

func monitorFixture(t *testing.T, cfg MonitorConfig) (*Monitor, *stubDepths, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	depths := &stubDepths{counts: map[string]Counts{"work": {}}}
	return NewMonitor(depths, NewMemoryStore(), nil, logger, cfg), depths, &buf
}

func TestMonitorAlertsOnFailureSpike(t *testing.T) {
	m, depths, buf := monitorFixture(t, MonitorConfig{
		WaitingThreshold: 1000,
		FailedThreshold:  1000,
		FailedDelta:      5,
	})
	ctx := context.Background()

	// Baseline sample; no previous count means no spike yet.
	depths.counts["work"] = Counts{Failed: 10}
	m.sample(ctx)
	assert.NotContains(t, buf.String(), "rising sharply")

	// Small growth stays under the delta.
	depths.counts["work"] = Counts{Failed: 12}
	m.sample(ctx)
	assert.NotContains(t, buf.String(), "rising sharply")

	// A spike between samples raises the alert.
	depths.counts["work"] = Counts{Failed: 30}
	m.sample(ctx)
	assert.Contains(t, buf.String(), "rising sharply")
	assert.Contains(t, buf.String(), "previous=12")
}

func TestMonitorAlertsOnAbsoluteThresholds(t *testing.T) {
	m, depths, buf := monitorFixture(t, MonitorConfig{
		WaitingThreshold: 5,
		FailedThreshold:  5,
		FailedDelta:      1000,
	})

	depths.counts["work"] = Counts{Waiting: 6, Failed: 6}
	m.sample(context.Background())
	assert.Contains(t, buf.String(), "backlog above threshold")
	assert.Contains(t, buf.String(), "failure count above threshold")
}
