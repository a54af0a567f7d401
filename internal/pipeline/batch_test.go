package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/logging"
)

type fakeCanceller struct {
	calls map[string]int // queueName -> removed count returned
}

func (f *fakeCanceller) CancelBatch(_ context.Context, queueName, _ string) (int, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[queueName]++
	return 2, nil
}

func TestBatchManagerStagingDir(t *testing.T) {
	b := NewBatchManager(&fakeCanceller{}, "/tmp/staging", nil)

	assert.Equal(t, "/tmp/staging", b.StagingDir(""))
	assert.Equal(t, filepath.Join("/tmp/staging", "batch-7"), b.StagingDir("batch-7"))
}

func TestBatchManagerCancel(t *testing.T) {
	staging := t.TempDir()
	queues := &fakeCanceller{}
	b := NewBatchManager(queues, staging, logging.Setup(logging.Config{Format: "text", Level: "error"}))

	batchDir := b.StagingDir("batch-1")
	require.NoError(t, os.MkdirAll(batchDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(batchDir, "partial.pdf"), []byte("half"), 0o644))

	assert.False(t, b.IsCancelled("batch-1"))
	require.NoError(t, b.Cancel(context.Background(), "batch-1"))
	assert.True(t, b.IsCancelled("batch-1"))

	// Waiting jobs are pulled from both import queues.
	assert.Equal(t, 1, queues.calls[constants.QueueFileImport])
	assert.Equal(t, 1, queues.calls[constants.QueueInvoiceImport])

	// Partial downloads are gone.
	_, err := os.Stat(batchDir)
	assert.True(t, os.IsNotExist(err))
}

func TestBatchManagerEmptyIDNeverCancelled(t *testing.T) {
	b := NewBatchManager(&fakeCanceller{}, t.TempDir(), nil)

	// Single-file imports carry no batch id and must never be cancellable.
	require.NoError(t, b.Cancel(context.Background(), ""))
	assert.False(t, b.IsCancelled(""))
}

func TestBatchManagerForget(t *testing.T) {
	b := NewBatchManager(&fakeCanceller{}, t.TempDir(), logging.Setup(logging.Config{Format: "text", Level: "error"}))

	require.NoError(t, b.Cancel(context.Background(), "batch-2"))
	require.True(t, b.IsCancelled("batch-2"))

	b.Forget("batch-2")
	assert.False(t, b.IsCancelled("batch-2"))
}
