package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/repository"
)

func seedDocument(t *testing.T, stores *repository.MemoryStores, digest string) *repository.DocumentRecord {
	t.Helper()
	rec := &repository.DocumentRecord{
		ContentDigest: digest,
		FileName:      "a.pdf",
		Status:        constants.DocStatusParsed,
	}
	require.NoError(t, stores.Create(context.Background(), rec))
	return rec
}

func TestCheckUnknownDigestIsNotDuplicate(t *testing.T) {
	idx := NewIndex(repository.NewMemoryStores(), 0, nil)
	dup, rec, err := idx.Check(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Nil(t, rec)
}

func TestCheckKnownDigestIsDuplicate(t *testing.T) {
	stores := repository.NewMemoryStores()
	original := seedDocument(t, stores, "deadbeef")

	idx := NewIndex(stores, 0, nil)
	dup, rec, err := idx.Check(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.True(t, dup)
	require.NotNil(t, rec)
	assert.Equal(t, original.ID, rec.ID)
}

func TestCheckSoftDeletedWithinRetentionStaysDuplicate(t *testing.T) {
	stores := repository.NewMemoryStores()
	original := seedDocument(t, stores, "deadbeef")
	stores.SoftDelete(original.ID, time.Now().UTC().AddDate(0, 0, -3))

	idx := NewIndex(stores, 30, nil)
	dup, _, err := idx.Check(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestCheckSoftDeletedBeyondRetentionAllowsReingestion(t *testing.T) {
	stores := repository.NewMemoryStores()
	original := seedDocument(t, stores, "deadbeef")
	stores.SoftDelete(original.ID, time.Now().UTC().AddDate(0, 0, -60))

	idx := NewIndex(stores, 30, nil)
	dup, rec, err := idx.Check(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Nil(t, rec)
}

func TestCheckZeroRetentionNeverExpires(t *testing.T) {
	stores := repository.NewMemoryStores()
	original := seedDocument(t, stores, "deadbeef")
	stores.SoftDelete(original.ID, time.Now().UTC().AddDate(-5, 0, 0))

	idx := NewIndex(stores, 0, nil)
	dup, _, err := idx.Check(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.True(t, dup)
}
