package submission

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/internal/util"
	outboundtest "github.com/smtaidev/outbound/internal/testing"
)

func sampleRecord(id string, status Status, at time.Time) *Record {
	return &Record{
		ID:            id,
		Fingerprint:   "fp-" + id,
		FileName:      "leads.csv",
		CallStartTime: 100,
		CallEndTime:   200,
		CallDuration:  300,
		CallGap:       10,
		BatchNumber:   5,
		TotalCalls:    460,
		EstimatedCost: 351.9,
		Status:        status,
		SubmittedAt:   at,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(outboundtest.CreateTestDB(t))
	ctx := context.Background()

	rec := sampleRecord("a", StatusSubmitted, fixedNow)
	rec.RemoteJobID = "job-a"
	rec.NumberCount = util.Ptr(int64(42))
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "job-a", got.RemoteJobID)
	require.NotNil(t, got.NumberCount)
	assert.Equal(t, int64(42), *got.NumberCount)
	assert.Equal(t, fixedNow.Unix(), got.SubmittedAt.Unix())
	assert.Empty(t, got.ErrorMessage)
}

func TestStore_GetMissing(t *testing.T) {
	store := NewStore(outboundtest.CreateTestDB(t))
	_, err := store.Get(context.Background(), "nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := NewStore(outboundtest.CreateTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, sampleRecord("old", StatusSubmitted, fixedNow.Add(-time.Hour))))
	require.NoError(t, store.Create(ctx, sampleRecord("new", StatusFailed, fixedNow)))

	recs, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "new", recs[0].ID)
	assert.Equal(t, StatusFailed, recs[0].Status)
}

func TestStore_FindRecentIgnoresFailuresAndOldEntries(t *testing.T) {
	store := NewStore(outboundtest.CreateTestDB(t))
	ctx := context.Background()

	failed := sampleRecord("f", StatusFailed, fixedNow)
	failed.Fingerprint = "same"
	old := sampleRecord("o", StatusSubmitted, fixedNow.Add(-time.Hour))
	old.Fingerprint = "same"
	require.NoError(t, store.Create(ctx, failed))
	require.NoError(t, store.Create(ctx, old))

	got, err := store.FindRecent(ctx, "same", fixedNow.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.FindRecent(ctx, "same", fixedNow.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "o", got.ID)
}

func TestStore_RejectsUnknownStatus(t *testing.T) {
	store := NewStore(outboundtest.CreateTestDB(t))
	err := store.Create(context.Background(), sampleRecord("x", Status("queued"), fixedNow))
	assert.Error(t, err)
}

func TestStore_CreateWrapsDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO batch_submissions").
		WillReturnError(errors.New("disk I/O error"))

	err = NewStore(db).Create(context.Background(), sampleRecord("x", StatusSubmitted, fixedNow))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record submission x")
	assert.NoError(t, mock.ExpectationsWereMet())
}
