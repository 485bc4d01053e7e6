package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkpoint-service/internal/domain/checkpoint"
	"checkpoint-service/internal/testutil"
)

func newDetection(plate string, stationID int64, at time.Time) *checkpoint.Detection {
	gateID := stationID
	return &checkpoint.Detection{
		Plate:           plate,
		NormalizedPlate: plate,
		CapturedAt:      at,
		StationID:       &stationID,
		GateID:          &gateID,
		Direction:       checkpoint.DirectionEntry,
		Source:          "poll",
		Status:          checkpoint.StatusPending,
	}
}

func TestDetectionRepositoryFindDuplicate(t *testing.T) {
	db := testutil.NewDB(t)
	f := testutil.Seed(t, db)
	repo := NewDetectionRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	stored := newDetection("123ABC02", f.Station.ID, base)
	stored.ExternalID = "42"
	stored.RawPayload = map[string]interface{}{"id": "42", "numberplate": "123ABC02"}
	require.NoError(t, repo.Create(ctx, stored))
	require.NotZero(t, stored.ID)

	key := func(plate string, station int64, at time.Time, externalID string) DedupKey {
		return DedupKey{
			Plate:            plate,
			StationID:        station,
			CapturedAt:       at,
			Tolerance:        2 * time.Second,
			ExternalID:       externalID,
			ExternalIDWindow: 10 * time.Minute,
		}
	}

	tests := []struct {
		name string
		key  DedupKey
		want bool
	}{
		{"same instant", key("123ABC02", f.Station.ID, base, ""), true},
		{"one second later", key("123ABC02", f.Station.ID, base.Add(time.Second), ""), true},
		{"two seconds earlier", key("123ABC02", f.Station.ID, base.Add(-2*time.Second), ""), true},
		{"three seconds later", key("123ABC02", f.Station.ID, base.Add(3*time.Second), ""), false},
		{"other plate", key("999ZZZ01", f.Station.ID, base, ""), false},
		{"other station", key("123ABC02", f.Station.ID+100, base, ""), false},
		{"same external id within window", key("123ABC02", f.Station.ID, base.Add(5*time.Minute), "42"), true},
		{"same external id outside window", key("123ABC02", f.Station.ID, base.Add(time.Hour), "42"), false},
		{"reused external id for other plate", key("777KKK07", f.Station.ID, base, "42"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, found, err := repo.FindDuplicate(ctx, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, found)
			if tt.want {
				assert.Equal(t, stored.ID, id)
			}
		})
	}

	got, err := repo.Get(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "42", got.RawPayload["id"])
	assert.Equal(t, checkpoint.StatusPending, got.Status)
}

func TestDetectionRepositoryWatermarkAndDrain(t *testing.T) {
	db := testutil.NewDB(t)
	f := testutil.Seed(t, db)
	repo := NewDetectionRepository(db)
	tx := NewTxManager(db)
	ctx := context.Background()

	watermark, err := repo.LatestCapturedAt(ctx, f.Station.ID)
	require.NoError(t, err)
	assert.Nil(t, watermark)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	late := newDetection("AAA111", f.Station.ID, base.Add(time.Minute))
	early := newDetection("BBB222", f.Station.ID, base)
	done := newDetection("CCC333", f.Station.ID, base.Add(-time.Minute))
	done.Status = checkpoint.StatusProcessed
	done.Processed = true
	legacy := newDetection("DDD444", f.Station.ID, base.Add(30*time.Second))
	legacy.Status = checkpoint.StatusNone
	for _, d := range []*checkpoint.Detection{late, early, done, legacy} {
		require.NoError(t, repo.Create(ctx, d))
	}

	watermark, err = repo.LatestCapturedAt(ctx, f.Station.ID)
	require.NoError(t, err)
	require.NotNil(t, watermark)
	assert.True(t, watermark.Equal(base.Add(time.Minute)))

	var ids []int64
	err = tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		ids, err = repo.LockDrainable(ctx, 0)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{early.ID, legacy.ID, late.ID}, ids)

	require.NoError(t, repo.UpdateStatus(ctx, early.ID, DetectionUpdate{
		Status: checkpoint.StatusPendingVehicleType,
		Notes:  "vehicle not found",
	}))
	got, err := repo.Get(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusPendingVehicleType, got.Status)
	assert.False(t, got.Processed)
	assert.Equal(t, "vehicle not found", got.Notes)

	status := checkpoint.StatusPendingVehicleType
	listed, err := repo.List(ctx, checkpoint.DetectionFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, early.ID, listed[0].ID)

	pending := checkpoint.StatusPending
	listed, err = repo.List(ctx, checkpoint.DetectionFilter{Status: &pending, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = repo.Get(ctx, 9999)
	assert.ErrorIs(t, err, checkpoint.ErrDetectionNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, 9999, DetectionUpdate{Status: checkpoint.StatusFailed}), checkpoint.ErrDetectionNotFound)
}
