package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkpoint-service/internal/domain/checkpoint"
	"checkpoint-service/internal/testutil"
)

func (e *testEnv) detection(t *testing.T, plate string, gateID *int64, dir checkpoint.Direction, at time.Time) *checkpoint.Detection {
	t.Helper()
	d := &checkpoint.Detection{
		Plate:           plate,
		NormalizedPlate: plate,
		CapturedAt:      at,
		StationID:       &e.f.Station.ID,
		GateID:          gateID,
		Direction:       dir,
		Source:          SourcePoll,
		Status:          checkpoint.StatusPending,
	}
	require.NoError(t, e.detections.Create(context.Background(), d))
	return d
}

func (e *testEnv) reload(t *testing.T, id int64) *checkpoint.Detection {
	t.Helper()
	d, err := e.detections.Get(context.Background(), id)
	require.NoError(t, err)
	return d
}

func TestProcessPendingRoutesDetections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	testutil.AddVehicle(t, env.db, "KNOWN01", env.f.Car.ID)
	testutil.AddVehicle(t, env.db, "KNOWN02", env.f.Car.ID)
	env.entry(t, "INSIDE1", env.f.EntryGate.ID, &env.f.Car.ID)
	env.entry(t, "INSIDE2", env.f.EntryGate.ID, &env.f.Car.ID)
	env.entry(t, "INSIDE3", env.f.EntryGate.ID, &env.f.Car.ID)

	base := env.at(9 * time.Hour)
	exitGate := &env.f.ExitGate.ID
	entryGate := &env.f.EntryGate.ID
	missingGate := ptr(int64(999))

	emptyPlate := env.detection(t, "", exitGate, checkpoint.DirectionEntry, base)
	noGate := env.detection(t, "KNOWN01", nil, checkpoint.DirectionEntry, base.Add(time.Second))
	badGate := env.detection(t, "KNOWN01", missingGate, checkpoint.DirectionEntry, base.Add(2*time.Second))
	unknown := env.detection(t, "STRANGER", entryGate, checkpoint.DirectionEntry, base.Add(3*time.Second))
	knownEntry := env.detection(t, "KNOWN01", entryGate, checkpoint.DirectionEntry, base.Add(4*time.Second))
	exitInside := env.detection(t, "INSIDE1", exitGate, checkpoint.DirectionExit, base.Add(5*time.Second))
	exitNotInside := env.detection(t, "KNOWN02", exitGate, checkpoint.DirectionExit, base.Add(6*time.Second))
	entryInside := env.detection(t, "INSIDE2", entryGate, checkpoint.DirectionEntry, base.Add(7*time.Second))
	exitWrongGate := env.detection(t, "INSIDE3", entryGate, checkpoint.DirectionExit, base.Add(8*time.Second))
	unknownDir := env.detection(t, "KNOWN02", entryGate, checkpoint.DirectionUnknown, base.Add(9*time.Second))

	done := env.detection(t, "KNOWN02", entryGate, checkpoint.DirectionEntry, base.Add(10*time.Second))
	require.NoError(t, env.detections.UpdateStatus(ctx, done.ID, repositoryProcessed()))

	summary, err := env.processor.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.ProcessSummary{
		Total:              10,
		PendingVehicleType: 6,
		PendingExit:        1,
		Errors:             3,
	}, summary)

	expect := map[int64]checkpoint.ProcessingStatus{
		emptyPlate.ID:    checkpoint.StatusProcessed,
		noGate.ID:        checkpoint.StatusFailed,
		badGate.ID:       checkpoint.StatusFailed,
		unknown.ID:       checkpoint.StatusPendingVehicleType,
		knownEntry.ID:    checkpoint.StatusPendingVehicleType,
		exitInside.ID:    checkpoint.StatusPendingExit,
		exitNotInside.ID: checkpoint.StatusPendingVehicleType,
		entryInside.ID:   checkpoint.StatusPendingVehicleType,
		exitWrongGate.ID: checkpoint.StatusPendingVehicleType,
		unknownDir.ID:    checkpoint.StatusPendingVehicleType,
	}
	for id, want := range expect {
		got := env.reload(t, id)
		assert.Equal(t, want, got.Status, "detection %d (%s)", id, got.NormalizedPlate)
		assert.NotEmpty(t, got.Notes, "detection %d", id)
	}
	assert.True(t, env.reload(t, emptyPlate.ID).Processed)
	assert.Equal(t, "empty plate", env.reload(t, emptyPlate.ID).Notes)
	assert.Equal(t, "vehicle not found", env.reload(t, unknown.ID).Notes)
	assert.Nil(t, env.reload(t, entryInside.ID).PassageID, "no second passage may be created")

	second, err := env.processor.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Total)
}

func TestProcessPendingHonoursBatchLimit(t *testing.T) {
	env := newTestEnv(t)
	env.processor.batchLimit = 2

	base := env.at(9 * time.Hour)
	for i := 0; i < 3; i++ {
		env.detection(t, "LIMIT01", &env.f.EntryGate.ID, checkpoint.DirectionEntry, base.Add(time.Duration(i)*time.Minute))
	}

	first, err := env.processor.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Total)

	second, err := env.processor.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Total)
}

func TestConfirmDetectionEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	operator := int64(3)

	d := env.detection(t, "NEWCAR1", &env.f.EntryGate.ID, checkpoint.DirectionEntry, env.at(8*time.Hour))
	_, err := env.processor.ProcessPending(ctx)
	require.NoError(t, err)
	require.Equal(t, checkpoint.StatusPendingVehicleType, env.reload(t, d.ID).Status)

	// no body type yet: stays in the queue
	res, err := env.processor.ConfirmDetection(ctx, checkpoint.ConfirmRequest{DetectionID: d.ID, OperatorID: &operator})
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, checkpoint.ReasonNoPricing, res.Reason)
	assert.Equal(t, checkpoint.StatusPendingVehicleType, res.Detection.Status)
	assert.False(t, res.Detection.Processed)
	assert.Contains(t, env.reload(t, d.ID).Notes, "pricing")

	res, err = env.processor.ConfirmDetection(ctx, checkpoint.ConfirmRequest{
		DetectionID: d.ID,
		OperatorID:  &operator,
		Extra:       checkpoint.PassageExtra{BodyTypeID: &env.f.Car.ID},
	})
	require.NoError(t, err)
	require.True(t, res.Succeeded(), res.Message)
	require.NotNil(t, res.Entry)
	assert.Equal(t, checkpoint.GateRequirePayment, res.Entry.GateAction)
	require.NotNil(t, res.Entry.Passage.EntryOperatorID)
	assert.Equal(t, operator, *res.Entry.Passage.EntryOperatorID)

	stored := env.reload(t, d.ID)
	assert.Equal(t, checkpoint.StatusProcessed, stored.Status)
	assert.True(t, stored.Processed)
	require.NotNil(t, stored.PassageID)
	assert.Equal(t, res.Entry.Passage.ID, *stored.PassageID)

	_, err = env.processor.ConfirmDetection(ctx, checkpoint.ConfirmRequest{DetectionID: d.ID})
	assert.ErrorIs(t, err, checkpoint.ErrDetectionNotPending)

	_, err = env.processor.ConfirmDetection(ctx, checkpoint.ConfirmRequest{DetectionID: 999})
	assert.ErrorIs(t, err, checkpoint.ErrDetectionNotFound)
}

func TestConfirmDetectionRaceGoesToExitQueue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	testutil.AddVehicle(t, env.db, "RACE01", env.f.Car.ID)
	d := env.detection(t, "RACE01", &env.f.EntryGate.ID, checkpoint.DirectionEntry, env.at(8*time.Hour))
	_, err := env.processor.ProcessPending(ctx)
	require.NoError(t, err)

	// the operator let the car in by hand before confirming the camera detection
	env.entry(t, "RACE01", env.f.BothGate.ID, nil)

	res, err := env.processor.ConfirmDetection(ctx, checkpoint.ConfirmRequest{DetectionID: d.ID})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.ReasonActivePassage, res.Reason)
	assert.Equal(t, checkpoint.StatusPendingExit, env.reload(t, d.ID).Status)

	lookup, err := env.lifecycle.QuickPlateLookup(ctx, "RACE01")
	require.NoError(t, err)
	assert.True(t, lookup.Inside)
}

func TestConfirmDetectionExit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := env.entry(t, "LEAVE01", env.f.EntryGate.ID, &env.f.Car.ID)
	env.clock.set(env.at(9 * time.Hour))
	d := env.detection(t, "LEAVE01", &env.f.ExitGate.ID, checkpoint.DirectionExit, env.at(9*time.Hour))
	_, err := env.processor.ProcessPending(ctx)
	require.NoError(t, err)
	require.Equal(t, checkpoint.StatusPendingExit, env.reload(t, d.ID).Status)

	t.Run("unpaid entry is terminal", func(t *testing.T) {
		res, err := env.processor.ConfirmDetection(ctx, checkpoint.ConfirmRequest{DetectionID: d.ID})
		require.NoError(t, err)
		assert.Equal(t, checkpoint.ReasonUnpaidEntry, res.Reason)
		stored := env.reload(t, d.ID)
		assert.Equal(t, checkpoint.StatusProcessed, stored.Status)
		assert.True(t, stored.Processed)
		assert.Contains(t, stored.Notes, "unpaid entry fee")
	})

	env.pay(t, entry.Passage.ID)
	env.clock.set(env.at(10 * time.Hour))
	d2 := env.detection(t, "LEAVE01", &env.f.ExitGate.ID, checkpoint.DirectionExit, env.at(10*time.Hour))
	_, err = env.processor.ProcessPending(ctx)
	require.NoError(t, err)

	res, err := env.processor.ConfirmDetection(ctx, checkpoint.ConfirmRequest{DetectionID: d2.ID})
	require.NoError(t, err)
	require.True(t, res.Succeeded(), res.Message)
	require.NotNil(t, res.Exit)
	assert.Equal(t, entry.Passage.ID, res.Exit.Passage.ID)
	assert.False(t, res.Exit.Passage.IsOpen())
	assert.Equal(t, checkpoint.StatusProcessed, env.reload(t, d2.ID).Status)
}

func TestListDetectionsClampsPaging(t *testing.T) {
	env := newTestEnv(t)
	base := env.at(8 * time.Hour)
	for i := 0; i < 3; i++ {
		env.detection(t, "LIST01", &env.f.EntryGate.ID, checkpoint.DirectionEntry, base.Add(time.Duration(i)*time.Minute))
	}
	env.detection(t, "OTHER01", &env.f.EntryGate.ID, checkpoint.DirectionEntry, base)

	plate := "list 01"
	list, err := env.processor.ListDetections(context.Background(), checkpoint.DetectionFilter{Plate: &plate, Limit: 1000})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].CapturedAt.After(list[2].CapturedAt), "newest first")
}

func TestProcessPendingIsolatesFailedDetection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	testutil.AddVehicle(t, env.db, "KNOWN01", env.f.Car.ID)
	base := env.at(9 * time.Hour)
	broken := env.detection(t, "KNOWN01", &env.f.ExitGate.ID, checkpoint.DirectionExit, base)
	next := env.detection(t, "STRANGER", &env.f.EntryGate.ID, checkpoint.DirectionEntry, base.Add(time.Second))

	// Exit routing of a known vehicle looks up its open passage.
	require.NoError(t, env.db.Exec("ALTER TABLE passages RENAME TO passages_archived").Error)

	summary, err := env.processor.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.ProcessSummary{Total: 2, PendingVehicleType: 1, Errors: 1}, summary)

	failed := env.reload(t, broken.ID)
	assert.Equal(t, checkpoint.StatusFailed, failed.Status)
	assert.False(t, failed.Processed)
	assert.Contains(t, failed.Notes, "failed to find open passage")

	routed := env.reload(t, next.ID)
	assert.Equal(t, checkpoint.StatusPendingVehicleType, routed.Status)
	assert.Equal(t, "vehicle not found", routed.Notes)
}
