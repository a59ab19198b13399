package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return s
}

func snapshot(id, plate string, phase model.Phase) session.Snapshot {
	rec := model.NewVehicleRecord()
	rec.Brand = "Toyota"
	rec.Restrictions = []string{"seized"}
	return session.Snapshot{
		SessionID: id,
		Query:     model.Query{Identifier: plate, Known: true},
		State:     model.SessionState{Phase: phase, Percentage: 100},
		Record:    rec,
		Log:       []string{"checking registry"},
		StartedAt: time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestStore_SaveAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, snapshot("s1", "ABC123", model.PhaseCompleted)))
	require.NoError(t, s.Save(ctx, snapshot("s2", "XYZ789", model.PhaseCompleted)))
	require.NoError(t, s.Save(ctx, snapshot("s3", "ABC123", model.PhaseFailed)))

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s3", all[0].SessionID, "newest first")

	abc, err := s.List(ctx, "abc-123", 1)
	require.NoError(t, err)
	require.Len(t, abc, 1)
	assert.Equal(t, "s3", abc[0].SessionID)

	rec, err := abc[0].VehicleRecord()
	require.NoError(t, err)
	assert.Equal(t, "Toyota", rec.Brand)
	assert.Equal(t, []string{"seized"}, rec.Restrictions)

	lines, err := abc[0].Lines()
	require.NoError(t, err)
	assert.Equal(t, []string{"checking registry"}, lines)
}

func TestStore_Latest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Latest(ctx, "ABC123")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, snapshot("s1", "ABC123", model.PhaseCompleted)))
	require.NoError(t, s.Save(ctx, snapshot("s2", "ABC123", model.PhaseClosed)))

	e, err := s.Latest(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "s1", e.SessionID, "only completed sessions count")
}

func TestStore_SaveIsIdempotentPerSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap := snapshot("s1", "ABC123", model.PhaseCompleted)
	require.NoError(t, s.Save(ctx, snap))
	snap.Record.Brand = "Lexus"
	require.NoError(t, s.Save(ctx, snap))

	entries, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Lexus", entries[0].Brand)
}

func TestStore_RejectsActiveSession(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.Save(context.Background(), snapshot("s1", "ABC123", model.PhaseStreaming)))
}

func TestStore_PlateFromRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap := snapshot("s1", "Toyota Corolla", model.PhaseCompleted)
	snap.Query.FreeText = true
	snap.Record.LicensePlate = "QQQ111"
	require.NoError(t, s.Save(ctx, snap))

	entries, err := s.List(ctx, "QQQ111", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
