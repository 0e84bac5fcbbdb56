package gradewatch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gradewatch-backend/lib/grades"
	"gradewatch-backend/lib/timezone"
)

func TestTrackerStateTransitions(t *testing.T) {
	now := timezone.Now()
	tracker := newTracker("12345", "Q2", time.Hour*6, now)

	// nothing has happened yet
	require.Equal(t, StatePending, tracker.Status(now).State)

	// first poll fails: still pending inside the availability bound,
	// the automation endpoint may just be booting
	tracker.storeFailure(errors.New("endpoint unreachable"))
	require.Equal(t, StatePending, tracker.Status(now).State)
	require.NotEmpty(t, tracker.Status(now).LastError)

	// the bound elapses without any success
	later := now.Add(firstAvailabilityBound + time.Minute)
	require.Equal(t, StateError, tracker.Status(later).State)

	// a success clears the error
	tracker.storeSuccess(grades.Snapshot{Quarter: "Q2"}, later)
	require.Equal(t, StateOk, tracker.Status(later).State)
	require.Empty(t, tracker.Status(later).LastError)

	// a later failure keeps the snapshot but flags it stale
	tracker.storeFailure(errors.New("parse failed"))
	status := tracker.Status(later)
	require.Equal(t, StateStale, status.State)
	require.NotEmpty(t, status.LastError)
	require.NotNil(t, tracker.Snapshot())
}

func TestTrackerSerialization(t *testing.T) {
	tracker := newTracker("12345", "Q2", time.Hour*6, timezone.Now())

	require.True(t, tracker.tryBegin())
	require.False(t, tracker.tryBegin())
	tracker.end()
	require.True(t, tracker.tryBegin())
}
