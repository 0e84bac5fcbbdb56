package gradestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gradewatch-backend/lib/gradestore"
	"gradewatch-backend/lib/testutil"
	"gradewatch-backend/lib/timezone"
)

func newTestStore(t *testing.T) gradestore.Store {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "gradestore_test",
		DbSchema: gradestore.Schema,
	})
	t.Cleanup(cleanup)
	return gradestore.NewStore(res.DB)
}

func TestPushPull(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 1, 14, 8, 0, 0, 0, timezone.Location)
	day2 := day1.AddDate(0, 0, 1)

	err := store.Push(ctx, gradestore.PushRequest{
		Time: day1,
		Users: []gradestore.UserSnapshot{
			{
				User: "12345",
				Courses: []gradestore.CourseSnapshot{
					{Course: "Biology", Value: 77},
					{Course: "English 8", Value: 92.5},
				},
			},
		},
	})
	require.NoError(t, err)

	err = store.Push(ctx, gradestore.PushRequest{
		Time: day2,
		Users: []gradestore.UserSnapshot{
			{
				User: "12345",
				Courses: []gradestore.CourseSnapshot{
					{Course: "Biology", Value: 79},
				},
			},
		},
	})
	require.NoError(t, err)

	series, err := store.Pull(ctx, "12345")
	require.NoError(t, err)
	require.Len(t, series, 2)

	require.Equal(t, "Biology", series[0].Course)
	require.Len(t, series[0].Snapshots, 2)
	require.Equal(t, float32(77), series[0].Snapshots[0].Value)
	require.Equal(t, float32(79), series[0].Snapshots[1].Value)
	require.True(t, series[0].Snapshots[0].Time.Before(series[0].Snapshots[1].Time))

	require.Equal(t, "English 8", series[1].Course)
	require.Len(t, series[1].Snapshots, 1)
	require.Equal(t, float32(92.5), series[1].Snapshots[0].Value)
}

func TestPushReplacesSameDay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	morning := time.Date(2026, 1, 14, 8, 0, 0, 0, timezone.Location)
	evening := morning.Add(10 * time.Hour)

	push := func(at time.Time, value float32) {
		err := store.Push(ctx, gradestore.PushRequest{
			Time: at,
			Users: []gradestore.UserSnapshot{
				{
					User:    "12345",
					Courses: []gradestore.CourseSnapshot{{Course: "Biology", Value: value}},
				},
			},
		})
		require.NoError(t, err)
	}

	push(morning, 77)
	push(evening, 81)

	series, err := store.Pull(ctx, "12345")
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Len(t, series[0].Snapshots, 1)
	require.Equal(t, float32(81), series[0].Snapshots[0].Value)
}

func TestPullUnknownUser(t *testing.T) {
	store := newTestStore(t)

	series, err := store.Pull(context.Background(), "nobody")
	require.NoError(t, err)
	require.Empty(t, series)
}

func TestPushIsolatesUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 14, 8, 0, 0, 0, timezone.Location)
	err := store.Push(ctx, gradestore.PushRequest{
		Time: now,
		Users: []gradestore.UserSnapshot{
			{User: "12345", Courses: []gradestore.CourseSnapshot{{Course: "Biology", Value: 77}}},
			{User: "67890", Courses: []gradestore.CourseSnapshot{{Course: "Biology", Value: 95}}},
		},
	})
	require.NoError(t, err)

	series, err := store.Pull(ctx, "67890")
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Equal(t, float32(95), series[0].Snapshots[0].Value)
}
