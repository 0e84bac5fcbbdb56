// Package gradestore keeps a per-course history of overall grade
// percentages so day-over-day changes can be inspected later.
package gradestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"gradewatch-backend/lib/timezone"
)

var tracer = otel.Tracer("lib/gradestore")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

type PushRequest struct {
	Time  time.Time
	Users []UserSnapshot
}

type UserSnapshot struct {
	User    string
	Courses []CourseSnapshot
}

type CourseSnapshot struct {
	Course string
	Value  float32
}

type CourseSnapshotSeries struct {
	Course    string
	Snapshots []GradeSnapshot
}

type GradeSnapshot struct {
	Time  time.Time
	Value float32
}

// Push records one snapshot per user and course. Only one snapshot is
// kept per day: earlier rows from the same local day are replaced.
func (s Store) Push(ctx context.Context, req PushRequest) error {
	ctx, span := tracer.Start(ctx, "Push")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer tx.Rollback()

	day := req.Time.In(timezone.Location)
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, timezone.Location)
	dayEnd := dayStart.AddDate(0, 0, 1)

	for _, user := range req.Users {
		for _, course := range user.Courses {
			var courseId int64
			err := tx.QueryRowContext(
				ctx,
				`INSERT INTO user_course (user, course) VALUES (?, ?)
				ON CONFLICT (user, course) DO UPDATE SET user = user
				RETURNING id`,
				user.User, course.Course,
			).Scan(&courseId)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("upsert course %q: %w", course.Course, err)
			}

			_, err = tx.ExecContext(
				ctx,
				`DELETE FROM grade_snapshot
				WHERE user_course_id = ? AND time >= ? AND time < ?`,
				courseId, dayStart.Unix(), dayEnd.Unix(),
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}

			_, err = tx.ExecContext(
				ctx,
				`INSERT INTO grade_snapshot (user_course_id, time, value)
				VALUES (?, ?, ?)`,
				courseId, req.Time.Unix(), course.Value,
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Pull returns every course's snapshot series for the given user,
// ordered by time ascending within each course.
func (s Store) Pull(ctx context.Context, user string) ([]CourseSnapshotSeries, error) {
	ctx, span := tracer.Start(ctx, "Pull")
	defer span.End()

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT uc.course, gs.time, gs.value
		FROM grade_snapshot gs
		JOIN user_course uc ON uc.id = gs.user_course_id
		WHERE uc.user = ?
		ORDER BY uc.course, gs.time`,
		user,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var out []CourseSnapshotSeries
	for rows.Next() {
		var course string
		var unix int64
		var value float32
		if err := rows.Scan(&course, &unix, &value); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		snap := GradeSnapshot{Time: time.Unix(unix, 0).In(timezone.Location), Value: value}
		if len(out) == 0 || out[len(out)-1].Course != course {
			out = append(out, CourseSnapshotSeries{Course: course})
		}
		out[len(out)-1].Snapshots = append(out[len(out)-1].Snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}
