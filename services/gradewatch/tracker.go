package gradewatch

import (
	"sync"
	"time"

	"gradewatch-backend/lib/grades"
)

// TrackerState describes what a consumer should show for a tracker.
type TrackerState string

const (
	// no snapshot yet, first-availability bound not exceeded
	StatePending TrackerState = "pending"
	// last poll succeeded, snapshot is current
	StateOk TrackerState = "ok"
	// a snapshot exists but the most recent poll failed
	StateStale TrackerState = "stale"
	// no snapshot and the first-availability bound has elapsed
	StateError TrackerState = "error"
)

// Tracker is one configured (student, quarter) polling unit. It owns
// its cached last-known-good snapshot; every mutation goes through the
// mutex and poll cycles are serialized with the inflight flag.
type Tracker struct {
	StudentId string
	Quarter   grades.Quarter
	Interval  time.Duration

	mu          sync.Mutex
	inflight    bool
	snapshot    *grades.Snapshot
	lastSuccess time.Time
	lastErr     error
	createdAt   time.Time
}

func newTracker(studentId string, quarter grades.Quarter, interval time.Duration, now time.Time) *Tracker {
	return &Tracker{
		StudentId: studentId,
		Quarter:   quarter,
		Interval:  interval,
		createdAt: now,
	}
}

// tryBegin marks a poll in flight. A false return means a prior poll
// for this tracker has not finished yet and the new one is skipped.
func (t *Tracker) tryBegin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight {
		return false
	}
	t.inflight = true
	return true
}

func (t *Tracker) end() {
	t.mu.Lock()
	t.inflight = false
	t.mu.Unlock()
}

func (t *Tracker) storeSuccess(snap grades.Snapshot, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot = &snap
	t.lastSuccess = now
	t.lastErr = nil
}

func (t *Tracker) storeFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = err
}

// Snapshot returns the cached last-known-good snapshot, nil if no poll
// has succeeded yet.
func (t *Tracker) Snapshot() *grades.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

type TrackerStatus struct {
	StudentId string         `json:"student_id"`
	Quarter   grades.Quarter `json:"quarter"`
	State     TrackerState   `json:"state"`
	LastError string         `json:"last_error,omitempty"`
	// zero when no poll has succeeded yet
	LastSuccess time.Time `json:"last_success,omitempty"`

	CourseCount     int      `json:"course_count"`
	Average         *float64 `json:"average,omitempty"`
	HasMissingWork  bool     `json:"has_missing_work"`
	HasLateOrFailed bool     `json:"has_late_or_failed_work"`
	NotHandedIn     int      `json:"not_handed_in"`
	ScoreBelowFifty int      `json:"score_below_fifty"`
	TooLateToCount  int      `json:"too_late_to_count"`
}

func (t *Tracker) Status(now time.Time) TrackerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := TrackerStatus{
		StudentId:   t.StudentId,
		Quarter:     t.Quarter,
		LastSuccess: t.lastSuccess,
	}
	if t.lastErr != nil {
		status.LastError = t.lastErr.Error()
	}

	switch {
	case t.snapshot != nil && t.lastErr == nil:
		status.State = StateOk
	case t.snapshot != nil:
		status.State = StateStale
	case t.lastErr != nil && now.Sub(t.createdAt) > firstAvailabilityBound:
		status.State = StateError
	default:
		// the very first poll may itself be blocked behind the
		// automation endpoint's boot ladder; report "pending"
		// rather than an error until the bound elapses
		status.State = StatePending
	}

	if t.snapshot != nil {
		status.CourseCount = t.snapshot.Summary.CourseCount
		status.Average = t.snapshot.Summary.Average
		status.NotHandedIn = t.snapshot.Summary.NotHandedIn
		status.ScoreBelowFifty = t.snapshot.Summary.ScoreBelowFifty
		status.TooLateToCount = t.snapshot.Summary.TooLateToCount
		for _, course := range t.snapshot.Courses {
			if course.HasMissingWork() {
				status.HasMissingWork = true
			}
			if course.HasLateOrFailedWork() {
				status.HasLateOrFailed = true
			}
		}
	}
	return status
}
