// Package gradewatch schedules per-student, per-quarter grade polls
// against the portal scraper, caches last-known-good snapshots, and
// maintains the registry projection plus the grade history store.
package gradewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"gradewatch-backend/lib/grades"
	"gradewatch-backend/lib/gradestore"
	"gradewatch-backend/lib/scrapers/hac"
	"gradewatch-backend/lib/timezone"
	"gradewatch-backend/services/gradewatch/registry"
)

var tracer = otel.Tracer("services/gradewatch")

const (
	defaultPollInterval = time.Hour * 6
	minPollInterval     = time.Hour
	maxPollInterval     = time.Hour * 24

	// randomized pre-poll wait so several trackers don't hit one
	// automation endpoint at the same instant
	staggerMax = time.Second * 5

	// a tracker with no snapshot yet reports "pending" rather than
	// an error until this much time has passed since it was created
	firstAvailabilityBound = time.Minute * 30
)

// Fetcher is the slice of the scraper client the coordinator drives.
// Tests substitute a fake; production uses *hac.Client.
type Fetcher interface {
	Connect(ctx context.Context) (*hac.Session, error)
	FetchQuarter(ctx context.Context, sess *hac.Session, quarter grades.Quarter) (grades.Snapshot, error)
	Close(sess *hac.Session)
}

// StudentConfig arrives as validated input from the configuration
// surface; the coordinator does not re-validate credentials.
type StudentConfig struct {
	StudentId string   `json:"student_id"`
	SchoolUrl string   `json:"school_url"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	Quarters  []string `json:"quarters"`
	// 1-24, zero means the 6 hour default
	PollIntervalHours int `json:"poll_interval_hours"`
}

type Options struct {
	BrowserlessUrl string
	Students       []StudentConfig
	RegistryPath   string

	// when set, each student's scraper dumps its HTTP exchanges
	// under a subdirectory of this path
	DebugDumpDir string

	// optional grade history store
	Store *gradestore.Store

	// test hook, nil means hac.NewClient
	NewFetcher func(opts hac.ClientOptions) (Fetcher, error)
}

type Service struct {
	trackers  []*Tracker
	byStudent map[string][]*Tracker
	fetchers  map[string]Fetcher
	registry  *registry.Writer
	store     *gradestore.Store
}

func NewService(options Options) (*Service, error) {
	newFetcher := options.NewFetcher
	if newFetcher == nil {
		newFetcher = func(opts hac.ClientOptions) (Fetcher, error) {
			return hac.NewClient(opts)
		}
	}

	s := &Service{
		byStudent: map[string][]*Tracker{},
		fetchers:  map[string]Fetcher{},
		registry:  registry.NewWriter(options.RegistryPath),
		store:     options.Store,
	}

	now := timezone.Now()
	for _, student := range options.Students {
		if _, ok := s.fetchers[student.StudentId]; ok {
			return nil, fmt.Errorf("duplicate student id %q", student.StudentId)
		}

		dumpDir := ""
		if options.DebugDumpDir != "" {
			dumpDir = filepath.Join(options.DebugDumpDir, student.StudentId)
		}
		fetcher, err := newFetcher(hac.ClientOptions{
			SchoolUrl:      student.SchoolUrl,
			Username:       student.Username,
			Password:       student.Password,
			StudentId:      student.StudentId,
			BrowserlessUrl: options.BrowserlessUrl,
			DebugDumpDir:   dumpDir,
		})
		if err != nil {
			return nil, fmt.Errorf("student %q: %w", student.StudentId, err)
		}
		s.fetchers[student.StudentId] = fetcher

		interval := time.Duration(student.PollIntervalHours) * time.Hour
		if interval == 0 {
			interval = defaultPollInterval
		}
		if interval < minPollInterval || interval > maxPollInterval {
			return nil, fmt.Errorf("student %q: poll interval must be 1-24 hours", student.StudentId)
		}

		for _, name := range student.Quarters {
			quarter := grades.Quarter(name)
			if !quarter.Valid() {
				return nil, fmt.Errorf("student %q: invalid quarter %q", student.StudentId, name)
			}
			tracker := newTracker(student.StudentId, quarter, interval, now)
			s.trackers = append(s.trackers, tracker)
			s.byStudent[student.StudentId] = append(s.byStudent[student.StudentId], tracker)
		}
	}
	if len(s.trackers) == 0 {
		return nil, fmt.Errorf("no trackers configured")
	}
	return s, nil
}

// Run starts one polling loop per tracker and blocks until ctx is
// cancelled. Trackers fail and recover independently of one another.
func (s *Service) Run(ctx context.Context) {
	for _, tracker := range s.trackers {
		go s.trackerLoop(ctx, tracker)
	}
	<-ctx.Done()
}

func (s *Service) trackerLoop(ctx context.Context, tracker *Tracker) {
	s.stagger(ctx)
	if ctx.Err() != nil {
		return
	}
	s.pollTrackers(ctx, tracker.StudentId, []*Tracker{tracker})

	ticker := time.NewTicker(tracker.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.stagger(ctx)
			if ctx.Err() != nil {
				return
			}
			s.pollTrackers(ctx, tracker.StudentId, []*Tracker{tracker})
		}
	}
}

func (s *Service) stagger(ctx context.Context) {
	ms, err := random.IntRange(0, int(staggerMax.Milliseconds()))
	if err != nil {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(ms) * time.Millisecond):
	}
}

// ForceRefresh re-fetches every quarter configured for the student,
// not just one tracker's, so a manual refresh yields a consistent
// multi-quarter picture from a single login session.
func (s *Service) ForceRefresh(ctx context.Context, studentId string) error {
	ctx, span := tracer.Start(ctx, "ForceRefresh")
	defer span.End()
	span.SetAttributes(attribute.String("student_id", studentId))

	trackers, ok := s.byStudent[studentId]
	if !ok {
		err := fmt.Errorf("unknown student %q", studentId)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.pollTrackers(ctx, studentId, trackers)
	return nil
}

// pollTrackers runs one poll cycle for a set of same-student trackers
// over a single session. Each tracker's result is stored independently:
// one quarter failing never invalidates another quarter's snapshot.
func (s *Service) pollTrackers(ctx context.Context, studentId string, trackers []*Tracker) {
	ctx, span := tracer.Start(ctx, "pollTrackers")
	defer span.End()
	span.SetAttributes(attribute.String("student_id", studentId))

	var acquired []*Tracker
	for _, tracker := range trackers {
		if tracker.tryBegin() {
			acquired = append(acquired, tracker)
		} else {
			slog.WarnContext(ctx, "poll still in flight, skipping",
				"student_id", tracker.StudentId, "quarter", tracker.Quarter)
		}
	}
	if len(acquired) == 0 {
		return
	}
	defer func() {
		for _, tracker := range acquired {
			tracker.end()
		}
	}()

	fetcher := s.fetchers[studentId]
	sess, err := fetcher.Connect(ctx)
	if err != nil {
		// teardown mid-poll must not mutate tracker state
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "connect failed",
			"student_id", studentId, "err", err)
		for _, tracker := range acquired {
			tracker.storeFailure(err)
		}
		return
	}
	defer fetcher.Close(sess)

	var succeeded bool
	for _, tracker := range acquired {
		snap, err := fetcher.FetchQuarter(ctx, sess, tracker.Quarter)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			span.RecordError(err)
			slog.WarnContext(ctx, "fetch quarter failed",
				"student_id", studentId, "quarter", tracker.Quarter, "err", err)
			tracker.storeFailure(err)
			continue
		}
		tracker.storeSuccess(snap, timezone.Now())
		succeeded = true
		slog.InfoContext(ctx, "fetched quarter",
			"student_id", studentId,
			"quarter", tracker.Quarter,
			"courses", snap.Summary.CourseCount)
	}
	if !succeeded {
		return
	}

	if err := s.pushHistory(ctx, studentId); err != nil {
		slog.ErrorContext(ctx, "push grade history", "student_id", studentId, "err", err)
	}
	if err := s.updateRegistry(ctx); err != nil {
		var writeErr *registry.WriteError
		if errors.As(err, &writeErr) {
			// snapshots already handed out stay valid
			slog.ErrorContext(ctx, "write registry", "err", err)
			return
		}
		slog.ErrorContext(ctx, "update registry", "err", err)
	}
}

func (s *Service) pushHistory(ctx context.Context, studentId string) error {
	if s.store == nil {
		return nil
	}

	var courses []gradestore.CourseSnapshot
	for _, tracker := range s.byStudent[studentId] {
		snap := tracker.Snapshot()
		if snap == nil {
			continue
		}
		for _, course := range snap.Courses {
			if course.OverallPercentage == nil {
				continue
			}
			courses = append(courses, gradestore.CourseSnapshot{
				Course: fmt.Sprintf("%s/%s", tracker.Quarter, course.Key),
				Value:  float32(*course.OverallPercentage),
			})
		}
	}
	if len(courses) == 0 {
		return nil
	}

	return s.store.Push(ctx, gradestore.PushRequest{
		Time: timezone.Now(),
		Users: []gradestore.UserSnapshot{
			{User: studentId, Courses: courses},
		},
	})
}

// updateRegistry rebuilds the whole projection from every tracker's
// cached snapshot and replaces the document atomically.
func (s *Service) updateRegistry(ctx context.Context) error {
	doc := registry.Document{
		Students:    map[string]registry.Student{},
		LastUpdated: timezone.Now().Format(time.RFC3339),
	}

	for studentId, trackers := range s.byStudent {
		entry := registry.Student{
			StudentId: studentId,
			Quarters:  map[string]registry.Quarter{},
		}
		alerts := map[string]bool{}

		for _, tracker := range trackers {
			snap := tracker.Snapshot()
			if snap == nil {
				continue
			}

			quarter := registry.Quarter{CourseCount: len(snap.Courses)}
			for _, course := range snap.Courses {
				quarter.Courses = append(quarter.Courses, registry.Course{
					CleanName:    course.Key,
					DisplayName:  course.DisplayName,
					OriginalName: course.Name,
					CourseIndex:  course.Index,
				})
				if course.HasMissingWork() {
					alerts["missing_work"] = true
				}
				if course.HasLateOrFailedWork() {
					alerts["late_or_failed_work"] = true
				}
			}
			entry.Quarters[string(tracker.Quarter)] = quarter
		}
		if len(entry.Quarters) == 0 {
			continue
		}

		for alert := range alerts {
			entry.AlertCategories = append(entry.AlertCategories, alert)
		}
		sort.Strings(entry.AlertCategories)
		doc.Students[studentId] = entry
	}

	return s.registry.Write(ctx, doc)
}

// Status reports every tracker in configuration order.
func (s *Service) Status() []TrackerStatus {
	now := timezone.Now()
	out := make([]TrackerStatus, len(s.trackers))
	for i, tracker := range s.trackers {
		out[i] = tracker.Status(now)
	}
	return out
}

// Snapshot returns the cached snapshot for one tracker, nil if none.
func (s *Service) Snapshot(studentId string, quarter grades.Quarter) *grades.Snapshot {
	for _, tracker := range s.byStudent[studentId] {
		if tracker.Quarter == quarter {
			return tracker.Snapshot()
		}
	}
	return nil
}
