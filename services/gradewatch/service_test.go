package gradewatch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gradewatch-backend/lib/grades"
	"gradewatch-backend/lib/scrapers/hac"
	"gradewatch-backend/lib/timezone"
	"gradewatch-backend/services/gradewatch"
	"gradewatch-backend/services/gradewatch/registry"
)

type fakeFetcher struct {
	mu           sync.Mutex
	connectCalls int
	connectErr   error
	quarterErrs  map[grades.Quarter]error
	snapshots    map[grades.Quarter]grades.Snapshot

	// when non-nil, Connect blocks until the channel closes
	block chan struct{}
}

func (f *fakeFetcher) Connect(ctx context.Context) (*hac.Session, error) {
	f.mu.Lock()
	f.connectCalls++
	err := f.connectErr
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &hac.Session{}, nil
}

func (f *fakeFetcher) FetchQuarter(ctx context.Context, sess *hac.Session, quarter grades.Quarter) (grades.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.quarterErrs[quarter]; err != nil {
		return grades.Snapshot{}, err
	}
	snap, ok := f.snapshots[quarter]
	if !ok {
		return grades.Snapshot{}, &hac.ExtractionError{Kind: hac.ExtractionParse}
	}
	return snap, nil
}

func (f *fakeFetcher) Close(sess *hac.Session) {}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func snapshotFor(studentId string, quarter grades.Quarter, courseName string, pct float64) grades.Snapshot {
	course := grades.Course{
		Name:              courseName,
		DisplayName:       courseName,
		Key:               courseName,
		OverallPercentage: &pct,
	}
	now := timezone.Now()
	return grades.Snapshot{
		StudentID: studentId,
		Quarter:   quarter,
		FetchedAt: now,
		Courses:   []grades.Course{course},
		Summary:   grades.Summarize([]grades.Course{course}, now),
	}
}

type harness struct {
	service      *gradewatch.Service
	fetchers     map[string]*fakeFetcher
	registryPath string
}

func newHarness(t *testing.T, students []gradewatch.StudentConfig) harness {
	fetchers := map[string]*fakeFetcher{}
	registryPath := filepath.Join(t.TempDir(), "registry.json")

	service, err := gradewatch.NewService(gradewatch.Options{
		BrowserlessUrl: "http://localhost:3000",
		Students:       students,
		RegistryPath:   registryPath,
		NewFetcher: func(opts hac.ClientOptions) (gradewatch.Fetcher, error) {
			f := &fakeFetcher{
				quarterErrs: map[grades.Quarter]error{},
				snapshots:   map[grades.Quarter]grades.Snapshot{},
			}
			fetchers[opts.StudentId] = f
			return f, nil
		},
	})
	require.NoError(t, err)

	return harness{service: service, fetchers: fetchers, registryPath: registryPath}
}

func TestPartialFailureIsolation(t *testing.T) {
	h := newHarness(t, []gradewatch.StudentConfig{
		{StudentId: "11111", Quarters: []string{"Q2"}},
		{StudentId: "22222", Quarters: []string{"Q2"}},
	})
	h.fetchers["11111"].connectErr = &hac.ConnectivityError{Attempts: 12}
	h.fetchers["22222"].snapshots["Q2"] = snapshotFor("22222", "Q2", "Biology", 77)
	ctx := context.Background()

	// connectivity failures are absorbed into tracker state, not
	// returned to the trigger caller
	require.NoError(t, h.service.ForceRefresh(ctx, "11111"))

	for _, s := range h.service.Status() {
		if s.StudentId == "11111" {
			require.Equal(t, gradewatch.StatePending, s.State)
			require.NotEmpty(t, s.LastError)
		}
	}

	require.NoError(t, h.service.ForceRefresh(ctx, "22222"))

	for _, s := range h.service.Status() {
		switch s.StudentId {
		case "11111":
			require.Equal(t, gradewatch.StatePending, s.State)
			require.Nil(t, h.service.Snapshot("11111", "Q2"))
		case "22222":
			require.Equal(t, gradewatch.StateOk, s.State)
			require.NotNil(t, h.service.Snapshot("22222", "Q2"))
		}
	}
}

func TestForceRefreshFetchesAllQuarters(t *testing.T) {
	h := newHarness(t, []gradewatch.StudentConfig{
		{StudentId: "12345", Quarters: []string{"Q1", "Q2"}},
	})
	f := h.fetchers["12345"]
	f.snapshots["Q1"] = snapshotFor("12345", "Q1", "Biology", 91)
	f.snapshots["Q2"] = snapshotFor("12345", "Q2", "Biology", 77)

	require.NoError(t, h.service.ForceRefresh(context.Background(), "12345"))

	require.NotNil(t, h.service.Snapshot("12345", "Q1"))
	require.NotNil(t, h.service.Snapshot("12345", "Q2"))
	// both quarters ride one login session
	require.Equal(t, 1, f.calls())
}

func TestForceRefreshUnknownStudent(t *testing.T) {
	h := newHarness(t, []gradewatch.StudentConfig{
		{StudentId: "12345", Quarters: []string{"Q2"}},
	})
	require.Error(t, h.service.ForceRefresh(context.Background(), "99999"))
}

func TestQuarterFailureScopedToItsTracker(t *testing.T) {
	h := newHarness(t, []gradewatch.StudentConfig{
		{StudentId: "12345", Quarters: []string{"Q1", "Q2"}},
	})
	f := h.fetchers["12345"]
	f.snapshots["Q1"] = snapshotFor("12345", "Q1", "Biology", 91)
	f.quarterErrs["Q2"] = &hac.ExtractionError{Kind: hac.ExtractionTimeout}

	require.NoError(t, h.service.ForceRefresh(context.Background(), "12345"))

	require.NotNil(t, h.service.Snapshot("12345", "Q1"))
	require.Nil(t, h.service.Snapshot("12345", "Q2"))

	for _, s := range h.service.Status() {
		switch s.Quarter {
		case "Q1":
			require.Equal(t, gradewatch.StateOk, s.State)
		case "Q2":
			require.Equal(t, gradewatch.StatePending, s.State)
			require.NotEmpty(t, s.LastError)
		}
	}
}

func TestFailureAfterSuccessKeepsStaleSnapshot(t *testing.T) {
	h := newHarness(t, []gradewatch.StudentConfig{
		{StudentId: "12345", Quarters: []string{"Q2"}},
	})
	f := h.fetchers["12345"]
	f.snapshots["Q2"] = snapshotFor("12345", "Q2", "Biology", 77)
	ctx := context.Background()

	require.NoError(t, h.service.ForceRefresh(ctx, "12345"))

	f.mu.Lock()
	f.quarterErrs["Q2"] = &hac.ExtractionError{Kind: hac.ExtractionParse}
	f.mu.Unlock()
	require.NoError(t, h.service.ForceRefresh(ctx, "12345"))

	snap := h.service.Snapshot("12345", "Q2")
	require.NotNil(t, snap)
	require.Equal(t, 77.0, *snap.Courses[0].OverallPercentage)

	statuses := h.service.Status()
	require.Equal(t, gradewatch.StateStale, statuses[0].State)
	require.NotEmpty(t, statuses[0].LastError)
	require.False(t, statuses[0].LastSuccess.IsZero())
}

func TestConcurrentRefreshSkipsInflightTracker(t *testing.T) {
	h := newHarness(t, []gradewatch.StudentConfig{
		{StudentId: "12345", Quarters: []string{"Q2"}},
	})
	f := h.fetchers["12345"]
	f.snapshots["Q2"] = snapshotFor("12345", "Q2", "Biology", 77)
	f.block = make(chan struct{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.service.ForceRefresh(ctx, "12345")
	}()

	// wait for the first refresh to be holding the tracker
	require.Eventually(t, func() bool { return f.calls() == 1 },
		time.Second, time.Millisecond)

	// overlapping refresh finds the tracker busy and never connects
	require.NoError(t, h.service.ForceRefresh(ctx, "12345"))
	require.Equal(t, 1, f.calls())

	close(f.block)
	<-done
	require.NotNil(t, h.service.Snapshot("12345", "Q2"))
}

func TestCancellationLeavesTrackerUntouched(t *testing.T) {
	h := newHarness(t, []gradewatch.StudentConfig{
		{StudentId: "12345", Quarters: []string{"Q2"}},
	})
	f := h.fetchers["12345"]
	f.block = make(chan struct{})
	defer close(f.block)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.service.ForceRefresh(ctx, "12345")
	}()
	require.Eventually(t, func() bool { return f.calls() == 1 },
		time.Second, time.Millisecond)
	cancel()
	<-done

	statuses := h.service.Status()
	require.Equal(t, gradewatch.StatePending, statuses[0].State)
	require.Empty(t, statuses[0].LastError)
}

func TestRegistryRebuiltAfterSuccess(t *testing.T) {
	h := newHarness(t, []gradewatch.StudentConfig{
		{StudentId: "12345", Quarters: []string{"Q1", "Q2"}},
	})
	f := h.fetchers["12345"]
	f.snapshots["Q1"] = snapshotFor("12345", "Q1", "Biology", 91)
	f.snapshots["Q2"] = snapshotFor("12345", "Q2", "Biology", 77)

	require.NoError(t, h.service.ForceRefresh(context.Background(), "12345"))

	doc, err := registry.Read(h.registryPath)
	require.NoError(t, err)
	require.NotEmpty(t, doc.LastUpdated)

	student := doc.Students["12345"]
	require.Equal(t, "12345", student.StudentId)
	require.Len(t, student.Quarters, 2)
	require.Equal(t, 1, student.Quarters["Q2"].CourseCount)
	require.Equal(t, "Biology", student.Quarters["Q2"].Courses[0].DisplayName)
}

func TestRouter(t *testing.T) {
	h := newHarness(t, []gradewatch.StudentConfig{
		{StudentId: "12345", Quarters: []string{"Q2"}},
	})
	f := h.fetchers["12345"]
	f.snapshots["Q2"] = snapshotFor("12345", "Q2", "Biology", 77)
	ctx := context.Background()

	server := httptest.NewServer(h.service.Router(ctx))
	defer server.Close()

	res, err := http.Get(server.URL + "/trackers")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(server.URL + "/trackers/12345/Q2/snapshot")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res, err = http.Post(server.URL+"/students/99999/refresh", "", nil)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res, err = http.Post(server.URL+"/students/12345/refresh", "", nil)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	require.Eventually(t, func() bool {
		return h.service.Snapshot("12345", "Q2") != nil
	}, time.Second*2, time.Millisecond*10)

	res, err = http.Get(server.URL + "/trackers/12345/Q2/snapshot")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := gradewatch.NewService(gradewatch.Options{
		BrowserlessUrl: "http://localhost:3000",
		Students: []gradewatch.StudentConfig{
			{StudentId: "12345", Quarters: []string{"Q5"}},
		},
	})
	require.Error(t, err)

	_, err = gradewatch.NewService(gradewatch.Options{
		BrowserlessUrl: "http://localhost:3000",
		Students: []gradewatch.StudentConfig{
			{StudentId: "12345", Quarters: []string{"Q1"}, PollIntervalHours: 48},
		},
	})
	require.Error(t, err)

	_, err = gradewatch.NewService(gradewatch.Options{
		BrowserlessUrl: "http://localhost:3000",
	})
	require.Error(t, err)
}
