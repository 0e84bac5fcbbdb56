package hac

import (
	"testing"
	"time"

	"gradewatch-backend/lib/grades"
	"gradewatch-backend/lib/timezone"

	_ "embed"

	"github.com/stretchr/testify/require"
)

//go:embed testdata/assignments_q2.html
var assignmentsQ2 string

var parseNow = time.Date(2026, time.January, 20, 12, 0, 0, 0, timezone.Location)

func TestParseAssignmentsPage(t *testing.T) {
	page, err := parseAssignmentsPage(assignmentsQ2, parseNow)
	require.NoError(t, err)

	require.Equal(t, "12345", page.StudentId)
	require.Len(t, page.Courses, 3)

	biology := page.Courses[0]
	require.Equal(t, "SCI0800 - 3 Biology", biology.Name)
	require.Equal(t, "Biology", biology.DisplayName)
	require.Equal(t, "biology", biology.Key)
	require.Equal(t, 0, biology.Index)
	require.Len(t, biology.Assignments, 3)
	require.NotNil(t, biology.OverallPercentage)
	require.InDelta(t, 77.0, *biology.OverallPercentage, 0.001)
	require.NotNil(t, biology.PortalOverallPercentage)
	require.InDelta(t, 77.0, *biology.PortalOverallPercentage, 0.001)
	require.Equal(t, "240", biology.PortalPointsEarned)
	require.Equal(t, "300", biology.PortalPointsPossible)
	require.Len(t, biology.PortalCategories, 3)
	require.Equal(t, "Practice", biology.PortalCategories[0].Category)
	require.NotNil(t, biology.LastUpdated)
	require.Equal(t, 15, biology.LastUpdated.Day())
	require.NotNil(t, biology.DaysSinceUpdate)
	require.Equal(t, 5, *biology.DaysSinceUpdate)

	english := page.Courses[1]
	require.Equal(t, "English 8", english.DisplayName)
	require.Len(t, english.Assignments, 4)
	require.Equal(t, 1, english.Counts.Scored)
	require.Equal(t, 1, english.Counts.NotHandedIn)
	require.Equal(t, 1, english.Counts.NotYetGraded)
	require.Equal(t, 1, english.Counts.Exempt)
	require.True(t, english.HasMissingWork())

	// Practice 0/50, Process 100/100, Product absent:
	// (0.2*0 + 0.3*1) / 0.5 = 60%
	require.NotNil(t, english.OverallPercentage)
	require.InDelta(t, 60.0, *english.OverallPercentage, 0.001)

	// no assignments yet, still enumerated with nil grade
	art := page.Courses[2]
	require.Equal(t, "Art I", art.DisplayName)
	require.Equal(t, 2, art.Index)
	require.Empty(t, art.Assignments)
	require.Nil(t, art.OverallPercentage)
	require.Equal(t, 0, art.Counts.Total)
}

func TestParseAssignmentStatuses(t *testing.T) {
	page, err := parseAssignmentsPage(assignmentsQ2, parseNow)
	require.NoError(t, err)

	english := page.Courses[1]
	byTitle := map[string]grades.Assignment{}
	for _, a := range english.Assignments {
		byTitle[a.Title] = a
	}

	require.Equal(t, grades.StatusScored, byTitle["Persuasive Essay"].Status)
	require.Equal(t, grades.StatusNHI, byTitle["Vocabulary Packet"].Status)
	require.NotNil(t, byTitle["Vocabulary Packet"].Score)
	require.Equal(t, 0.0, *byTitle["Vocabulary Packet"].Score)
	require.Equal(t, grades.StatusNYG, byTitle["Book Report"].Status)
	require.Nil(t, byTitle["Book Report"].Score)
	require.Equal(t, grades.StatusExempt, byTitle["Grammar Review"].Status)
	require.Nil(t, byTitle["Grammar Review"].Score)
}

func TestClassifyScore(t *testing.T) {
	zero := 0.0
	thirty := 30.0

	cases := []struct {
		raw      string
		sbf      *float64
		status   grades.Status
		score    *float64
	}{
		{"85.5", nil, grades.StatusScored, ptr(85.5)},
		{"NHI", nil, grades.StatusNHI, &zero},
		{"TLTC", nil, grades.StatusTLTC, &zero},
		{"SBF", &thirty, grades.StatusSBF, &thirty},
		{"SBF", nil, grades.StatusSBF, &zero},
		{"X", nil, grades.StatusExempt, nil},
		{"NYG", nil, grades.StatusNYG, nil},
		{"", nil, grades.StatusNYG, nil},
		{"see teacher", nil, grades.StatusNYG, nil},
	}
	for _, c := range cases {
		status, score := classifyScore(c.raw, c.sbf)
		require.Equal(t, c.status, status, "raw %q", c.raw)
		if c.score == nil {
			require.Nil(t, score, "raw %q", c.raw)
		} else {
			require.NotNil(t, score, "raw %q", c.raw)
			require.Equal(t, *c.score, *score, "raw %q", c.raw)
		}
	}
}

func ptr(v float64) *float64 { return &v }

func TestDetectQuarter(t *testing.T) {
	quarter, ok := detectQuarter(assignmentsQ2)
	require.True(t, ok)
	require.Equal(t, grades.Q2, quarter)

	_, ok = detectQuarter("<html><body>nothing here</body></html>")
	require.False(t, ok)
}

func TestParseRejectsUnknownShape(t *testing.T) {
	_, err := parseAssignmentsPage("<html><body><p>maintenance window</p></body></html>", parseNow)
	require.Error(t, err)
}

func TestSchoolYearEnd(t *testing.T) {
	require.Equal(t, 2026, schoolYearEnd(time.Date(2025, time.September, 1, 0, 0, 0, 0, timezone.Location)))
	require.Equal(t, 2026, schoolYearEnd(time.Date(2026, time.February, 1, 0, 0, 0, 0, timezone.Location)))
	require.Equal(t, 2027, schoolYearEnd(time.Date(2026, time.August, 15, 0, 0, 0, 0, timezone.Location)))
}
