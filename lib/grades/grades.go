// Package grades holds the normalized data model for one student's one
// quarter of gradebook data, plus the scoring rules applied to it.
package grades

import (
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

type Quarter string

const (
	Q1 Quarter = "Q1"
	Q2 Quarter = "Q2"
	Q3 Quarter = "Q3"
	Q4 Quarter = "Q4"
)

var Quarters = []Quarter{Q1, Q2, Q3, Q4}

func (q Quarter) Valid() bool {
	switch q {
	case Q1, Q2, Q3, Q4:
		return true
	}
	return false
}

// Number returns the marking period index ("Q2" -> 2), 0 if invalid.
func (q Quarter) Number() int {
	if !q.Valid() {
		return 0
	}
	return int(q[1] - '0')
}

type Status string

const (
	StatusScored Status = "Scored"
	// not handed in
	StatusNHI Status = "NHI"
	// not yet graded
	StatusNYG Status = "NYG"
	// too late to count
	StatusTLTC Status = "TLTC"
	// score below fifty
	StatusSBF    Status = "SBF"
	StatusExempt Status = "EXEMPT"
)

// CountsInDenominator reports whether an assignment with this status
// occupies points-possible in its category score. NYG and EXEMPT are
// excluded from the computation entirely; NHI/TLTC/SBF count against
// the student per portal semantics.
func (s Status) CountsInDenominator() bool {
	switch s {
	case StatusScored, StatusNHI, StatusTLTC, StatusSBF:
		return true
	}
	return false
}

type Category string

const (
	CategoryPractice Category = "Practice"
	CategoryProcess  Category = "Process"
	CategoryProduct  Category = "Product"
)

// fixed portal weighting scheme
var CategoryWeights = map[Category]float64{
	CategoryPractice: 0.20,
	CategoryProcess:  0.30,
	CategoryProduct:  0.50,
}

// CanonicalCategory maps a portal-reported category label onto one of
// the three canonical categories. Labels drift across districts
// ("Practice Work", "practice", "Processes") so exact comparison is
// backed up by Jaro-Winkler similarity.
func CanonicalCategory(label string) (Category, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", false
	}

	best := Category("")
	var bestSim float64
	for canonical := range CategoryWeights {
		sim := matchr.JaroWinkler(strings.ToLower(label), strings.ToLower(string(canonical)), false)
		if sim > bestSim {
			bestSim = sim
			best = canonical
		}
	}
	if bestSim < 0.8 {
		return "", false
	}
	return best, true
}

type Assignment struct {
	Title        string
	DueDate      string
	AssignedDate string
	Category     Category
	// the raw cell text, kept for troubleshooting parse disputes
	RawScore    string
	Score       *float64
	TotalPoints *float64
	Status      Status
	Percentage  *float64
}

type CategoryScore struct {
	Earned     float64
	Possible   float64
	Percentage *float64
}

// PortalCategory is a row of the portal's own category breakdown
// table, kept verbatim next to the locally computed scores.
type PortalCategory struct {
	Category        string
	PointsEarned    string
	PointsPossible  string
	Percentage      string
	Weight          string
	WeightedAverage string
}

type StatusCounts struct {
	Total           int
	Scored          int
	Pending         int
	NotHandedIn     int
	NotYetGraded    int
	TooLateToCount  int
	ScoreBelowFifty int
	Exempt          int
}

type Course struct {
	// name exactly as the portal renders it
	Name string
	// display form, e.g. "MATH0700 - 2 Math 7" -> "Math 7"
	DisplayName string
	// normalized identifier key, stable across polls
	Key   string
	Index int

	Assignments []Assignment
	Counts      StatusCounts
	Categories  map[Category]CategoryScore

	// locally computed weighted percentage, nil when ungraded
	OverallPercentage *float64

	// figures the portal reports about itself
	PortalOverallPercentage *float64
	PortalPointsEarned      string
	PortalPointsPossible    string
	PortalCategories        []PortalCategory

	LastUpdated     *time.Time
	DaysSinceUpdate *int
}

// HasMissingWork reports NHI assignments, the primary alerting signal.
func (c Course) HasMissingWork() bool {
	return c.Counts.NotHandedIn > 0
}

// HasLateOrFailedWork covers the TLTC and SBF status codes.
func (c Course) HasLateOrFailedWork() bool {
	return c.Counts.TooLateToCount > 0 || c.Counts.ScoreBelowFifty > 0
}

type Summary struct {
	CourseCount int
	// plain mean of course percentages
	Average *float64
	// mean weighted by the portal's points-possible per course
	WeightedAverage *float64
	MaxGrade        *float64
	MinGrade        *float64

	NotHandedIn     int
	NotYetGraded    int
	TooLateToCount  int
	ScoreBelowFifty int

	LatestUpdate          *time.Time
	DaysSinceLatestUpdate *int
}

// Snapshot is the immutable result of one successful extraction for
// one (student, quarter) tracker. Aggregates are pure functions of the
// course sequence, recomputed via Summarize rather than patched.
type Snapshot struct {
	StudentID string
	Quarter   Quarter
	FetchedAt time.Time
	Courses   []Course
	Summary   Summary
}
