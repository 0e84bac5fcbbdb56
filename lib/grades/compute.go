package grades

import (
	"math"
	"strconv"
	"time"

	"gradewatch-backend/lib/timezone"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CountStatuses tallies assignments by status code. Pending means
// submitted but not yet graded.
func CountStatuses(assignments []Assignment) StatusCounts {
	counts := StatusCounts{Total: len(assignments)}
	for _, a := range assignments {
		switch a.Status {
		case StatusScored:
			counts.Scored++
		case StatusNHI:
			counts.NotHandedIn++
		case StatusNYG:
			counts.NotYetGraded++
			counts.Pending++
		case StatusTLTC:
			counts.TooLateToCount++
		case StatusSBF:
			counts.ScoreBelowFifty++
		case StatusExempt:
			counts.Exempt++
		}
	}
	return counts
}

// CategoryScores accumulates earned/possible points per canonical
// category. Only statuses that count in the denominator participate;
// NHI/TLTC contribute zero earned against their possible points.
func CategoryScores(assignments []Assignment) map[Category]CategoryScore {
	scores := map[Category]CategoryScore{
		CategoryPractice: {},
		CategoryProcess:  {},
		CategoryProduct:  {},
	}

	for _, a := range assignments {
		score, ok := scores[a.Category]
		if !ok {
			continue
		}
		if !a.Status.CountsInDenominator() {
			continue
		}
		if a.Score != nil {
			score.Earned += *a.Score
		}
		if a.TotalPoints != nil {
			score.Possible += *a.TotalPoints
		}
		scores[a.Category] = score
	}

	for cat, score := range scores {
		if score.Possible > 0 {
			pct := round2(score.Earned / score.Possible * 100)
			score.Percentage = &pct
			scores[cat] = score
		}
	}
	return scores
}

// WeightedPercentage computes the overall course percentage from the
// fixed category weights. A category with no gradable points drops out
// and the remaining weights are renormalized to sum to 1, so a course
// with no Practice assignments is not silently capped at 80%.
func WeightedPercentage(scores map[Category]CategoryScore) *float64 {
	var weighted float64
	var totalWeight float64

	for cat, score := range scores {
		if score.Possible <= 0 {
			continue
		}
		weighted += (score.Earned / score.Possible) * CategoryWeights[cat]
		totalWeight += CategoryWeights[cat]
	}

	if totalWeight <= 0 {
		return nil
	}
	pct := round2(weighted / totalWeight * 100)
	return &pct
}

// FinishCourse derives everything computable from the assignment
// sequence: status counts, category scores and the weighted overall.
func FinishCourse(c *Course) {
	c.Counts = CountStatuses(c.Assignments)
	c.Categories = CategoryScores(c.Assignments)
	c.OverallPercentage = WeightedPercentage(c.Categories)
}

// Summarize recomputes the aggregate metrics for a course sequence.
// Snapshots never carry independently mutated aggregates; on any
// change to the courses this is run again.
func Summarize(courses []Course, now time.Time) Summary {
	s := Summary{CourseCount: len(courses)}

	var gradeSum float64
	var gradeCount int
	var weightedSum, weightedPossible float64

	for _, course := range courses {
		s.NotHandedIn += course.Counts.NotHandedIn
		s.NotYetGraded += course.Counts.NotYetGraded
		s.TooLateToCount += course.Counts.TooLateToCount
		s.ScoreBelowFifty += course.Counts.ScoreBelowFifty

		if course.OverallPercentage != nil {
			pct := *course.OverallPercentage
			gradeSum += pct
			gradeCount++

			if s.MaxGrade == nil || pct > *s.MaxGrade {
				v := pct
				s.MaxGrade = &v
			}
			if s.MinGrade == nil || pct < *s.MinGrade {
				v := pct
				s.MinGrade = &v
			}

			if possible, err := strconv.ParseFloat(course.PortalPointsPossible, 64); err == nil && possible > 0 {
				weightedSum += pct * possible
				weightedPossible += possible
			}
		}

		if course.LastUpdated != nil {
			if s.LatestUpdate == nil || course.LastUpdated.After(*s.LatestUpdate) {
				v := *course.LastUpdated
				s.LatestUpdate = &v
			}
		}
	}

	if gradeCount > 0 {
		avg := round2(gradeSum / float64(gradeCount))
		s.Average = &avg
	}
	if weightedPossible > 0 {
		avg := round2(weightedSum / weightedPossible)
		s.WeightedAverage = &avg
	}
	if s.LatestUpdate != nil {
		days := timezone.DaysSince(now, *s.LatestUpdate)
		s.DaysSinceLatestUpdate = &days
	}

	return s
}
