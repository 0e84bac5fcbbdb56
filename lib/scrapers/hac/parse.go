package hac

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gradewatch-backend/lib/grades"
	"gradewatch-backend/lib/htmlutil"
	"gradewatch-backend/lib/textutil"
	"gradewatch-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
)

// assignmentsPage is everything extractable from one rendered
// assignments page: the course list and the student identity the
// portal embedded in its own output.
type assignmentsPage struct {
	StudentId string
	Courses   []grades.Course
}

var studentIdFormRegex = regexp.MustCompile(`(?i)studentid=(\d+)`)
var studentIdScriptRegex = regexp.MustCompile(`(?i)studentId["']?\s*[:=]\s*["']?(\d+)`)
var lastUpdatedRegex = regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{4})`)

func parseAssignmentsPage(html string, now time.Time) (assignmentsPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return assignmentsPage{}, err
	}

	// every course renders an AssignmentClass block even before it has
	// assignments, so this enumerates the complete course list
	blocks := doc.Find("div.AssignmentClass")
	if blocks.Length() == 0 && doc.Find("#plnMain_ddlReportCardRuns").Length() == 0 {
		return assignmentsPage{}, fmt.Errorf("page has neither course blocks nor a marking period dropdown")
	}

	var courses []grades.Course
	blocks.Each(func(i int, block *goquery.Selection) {
		name := htmlutil.CleanText(block.Find("a.sg-header-heading").First().Text())
		if name == "" {
			return
		}

		course := grades.Course{
			Name:        name,
			DisplayName: textutil.CleanCourseName(name),
			Key:         textutil.NormalizeKey(textutil.CleanCourseName(name)),
			Index:       i,
			Assignments: parseAssignments(block),
		}

		if v, ok := parseFloatText(block.Find(`span[id*="lblOverallAverage"]`).First().Text()); ok {
			course.PortalOverallPercentage = &v
		}
		course.PortalPointsEarned = htmlutil.CleanText(block.Find(`span[id*="lblStuPoints"]`).First().Text())
		course.PortalPointsPossible = htmlutil.CleanText(block.Find(`span[id*="lblMaxPoints"]`).First().Text())
		course.PortalCategories = parsePortalCategories(block)

		if updated, ok := parseLastUpdated(block.Find(`span[id*="lblLastUpdDate"]`).First().Text()); ok {
			course.LastUpdated = &updated
			days := timezone.DaysSince(now, updated)
			course.DaysSinceUpdate = &days
		}

		grades.FinishCourse(&course)
		courses = append(courses, course)
	})

	return assignmentsPage{
		StudentId: extractStudentId(doc),
		Courses:   courses,
	}, nil
}

func parseAssignments(block *goquery.Selection) []grades.Assignment {
	var assignments []grades.Assignment

	rows := block.Find(`table[id*="dgCourseAssignments"] tr.sg-asp-table-data-row`)
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 6 {
			return
		}

		title := htmlutil.CleanText(cells.Eq(2).Find("a").First().Text())
		if title == "" {
			title = htmlutil.CleanText(cells.Eq(2).Text())
		}
		if title == "" {
			return
		}

		a := grades.Assignment{
			Title:        title,
			DueDate:      htmlutil.CleanText(cells.Eq(0).Text()),
			AssignedDate: htmlutil.CleanText(cells.Eq(1).Text()),
			RawScore:     htmlutil.CleanText(cells.Eq(4).Text()),
		}
		if cat, ok := grades.CanonicalCategory(cells.Eq(3).Text()); ok {
			a.Category = cat
		}

		var sbfScore *float64
		if cells.Length() > 7 {
			if v, ok := parseFloatText(cells.Eq(7).Text()); ok {
				sbfScore = &v
			}
		}
		a.Status, a.Score = classifyScore(a.RawScore, sbfScore)

		if total, ok := parseFloatText(cells.Eq(5).Text()); ok {
			a.TotalPoints = &total
			if a.Score != nil && total > 0 {
				pct := math.Round(*a.Score/total*100*100) / 100
				a.Percentage = &pct
			}
		}

		assignments = append(assignments, a)
	})

	return assignments
}

// classifyScore maps the raw score cell onto the closed status
// enumeration. SBF rows carry the real earned score in a trailing
// column, passed in as sbfScore when present. Anything unparseable
// falls back to not-yet-graded rather than a grade-depressing zero.
func classifyScore(raw string, sbfScore *float64) (grades.Status, *float64) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	zero := 0.0

	switch {
	case strings.Contains(upper, "NHI"):
		return grades.StatusNHI, &zero
	case strings.Contains(upper, "TLTC"):
		return grades.StatusTLTC, &zero
	case strings.Contains(upper, "SBF"):
		if sbfScore != nil {
			return grades.StatusSBF, sbfScore
		}
		return grades.StatusSBF, &zero
	case upper == "X" || strings.Contains(upper, "EXEMPT"):
		return grades.StatusExempt, nil
	case upper == "" || strings.Contains(upper, "NYG"):
		return grades.StatusNYG, nil
	}

	if v, err := strconv.ParseFloat(upper, 64); err == nil {
		return grades.StatusScored, &v
	}
	return grades.StatusNYG, nil
}

func parsePortalCategories(block *goquery.Selection) []grades.PortalCategory {
	var categories []grades.PortalCategory
	block.Find(`table[id*="dgCourseCategories"] tr.sg-asp-table-data-row`).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}
		c := grades.PortalCategory{
			Category:       htmlutil.CleanText(cells.Eq(0).Text()),
			PointsEarned:   htmlutil.CleanText(cells.Eq(1).Text()),
			PointsPossible: htmlutil.CleanText(cells.Eq(2).Text()),
			Percentage:     htmlutil.CleanText(cells.Eq(3).Text()),
			Weight:         htmlutil.CleanText(cells.Eq(4).Text()),
		}
		if cells.Length() > 5 {
			c.WeightedAverage = htmlutil.CleanText(cells.Eq(5).Text())
		}
		categories = append(categories, c)
	})
	return categories
}

func parseLastUpdated(text string) (time.Time, bool) {
	if !strings.Contains(text, "Last Updated") {
		return time.Time{}, false
	}
	match := lastUpdatedRegex.FindString(text)
	if match == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("1/2/2006", match, timezone.Location)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseFloatText(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "N/A") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// extractStudentId digs the student identifier out of the rendered
// page, trying the banner data attribute first, then hidden inputs,
// form actions and inline script variables.
func extractStudentId(doc *goquery.Document) string {
	if id, ok := doc.Find("div.sg-banner").First().Attr("data-student-id"); ok && id != "" {
		return id
	}

	id := ""
	doc.Find("input").EachWithBreak(func(_ int, input *goquery.Selection) bool {
		inputId, _ := input.Attr("id")
		if !strings.Contains(strings.ToLower(inputId), "studentid") {
			return true
		}
		if v, ok := input.Attr("value"); ok && v != "" {
			id = v
			return false
		}
		return true
	})
	if id != "" {
		return id
	}

	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		action, _ := form.Attr("action")
		if groups := studentIdFormRegex.FindStringSubmatch(action); len(groups) == 2 {
			id = groups[1]
			return false
		}
		return true
	})
	if id != "" {
		return id
	}

	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		if groups := studentIdScriptRegex.FindStringSubmatch(script.Text()); len(groups) == 2 {
			id = groups[1]
			return false
		}
		return true
	})
	return id
}

// detectQuarter reads which marking period the page's dropdown has
// selected, revealing which quarter the login-rendered html represents.
func detectQuarter(html string) (grades.Quarter, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	selected := doc.Find(`#plnMain_ddlReportCardRuns option[selected]`).First()
	value, ok := selected.Attr("value")
	if !ok || value == "" {
		return "", false
	}

	// dropdown values look like "2-2026" for Q2
	num, _, found := strings.Cut(value, "-")
	if !found {
		return "", false
	}
	quarter := grades.Quarter("Q" + num)
	if !quarter.Valid() {
		return "", false
	}
	return quarter, true
}
