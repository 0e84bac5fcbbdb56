package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"gradewatch-backend/lib/grades"
)

func init() {
	rootCmd.AddCommand(snapshotCmd)
}

func percent(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f%%", *v)
}

func categoryPercent(course grades.Course, category grades.Category) string {
	score, ok := course.Categories[category]
	if !ok {
		return ""
	}
	return percent(score.Percentage)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <student_id> <quarter>",
	Short: "Prints the cached course grades for one (student, quarter) tracker.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		var snap grades.Snapshot
		res, err := client.R().
			SetContext(cmd.Context()).
			SetResult(&snap).
			Get(fmt.Sprintf("/trackers/%s/%s/snapshot", args[0], args[1]))
		if err != nil {
			log.Fatal(err)
		}
		if res.IsError() {
			log.Fatalf("daemon returned %s", res.Status())
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"Course", "Grade", "Practice", "Process", "Product",
			"NHI", "NYG", "Last updated",
		})
		for _, course := range snap.Courses {
			lastUpdated := ""
			if course.LastUpdated != nil {
				lastUpdated = course.LastUpdated.Format("01/02/2006")
			}
			t.AppendRow(table.Row{
				course.DisplayName,
				percent(course.OverallPercentage),
				categoryPercent(course, grades.CategoryPractice),
				categoryPercent(course, grades.CategoryProcess),
				categoryPercent(course, grades.CategoryProduct),
				course.Counts.NotHandedIn,
				course.Counts.NotYetGraded,
				lastUpdated,
			})
		}
		t.Render()

		if snap.Summary.Average != nil {
			fmt.Printf("average: %.2f%%", *snap.Summary.Average)
			if snap.Summary.WeightedAverage != nil {
				fmt.Printf(" (points weighted: %.2f%%)", *snap.Summary.WeightedAverage)
			}
			fmt.Println()
		}
	},
}
