package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"gradewatch-backend/services/gradewatch"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints the state of every configured tracker.",
	Run: func(cmd *cobra.Command, args []string) {
		var statuses []gradewatch.TrackerStatus
		res, err := client.R().
			SetContext(cmd.Context()).
			SetResult(&statuses).
			Get("/trackers")
		if err != nil {
			log.Fatal(err)
		}
		if res.IsError() {
			log.Fatalf("daemon returned %s", res.Status())
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"Student", "Quarter", "State", "Courses",
			"Average", "NHI", "Last success", "Error",
		})
		for _, s := range statuses {
			average := ""
			if s.Average != nil {
				average = fmt.Sprintf("%.2f%%", *s.Average)
			}
			lastSuccess := ""
			if !s.LastSuccess.IsZero() {
				lastSuccess = s.LastSuccess.Format(time.ANSIC)
			}
			t.AppendRow(table.Row{
				s.StudentId, s.Quarter, s.State, s.CourseCount,
				average, s.NotHandedIn, lastSuccess, s.LastError,
			})
		}
		t.Render()
	},
}
