package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(refreshCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <student_id>",
	Short: "Triggers a refresh of every quarter configured for a student.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := client.R().
			SetContext(cmd.Context()).
			Post(fmt.Sprintf("/students/%s/refresh", args[0]))
		if err != nil {
			log.Fatal(err)
		}
		if res.IsError() {
			log.Fatalf("daemon returned %s", res.Status())
		}
		fmt.Println("refresh started, watch `gradewatch-cli status` for the result")
	},
}
