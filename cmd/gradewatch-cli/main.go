package main

import (
	"fmt"
	"os"

	"gradewatch-backend/cmd/gradewatch-cli/cmd"
)

func main() {
	baseUrl, ok := os.LookupEnv("GRADEWATCH_BASE_URL")
	if !ok {
		fmt.Println("You should specify the base url of the gradewatch daemon in the environment variable GRADEWATCH_BASE_URL.")
		os.Exit(1)
	}
	cmd.BaseUrl = baseUrl

	cmd.Execute()
}
