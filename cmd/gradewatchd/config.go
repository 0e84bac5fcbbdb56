package main

import (
	"gradewatch-backend/services/gradewatch"
)

type Config struct {
	Port           int    `json:"port"`
	BrowserlessUrl string `json:"browserless_url"`
	RegistryPath   string `json:"registry_path"`
	// sqlite file for grade history, empty disables the store
	DatabasePath string `json:"database_path"`
	// dump scraper HTTP exchanges under this directory, for debugging
	DebugHttpDir string `json:"debug_http_dir"`

	Students []gradewatch.StudentConfig `json:"students"`
}
