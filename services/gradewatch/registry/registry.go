// Package registry persists the metadata projection consumed by the
// dashboard generator: which students, quarters and courses exist. The
// document is rebuilt whole on every successful poll and replaced
// atomically so concurrent readers never see a partial write.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/gradewatch/registry")

// WriteError wraps a failure to persist the registry document. The
// in-memory snapshot that triggered the write is unaffected.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write registry %q: %s", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

type Course struct {
	CleanName    string `json:"clean_name"`
	DisplayName  string `json:"display_name"`
	OriginalName string `json:"original_name"`
	CourseIndex  int    `json:"course_index"`
}

type Quarter struct {
	CourseCount int      `json:"course_count"`
	Courses     []Course `json:"courses"`
}

type Student struct {
	StudentId string             `json:"student_id"`
	Quarters  map[string]Quarter `json:"quarters"`
	// alert categories present anywhere in this student's courses,
	// e.g. "missing_work", "late_or_failed_work"
	AlertCategories []string `json:"alert_categories"`
}

type Document struct {
	Students    map[string]Student `json:"students"`
	LastUpdated string             `json:"last_updated"`
}

// Writer serializes all registry writes. Poll cycles for different
// trackers may overlap; their registry updates must not.
type Writer struct {
	path string
	mu   sync.Mutex
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

func (w *Writer) Path() string {
	return w.path
}

// Write replaces the registry document via write-to-temp-then-rename.
func (w *Writer) Write(ctx context.Context, doc Document) error {
	_, span := tracer.Start(ctx, "Write")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &WriteError{Path: w.path, Err: err}
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &WriteError{Path: w.path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &WriteError{Path: w.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &WriteError{Path: w.path, Err: err}
	}

	if err := os.Rename(tmp.Name(), w.path); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &WriteError{Path: w.path, Err: err}
	}
	return nil
}

// Read loads the current document, mainly for tests and the CLI.
func Read(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}
