package model

import (
	"encoding/json"
	"time"
)

// Result is the immutable output record of a successfully completed job.
// Created exactly once by the worker; never mutated afterward.
type Result struct {
	ID           string          `json:"id"             db:"id"`
	JobID        string          `json:"job_id"         db:"job_id"`
	RepoID       string          `json:"repo_id"        db:"repo_id"`
	RepoFullName string          `json:"repo_full_name" db:"repo_full_name"`
	Status       JobStatus       `json:"status"         db:"status"`
	Analysis     json.RawMessage `json:"analysis"       db:"analysis"`
	DurationMs   int64           `json:"duration_ms"    db:"duration_ms"`
	CreatedAt    time.Time       `json:"created_at"     db:"created_at"`
}

// FileAnalysis is the collaborator-produced structural summary of one source file.
type FileAnalysis struct {
	Path      string   `json:"path"`
	Functions []string `json:"functions,omitempty"`
	Classes   []string `json:"classes,omitempty"`
	Imports   []string `json:"imports,omitempty"`
	Exports   []string `json:"exports,omitempty"`
	LineCount int      `json:"line_count"`
	// Deleted marks a zero-content placeholder for a file removed by the change.
	Deleted bool `json:"deleted,omitempty"`
}

// DocumentKind names the documentation artifacts the generator can produce.
type DocumentKind string

const (
	DocumentKindOnboarding   DocumentKind = "onboarding"
	DocumentKindArchitecture DocumentKind = "architecture"
	DocumentKindAPI          DocumentKind = "api"
	DocumentKindPRSummary    DocumentKind = "pr-summary"
)

// Valid returns true if the DocumentKind is valid.
func (k DocumentKind) Valid() bool {
	return k == DocumentKindOnboarding || k == DocumentKindArchitecture ||
		k == DocumentKindAPI || k == DocumentKindPRSummary
}

// Document is one generated documentation artifact.
type Document struct {
	Kind      DocumentKind `json:"kind"`
	Title     string       `json:"title"`
	Content   string       `json:"content"`
	ModelUsed string       `json:"model_used"`
}

// AnalysisReport is the aggregated analysis payload stored on a Result.
// TotalFiles counts every eligible file seen; AnalyzedFiles counts those that
// actually produced an analysis (the ingestion cap and per-file failures make
// the two diverge).
type AnalysisReport struct {
	TotalFiles    int            `json:"total_files"`
	AnalyzedFiles int            `json:"analyzed_files"`
	FailedFiles   []string       `json:"failed_files,omitempty"`
	Files         []FileAnalysis `json:"files"`
	Documents     []Document     `json:"documents"`
	Commits       []Commit       `json:"commits,omitempty"`
}

// Commit is the slim commit view carried through PR analysis.
type Commit struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Author  string `json:"author"`
}
