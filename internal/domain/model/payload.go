package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JobPayload is the type-specific half of a job: one variant per JobType.
// The variant travels as the job's payload column and is decoded exactly once,
// at the dispatch boundary.
type JobPayload interface {
	JobType() JobType
	Validate() error
}

// InitialIngestionPayload requests a full-repository analysis.
type InitialIngestionPayload struct {
	CloneURL      string `json:"clone_url,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

func (InitialIngestionPayload) JobType() JobType { return JobTypeInitialIngestion }

// Validate is trivially satisfied; the repo reference lives on the Job itself.
func (InitialIngestionPayload) Validate() error { return nil }

// PRAnalysisPayload requests analysis of a pull request diff.
type PRAnalysisPayload struct {
	PRNumber int    `json:"pr_number"`
	Action   string `json:"action"`
	HeadRef  string `json:"head_ref,omitempty"`
	BaseRef  string `json:"base_ref,omitempty"`
}

func (PRAnalysisPayload) JobType() JobType { return JobTypePRAnalysis }

func (p PRAnalysisPayload) Validate() error {
	if p.PRNumber <= 0 {
		return errors.New("pr number is required")
	}
	if strings.TrimSpace(p.Action) == "" {
		return errors.New("pr action is required")
	}
	return nil
}

// PushAnalysisPayload requests analysis of an explicit changed-file list.
type PushAnalysisPayload struct {
	Ref          string   `json:"ref"`
	BeforeSHA    string   `json:"before_sha,omitempty"`
	AfterSHA     string   `json:"after_sha,omitempty"`
	ChangedFiles []string `json:"changed_files"`
	CommitCount  int      `json:"commit_count,omitempty"`
}

func (PushAnalysisPayload) JobType() JobType { return JobTypePushAnalysis }

func (p PushAnalysisPayload) Validate() error {
	if strings.TrimSpace(p.Ref) == "" {
		return errors.New("push ref is required")
	}
	return nil
}

// DeltaAnalysisPayload requests analysis of files changed between two revisions.
type DeltaAnalysisPayload struct {
	BaseRevision string `json:"base_revision"`
	HeadRevision string `json:"head_revision"`
}

func (DeltaAnalysisPayload) JobType() JobType { return JobTypeDeltaAnalysis }

func (p DeltaAnalysisPayload) Validate() error {
	if strings.TrimSpace(p.BaseRevision) == "" || strings.TrimSpace(p.HeadRevision) == "" {
		return errors.New("base and head revisions are required")
	}
	return nil
}

// DecodeJobPayload decodes the payload variant for the given job type. The
// switch is exhaustive over JobType; an unknown type is a bug surfaced to the
// caller rather than a silently empty payload. The returned variant is a
// pointer so the dispatcher can route on pointer cases.
func DecodeJobPayload(t JobType, raw json.RawMessage) (JobPayload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var p JobPayload
	switch t {
	case JobTypeInitialIngestion:
		p = &InitialIngestionPayload{}
	case JobTypePRAnalysis:
		p = &PRAnalysisPayload{}
	case JobTypePushAnalysis:
		p = &PushAnalysisPayload{}
	case JobTypeDeltaAnalysis:
		p = &DeltaAnalysisPayload{}
	default:
		return nil, fmt.Errorf("unknown job type: %q", t)
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// EncodeJobPayload serializes a payload variant for storage on a Job.
func EncodeJobPayload(p JobPayload) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.JobType(), err)
	}
	return raw, nil
}
