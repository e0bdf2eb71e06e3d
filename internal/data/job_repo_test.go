package data

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docsmith/docsmith/internal/domain/model"
)

func TestBuildJobListQuery(t *testing.T) {
	tests := []struct {
		name         string
		opts         *model.JobListOptions
		wantArgs     []any
		wantContains []string
	}{
		{
			name:         "no filters",
			opts:         &model.JobListOptions{},
			wantArgs:     []any{},
			wantContains: []string{"WHERE 1=1", "LIMIT $1 OFFSET $2"},
		},
		{
			name:         "repo filter only",
			opts:         &model.JobListOptions{RepoID: "r-1"},
			wantArgs:     []any{"r-1"},
			wantContains: []string{"repo_id = $1", "LIMIT $2 OFFSET $3"},
		},
		{
			name: "all filters",
			opts: &model.JobListOptions{
				RepoID: "r-1",
				Type:   model.JobTypePRAnalysis,
				Status: model.JobStatusQueued,
			},
			wantArgs: []any{"r-1", model.JobTypePRAnalysis, model.JobStatusQueued},
			wantContains: []string{
				"repo_id = $1",
				"type = $2",
				"status = $3",
				"LIMIT $4 OFFSET $5",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildJobListQuery(tt.opts)
			assert.Equal(t, tt.wantArgs, args)
			for _, fragment := range tt.wantContains {
				assert.Contains(t, query, fragment)
			}
		})
	}
}
