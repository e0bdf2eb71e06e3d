package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmith/docsmith/internal/core"
	apperrors "github.com/docsmith/docsmith/internal/errors"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func seedRepo(t *testing.T) (string, core.RepoRef) {
	t.Helper()
	workspace := t.TempDir()
	repo := core.RepoRef{ID: "1001", FullName: "acme/widgets"}
	root := filepath.Join(workspace, "acme", "widgets")

	writeFile(t, root, "cmd/main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "internal/app/server.go", "package app\n\nfunc NewServer() {}\n")
	writeFile(t, root, "web/src/index.ts", "export function boot() {}\n")
	writeFile(t, root, "README.md", "# widgets\n")
	writeFile(t, root, "node_modules/left-pad/index.js", "module.exports = () => {}\n")
	writeFile(t, root, ".env", "SECRET=1\n")

	return workspace, repo
}

func newLocal(t *testing.T, workspace string) *Local {
	t.Helper()
	l, err := NewLocal(LocalOptions{WorkspaceDir: workspace})
	require.NoError(t, err)
	return l
}

func TestFetchSnapshot(t *testing.T) {
	workspace, repo := seedRepo(t)
	l := newLocal(t, workspace)
	ctx := context.Background()

	snap, err := l.FetchSnapshot(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workspace, "acme", "widgets"), snap.Handle)
	assert.Len(t, snap.HeadRevision, 12)

	// Identical content fingerprints identically.
	again, err := l.FetchSnapshot(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, snap.HeadRevision, again.HeadRevision)

	// New content changes the fingerprint.
	writeFile(t, snap.Handle, "internal/app/routes.go", "package app\n")
	changed, err := l.FetchSnapshot(ctx, repo)
	require.NoError(t, err)
	assert.NotEqual(t, snap.HeadRevision, changed.HeadRevision)
}

func TestFetchSnapshotMissingRepo(t *testing.T) {
	l := newLocal(t, t.TempDir())

	_, err := l.FetchSnapshot(context.Background(), core.RepoRef{ID: "9", FullName: "acme/ghost"})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListFilesFiltersAndSkips(t *testing.T) {
	workspace, repo := seedRepo(t)
	l := newLocal(t, workspace)
	ctx := context.Background()

	snap, err := l.FetchSnapshot(ctx, repo)
	require.NoError(t, err)

	paths, err := l.ListFiles(ctx, snap, []string{".go", ".ts"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"cmd/main.go",
		"internal/app/server.go",
		"web/src/index.ts",
	}, paths)

	all, err := l.ListFiles(ctx, snap, nil)
	require.NoError(t, err)
	assert.Contains(t, all, "README.md")
	assert.NotContains(t, all, "node_modules/left-pad/index.js")
	assert.NotContains(t, all, ".env")
}

func TestReadFile(t *testing.T) {
	workspace, repo := seedRepo(t)
	l := newLocal(t, workspace)
	ctx := context.Background()

	snap, err := l.FetchSnapshot(ctx, repo)
	require.NoError(t, err)

	content, err := l.ReadFile(ctx, snap, "cmd/main.go")
	require.NoError(t, err)
	assert.Contains(t, content, "func main()")

	_, err = l.ReadFile(ctx, snap, "cmd/missing.go")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = l.ReadFile(ctx, snap, "../../etc/passwd")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestChangedFilesForPR(t *testing.T) {
	workspace, repo := seedRepo(t)
	l := newLocal(t, workspace)
	ctx := context.Background()
	root := filepath.Join(workspace, "acme", "widgets")

	writeFile(t, root, ".docsmith/changes/pr-7.json", `{
		"files": [
			{"path": "cmd/main.go", "kind": "modified", "added_lines": 3, "removed_lines": 1},
			{"path": "legacy/old.js", "kind": "deleted", "removed_lines": 40}
		],
		"commits": [
			{"id": "abc123", "message": "trim legacy entrypoint", "author": "dev"}
		]
	}`)

	set, err := l.ChangedFilesForPR(ctx, repo, 7)
	require.NoError(t, err)
	require.Len(t, set.Files, 2)

	modified := set.Files[0]
	assert.Equal(t, core.ChangeKindModified, modified.Kind)
	assert.True(t, modified.HasContent)
	assert.Contains(t, modified.Content, "func main()")

	deleted := set.Files[1]
	assert.Equal(t, core.ChangeKindDeleted, deleted.Kind)
	assert.False(t, deleted.HasContent)
	assert.Empty(t, deleted.Content)

	require.Len(t, set.Commits, 1)
	assert.Equal(t, "trim legacy entrypoint", set.Commits[0].Message)
}

func TestChangedFilesForRangeMissingManifest(t *testing.T) {
	workspace, repo := seedRepo(t)
	l := newLocal(t, workspace)

	_, err := l.ChangedFilesForRange(context.Background(), repo, "aaa", "bbb")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}
