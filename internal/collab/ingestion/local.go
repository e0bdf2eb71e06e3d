// Package ingestion supplies repository content to the pipeline. The local
// implementation works over snapshots already materialized on disk under a
// workspace directory, with change sets described by per-PR and per-range
// manifest files. It exists so the pipeline runs end to end without network
// access to a forge.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/domain/model"
	apperrors "github.com/docsmith/docsmith/internal/errors"
)

const (
	metaDir     = ".docsmith"
	changesDir  = "changes"
	fileScheme  = "file://"
	maxFileSize = 1 << 20 // 1MiB per file read
)

var skipDirs = map[string]struct{}{
	"node_modules": {},
	"vendor":       {},
	"dist":         {},
	"build":        {},
}

// LocalOptions configures the local ingestion collaborator.
type LocalOptions struct {
	// WorkspaceDir is the root under which repository snapshots live, one
	// directory per repository full name.
	WorkspaceDir string
	Logger       *slog.Logger
}

// Local implements core.Ingestion over on-disk snapshots.
type Local struct {
	workspaceDir string
	logger       *slog.Logger
}

// NewLocal constructs a new Local ingestion collaborator.
func NewLocal(opts LocalOptions) (*Local, error) {
	if opts.WorkspaceDir == "" {
		return nil, fmt.Errorf("workspace directory is required")
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "ingestion")
	}
	return &Local{workspaceDir: opts.WorkspaceDir, logger: logger}, nil
}

// FetchSnapshot resolves the repository's snapshot directory and fingerprints
// its content as the head revision. A file:// clone URL overrides the
// workspace layout.
func (l *Local) FetchSnapshot(ctx context.Context, repo core.RepoRef) (*core.Snapshot, error) {
	dir := l.snapshotDir(repo)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, apperrors.NotFoundf("repository snapshot for %s", repo.FullName)
	}

	revision, err := l.fingerprint(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("fingerprint snapshot: %w", err)
	}

	if l.logger != nil {
		l.logger.InfoContext(ctx, "snapshot fetched",
			"repo", repo.FullName,
			"handle", dir,
			"revision", revision,
		)
	}
	return &core.Snapshot{Handle: dir, HeadRevision: revision}, nil
}

func (l *Local) snapshotDir(repo core.RepoRef) string {
	if strings.HasPrefix(repo.CloneURL, fileScheme) {
		return strings.TrimPrefix(repo.CloneURL, fileScheme)
	}
	return filepath.Join(l.workspaceDir, filepath.FromSlash(repo.FullName))
}

// fingerprint hashes the sorted relative paths and sizes of every regular
// file in the snapshot. Content changes that keep sizes identical escape the
// fingerprint; that is acceptable for a revision label.
func (l *Local) fingerprint(ctx context.Context, dir string) (string, error) {
	var entries []string
	err := walkSnapshot(dir, func(rel string, d fs.DirEntry) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		entries = append(entries, fmt.Sprintf("%s:%d", rel, info.Size()))
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(entries)

	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}

// ListFiles enumerates regular files under the snapshot, filtered to the
// given extensions. The walk order is lexical per directory, which makes the
// ingestion cap's prefix truncation stable across runs.
func (l *Local) ListFiles(ctx context.Context, snap *core.Snapshot, extensions []string) ([]string, error) {
	if snap == nil || snap.Handle == "" {
		return nil, fmt.Errorf("snapshot handle is required")
	}

	var paths []string
	err := walkSnapshot(snap.Handle, func(rel string, _ fs.DirEntry) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if matchesExtension(rel, extensions) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshot files: %w", err)
	}
	return paths, nil
}

// ReadFile returns the content of one file within the snapshot. Paths that
// escape the snapshot root are rejected.
func (l *Local) ReadFile(_ context.Context, snap *core.Snapshot, path string) (string, error) {
	if snap == nil || snap.Handle == "" {
		return "", fmt.Errorf("snapshot handle is required")
	}
	if !filepath.IsLocal(path) {
		return "", apperrors.ValidationField("path", "must stay within the snapshot")
	}

	full := filepath.Join(snap.Handle, filepath.FromSlash(path))
	info, err := os.Stat(full)
	if err != nil {
		return "", apperrors.NotFoundf("file %s", path)
	}
	if info.Size() > maxFileSize {
		return "", apperrors.ValidationField("path", "file exceeds the read size limit")
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// Cleanup is a no-op: local snapshots are owned by whatever materialized
// them, not by the pipeline.
func (l *Local) Cleanup(context.Context, *core.Snapshot) error { return nil }

// changeManifest is the on-disk description of one change set.
type changeManifest struct {
	Files []struct {
		Path         string `json:"path"`
		Kind         string `json:"kind"`
		AddedLines   int    `json:"added_lines"`
		RemovedLines int    `json:"removed_lines"`
	} `json:"files"`
	Commits []model.Commit `json:"commits"`
}

// ChangedFilesForPR loads the change set recorded for a pull request from the
// snapshot's manifest directory, reading current content for non-deleted files.
func (l *Local) ChangedFilesForPR(ctx context.Context, repo core.RepoRef, prNumber int) (*core.ChangeSet, error) {
	return l.loadChangeSet(ctx, repo, fmt.Sprintf("pr-%d.json", prNumber))
}

// ChangedFilesForRange loads the change set recorded for a revision range.
func (l *Local) ChangedFilesForRange(ctx context.Context, repo core.RepoRef, baseRev, headRev string) (*core.ChangeSet, error) {
	return l.loadChangeSet(ctx, repo, fmt.Sprintf("%s..%s.json", baseRev, headRev))
}

func (l *Local) loadChangeSet(ctx context.Context, repo core.RepoRef, manifestName string) (*core.ChangeSet, error) {
	dir := l.snapshotDir(repo)
	manifestPath := filepath.Join(dir, metaDir, changesDir, manifestName)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, apperrors.NotFoundf("change manifest %s for %s", manifestName, repo.FullName)
	}

	var manifest changeManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode change manifest %s: %w", manifestName, err)
	}

	snap := &core.Snapshot{Handle: dir}
	set := &core.ChangeSet{Commits: manifest.Commits}
	for _, f := range manifest.Files {
		changed := core.ChangedFile{
			Path:         f.Path,
			Kind:         core.ChangeKind(f.Kind),
			AddedLines:   f.AddedLines,
			RemovedLines: f.RemovedLines,
		}
		if changed.Kind != core.ChangeKindDeleted {
			content, readErr := l.ReadFile(ctx, snap, f.Path)
			if readErr == nil {
				changed.Content = content
				changed.HasContent = true
			} else if l.logger != nil {
				l.logger.WarnContext(ctx, "changed file content unavailable",
					"repo", repo.FullName,
					"path", f.Path,
					"error", readErr,
				)
			}
		}
		set.Files = append(set.Files, changed)
	}
	return set, nil
}

// walkSnapshot visits every regular file under root with its slash-separated
// relative path, skipping hidden and dependency directories.
func walkSnapshot(root string, visit func(rel string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if _, skip := skipDirs[name]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(name, ".") {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		return visit(filepath.ToSlash(rel), d)
	})
}

func matchesExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	for _, ext := range extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
