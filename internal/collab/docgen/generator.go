// Package docgen produces documentation artifacts from analyzed files. A
// backing model is optional: when it is absent or errors, generation falls
// back to a deterministic template so the job still completes.
package docgen

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/domain/model"
)

const fallbackModel = "template-fallback"

// Backend is the optional model-backed text generator.
type Backend interface {
	// Generate returns document body text for the prompt, and the model
	// identifier that produced it.
	Generate(ctx context.Context, prompt string) (text, modelUsed string, err error)
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	Backend Backend      // Optional: model-backed generation
	Logger  *slog.Logger // Optional: structured logger
}

// Generator implements the documentation collaborator.
type Generator struct {
	backend Backend
	logger  *slog.Logger
}

// NewGenerator constructs a new Generator.
func NewGenerator(opts GeneratorOptions) *Generator {
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "doc_generator")
	}
	return &Generator{backend: opts.Backend, logger: logger}
}

// Generate produces one document of the given kind. Backend failures degrade
// to the template fallback; only an invalid kind is an error.
func (g *Generator) Generate(
	ctx context.Context,
	kind model.DocumentKind,
	files []model.FileAnalysis,
	docCtx core.DocContext,
) (model.Document, error) {
	if !kind.Valid() {
		return model.Document{}, fmt.Errorf("unknown document kind %q", kind)
	}

	title := titleFor(kind, docCtx)

	if g.backend != nil {
		text, modelUsed, err := g.backend.Generate(ctx, buildPrompt(kind, files, docCtx))
		if err == nil {
			return model.Document{
				Kind:      kind,
				Title:     title,
				Content:   text,
				ModelUsed: modelUsed,
			}, nil
		}
		if g.logger != nil {
			g.logger.WarnContext(ctx, "doc backend unavailable; using template fallback",
				"kind", kind,
				"error", err,
			)
		}
	}

	return model.Document{
		Kind:      kind,
		Title:     title,
		Content:   renderTemplate(kind, files, docCtx),
		ModelUsed: fallbackModel,
	}, nil
}

func titleFor(kind model.DocumentKind, docCtx core.DocContext) string {
	switch kind {
	case model.DocumentKindOnboarding:
		return fmt.Sprintf("Getting Started with %s", docCtx.RepoFullName)
	case model.DocumentKindArchitecture:
		return fmt.Sprintf("Architecture Overview: %s", docCtx.RepoFullName)
	case model.DocumentKindAPI:
		return fmt.Sprintf("API Reference: %s", docCtx.RepoFullName)
	case model.DocumentKindPRSummary:
		return fmt.Sprintf("PR #%d Summary: %s", docCtx.PRNumber, docCtx.RepoFullName)
	default:
		return string(kind)
	}
}

func buildPrompt(kind model.DocumentKind, files []model.FileAnalysis, docCtx core.DocContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s document for the repository %s.\n\n", kind, docCtx.RepoFullName)
	if kind == model.DocumentKindPRSummary && docCtx.PRNumber > 0 {
		fmt.Fprintf(&b, "The document covers pull request #%d.\n", docCtx.PRNumber)
	}
	b.WriteString("Analyzed files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (%d lines, %d functions, %d classes)\n",
			f.Path, f.LineCount, len(f.Functions), len(f.Classes))
	}
	if len(docCtx.Commits) > 0 {
		b.WriteString("\nCommits:\n")
		for _, c := range docCtx.Commits {
			fmt.Fprintf(&b, "- %s: %s\n", c.ID, c.Message)
		}
	}
	return b.String()
}

// renderTemplate produces the deterministic fallback body. Same inputs yield
// byte-identical output, so duplicate job deliveries produce identical results.
func renderTemplate(kind model.DocumentKind, files []model.FileAnalysis, docCtx core.DocContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", titleFor(kind, docCtx))

	switch kind {
	case model.DocumentKindPRSummary:
		fmt.Fprintf(&b, "Pull request #%d touches %d file(s).\n\n", docCtx.PRNumber, len(files))
		if len(docCtx.Commits) > 0 {
			b.WriteString("## Commits\n\n")
			for _, c := range docCtx.Commits {
				fmt.Fprintf(&b, "- `%s` %s\n", shortID(c.ID), c.Message)
			}
			b.WriteString("\n")
		}
	case model.DocumentKindOnboarding:
		fmt.Fprintf(&b, "This guide covers the %d analyzed source file(s) of %s.\n\n",
			len(files), docCtx.RepoFullName)
	default:
		fmt.Fprintf(&b, "Derived from %d analyzed source file(s).\n\n", len(files))
	}

	b.WriteString("## Files\n\n")
	for _, f := range files {
		if f.Deleted {
			fmt.Fprintf(&b, "### %s (deleted)\n\n", f.Path)
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n", f.Path)
		fmt.Fprintf(&b, "%d lines.\n", f.LineCount)
		writeNameList(&b, "Functions", f.Functions)
		writeNameList(&b, "Types", f.Classes)
		writeNameList(&b, "Imports", f.Imports)
		b.WriteString("\n")
	}

	if kind == model.DocumentKindArchitecture {
		b.WriteString("## Dependency Surface\n\n")
		for _, imp := range collectImports(files) {
			fmt.Fprintf(&b, "- %s\n", imp)
		}
	}

	return b.String()
}

func writeNameList(b *strings.Builder, label string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s.\n", label, strings.Join(names, ", "))
}

// collectImports returns the sorted union of imports across files.
func collectImports(files []model.FileAnalysis) []string {
	seen := make(map[string]struct{})
	for _, f := range files {
		for _, imp := range f.Imports {
			seen[imp] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for imp := range seen {
		out = append(out, imp)
	}
	sort.Strings(out)
	return out
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
