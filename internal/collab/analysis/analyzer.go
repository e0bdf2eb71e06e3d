// Package analysis extracts structural facts from source files. The analyzer
// is deliberately line-oriented rather than a real parser: it trades precision
// for never failing, so a file it cannot make sense of degrades to an empty
// analysis instead of aborting the job that asked for it.
package analysis

import (
	"regexp"
	"strings"

	"github.com/docsmith/docsmith/internal/domain/model"
)

// DefaultExtensions lists the source file extensions eligible for analysis.
var DefaultExtensions = []string{
	".go", ".js", ".jsx", ".ts", ".tsx", ".py", ".rb", ".java", ".kt", ".rs",
}

var (
	goFuncRe   = regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	jsFuncRe   = regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`)
	arrowRe    = regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s+)?(?:\([^)]*\)|[A-Za-z_$][A-Za-z0-9_$]*)\s*=>`)
	pyDefRe    = regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	rubyDefRe  = regexp.MustCompile(`^\s*def\s+([A-Za-z_][A-Za-z0-9_?!]*)`)
	classRe    = regexp.MustCompile(`^\s*(?:export\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	goTypeRe   = regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:struct|interface)\b`)
	importRe   = regexp.MustCompile(`^\s*import\s+(?:[\w{},*\s]+\s+from\s+)?["']([^"']+)["']`)
	goImportRe = regexp.MustCompile(`^\s*(?:[A-Za-z_.]+\s+)?"([^"]+)"`)
	pyImportRe = regexp.MustCompile(`^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)
	requireRe  = regexp.MustCompile(`require\(["']([^"']+)["']\)`)
	exportRe   = regexp.MustCompile(`^export\s+(?:default\s+)?(?:const|let|var|function|class|interface|type|enum)?\s*\*?\s*([A-Za-z_$][A-Za-z0-9_$]*)?`)
)

// SourceAnalyzer implements the analysis collaborator over plain line scans.
type SourceAnalyzer struct{}

// NewSourceAnalyzer constructs a new SourceAnalyzer.
func NewSourceAnalyzer() *SourceAnalyzer {
	return &SourceAnalyzer{}
}

// Analyze extracts functions, classes, imports, and exports from content.
// It never fails; unrecognized content yields an analysis with only the
// line count populated.
func (a *SourceAnalyzer) Analyze(path, content string) model.FileAnalysis {
	out := model.FileAnalysis{Path: path}
	if content == "" {
		return out
	}

	lines := strings.Split(content, "\n")
	out.LineCount = len(lines)

	isGo := strings.HasSuffix(path, ".go")
	inGoImportBlock := false

	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")

		if isGo {
			switch {
			case strings.HasPrefix(trimmed, "import ("):
				inGoImportBlock = true
				continue
			case inGoImportBlock && strings.HasPrefix(strings.TrimSpace(trimmed), ")"):
				inGoImportBlock = false
				continue
			case inGoImportBlock:
				if m := goImportRe.FindStringSubmatch(trimmed); m != nil {
					out.Imports = appendUnique(out.Imports, m[1])
				}
				continue
			case strings.HasPrefix(trimmed, "import "):
				if m := goImportRe.FindStringSubmatch(strings.TrimPrefix(trimmed, "import ")); m != nil {
					out.Imports = appendUnique(out.Imports, m[1])
				}
				continue
			}
			if m := goTypeRe.FindStringSubmatch(trimmed); m != nil {
				out.Classes = appendUnique(out.Classes, m[1])
				continue
			}
		}

		if m := goFuncRe.FindStringSubmatch(trimmed); isGo && m != nil {
			out.Functions = appendUnique(out.Functions, m[1])
			continue
		}
		if m := jsFuncRe.FindStringSubmatch(trimmed); m != nil {
			out.Functions = appendUnique(out.Functions, m[1])
		} else if m := arrowRe.FindStringSubmatch(trimmed); m != nil {
			out.Functions = appendUnique(out.Functions, m[1])
		} else if m := pyDefRe.FindStringSubmatch(trimmed); m != nil {
			out.Functions = appendUnique(out.Functions, m[1])
		} else if m := rubyDefRe.FindStringSubmatch(trimmed); strings.HasSuffix(path, ".rb") && m != nil {
			out.Functions = appendUnique(out.Functions, m[1])
		}

		if m := classRe.FindStringSubmatch(trimmed); m != nil {
			out.Classes = appendUnique(out.Classes, m[1])
		}

		if m := importRe.FindStringSubmatch(trimmed); m != nil {
			out.Imports = appendUnique(out.Imports, m[1])
		} else if m := pyImportRe.FindStringSubmatch(trimmed); m != nil {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			out.Imports = appendUnique(out.Imports, name)
		}
		for _, m := range requireRe.FindAllStringSubmatch(trimmed, -1) {
			out.Imports = appendUnique(out.Imports, m[1])
		}

		if strings.HasPrefix(trimmed, "export ") {
			if m := exportRe.FindStringSubmatch(trimmed); m != nil && m[1] != "" {
				out.Exports = appendUnique(out.Exports, m[1])
			}
		}
	}

	return out
}

// EligiblePath reports whether the analyzer recognizes the file extension.
func EligiblePath(path string, extensions []string) bool {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	for _, ext := range extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
