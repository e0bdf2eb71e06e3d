package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeGoSource(t *testing.T) {
	content := `package widgets

import (
	"fmt"
	"strings"
)

type Widget struct {
	Name string
}

type Assembler interface {
	Assemble() error
}

func NewWidget(name string) *Widget {
	return &Widget{Name: name}
}

func (w *Widget) Label() string {
	return strings.ToUpper(fmt.Sprintf("widget:%s", w.Name))
}
`
	a := NewSourceAnalyzer()
	result := a.Analyze("internal/widgets/widget.go", content)

	assert.Equal(t, []string{"NewWidget", "Label"}, result.Functions)
	assert.Equal(t, []string{"Widget", "Assembler"}, result.Classes)
	assert.Equal(t, []string{"fmt", "strings"}, result.Imports)
	assert.Positive(t, result.LineCount)
}

func TestAnalyzeTypeScriptSource(t *testing.T) {
	content := `import { render } from "react-dom";
import axios from "axios";

export class Dashboard {
  refresh() {}
}

export function mount(el) {
  render(el);
}

export const fetchStats = async () => axios.get("/stats");
`
	a := NewSourceAnalyzer()
	result := a.Analyze("web/src/dashboard.tsx", content)

	assert.Contains(t, result.Functions, "mount")
	assert.Contains(t, result.Functions, "fetchStats")
	assert.Equal(t, []string{"Dashboard"}, result.Classes)
	assert.Equal(t, []string{"react-dom", "axios"}, result.Imports)
	assert.Contains(t, result.Exports, "Dashboard")
	assert.Contains(t, result.Exports, "mount")
}

func TestAnalyzePythonSource(t *testing.T) {
	content := `import os
from collections import defaultdict

class Tracker:
    def record(self, key):
        pass

async def flush():
    pass
`
	a := NewSourceAnalyzer()
	result := a.Analyze("tracker.py", content)

	assert.Equal(t, []string{"record", "flush"}, result.Functions)
	assert.Equal(t, []string{"Tracker"}, result.Classes)
	assert.Equal(t, []string{"os", "collections"}, result.Imports)
}

func TestAnalyzeNeverFails(t *testing.T) {
	a := NewSourceAnalyzer()

	tests := []struct {
		name    string
		path    string
		content string
	}{
		{name: "empty file", path: "empty.go", content: ""},
		{name: "binary garbage", path: "blob.js", content: "\x00\x01\x02\xff"},
		{name: "unclosed syntax", path: "broken.ts", content: "function (((("},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := a.Analyze(tt.path, tt.content)
			assert.Equal(t, tt.path, result.Path)
		})
	}
}

func TestEligiblePath(t *testing.T) {
	assert.True(t, EligiblePath("cmd/main.go", nil))
	assert.True(t, EligiblePath("src/app.tsx", nil))
	assert.False(t, EligiblePath("README.md", nil))
	assert.False(t, EligiblePath("logo.png", nil))
	assert.True(t, EligiblePath("schema.sql", []string{".sql"}))
}
