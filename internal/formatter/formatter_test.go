package formatter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackTrace_Empty(t *testing.T) {
	assert.Equal(t, "(empty stack)", StackTrace(nil))
}

func TestStackTrace_FormatsFramesInOrder(t *testing.T) {
	frames := []Frame{
		{Name: "calculateTotal", Path: "app.js", Line: 8},
		{Name: "main", Path: "app.js", Line: 22},
	}
	out := StackTrace(frames)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "#0")
	assert.Contains(t, lines[0], "calculateTotal")
	assert.Contains(t, lines[0], "app.js:8")
	assert.Contains(t, lines[1], "#1")
	assert.Contains(t, lines[1], "app.js:22")
}

func TestStackTrace_UnknownNameAndPath(t *testing.T) {
	out := StackTrace([]Frame{{Line: 1}})
	assert.Contains(t, out, "<unknown>")
	assert.Contains(t, out, "?:1")
}

func TestVariables_Empty(t *testing.T) {
	assert.Equal(t, "(no variables)", Variables(nil))
}

func TestVariables_TruncatesLongValues(t *testing.T) {
	longValue := strings.Repeat("x", maxValueLength+50)
	out := Variables([]Variable{{Name: "big", Value: longValue, Type: "str"}})
	assert.Contains(t, out, "big: str = "+strings.Repeat("x", maxValueLength)+"...")
}

func TestVariables_ElidesBeyondMax(t *testing.T) {
	vars := make([]Variable, maxVariables+5)
	for i := range vars {
		vars[i] = Variable{Name: "v", Value: "1"}
	}
	out := Variables(vars)
	assert.Contains(t, out, "... and 5 more variables")
}

func TestStoppedAt_NoSourceFile(t *testing.T) {
	out := StoppedAt("/does/not/exist.py", 3, "breakpoint")
	assert.Equal(t, "Stopped (breakpoint) at exist.py:3", out)
}

func TestStoppedAt_DefaultsReasonToBreakpoint(t *testing.T) {
	out := StoppedAt("/does/not/exist.py", 3, "")
	assert.Contains(t, out, "Stopped (breakpoint)")
}

func TestStoppedAt_ShowsSourceContextWithMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.py")
	src := "a = 1\nb = 2\nc = 3\nd = 4\ne = 5\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	out := StoppedAt(path, 3, "step")
	assert.Contains(t, out, "Stopped (step) at app.py:3")
	assert.Contains(t, out, ">>>    3 | c = 3")
	assert.Contains(t, out, "   1 | a = 1")
	assert.Contains(t, out, "   5 | e = 5")
}

func TestProbeResult_CombinesSections(t *testing.T) {
	out := ProbeResult("/tmp/app.py", 2, []Frame{{Name: "main", Path: "app.py", Line: 2}},
		[]Variable{{Name: "x", Value: "1", Type: "int"}}, "breakpoint")

	assert.Contains(t, out, "Stopped (breakpoint)")
	assert.Contains(t, out, "--- Stack Trace ---")
	assert.Contains(t, out, "main")
	assert.Contains(t, out, "--- Local Variables ---")
	assert.Contains(t, out, "x: int = 1")
}
