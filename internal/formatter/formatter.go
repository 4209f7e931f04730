// Package formatter renders DAP-shaped debug data into plain text
// optimized for consumption by a language model: no ANSI codes, no
// excessive nesting, token-efficient.
package formatter

import (
	"fmt"
	"os"
	"strings"
)

const (
	maxValueLength = 200
	maxVariables   = 30
)

// Frame mirrors the subset of a DAP stackFrame this package formats.
type Frame struct {
	Name   string
	Path   string
	Line   int
}

// Variable mirrors the subset of a DAP variable this package formats.
type Variable struct {
	Name  string
	Value string
	Type  string
}

// StackTrace formats stack frames as:
//
//	#0   calculateTotal                 (app.js:8)
//	#1   main                           (app.js:22)
func StackTrace(frames []Frame) string {
	if len(frames) == 0 {
		return "(empty stack)"
	}
	lines := make([]string, 0, len(frames))
	for i, f := range frames {
		name := f.Name
		if name == "" {
			name = "<unknown>"
		}
		fileName := f.Path
		if fileName == "" {
			fileName = "?"
		}
		lines = append(lines, fmt.Sprintf("#%-3d %-30s (%s:%d)", i, name, fileName, f.Line))
	}
	return strings.Join(lines, "\n")
}

// Variables formats variables as an indented key=value list. Large
// values are truncated and an overflow beyond maxVariables entries is
// elided with a count.
func Variables(variables []Variable) string {
	if len(variables) == 0 {
		return "(no variables)"
	}

	shown := variables
	if len(shown) > maxVariables {
		shown = shown[:maxVariables]
	}

	lines := make([]string, 0, len(shown)+1)
	for _, v := range shown {
		name := v.Name
		if name == "" {
			name = "?"
		}
		value := v.Value
		if len(value) > maxValueLength {
			value = value[:maxValueLength] + "..."
		}
		if v.Type != "" {
			lines = append(lines, fmt.Sprintf("  %s: %s = %s", name, v.Type, value))
		} else {
			lines = append(lines, fmt.Sprintf("  %s = %s", name, value))
		}
	}

	if remaining := len(variables) - len(shown); remaining > 0 {
		lines = append(lines, fmt.Sprintf("  ... and %d more variables", remaining))
	}
	return strings.Join(lines, "\n")
}

// StoppedAt formats a "stopped at" message with a source-context
// snippet (current line marked with >>>), read best-effort from disk.
func StoppedAt(filePath string, line int, reason string) string {
	if reason == "" {
		reason = "breakpoint"
	}
	header := fmt.Sprintf("Stopped (%s) at %s:%d", reason, baseName(filePath), line)

	codeLines := readSourceLines(filePath)
	if len(codeLines) == 0 {
		return header
	}

	const contextRadius = 3
	start := line - 1 - contextRadius
	if start < 0 {
		start = 0
	}
	end := line + contextRadius
	if end > len(codeLines) {
		end = len(codeLines)
	}

	var snippet []string
	for i := start; i < end; i++ {
		lineno := i + 1
		marker := "   "
		if lineno == line {
			marker = ">>>"
		}
		snippet = append(snippet, fmt.Sprintf("  %s %4d | %s", marker, lineno, codeLines[i]))
	}

	return header + "\n" + strings.Join(snippet, "\n")
}

// ProbeResult combines location, stack, and variables into a single
// one-shot probe report.
func ProbeResult(filePath string, line int, frames []Frame, localVars []Variable, reason string) string {
	parts := []string{
		StoppedAt(filePath, line, reason),
		"",
		"--- Stack Trace ---",
		StackTrace(frames),
		"",
		"--- Local Variables ---",
		Variables(localVars),
	}
	return strings.Join(parts, "\n")
}

func readSourceLines(filePath string) []string {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func baseName(path string) string {
	idx := strings.LastIndexAny(path, "/\\")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
