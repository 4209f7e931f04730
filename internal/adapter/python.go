package adapter

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// PythonDescriptor describes debugpy, Microsoft's DAP-compliant debug
// adapter for Python-like programs. debugpy ships as a regular pip
// package and exposes its DAP adapter via `python3 -m debugpy.adapter`.
type PythonDescriptor struct {
	pythonPath string
}

// NewPythonDescriptor resolves a python3 interpreter and verifies that
// the debugpy.adapter module is importable. pythonPath overrides PATH
// resolution when non-empty.
func NewPythonDescriptor(pythonPath string) (*PythonDescriptor, error) {
	python := pythonPath
	if python == "" {
		resolved, err := exec.LookPath("python3")
		if err != nil {
			return nil, fmt.Errorf("adapter: python3 not found on PATH: %w", err)
		}
		python = resolved
	}

	probe := exec.Command(python, "-c", "import debugpy.adapter")
	if out, err := probe.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("adapter: debugpy not available (pip install debugpy): %s", string(out))
	}

	return &PythonDescriptor{pythonPath: python}, nil
}

// AdapterID implements Descriptor.
func (p *PythonDescriptor) AdapterID() string { return "debugpy" }

// SpawnCommand implements Descriptor.
func (p *PythonDescriptor) SpawnCommand() []string {
	return []string{p.pythonPath, "-m", "debugpy.adapter"}
}

// LaunchArgs implements Descriptor.
func (p *PythonDescriptor) LaunchArgs(program, cwd string) (map[string]any, error) {
	absProgram, err := filepath.Abs(program)
	if err != nil {
		return nil, fmt.Errorf("adapter: resolve program path: %w", err)
	}

	resolvedCwd := cwd
	if resolvedCwd == "" {
		resolvedCwd = filepath.Dir(absProgram)
	}
	if absCwd, err := filepath.Abs(resolvedCwd); err == nil {
		resolvedCwd = absCwd
	}
	if resolvedCwd == "" {
		if wd, err := os.Getwd(); err == nil {
			resolvedCwd = wd
		}
	}

	return map[string]any{
		"type":        "debugpy",
		"request":     "launch",
		"name":        "Debug Python",
		"program":     absProgram,
		"cwd":         resolvedCwd,
		"console":     "internalConsole",
		"justMyCode":  true,
	}, nil
}
