package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// testSetup holds the common test infrastructure: an in-process MCP
// server wired to internal/session, reached over the same SSE
// transport the production cmd/debugger-mcp/main.go offers.
type testSetup struct {
	testServer *httptest.Server
	client     *mcp.Client
	session    *mcp.ClientSession
	ctx        context.Context
}

func setupMCPServerAndClient(t *testing.T) *testSetup {
	t.Helper()

	implementation := mcp.Implementation{Name: "debug-mediator", Version: "v1.0.0"}
	server := mcp.NewServer(&implementation, nil)
	registerTools(server)

	getServer := func(*http.Request) *mcp.Server { return server }
	testServer := httptest.NewServer(mcp.NewSSEHandler(getServer))

	clientImplementation := mcp.Implementation{Name: "test-client", Version: "v1.0.0"}
	client := mcp.NewClient(&clientImplementation, nil)

	ctx := context.Background()
	transport := mcp.NewSSEClientTransport(testServer.URL, &mcp.SSEClientTransportOptions{})
	clientSession, err := client.Connect(ctx, transport)
	if err != nil {
		t.Fatalf("connect client to server: %v", err)
	}

	return &testSetup{testServer: testServer, client: client, session: clientSession, ctx: ctx}
}

func (ts *testSetup) cleanup() {
	if ts.session != nil {
		ts.session.Close()
	}
	if ts.testServer != nil {
		ts.testServer.Close()
	}
}

// callTool invokes a tool and returns its concatenated text content,
// failing the test if the call errors or the tool itself reports one.
func (ts *testSetup) callTool(t *testing.T, name string, args map[string]any) string {
	t.Helper()

	result, err := ts.session.CallTool(ts.ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call tool %s: %v", name, err)
	}

	var text strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}
	out := text.String()
	if result.IsError {
		t.Fatalf("tool %s reported an error: %s", name, out)
	}
	return out
}

// pythonAvailable skips tests that need a live debugpy-capable
// python3 interpreter, the same guard py-runtime fixtures need in CI
// environments without the optional debugpy dependency installed.
func pythonAvailable(t *testing.T) {
	t.Helper()
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not on PATH")
	}
	if out, err := exec.Command(python, "-c", "import debugpy.adapter").CombinedOutput(); err != nil {
		t.Skipf("debugpy not importable: %s", out)
	}
}

func nodeAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not on PATH")
	}
}

func writeFixture(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}

const pyFixture = `def greet(name):
    message = "hello, " + name
    return message


def main():
    result = greet("world")
    print(result)


if __name__ == "__main__":
    main()
`

const jsFixture = `function greet(name) {
  const message = "hello, " + name;
  return message;
}

function main() {
  const result = greet("world");
  console.log(result);
}

main();
`

func TestStartBreakpointResumeStop_PyRuntime(t *testing.T) {
	pythonAvailable(t)
	ts := setupMCPServerAndClient(t)
	defer ts.cleanup()

	program := writeFixture(t, "app.py", pyFixture)

	startMsg := ts.callTool(t, "start", map[string]any{"program": program, "language": "py-runtime"})
	if !strings.Contains(startMsg, "Debugger started") {
		t.Fatalf("unexpected start message: %s", startMsg)
	}

	bpMsg := ts.callTool(t, "add_breakpoint", map[string]any{"file": program, "line": 2})
	if !strings.Contains(bpMsg, "Breakpoint") {
		t.Fatalf("unexpected breakpoint message: %s", bpMsg)
	}

	stopped := ts.callTool(t, "resume", nil)
	if !strings.Contains(stopped, "Stopped") {
		t.Fatalf("expected to stop at breakpoint, got: %s", stopped)
	}

	stack := ts.callTool(t, "get_stack", nil)
	if !strings.Contains(stack, "greet") {
		t.Errorf("expected stack trace to mention greet, got: %s", stack)
	}

	locals := ts.callTool(t, "get_local_variables", nil)
	if !strings.Contains(locals, "name") {
		t.Errorf("expected locals to mention 'name' parameter, got: %s", locals)
	}

	inspectResult := ts.callTool(t, "inspect", map[string]any{"expression": "name"})
	if !strings.Contains(inspectResult, "world") {
		t.Errorf("expected inspect(name) to contain 'world', got: %s", inspectResult)
	}

	stepped := ts.callTool(t, "step", map[string]any{"action": "next"})
	if !strings.Contains(stepped, "Stopped") {
		t.Errorf("expected step to report a new stop location, got: %s", stepped)
	}

	stopMsg := ts.callTool(t, "stop", nil)
	if !strings.Contains(stopMsg, "ended") {
		t.Errorf("unexpected stop message: %s", stopMsg)
	}
}

func TestProbe_JsRuntime(t *testing.T) {
	nodeAvailable(t)
	ts := setupMCPServerAndClient(t)
	defer ts.cleanup()

	program := writeFixture(t, "app.js", jsFixture)

	report := ts.callTool(t, "probe", map[string]any{
		"program":  program,
		"file":     program,
		"line":     3,
		"language": "js-runtime",
	})

	if !strings.Contains(report, "Stack Trace") {
		t.Errorf("expected probe report to include a stack trace section, got: %s", report)
	}
	if !strings.Contains(report, "Local Variables") {
		t.Errorf("expected probe report to include a local variables section, got: %s", report)
	}
}

func TestStart_UnsupportedLanguage(t *testing.T) {
	ts := setupMCPServerAndClient(t)
	defer ts.cleanup()

	program := writeFixture(t, "app.txt", "not a program")

	result, err := ts.session.CallTool(ts.ctx, &mcp.CallToolParams{
		Name:      "start",
		Arguments: map[string]any{"program": program, "language": "ruby-runtime"},
	})
	if err != nil {
		t.Fatalf("call tool start: %v", err)
	}

	var text strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}
	if !strings.Contains(text.String(), "Error") {
		t.Errorf("expected unsupported-language error text, got: %s", text.String())
	}
}

func TestStop_WithoutStart(t *testing.T) {
	ts := setupMCPServerAndClient(t)
	defer ts.cleanup()

	msg := ts.callTool(t, "stop", nil)
	if !strings.Contains(msg, "ended") {
		t.Errorf("stop without an active session should still report ended, got: %s", msg)
	}
}
