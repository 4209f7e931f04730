// Package cdpclient implements a Chrome DevTools Protocol client for
// debugging js-runtime programs. It spawns `node --inspect-brk=0` and
// talks to V8's built-in inspector over a WebSocket, translating CDP
// shapes into the same DAP-shaped data internal/dapclient returns so
// internal/session can treat both backends polymorphically.
package cdpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vajrock/debug-mediator/internal/logging"
	"github.com/vajrock/debug-mediator/internal/race"
	"github.com/vajrock/debug-mediator/internal/wire"
)

const (
	timeoutLaunch     = 10 * time.Second
	timeoutResume     = 30 * time.Second
	timeoutDisconnect = 3 * time.Second
	timeoutReadline   = 5 * time.Second
)

var wsURLPattern = regexp.MustCompile(`ws://\S+`)

// Client is an async CDP client that debugs a js-runtime program via
// `--inspect-brk`.
type Client struct {
	cmd  *exec.Cmd
	conn *websocket.Conn

	msgID     int
	pending   map[int]chan cdpResult
	pendingMu sync.Mutex
	writeMu   sync.Mutex

	// stateMu guards every field below: stopped/terminated are written
	// from the caller goroutine (resumeLike/Launch) and read from the
	// reader goroutine (handleEvent), and lastCallFrames/lastStackFrames
	// run the other way around, so both sides need the same lock.
	stateMu         sync.Mutex
	stopped         *race.Signal[map[string]any]
	terminated      *race.Signal[struct{}]
	lastCallFrames  []map[string]any
	lastStackFrames []map[string]any

	scripts       map[string]string   // scriptId -> url
	breakpointIDs map[string][]string // abs file path -> breakpointIds
	objectIDs     map[int]string
	nextVarRef    int

	// OutputLines collects console output and uncaught-exception text.
	OutputLines []string
	outputMu    sync.Mutex

	readerDone chan struct{}
	mu         sync.Mutex
}

type cdpResult struct {
	result map[string]any
	err    error
}

// New creates an unconnected CDP client.
func New() *Client {
	return &Client{
		pending:       make(map[int]chan cdpResult),
		scripts:       make(map[string]string),
		breakpointIDs: make(map[string][]string),
		objectIDs:     make(map[int]string),
		nextVarRef:    1,
	}
}

// Launch spawns `node --inspect-brk=0 <program>`, connects to the
// inspector over WebSocket, and waits for the initial pause.
func (c *Client) Launch(ctx context.Context, program string) error {
	node, err := exec.LookPath("node")
	if err != nil {
		return fmt.Errorf("cdpclient: node executable not found on PATH: %w", err)
	}

	absProgram, err := filepath.Abs(program)
	if err != nil {
		return fmt.Errorf("cdpclient: resolve program path: %w", err)
	}
	cwd := filepath.Dir(absProgram)

	cmd := exec.Command(node, "--inspect-brk=0", absProgram)
	cmd.Dir = cwd
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("cdpclient: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cdpclient: spawn node: %w", err)
	}
	c.cmd = cmd

	wsURL, err := readWSURL(stderr, cmd)
	if err != nil {
		return err
	}
	logging.S().Infof("connecting to node inspector at %s", wsURL)

	dialer := &websocket.Dialer{HandshakeTimeout: timeoutLaunch}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("cdpclient: dial inspector: %w", err)
	}
	c.conn = conn
	c.readerDone = make(chan struct{})
	go c.readLoop()

	if _, err := c.send(ctx, "Debugger.enable", map[string]any{}); err != nil {
		return err
	}
	if _, err := c.send(ctx, "Runtime.enable", map[string]any{}); err != nil {
		return err
	}

	// --inspect-brk pauses before the first line; wait for that pause.
	c.stateMu.Lock()
	c.stopped = race.NewSignal[map[string]any]()
	stopped := c.stopped
	c.stateMu.Unlock()
	if _, err := c.send(ctx, "Runtime.runIfWaitingForDebugger", map[string]any{}); err != nil {
		return err
	}
	launchCtx, cancel := context.WithTimeout(ctx, timeoutLaunch)
	defer cancel()
	select {
	case <-stopped.Done():
	case <-launchCtx.Done():
		return fmt.Errorf("cdpclient: timed out waiting for initial pause")
	}
	c.stateMu.Lock()
	c.stopped = nil
	c.stateMu.Unlock()
	return nil
}

// Disconnect closes the WebSocket and kills the node process.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.readerDone != nil {
		<-c.readerDone
	}

	if c.cmd != nil && c.cmd.Process != nil && c.cmd.ProcessState == nil {
		_ = c.cmd.Process.Kill()
		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(timeoutDisconnect):
		}
	}
	c.failPending(fmt.Errorf("cdpclient: connection closed"))
	return nil
}

// SetBreakpoints replaces breakpoints for filePath only, leaving
// breakpoints in other files untouched.
func (c *Client) SetBreakpoints(ctx context.Context, filePath string, lines []int) (map[string]any, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("cdpclient: resolve file path: %w", err)
	}

	for _, bpID := range c.breakpointIDs[absPath] {
		_, _ = c.send(ctx, "Debugger.removeBreakpoint", map[string]any{"breakpointId": bpID})
	}
	c.breakpointIDs[absPath] = nil

	fileURL := "file://" + absPath
	var results []map[string]any

	for _, line := range lines {
		resp, err := c.send(ctx, "Debugger.setBreakpointByUrl", map[string]any{
			"lineNumber": line - 1,
			"url":        fileURL,
		})
		if err != nil {
			logging.S().Warnf("failed to set breakpoint at %s:%d: %v", filePath, line, err)
			results = append(results, map[string]any{"verified": false, "line": line})
			continue
		}

		bpID, _ := resp["breakpointId"].(string)
		c.breakpointIDs[absPath] = append(c.breakpointIDs[absPath], bpID)

		actualLine := line
		if locations, ok := resp["locations"].([]any); ok && len(locations) > 0 {
			if loc, ok := locations[0].(map[string]any); ok {
				if ln, ok := loc["lineNumber"].(float64); ok {
					actualLine = int(ln) + 1
				}
			}
		}
		results = append(results, map[string]any{"verified": true, "line": actualLine})
	}

	return map[string]any{"breakpoints": results}, nil
}

// Continue resumes execution and blocks until the next pause or termination.
func (c *Client) Continue(ctx context.Context) (map[string]any, error) {
	return c.resumeLike(ctx, "Debugger.resume")
}

// Next steps over the current line.
func (c *Client) Next(ctx context.Context) (map[string]any, error) {
	return c.resumeLike(ctx, "Debugger.stepOver")
}

// StepIn steps into the current call.
func (c *Client) StepIn(ctx context.Context) (map[string]any, error) {
	return c.resumeLike(ctx, "Debugger.stepInto")
}

func (c *Client) resumeLike(ctx context.Context, method string) (map[string]any, error) {
	c.stateMu.Lock()
	c.stopped = race.NewSignal[map[string]any]()
	c.terminated = race.NewSignal[struct{}]()
	stopped, terminated := c.stopped, c.terminated
	c.stateMu.Unlock()
	defer func() {
		c.stateMu.Lock()
		c.stopped, c.terminated = nil, nil
		c.stateMu.Unlock()
	}()

	if _, err := c.send(ctx, method, map[string]any{}); err != nil {
		return nil, err
	}
	return race.WaitStopOrTerminate(ctx, stopped, terminated, timeoutResume)
}

// StackTrace returns the DAP-shaped stack frames cached from the last pause.
func (c *Client) StackTrace() map[string]any {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return map[string]any{"stackFrames": c.lastStackFrames}
}

// Scopes returns DAP-shaped scopes for a cached call frame index.
func (c *Client) Scopes(frameID int) map[string]any {
	c.stateMu.Lock()
	callFrames := c.lastCallFrames
	c.stateMu.Unlock()

	if frameID < 0 || frameID >= len(callFrames) {
		return map[string]any{"scopes": []any{}}
	}
	frame := callFrames[frameID]
	scopeChain, _ := frame["scopeChain"].([]any)

	var scopes []map[string]any
	for _, raw := range scopeChain {
		scope, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		scopeType, _ := scope["type"].(string)
		obj, _ := scope["object"].(map[string]any)
		objectID, _ := obj["objectId"].(string)

		scopes = append(scopes, map[string]any{
			"name":               title(scopeType),
			"variablesReference": c.storeObjectID(objectID),
			"expensive":          scopeType == "global",
		})
	}
	return map[string]any{"scopes": scopes}
}

// Variables returns DAP-shaped variables for a variablesReference.
func (c *Client) Variables(ctx context.Context, variablesReference int) (map[string]any, error) {
	objectID := c.objectIDs[variablesReference]
	if objectID == "" {
		return map[string]any{"variables": []any{}}, nil
	}

	resp, err := c.send(ctx, "Runtime.getProperties", map[string]any{
		"objectId":        objectID,
		"ownProperties":   true,
		"generatePreview": true,
	})
	if err != nil {
		return map[string]any{"variables": []any{}}, nil
	}

	props, _ := resp["result"].([]any)
	var variables []map[string]any
	for _, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := prop["name"].(string)
		valueObj, _ := prop["value"].(map[string]any)
		varType, _ := valueObj["type"].(string)

		var valueStr string
		switch {
		case valueObj["value"] != nil:
			valueStr = fmt.Sprintf("%v", valueObj["value"])
		case valueObj["description"] != nil:
			valueStr, _ = valueObj["description"].(string)
		case valueObj["subtype"] == "null":
			valueStr = "null"
		default:
			valueStr = fmt.Sprintf("%v", valueObj["unserializableValue"])
		}

		childRef := 0
		if childObjectID, ok := valueObj["objectId"].(string); ok && childObjectID != "" {
			childRef = c.storeObjectID(childObjectID)
		}

		variables = append(variables, map[string]any{
			"name":               name,
			"value":              valueStr,
			"type":               varType,
			"variablesReference": childRef,
		})
	}
	return map[string]any{"variables": variables}, nil
}

// Evaluate evaluates an expression, optionally in a cached call frame.
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int) (map[string]any, error) {
	c.stateMu.Lock()
	callFrames := c.lastCallFrames
	c.stateMu.Unlock()

	if frameID >= 0 && frameID < len(callFrames) {
		if callFrameID, ok := callFrames[frameID]["callFrameId"].(string); ok && callFrameID != "" {
			resp, err := c.send(ctx, "Debugger.evaluateOnCallFrame", map[string]any{
				"callFrameId": callFrameID,
				"expression":  expression,
			})
			if err != nil {
				return nil, err
			}
			return formatEvalResult(resp), nil
		}
	}

	resp, err := c.send(ctx, "Runtime.evaluate", map[string]any{"expression": expression})
	if err != nil {
		return nil, err
	}
	return formatEvalResult(resp), nil
}

func formatEvalResult(resp map[string]any) map[string]any {
	resultObj, _ := resp["result"].(map[string]any)
	value := resultObj["description"]
	if value == nil {
		value = resultObj["value"]
	}
	if value == nil {
		value = fmt.Sprintf("%v", resultObj)
	}
	varType, _ := resultObj["type"].(string)
	return map[string]any{"result": value, "type": varType}
}

// Threads returns the single js-runtime main thread (js-runtime is single-threaded).
func (c *Client) Threads() map[string]any {
	return map[string]any{"threads": []map[string]any{{"id": 1, "name": "main"}}}
}

// ------------------------------------------------------------------
// Internal: WebSocket URL parsing
// ------------------------------------------------------------------

func readWSURL(stderr io.Reader, cmd *exec.Cmd) (string, error) {
	reader := bufio.NewReader(stderr)
	deadline := time.Now().Add(timeoutLaunch)

	for time.Now().Before(deadline) {
		lineCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			line, err := reader.ReadString('\n')
			if err != nil {
				errCh <- err
				return
			}
			lineCh <- line
		}()

		select {
		case line := <-lineCh:
			line = strings.TrimSpace(line)
			logging.S().Debugf("node stderr: %s", line)
			if match := wsURLPattern.FindString(line); match != "" {
				return match, nil
			}
		case <-errCh:
			exitCode := -1
			if cmd.ProcessState != nil {
				exitCode = cmd.ProcessState.ExitCode()
			}
			return "", fmt.Errorf("cdpclient: node exited (code=%d) before printing the inspector WebSocket URL", exitCode)
		case <-time.After(timeoutReadline):
			return "", fmt.Errorf("cdpclient: timed out reading node stderr")
		}
	}
	return "", fmt.Errorf("cdpclient: timed out waiting for node inspector WebSocket URL")
}

// ------------------------------------------------------------------
// Internal: WebSocket read loop
// ------------------------------------------------------------------

func (c *Client) readLoop() {
	defer close(c.readerDone)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		if env.IsResponse() {
			var result map[string]any
			var resErr error
			if env.Error != nil {
				resErr = fmt.Errorf("cdpclient: CDP error: %s", env.Error.Message)
			} else if len(env.Result) > 0 {
				_ = json.Unmarshal(env.Result, &result)
			}

			c.pendingMu.Lock()
			ch, ok := c.pending[*env.ID]
			if ok {
				delete(c.pending, *env.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- cdpResult{result: result, err: resErr}
			}
			continue
		}

		c.handleEvent(env.Method, env.Params)
	}

	c.failPending(fmt.Errorf("cdpclient: connection lost"))

	// A closed or failed inspector connection also counts as termination,
	// in case the inspector never sends Inspector.detached /
	// Runtime.executionContextDestroyed (e.g. the process was killed).
	// The debuggee process itself is not waited on here.
	c.stateMu.Lock()
	terminated := c.terminated
	c.stateMu.Unlock()
	if terminated != nil {
		terminated.Fulfil(struct{}{})
	}
}

func (c *Client) handleEvent(method string, rawParams json.RawMessage) {
	var params map[string]any
	_ = json.Unmarshal(rawParams, &params)

	switch method {
	case "Debugger.paused":
		callFrames, _ := params["callFrames"].([]any)
		lastCallFrames := toMapSlice(callFrames)
		lastStackFrames := c.convertFrames(lastCallFrames)

		c.stateMu.Lock()
		c.lastCallFrames = lastCallFrames
		c.lastStackFrames = lastStackFrames
		stopped := c.stopped
		c.stateMu.Unlock()

		reason, _ := params["reason"].(string)
		dapReason, ok := map[string]string{
			"breakpoint": "breakpoint",
			"exception":  "exception",
			"other":      "step",
		}[reason]
		if !ok {
			dapReason = reason
		}

		if stopped != nil {
			stopped.Fulfil(map[string]any{"reason": dapReason, "threadId": 1})
		}

	case "Debugger.scriptParsed":
		scriptID, _ := params["scriptId"].(string)
		url, _ := params["url"].(string)
		if url != "" {
			c.scripts[scriptID] = url
		}

	case "Runtime.consoleAPICalled":
		args, _ := params["args"].([]any)
		var parts []string
		for _, a := range args {
			arg, _ := a.(map[string]any)
			if desc, ok := arg["description"].(string); ok {
				parts = append(parts, desc)
			} else if val, ok := arg["value"]; ok {
				parts = append(parts, fmt.Sprintf("%v", val))
			}
		}
		c.appendOutput(strings.Join(parts, " "))

	case "Runtime.exceptionThrown":
		details, _ := params["exceptionDetails"].(map[string]any)
		excObj, _ := details["exception"].(map[string]any)
		text, _ := excObj["description"].(string)
		if text == "" {
			text, _ = details["text"].(string)
		}
		if text == "" {
			text = "Uncaught exception"
		}
		c.appendOutput(text)

	case "Inspector.detached", "Runtime.executionContextDestroyed":
		c.stateMu.Lock()
		terminated := c.terminated
		c.stateMu.Unlock()
		if terminated != nil {
			terminated.Fulfil(struct{}{})
		}
	}
}

func (c *Client) appendOutput(text string) {
	c.outputMu.Lock()
	c.OutputLines = append(c.OutputLines, text)
	c.outputMu.Unlock()
}

// ------------------------------------------------------------------
// Internal: CDP request/response
// ------------------------------------------------------------------

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- cdpResult{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) send(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	c.mu.Lock()
	c.msgID++
	id := c.msgID
	c.mu.Unlock()

	msg := wire.CDPRequest{ID: id, Method: method, Params: params}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("cdpclient: marshal request: %w", err)
	}

	ch := make(chan cdpResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("cdpclient: write message: %w", err)
	}

	logging.S().Debugf("-> CDP %s (id=%d)", method, id)

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

// ------------------------------------------------------------------
// Internal: CDP -> DAP frame conversion
// ------------------------------------------------------------------

func (c *Client) storeObjectID(objectID string) int {
	if objectID == "" {
		return 0
	}
	ref := c.nextVarRef
	c.nextVarRef++
	c.objectIDs[ref] = objectID
	return ref
}

func (c *Client) convertFrames(callFrames []map[string]any) []map[string]any {
	frames := make([]map[string]any, 0, len(callFrames))
	for i, cf := range callFrames {
		location, _ := cf["location"].(map[string]any)
		scriptID, _ := location["scriptId"].(string)
		url, _ := cf["url"].(string)
		if url == "" {
			url = c.scripts[scriptID]
		}

		filePath := strings.TrimPrefix(url, "file://")

		name, _ := cf["functionName"].(string)
		if name == "" {
			name = "(anonymous)"
		}

		lineNumber, _ := location["lineNumber"].(float64)
		columnNumber, _ := location["columnNumber"].(float64)

		frames = append(frames, map[string]any{
			"id":   i,
			"name": name,
			"source": map[string]any{
				"path": filePath,
				"name": filepath.Base(filePath),
			},
			"line":   int(lineNumber) + 1,
			"column": int(columnNumber) + 1,
		})
	}
	return frames
}

func toMapSlice(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
