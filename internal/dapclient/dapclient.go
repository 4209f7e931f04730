// Package dapclient implements the Debug Adapter Protocol client: it
// spawns a DAP-compliant adapter subprocess and speaks DAP over its
// stdin/stdout.
package dapclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-dap"

	"github.com/vajrock/debug-mediator/internal/adapter"
	"github.com/vajrock/debug-mediator/internal/logging"
	"github.com/vajrock/debug-mediator/internal/race"
)

const (
	timeoutLaunch     = 10 * time.Second
	timeoutResume     = 30 * time.Second
	timeoutDisconnect = 3 * time.Second
)

// Client is an async DAP client that communicates with a debug
// adapter subprocess.
//
// Lifecycle:
//
//	c := dapclient.New(adapter)
//	c.Start(ctx)          // spawns adapter, sends 'initialize'
//	c.Launch(ctx, prog)   // sends 'launch' + defers 'configurationDone'
//	c.SetBreakpoints(...)
//	c.Continue(ctx, 1)    // blocks until the next stop or termination
//	...
//	c.Disconnect(ctx)     // tears down
type Client struct {
	adapter adapter.Descriptor
	cmd     *exec.Cmd
	writer  io.Writer
	reader  *bufio.Reader

	seq     int64
	pending   map[int]chan *dap.Response
	pendingMu sync.Mutex

	mu sync.Mutex // serializes writes to the adapter's stdin

	stopped    *race.Signal[map[string]any]
	terminated *race.Signal[struct{}]
	initialized *race.Signal[struct{}]

	launchDone chan error
	configured atomic.Bool

	// OutputLines collects stdout/stderr text surfaced via 'output' events.
	OutputLines []string
	outputMu    sync.Mutex

	readerDone chan struct{}
}

// New creates a DAP client bound to the given adapter descriptor.
func New(a adapter.Descriptor) *Client {
	return &Client{
		adapter: a,
		pending: make(map[int]chan *dap.Response),
	}
}

// Start spawns the adapter subprocess and sends 'initialize'.
func (c *Client) Start(ctx context.Context) (dap.Message, error) {
	args := c.adapter.SpawnCommand()
	if len(args) == 0 {
		return nil, fmt.Errorf("dapclient: adapter returned an empty spawn command")
	}

	logging.S().Infof("spawning adapter: %v", args)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("dapclient: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("dapclient: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("dapclient: spawn adapter: %w", err)
	}

	c.cmd = cmd
	c.writer = stdin
	c.reader = bufio.NewReader(stdout)
	c.readerDone = make(chan struct{})

	go c.readLoop()

	req := &dap.InitializeRequest{
		Request: c.newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:                     "debug-mediator",
			ClientName:                   "debug-mediator",
			AdapterID:                    c.adapter.AdapterID(),
			PathFormat:                   "path",
			LinesStartAt1:                true,
			ColumnsStartAt1:              true,
			SupportsVariableType:         true,
			SupportsVariablePaging:       false,
			SupportsRunInTerminalRequest: false,
		},
	}
	return c.sendRequest(req)
}

// Launch sends 'launch' and waits for the adapter's 'initialized'
// event. configurationDone is deferred until the first Continue call
// so that breakpoints are registered before the debuggee runs.
func (c *Client) Launch(ctx context.Context, program string) error {
	launchArgs, err := c.adapter.LaunchArgs(program, "")
	if err != nil {
		return err
	}
	argsJSON, err := marshalArgs(launchArgs)
	if err != nil {
		return fmt.Errorf("dapclient: marshal launch args: %w", err)
	}

	c.initialized = race.NewSignal[struct{}]()
	c.launchDone = make(chan error, 1)

	go func() {
		req := &dap.LaunchRequest{
			Request:   c.newRequest("launch"),
			Arguments: argsJSON,
		}
		_, err := c.sendRequest(req)
		c.launchDone <- err
	}()

	launchCtx, cancel := context.WithTimeout(ctx, timeoutLaunch)
	defer cancel()
	select {
	case <-c.initialized.Done():
		return nil
	case <-launchCtx.Done():
		return fmt.Errorf("dapclient: timed out waiting for 'initialized' event")
	}
}

func (c *Client) ensureConfigured(ctx context.Context) error {
	if c.configured.Swap(true) {
		return nil
	}
	req := &dap.ConfigurationDoneRequest{Request: c.newRequest("configurationDone")}
	if _, err := c.sendRequest(req); err != nil {
		return err
	}

	launchCtx, cancel := context.WithTimeout(ctx, timeoutLaunch)
	defer cancel()
	select {
	case err := <-c.launchDone:
		return err
	case <-launchCtx.Done():
		return fmt.Errorf("dapclient: timed out waiting for launch response")
	}
}

// Disconnect gracefully tears down the adapter, killing it if it does
// not exit within the disconnect grace period.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.cmd != nil && c.cmd.Process != nil && c.cmd.ProcessState == nil {
		disconnectCtx, cancel := context.WithTimeout(ctx, timeoutDisconnect)
		req := &dap.DisconnectRequest{
			Request:   c.newRequest("disconnect"),
			Arguments: &dap.DisconnectArguments{Restart: false, TerminateDebuggee: true},
		}
		_, _ = c.sendRequestCtx(disconnectCtx, req) // best-effort
		cancel()

		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(timeoutDisconnect):
			_ = c.cmd.Process.Kill()
			<-done
		}
	}

	if c.readerDone != nil {
		<-c.readerDone
	}
	c.failPending(fmt.Errorf("dapclient: connection closed"))
	return nil
}

// SetBreakpoints replaces all breakpoints for filePath.
func (c *Client) SetBreakpoints(filePath string, lines []int) (*dap.SetBreakpointsResponse, error) {
	bps := make([]dap.SourceBreakpoint, len(lines))
	for i, ln := range lines {
		bps[i] = dap.SourceBreakpoint{Line: ln}
	}
	req := &dap.SetBreakpointsRequest{
		Request: c.newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: filePath},
			Breakpoints: bps,
		},
	}
	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.SetBreakpointsResponse), nil
}

// Continue resumes execution and blocks until the next stop or
// termination. On the first call it sends configurationDone, which
// starts the debuggee (breakpoints must already be set).
func (c *Client) Continue(ctx context.Context, threadID int) (map[string]any, error) {
	c.stopped = race.NewSignal[map[string]any]()
	c.terminated = race.NewSignal[struct{}]()
	defer func() { c.stopped = nil; c.terminated = nil }()

	if !c.configured.Load() {
		if err := c.ensureConfigured(ctx); err != nil {
			return nil, err
		}
	} else {
		req := &dap.ContinueRequest{
			Request:   c.newRequest("continue"),
			Arguments: dap.ContinueArguments{ThreadId: threadID},
		}
		if _, err := c.sendRequest(req); err != nil {
			return nil, err
		}
	}
	return race.WaitStopOrTerminate(ctx, c.stopped, c.terminated, timeoutResume)
}

// Next steps over the current line.
func (c *Client) Next(ctx context.Context, threadID int) (map[string]any, error) {
	return c.stepRequest(ctx, &dap.NextRequest{
		Request:   c.newRequest("next"),
		Arguments: dap.NextArguments{ThreadId: threadID},
	})
}

// StepIn steps into the current call.
func (c *Client) StepIn(ctx context.Context, threadID int) (map[string]any, error) {
	return c.stepRequest(ctx, &dap.StepInRequest{
		Request:   c.newRequest("stepIn"),
		Arguments: dap.StepInArguments{ThreadId: threadID},
	})
}

func (c *Client) stepRequest(ctx context.Context, req dap.Message) (map[string]any, error) {
	c.stopped = race.NewSignal[map[string]any]()
	c.terminated = race.NewSignal[struct{}]()
	defer func() { c.stopped = nil; c.terminated = nil }()
	if _, err := c.sendRequest(req); err != nil {
		return nil, err
	}
	return race.WaitStopOrTerminate(ctx, c.stopped, c.terminated, timeoutResume)
}

// StackTrace returns the current call stack.
func (c *Client) StackTrace(threadID, levels int) (*dap.StackTraceResponse, error) {
	req := &dap.StackTraceRequest{
		Request: c.newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{
			ThreadId:   threadID,
			StartFrame: 0,
			Levels:     levels,
		},
	}
	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.StackTraceResponse), nil
}

// Scopes returns the scopes for a given frame.
func (c *Client) Scopes(frameID int) (*dap.ScopesResponse, error) {
	req := &dap.ScopesRequest{
		Request:   c.newRequest("scopes"),
		Arguments: dap.ScopesArguments{FrameId: frameID},
	}
	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.ScopesResponse), nil
}

// Variables returns variables for a variablesReference.
func (c *Client) Variables(variablesReference int) (*dap.VariablesResponse, error) {
	req := &dap.VariablesRequest{
		Request:   c.newRequest("variables"),
		Arguments: dap.VariablesArguments{VariablesReference: variablesReference},
	}
	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.VariablesResponse), nil
}

// Evaluate evaluates an expression, optionally in a given frame.
func (c *Client) Evaluate(expression string, frameID int, evalContext string) (*dap.EvaluateResponse, error) {
	req := &dap.EvaluateRequest{
		Request: c.newRequest("evaluate"),
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    evalContext,
		},
	}
	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.EvaluateResponse), nil
}

// Threads returns the active threads.
func (c *Client) Threads() (*dap.ThreadsResponse, error) {
	resp, err := c.sendRequest(&dap.ThreadsRequest{Request: c.newRequest("threads")})
	if err != nil {
		return nil, err
	}
	return resp.(*dap.ThreadsResponse), nil
}

// ------------------------------------------------------------------
// Protocol internals
// ------------------------------------------------------------------

func (c *Client) newRequest(command string) dap.Request {
	seq := atomic.AddInt64(&c.seq, 1)
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: int(seq), Type: "request"},
		Command:         command,
	}
}

func (c *Client) sendRequest(req dap.Message) (dap.Message, error) {
	return c.sendRequestCtx(context.Background(), req)
}

func (c *Client) sendRequestCtx(ctx context.Context, req dap.Message) (dap.Message, error) {
	seq := requestSeq(req)

	respCh := make(chan *dap.Response, 1)
	c.pendingMu.Lock()
	c.pending[seq] = respCh
	c.pendingMu.Unlock()

	c.mu.Lock()
	err := dap.WriteProtocolMessage(c.writer, req)
	c.mu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("dapclient: write request: %w", err)
	}

	logging.S().Debugf("-> DAP request seq=%d", seq)

	select {
	case resp := <-respCh:
		if !resp.Success {
			return nil, fmt.Errorf("dapclient: DAP error: %s", resp.Message)
		}
		return resp, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func requestSeq(req dap.Message) int {
	switch r := req.(type) {
	case *dap.InitializeRequest:
		return r.Seq
	case *dap.LaunchRequest:
		return r.Seq
	case *dap.SetBreakpointsRequest:
		return r.Seq
	case *dap.ConfigurationDoneRequest:
		return r.Seq
	case *dap.ContinueRequest:
		return r.Seq
	case *dap.NextRequest:
		return r.Seq
	case *dap.StepInRequest:
		return r.Seq
	case *dap.StepOutRequest:
		return r.Seq
	case *dap.ThreadsRequest:
		return r.Seq
	case *dap.StackTraceRequest:
		return r.Seq
	case *dap.ScopesRequest:
		return r.Seq
	case *dap.VariablesRequest:
		return r.Seq
	case *dap.EvaluateRequest:
		return r.Seq
	case *dap.DisconnectRequest:
		return r.Seq
	default:
		return 0
	}
}

func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		msg, err := dap.ReadProtocolMessage(c.reader)
		if err != nil {
			break
		}
		c.handleMessage(msg)
	}
	c.failPending(fmt.Errorf("dapclient: adapter connection lost"))
}

func (c *Client) handleMessage(msg dap.Message) {
	switch m := msg.(type) {
	case dap.ResponseMessage:
		resp := m.GetResponse()
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.RequestSeq]
		if ok {
			delete(c.pending, resp.RequestSeq)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}

	case *dap.InitializedEvent:
		if c.initialized != nil {
			c.initialized.Fulfil(struct{}{})
		}

	case *dap.StoppedEvent:
		if c.stopped != nil {
			c.stopped.Fulfil(stoppedBody(m))
		}

	case *dap.TerminatedEvent:
		if c.terminated != nil {
			c.terminated.Fulfil(struct{}{})
		}

	case *dap.OutputEvent:
		if m.Body.Category == "stdout" || m.Body.Category == "stderr" || m.Body.Category == "console" {
			c.outputMu.Lock()
			c.OutputLines = append(c.OutputLines, m.Body.Output)
			c.outputMu.Unlock()
		}
	}
}

func stoppedBody(m *dap.StoppedEvent) map[string]any {
	return map[string]any{
		"reason":   m.Body.Reason,
		"threadId": m.Body.ThreadId,
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for seq, ch := range c.pending {
		ch <- &dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Type: "response"},
			Success:         false,
			Message:         err.Error(),
		}
		delete(c.pending, seq)
	}
}
