// Package session implements the debug session orchestrator: the
// single entry point consumed by both the MCP tool server (in-memory,
// long-lived) and the daemon (file-backed, reconnecting across CLI
// invocations). All public methods return plain-text strings ready to
// hand to a language model; errors always begin with "Error".
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vajrock/debug-mediator/internal/adapter"
	"github.com/vajrock/debug-mediator/internal/cdpclient"
	"github.com/vajrock/debug-mediator/internal/dapclient"
	"github.com/vajrock/debug-mediator/internal/formatter"
	"github.com/vajrock/debug-mediator/internal/logging"
)

// Languages that use CDP (direct js-runtime inspector, zero deps).
var cdpLanguages = map[string]bool{"js-runtime": true}

// Languages that use DAP (external debug adapter).
var dapLanguages = map[string]bool{"py-runtime": true}

func allLanguages() []string {
	out := make([]string, 0, len(cdpLanguages)+len(dapLanguages))
	for lang := range cdpLanguages {
		out = append(out, lang)
	}
	for lang := range dapLanguages {
		out = append(out, lang)
	}
	return out
}

// backend is the unified contract Session drives, regardless of
// whether the concrete client speaks DAP or CDP.
type backend interface {
	SetBreakpoints(ctx context.Context, filePath string, lines []int) (map[string]any, error)
	Continue(ctx context.Context) (map[string]any, error)
	Next(ctx context.Context) (map[string]any, error)
	StepIn(ctx context.Context) (map[string]any, error)
	StackTrace() map[string]any
	Scopes(frameID int) map[string]any
	Variables(ctx context.Context, variablesReference int) (map[string]any, error)
	Evaluate(ctx context.Context, expression string, frameID int) (map[string]any, error)
	Disconnect(ctx context.Context) error
}

// Session manages a single debug session against either backend.
type Session struct {
	client      backend
	language    string
	program     string
	breakpoints map[string][]int // absolute file path -> lines
	persistFile string
}

// New creates an empty, in-memory session (used by the MCP server).
func New() *Session {
	return &Session{breakpoints: make(map[string][]int)}
}

// FromFileOrNew restores a session from persistFile, or creates a
// fresh one if it does not exist or cannot be parsed.
func FromFileOrNew(language, persistFile string) *Session {
	s := New()
	abs, err := filepath.Abs(persistFile)
	if err != nil {
		abs = persistFile
	}
	s.persistFile = abs

	if doc, ok := loadPersisted(abs); ok {
		s.language = doc.Language
		s.program = doc.Program
		s.breakpoints = doc.Breakpoints
		if s.breakpoints == nil {
			s.breakpoints = make(map[string][]int)
		}
		logging.S().Infof("restored session from %s", abs)
	}

	if language != "" {
		s.language = language
	}
	return s
}

// guard recovers from a panic inside any public Session method and
// renders it as an "Error: ..." string instead of letting it cross
// the method boundary, matching the orchestrator's propagation policy.
func guard(fn func() string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			logging.S().Errorf("session: recovered panic: %v", r)
			result = fmt.Sprintf("Error: internal error: %v", r)
		}
	}()
	return fn()
}

// Start launches the debugger for program. Returns a status string.
func (s *Session) Start(ctx context.Context, program, language string) string {
	return guard(func() string { return s.start(ctx, program, language) })
}

func (s *Session) start(ctx context.Context, program, language string) string {
	lang := language
	if lang == "" {
		lang = s.language
	}
	if lang == "" {
		return "Error: language must be specified (py-runtime | js-runtime)"
	}
	if !cdpLanguages[lang] && !dapLanguages[lang] {
		return fmt.Sprintf("Error: unsupported language '%s'. Choose: %s", lang, strings.Join(allLanguages(), ", "))
	}

	var client backend
	if cdpLanguages[lang] {
		client = cdpclient.New()
	} else {
		desc, err := adapter.NewPythonDescriptor("")
		if err != nil {
			return fmt.Sprintf("Error launching debugger: %v", err)
		}
		client = dapAdapterClient{dapclient.New(desc)}
	}

	s.client = client
	s.language = lang
	absProgram, err := filepath.Abs(program)
	if err != nil {
		return fmt.Sprintf("Error launching debugger: %v", err)
	}
	s.program = absProgram
	s.breakpoints = make(map[string][]int)

	if err := startClient(ctx, client, absProgram); err != nil {
		return fmt.Sprintf("Error launching debugger: %v", err)
	}

	s.save()
	return fmt.Sprintf("Debugger started for %s (%s). Ready for breakpoints.", filepath.Base(program), lang)
}

// Stop disconnects and cleans up.
func (s *Session) Stop(ctx context.Context) string {
	return guard(func() string { return s.stop(ctx) })
}

func (s *Session) stop(ctx context.Context) string {
	if s.client != nil {
		_ = s.client.Disconnect(ctx)
		s.client = nil
	}
	s.deletePersisted()
	return "Debug session ended."
}

// AddBreakpoint sets a breakpoint at file:line.
func (s *Session) AddBreakpoint(ctx context.Context, file string, line int) string {
	return guard(func() string { return s.addBreakpoint(ctx, file, line) })
}

func (s *Session) addBreakpoint(ctx context.Context, file string, line int) string {
	if s.client == nil {
		return "Error: no active debug session. Call start() first."
	}

	absFile, err := filepath.Abs(file)
	if err != nil {
		return fmt.Sprintf("Error setting breakpoint: %v", err)
	}
	existing := s.breakpoints[absFile]
	if !containsInt(existing, line) {
		existing = append(existing, line)
	}
	s.breakpoints[absFile] = existing

	resp, err := s.client.SetBreakpoints(ctx, absFile, existing)
	if err != nil {
		return fmt.Sprintf("Error setting breakpoint: %v", err)
	}

	bps, _ := resp["breakpoints"].([]map[string]any)
	verified := 0
	for _, bp := range bps {
		if v, _ := bp["verified"].(bool); v {
			verified++
		}
	}
	status := "pending"
	if len(bps) > 0 && verified == len(bps) {
		status = "verified"
	}

	s.save()
	return fmt.Sprintf("Breakpoint at %s:%d (%s)", filepath.Base(absFile), line, status)
}

// Resume continues execution until the next breakpoint or termination.
func (s *Session) Resume(ctx context.Context) string {
	return guard(func() string { return s.resume(ctx) })
}

func (s *Session) resume(ctx context.Context) string {
	if s.client == nil {
		return "Error: no active debug session."
	}
	stopInfo, err := s.client.Continue(ctx)
	if err != nil {
		return resumeErrorText(err, "resumed")
	}
	return s.describeStop(ctx, stopInfo)
}

// Step steps over ("next") or into ("step_in") the current line.
func (s *Session) Step(ctx context.Context, action string) string {
	return guard(func() string { return s.step(ctx, action) })
}

func (s *Session) step(ctx context.Context, action string) string {
	if s.client == nil {
		return "Error: no active debug session."
	}

	var stopInfo map[string]any
	var err error
	if action == "step_in" {
		stopInfo, err = s.client.StepIn(ctx)
	} else {
		stopInfo, err = s.client.Next(ctx)
	}
	if err != nil {
		return resumeErrorText(err, "stepped")
	}
	return s.describeStop(ctx, stopInfo)
}

// Inspect evaluates expression in the current top frame.
func (s *Session) Inspect(ctx context.Context, expression string) string {
	return guard(func() string { return s.inspect(ctx, expression) })
}

func (s *Session) inspect(ctx context.Context, expression string) string {
	if s.client == nil {
		return "Error: no active debug session."
	}

	frameID, ok := s.topFrameID()
	if !ok {
		return "Error: could not determine current frame."
	}

	resp, err := s.client.Evaluate(ctx, expression, frameID)
	if err != nil {
		return fmt.Sprintf("Error evaluating '%s': %v", expression, err)
	}

	result := fmt.Sprintf("%v", resp["result"])
	varType, _ := resp["type"].(string)
	if varType != "" {
		return fmt.Sprintf("(%s) %s", varType, result)
	}
	return result
}

// GetStack returns the current stack trace as formatted text.
func (s *Session) GetStack() string {
	return guard(func() string {
		if s.client == nil {
			return "Error: no active debug session."
		}
		resp := s.client.StackTrace()
		frames := toFrames(resp["stackFrames"])
		return formatter.StackTrace(frames)
	})
}

// GetLocalVariables returns local variables of the top frame as formatted text.
func (s *Session) GetLocalVariables(ctx context.Context) string {
	return guard(func() string {
		if s.client == nil {
			return "Error: no active debug session."
		}
		return formatter.Variables(s.fetchLocals(ctx))
	})
}

// Probe is a one-shot: start, break at line, dump state, stop.
func (s *Session) Probe(ctx context.Context, program, file string, line int, language string) string {
	return guard(func() string { return s.probe(ctx, program, file, line, language) })
}

func (s *Session) probe(ctx context.Context, program, file string, line int, language string) string {
	startMsg := s.Start(ctx, program, language)
	if strings.HasPrefix(startMsg, "Error") {
		return startMsg
	}

	bpMsg := s.AddBreakpoint(ctx, file, line)
	if strings.HasPrefix(bpMsg, "Error") {
		s.Stop(ctx)
		return bpMsg
	}

	stopInfo := s.Resume(ctx)
	if strings.Contains(stopInfo, "Error") || strings.Contains(strings.ToLower(stopInfo), "no breakpoint") {
		s.Stop(ctx)
		return stopInfo
	}

	frames := toFrames(s.client.StackTrace()["stackFrames"])
	localVars := s.fetchLocals(ctx)

	s.Stop(ctx)

	reason := "breakpoint"
	if idx := strings.Index(stopInfo, "("); idx >= 0 {
		if end := strings.Index(stopInfo[idx:], ")"); end >= 0 {
			reason = stopInfo[idx+1 : idx+end]
		}
	}

	absFile, _ := filepath.Abs(file)
	return formatter.ProbeResult(absFile, line, frames, localVars, reason)
}

// ------------------------------------------------------------------
// Internal helpers
// ------------------------------------------------------------------

func (s *Session) topFrameID() (int, bool) {
	if s.client == nil {
		return 0, false
	}
	resp := s.client.StackTrace()
	frames, _ := resp["stackFrames"].([]map[string]any)
	if len(frames) == 0 {
		return 0, false
	}
	id, _ := frames[0]["id"].(int)
	return id, true
}

func (s *Session) fetchLocals(ctx context.Context) []formatter.Variable {
	if s.client == nil {
		return nil
	}
	frameID, ok := s.topFrameID()
	if !ok {
		return nil
	}

	scopesResp := s.client.Scopes(frameID)
	scopes, _ := scopesResp["scopes"].([]map[string]any)
	if len(scopes) == 0 {
		return nil
	}

	var localScope map[string]any
	for _, sc := range scopes {
		name, _ := sc["name"].(string)
		if strings.EqualFold(name, "locals") || strings.EqualFold(name, "local") {
			localScope = sc
			break
		}
	}
	if localScope == nil {
		localScope = scopes[0]
	}

	ref, _ := localScope["variablesReference"].(int)
	varsResp, err := s.client.Variables(ctx, ref)
	if err != nil {
		return nil
	}
	return toVariables(varsResp["variables"])
}

func (s *Session) describeStop(ctx context.Context, stopInfo map[string]any) string {
	reason, _ := stopInfo["reason"].(string)
	if reason == "" {
		reason = "unknown"
	}

	if s.client != nil {
		resp := s.client.StackTrace()
		frames, _ := resp["stackFrames"].([]map[string]any)
		if len(frames) > 0 {
			top := frames[0]
			source, _ := top["source"].(map[string]any)
			filePath, _ := source["path"].(string)
			if filePath == "" {
				filePath, _ = source["name"].(string)
			}
			line, _ := top["line"].(int)
			return formatter.StoppedAt(filePath, line, reason)
		}
	}
	return fmt.Sprintf("Stopped (%s).", reason)
}

func resumeErrorText(err error, verb string) string {
	if strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "timeout") {
		return fmt.Sprintf("Execution %s but no breakpoint hit within 30 s.", verb)
	}
	return fmt.Sprintf("Error %s: %v", verb, err)
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func toFrames(raw any) []formatter.Frame {
	items, _ := raw.([]map[string]any)
	frames := make([]formatter.Frame, 0, len(items))
	for _, item := range items {
		name, _ := item["name"].(string)
		source, _ := item["source"].(map[string]any)
		path, _ := source["path"].(string)
		if path == "" {
			path, _ = source["name"].(string)
		}
		line, _ := item["line"].(int)
		frames = append(frames, formatter.Frame{Name: name, Path: path, Line: line})
	}
	return frames
}

func toVariables(raw any) []formatter.Variable {
	items, _ := raw.([]map[string]any)
	vars := make([]formatter.Variable, 0, len(items))
	for _, item := range items {
		name, _ := item["name"].(string)
		value, _ := item["value"].(string)
		varType, _ := item["type"].(string)
		vars = append(vars, formatter.Variable{Name: name, Value: value, Type: varType})
	}
	return vars
}

// dapAdapterClient adapts *dapclient.Client's richer, threadId-aware
// methods to the session package's narrower backend interface (thread
// 1 is the only thread supported, matching dapclient's defaults and
// cdpclient's single-threaded js-runtime model).
type dapAdapterClient struct {
	*dapclient.Client
}

func (d dapAdapterClient) SetBreakpoints(_ context.Context, filePath string, lines []int) (map[string]any, error) {
	resp, err := d.Client.SetBreakpoints(filePath, lines)
	if err != nil {
		return nil, err
	}
	bps := make([]map[string]any, 0, len(resp.Body.Breakpoints))
	for _, bp := range resp.Body.Breakpoints {
		bps = append(bps, map[string]any{"verified": bp.Verified, "line": bp.Line})
	}
	return map[string]any{"breakpoints": bps}, nil
}

func (d dapAdapterClient) Continue(ctx context.Context) (map[string]any, error) {
	return d.Client.Continue(ctx, 1)
}

func (d dapAdapterClient) Next(ctx context.Context) (map[string]any, error) {
	return d.Client.Next(ctx, 1)
}

func (d dapAdapterClient) StepIn(ctx context.Context) (map[string]any, error) {
	return d.Client.StepIn(ctx, 1)
}

func (d dapAdapterClient) StackTrace() map[string]any {
	resp, err := d.Client.StackTrace(1, 20)
	if err != nil {
		return map[string]any{"stackFrames": []map[string]any{}}
	}
	frames := make([]map[string]any, 0, len(resp.Body.StackFrames))
	for _, f := range resp.Body.StackFrames {
		frames = append(frames, map[string]any{
			"id":   f.Id,
			"name": f.Name,
			"source": map[string]any{
				"path": f.Source.Path,
				"name": f.Source.Name,
			},
			"line":   f.Line,
			"column": f.Column,
		})
	}
	return map[string]any{"stackFrames": frames}
}

func (d dapAdapterClient) Scopes(frameID int) map[string]any {
	resp, err := d.Client.Scopes(frameID)
	if err != nil {
		return map[string]any{"scopes": []map[string]any{}}
	}
	scopes := make([]map[string]any, 0, len(resp.Body.Scopes))
	for _, sc := range resp.Body.Scopes {
		scopes = append(scopes, map[string]any{
			"name":               sc.Name,
			"variablesReference": sc.VariablesReference,
			"expensive":          sc.Expensive,
		})
	}
	return map[string]any{"scopes": scopes}
}

func (d dapAdapterClient) Variables(_ context.Context, variablesReference int) (map[string]any, error) {
	resp, err := d.Client.Variables(variablesReference)
	if err != nil {
		return nil, err
	}
	vars := make([]map[string]any, 0, len(resp.Body.Variables))
	for _, v := range resp.Body.Variables {
		vars = append(vars, map[string]any{
			"name":               v.Name,
			"value":              v.Value,
			"type":               v.Type,
			"variablesReference": v.VariablesReference,
		})
	}
	return map[string]any{"variables": vars}, nil
}

func (d dapAdapterClient) Evaluate(_ context.Context, expression string, frameID int) (map[string]any, error) {
	resp, err := d.Client.Evaluate(expression, frameID, "repl")
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": resp.Body.Result, "type": resp.Body.Type}, nil
}

func (d dapAdapterClient) Disconnect(ctx context.Context) error {
	return d.Client.Disconnect(ctx)
}

func startClient(ctx context.Context, client backend, absProgram string) error {
	switch c := client.(type) {
	case *cdpclient.Client:
		return c.Launch(ctx, absProgram)
	case dapAdapterClient:
		if _, err := c.Client.Start(ctx); err != nil {
			return err
		}
		return c.Client.Launch(ctx, absProgram)
	default:
		return fmt.Errorf("session: unknown backend type %T", client)
	}
}
