package main

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vajrock/debug-mediator/internal/session"
)

// registerTools registers the debug mediation tools with the MCP server.
// The server keeps a single in-memory *session.Session for the life of
// the process; the MCP client is expected to call start before any
// other tool and stop when finished.
func registerTools(server *mcp.Server) {
	sess := session.New()

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start",
		Description: "Start a debugging session for a py-runtime or js-runtime program. Must be called before any other tool.",
	}, toolStart(sess))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "stop",
		Description: "End the debugging session and release the debuggee process.",
	}, toolStop(sess))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_breakpoint",
		Description: "Set a breakpoint at file:line.",
	}, toolAddBreakpoint(sess))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "resume",
		Description: "Continue execution until the next breakpoint or termination.",
	}, toolResume(sess))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "step",
		Description: "Step through code. Action: 'next' (step over) or 'step_in' (step into).",
	}, toolStep(sess))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "inspect",
		Description: "Evaluate an expression in the current top stack frame.",
	}, toolInspect(sess))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_stack",
		Description: "Get the current stack trace as formatted text.",
	}, toolGetStack(sess))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_local_variables",
		Description: "Get local variables of the current top stack frame.",
	}, toolGetLocalVariables(sess))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "probe",
		Description: "One-shot: start the program, break at file:line, capture stack and locals, then stop.",
	}, toolProbe(sess))
}

// StartParams defines the parameters for starting a debug session.
type StartParams struct {
	Program  string `json:"program" mcp:"path to the program to debug"`
	Language string `json:"language" mcp:"'py-runtime' or 'js-runtime'"`
}

// StopParams defines the parameters for stopping a debug session.
type StopParams struct{}

// AddBreakpointParams defines the parameters for setting a breakpoint.
type AddBreakpointParams struct {
	File string `json:"file" mcp:"source file path"`
	Line int    `json:"line" mcp:"line number"`
}

// ResumeParams defines the parameters for resuming execution.
type ResumeParams struct{}

// StepParams defines the parameters for stepping through code.
type StepParams struct {
	Action string `json:"action,omitempty" mcp:"'next' (step over, default) or 'step_in' (step into)"`
}

// InspectParams defines the parameters for evaluating an expression.
type InspectParams struct {
	Expression string `json:"expression" mcp:"expression to evaluate in the current frame"`
}

// GetStackParams defines the parameters for fetching the stack trace.
type GetStackParams struct{}

// GetLocalVariablesParams defines the parameters for fetching local variables.
type GetLocalVariablesParams struct{}

// ProbeParams defines the parameters for a one-shot probe.
type ProbeParams struct {
	Program  string `json:"program" mcp:"path to the program to debug"`
	File     string `json:"file" mcp:"source file path for the breakpoint"`
	Line     int    `json:"line" mcp:"line number for the breakpoint"`
	Language string `json:"language" mcp:"'py-runtime' or 'js-runtime'"`
}

func textResult(text string) (*mcp.CallToolResultFor[any], error) {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil
}

func toolStart(sess *session.Session) func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[StartParams]) (*mcp.CallToolResultFor[any], error) {
	return func(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[StartParams]) (*mcp.CallToolResultFor[any], error) {
		return textResult(sess.Start(ctx, params.Arguments.Program, params.Arguments.Language))
	}
}

func toolStop(sess *session.Session) func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[StopParams]) (*mcp.CallToolResultFor[any], error) {
	return func(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[StopParams]) (*mcp.CallToolResultFor[any], error) {
		return textResult(sess.Stop(ctx))
	}
}

func toolAddBreakpoint(sess *session.Session) func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[AddBreakpointParams]) (*mcp.CallToolResultFor[any], error) {
	return func(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[AddBreakpointParams]) (*mcp.CallToolResultFor[any], error) {
		return textResult(sess.AddBreakpoint(ctx, params.Arguments.File, params.Arguments.Line))
	}
}

func toolResume(sess *session.Session) func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[ResumeParams]) (*mcp.CallToolResultFor[any], error) {
	return func(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[ResumeParams]) (*mcp.CallToolResultFor[any], error) {
		return textResult(sess.Resume(ctx))
	}
}

func toolStep(sess *session.Session) func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[StepParams]) (*mcp.CallToolResultFor[any], error) {
	return func(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[StepParams]) (*mcp.CallToolResultFor[any], error) {
		action := params.Arguments.Action
		if action == "" {
			action = "next"
		}
		return textResult(sess.Step(ctx, action))
	}
}

func toolInspect(sess *session.Session) func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[InspectParams]) (*mcp.CallToolResultFor[any], error) {
	return func(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[InspectParams]) (*mcp.CallToolResultFor[any], error) {
		return textResult(sess.Inspect(ctx, params.Arguments.Expression))
	}
}

func toolGetStack(sess *session.Session) func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[GetStackParams]) (*mcp.CallToolResultFor[any], error) {
	return func(_ context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[GetStackParams]) (*mcp.CallToolResultFor[any], error) {
		return textResult(sess.GetStack())
	}
}

func toolGetLocalVariables(sess *session.Session) func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[GetLocalVariablesParams]) (*mcp.CallToolResultFor[any], error) {
	return func(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[GetLocalVariablesParams]) (*mcp.CallToolResultFor[any], error) {
		return textResult(sess.GetLocalVariables(ctx))
	}
}

func toolProbe(sess *session.Session) func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[ProbeParams]) (*mcp.CallToolResultFor[any], error) {
	return func(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ProbeParams]) (*mcp.CallToolResultFor[any], error) {
		p := params.Arguments
		return textResult(sess.Probe(ctx, p.Program, p.File, p.Line, p.Language))
	}
}
