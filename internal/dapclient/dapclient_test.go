package dapclient

import (
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajrock/debug-mediator/internal/race"
)

type fakeDescriptor struct{}

func (fakeDescriptor) AdapterID() string     { return "fake" }
func (fakeDescriptor) SpawnCommand() []string { return []string{"fake-adapter"} }
func (fakeDescriptor) LaunchArgs(program, cwd string) (map[string]any, error) {
	return map[string]any{"program": program}, nil
}

func TestNew_StartsWithEmptyPendingTable(t *testing.T) {
	c := New(fakeDescriptor{})
	assert.NotNil(t, c.pending)
	assert.Empty(t, c.pending)
}

func TestNewRequest_SeqIncrements(t *testing.T) {
	c := New(fakeDescriptor{})
	first := c.newRequest("initialize")
	second := c.newRequest("launch")
	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, 2, second.Seq)
}

func TestRequestSeq_KnownAndUnknownTypes(t *testing.T) {
	req := &dap.InitializeRequest{Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 7}}}
	assert.Equal(t, 7, requestSeq(req))

	assert.Equal(t, 0, requestSeq(&dap.InitializeResponse{}))
}

func TestStoppedBody_MapsReasonAndThreadID(t *testing.T) {
	evt := &dap.StoppedEvent{Body: dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1}}
	body := stoppedBody(evt)
	assert.Equal(t, "breakpoint", body["reason"])
	assert.Equal(t, 1, body["threadId"])
}

func TestFailPending_DeliversErrorToAllAndClearsTable(t *testing.T) {
	c := New(fakeDescriptor{})
	ch1 := make(chan *dap.Response, 1)
	ch2 := make(chan *dap.Response, 1)
	c.pending[1] = ch1
	c.pending[2] = ch2

	c.failPending(assert.AnError)

	assert.Empty(t, c.pending)

	resp1 := <-ch1
	require.False(t, resp1.Success)
	assert.Equal(t, assert.AnError.Error(), resp1.Message)

	resp2 := <-ch2
	require.False(t, resp2.Success)
}

func TestHandleMessage_ResponseDeliveredToPendingChannel(t *testing.T) {
	c := New(fakeDescriptor{})
	ch := make(chan *dap.Response, 1)
	c.pending[5] = ch

	// dap.ReadProtocolMessage never produces a bare *dap.Response; it
	// decodes into the concrete typed response for the request (here
	// *dap.SetBreakpointsResponse), which implements dap.ResponseMessage.
	c.handleMessage(&dap.SetBreakpointsResponse{
		Response: dap.Response{RequestSeq: 5, Success: true},
	})

	resp := <-ch
	assert.True(t, resp.Success)
	assert.Empty(t, c.pending)
}

func TestHandleMessage_ErrorResponseDeliveredToPendingChannel(t *testing.T) {
	c := New(fakeDescriptor{})
	ch := make(chan *dap.Response, 1)
	c.pending[6] = ch

	c.handleMessage(&dap.ErrorResponse{
		Response: dap.Response{RequestSeq: 6, Success: false, Message: "breakpoint out of range"},
	})

	resp := <-ch
	assert.False(t, resp.Success)
	assert.Equal(t, "breakpoint out of range", resp.Message)
}

func TestHandleMessage_ResponseForUnknownSeqIsDropped(t *testing.T) {
	c := New(fakeDescriptor{})
	// Must not panic or block when no pending request matches.
	c.handleMessage(&dap.SetBreakpointsResponse{
		Response: dap.Response{RequestSeq: 999, Success: true},
	})
}

func TestHandleMessage_StoppedEventIgnoredWithoutActiveSignal(t *testing.T) {
	c := New(fakeDescriptor{})
	// c.stopped is nil until Continue/Next/StepIn is called; must not panic.
	c.handleMessage(&dap.StoppedEvent{Body: dap.StoppedEventBody{Reason: "breakpoint"}})
}

func TestHandleMessage_StoppedEventFulfilsActiveSignal(t *testing.T) {
	c := New(fakeDescriptor{})
	c.stopped = race.NewSignal[map[string]any]()

	c.handleMessage(&dap.StoppedEvent{Body: dap.StoppedEventBody{Reason: "step", ThreadId: 1}})

	select {
	case <-c.stopped.Done():
	default:
		t.Fatal("expected stopped signal to be fulfilled")
	}
}

func TestHandleMessage_TerminatedEventFulfilsActiveSignal(t *testing.T) {
	c := New(fakeDescriptor{})
	c.terminated = race.NewSignal[struct{}]()

	c.handleMessage(&dap.TerminatedEvent{})

	select {
	case <-c.terminated.Done():
	default:
		t.Fatal("expected terminated signal to be fulfilled")
	}
}

func TestHandleMessage_OutputEventCollectsStdoutAndStderr(t *testing.T) {
	c := New(fakeDescriptor{})
	c.handleMessage(&dap.OutputEvent{Body: dap.OutputEventBody{Category: "stdout", Output: "hello\n"}})
	c.handleMessage(&dap.OutputEvent{Body: dap.OutputEventBody{Category: "stderr", Output: "warn\n"}})
	c.handleMessage(&dap.OutputEvent{Body: dap.OutputEventBody{Category: "telemetry", Output: "ignored\n"}})

	assert.Equal(t, []string{"hello\n", "warn\n"}, c.OutputLines)
}
