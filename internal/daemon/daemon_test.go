package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajrock/debug-mediator/internal/session"
)

func TestDispatch_UnknownAction(t *testing.T) {
	s := New(session.New())
	result, stop := s.dispatch(context.Background(), map[string]any{"action": "frobnicate"})
	assert.False(t, stop)
	assert.Equal(t, "Unknown daemon action: frobnicate", result)
}

func TestDispatch_StopSignalsShutdown(t *testing.T) {
	s := New(session.New())
	result, stop := s.dispatch(context.Background(), map[string]any{"action": "stop"})
	assert.True(t, stop)
	assert.Equal(t, "Debug session ended.", result)
}

func TestDispatch_BreakpointWithoutActiveSession(t *testing.T) {
	s := New(session.New())
	result, stop := s.dispatch(context.Background(), map[string]any{
		"action": "breakpoint",
		"file":   "app.py",
		"line":   float64(3),
	})
	assert.False(t, stop)
	assert.Contains(t, result, "no active debug session")
}

func TestDispatch_StepWithoutActiveSession(t *testing.T) {
	s := New(session.New())
	result, stop := s.dispatch(context.Background(), map[string]any{"action": "step"})
	assert.False(t, stop)
	assert.Contains(t, result, "no active debug session")
}

func TestDispatchSafe_ForwardsNormalResult(t *testing.T) {
	s := New(session.New())
	result, stop, err := s.dispatchSafe(context.Background(), map[string]any{"action": "stack"})
	require.NoError(t, err)
	assert.False(t, stop)
	assert.Contains(t, result, "no active debug session")
}

func TestStartAndServe_RoundTripAndGracefulStop(t *testing.T) {
	s := New(session.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readyCh := make(chan int, 1)
	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- s.StartAndServe(ctx, 0, func(port int) { readyCh <- port })
	}()

	var port int
	select {
	case port = <-readyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn.Close()

	sendCmd(t, conn, map[string]any{"action": "stack"})
	resp := readResp(t, conn)
	assert.Contains(t, resp["result"], "no active debug session")

	conn2, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn2.Close()

	sendCmd(t, conn2, map[string]any{"action": "stop"})
	resp2 := readResp(t, conn2)
	assert.Equal(t, "Debug session ended.", resp2["result"])

	select {
	case err := <-serveErrCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down after stop command")
	}
}

func TestStartAndServe_MalformedCommandReturnsError(t *testing.T) {
	s := New(session.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readyCh := make(chan int, 1)
	go func() { _ = s.StartAndServe(ctx, 0, func(port int) { readyCh <- port }) }()

	var port int
	select {
	case port = <-readyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	resp := readResp(t, conn)
	assert.Contains(t, resp["error"], "malformed command")
}

func sendCmd(t *testing.T, conn net.Conn, cmd map[string]any) {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)
}

func readResp(t *testing.T, conn net.Conn) map[string]string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}
