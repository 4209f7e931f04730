// Package daemon implements the TCP daemon that keeps a debug session
// alive across separate skill-script CLI invocations. Launched by a
// skill script's first command; subsequent commands talk to it over
// 127.0.0.1.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vajrock/debug-mediator/internal/logging"
	"github.com/vajrock/debug-mediator/internal/session"
)

const commandTimeout = 120 * time.Second

// Server is a TCP server wrapping a live *session.Session.
type Server struct {
	session *session.Session
}

// New wraps an already-started session.
func New(s *session.Session) *Server {
	return &Server{session: s}
}

// StartAndServe binds to 127.0.0.1:port (0 picks a free port), passes
// the bound port to ready (the caller prints the {"ready":true,"port":N}
// banner), and serves commands until the context is cancelled or a
// "stop" command arrives.
func (s *Server) StartAndServe(ctx context.Context, port int, ready func(addr int)) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("daemon: listen: %w", err)
	}
	defer listener.Close()

	actualPort := listener.Addr().(*net.TCPAddr).Port
	if ready != nil {
		ready(actualPort)
	}

	var closeOnce sync.Once
	shutdown := make(chan struct{})
	stopServer := func() {
		closeOnce.Do(func() {
			close(shutdown)
			_ = listener.Close()
		})
	}
	go func() {
		<-ctx.Done()
		stopServer()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-shutdown:
				return nil
			default:
				return fmt.Errorf("daemon: accept: %w", err)
			}
		}
		go s.handleClient(ctx, conn, stopServer)
	}
}

func (s *Server) handleClient(ctx context.Context, conn net.Conn, stopServer func()) {
	defer conn.Close()

	connID := uuid.NewString()
	log := logging.S().With("conn_id", connID)

	_ = conn.SetReadDeadline(time.Now().Add(commandTimeout))

	reader := bufio.NewReader(conn)
	raw, err := reader.ReadBytes('\n')
	if len(raw) == 0 {
		if err != nil {
			log.Debugf("read command: %v", err)
			writeError(conn, fmt.Errorf("daemon: read command: %w", err))
		}
		return
	}

	var cmd map[string]any
	if err := json.Unmarshal(raw, &cmd); err != nil {
		writeError(conn, fmt.Errorf("daemon: malformed command: %w", err))
		return
	}

	action, _ := cmd["action"].(string)
	log.Infof("dispatching action=%s", action)

	result, stop, err := s.dispatchSafe(ctx, cmd)
	if err != nil {
		writeError(conn, err)
		return
	}
	writeResult(conn, result)

	if stop {
		_ = s.session.Stop(ctx)
		stopServer()
	}
}

// dispatchSafe recovers from a panic inside dispatch so a single
// malformed command never takes the daemon down.
func (s *Server) dispatchSafe(ctx context.Context, cmd map[string]any) (result string, stop bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("daemon: dispatch panic: %v", r)
		}
	}()
	result, stop = s.dispatch(ctx, cmd)
	return result, stop, nil
}

// dispatch executes one daemon command. The second return value is
// true only for "stop", signalling the caller to begin shutdown.
func (s *Server) dispatch(ctx context.Context, cmd map[string]any) (string, bool) {
	action, _ := cmd["action"].(string)

	switch action {
	case "breakpoint":
		file, _ := cmd["file"].(string)
		line, _ := cmd["line"].(float64)
		return s.session.AddBreakpoint(ctx, file, int(line)), false

	case "resume":
		return s.session.Resume(ctx), false

	case "step":
		stepAction, _ := cmd["step_action"].(string)
		if stepAction == "" {
			stepAction = "next"
		}
		return s.session.Step(ctx, stepAction), false

	case "inspect":
		expr, _ := cmd["expression"].(string)
		return s.session.Inspect(ctx, expr), false

	case "variables":
		return s.session.GetLocalVariables(ctx), false

	case "stack":
		return s.session.GetStack(), false

	case "stop":
		return "Debug session ended.", true

	default:
		return fmt.Sprintf("Unknown daemon action: %s", action), false
	}
}

func writeResult(conn net.Conn, result string) {
	payload, err := json.Marshal(map[string]string{"result": result})
	if err != nil {
		logging.S().Warnf("daemon: marshal result: %v", err)
		return
	}
	_, _ = conn.Write(append(payload, '\n'))
}

func writeError(conn net.Conn, err error) {
	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return
	}
	_, _ = conn.Write(append(payload, '\n'))
}
