// Command debugger-daemon keeps a single debug session alive in the
// background so that separate skill-script CLI invocations can share
// one live debugpy/node inspector connection across many commands.
//
// Started by an external launcher (a skill script), which reads the
// readiness banner from stdout; not intended to be run by hand.
//
//	debugger-daemon --port PORT --language LANG --program FILE [--session-file PATH]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vajrock/debug-mediator/internal/daemon"
	"github.com/vajrock/debug-mediator/internal/logging"
	"github.com/vajrock/debug-mediator/internal/session"
)

const defaultSessionFile = ".debug_session.json"

func main() {
	port := flag.Int("port", 0, "TCP port to bind (0 picks a free port)")
	language := flag.String("language", "", "py-runtime | js-runtime")
	program := flag.String("program", "", "path to the program to debug")
	sessionFile := flag.String("session-file", defaultSessionFile, "path to the session persistence file")
	flag.Parse()

	logging.Init()
	defer logging.Sync()

	if *language == "" || *program == "" {
		fail(fmt.Errorf("daemon: --language and --program are required"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess := session.FromFileOrNew(*language, *sessionFile)

	startMsg := sess.Start(ctx, *program, *language)
	if strings.HasPrefix(startMsg, "Error") {
		fail(fmt.Errorf("%s", startMsg))
	}

	server := daemon.New(sess)
	ready := func(actualPort int) {
		emit(map[string]any{"ready": true, "port": actualPort})
	}

	err := server.StartAndServe(ctx, *port, ready)
	sess.Stop(context.Background()) // idempotent: no-op if a "stop" command already ran it
	if err != nil {
		fail(err)
	}
}

func emit(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.S().Warnf("daemon: marshal banner: %v", err)
		return
	}
	fmt.Println(string(data))
}

func fail(err error) {
	emit(map[string]any{"error": err.Error()})
	logging.S().Errorf("daemon: %v", err)
	os.Exit(1)
}
