package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/pairchat/internal/config"
	"github.com/matheus3301/pairchat/internal/daemon"
	"github.com/matheus3301/pairchat/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", session.ConfigPath(), "config file")
	logStderr := flag.Bool("log-stderr", true, "also write logs to stderr")
	flag.Parse()

	// Resolve config first: it loads .env files that may name the session.
	cfg, err := config.Resolve(*configFlag, session.EnvFiles()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := session.EnsureDir(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg, LogStderr: *logStderr}),
	)

	app.Run()
}
