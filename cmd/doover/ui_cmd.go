package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/getdoover/doover-go/pkg/cloud"
	"github.com/getdoover/doover-go/pkg/config"
	"github.com/getdoover/doover-go/pkg/dda"
	"github.com/getdoover/doover-go/pkg/ui"
)

// runUICmd implements `doover ui show` and `doover ui clear`.
//
// By default the agent's UI is read through the cloud API. With --dda the
// command talks to a device agent session instead, which needs no profile.
func runUICmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: doover ui <show|clear> [flags]")
		return 2
	}
	sub := args[0]
	if sub != "show" && sub != "clear" {
		_, _ = fmt.Fprintf(stderr, "Unknown ui subcommand: %s\n", sub)
		return 2
	}

	cmd := flag.NewFlagSet("ui "+sub, flag.ContinueOnError)
	cmd.SetOutput(stderr)
	g := addGlobalFlags(cmd)
	var ddaURL string
	cmd.StringVar(&ddaURL, "dda", "", "Device agent session URL, e.g. "+dda.DefaultURL)
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var manager *ui.Manager
	if ddaURL != "" {
		cfg := config.Load()
		logger := newLogger(cfg, stderr)
		conn, err := dda.Dial(ctx, ddaURL, dda.WithLogger(logger.With("component", "dda")))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer func() { _ = conn.Close() }()
		manager = ui.NewManager(g.agent,
			ui.WithSessionTransport(conn),
			ui.WithLogger(logger.With("component", "ui")),
		)
	} else {
		s, err := openSession(ctx, g, stderr)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer s.close(ctx)
		if err := s.requireAgent(); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		manager = ui.NewManager(s.agentID,
			ui.WithRequestTransport(cloud.NewTransport(s.client, s.agentID)),
			ui.WithLogger(s.logger.With("component", "ui")),
			ui.WithTracker(s.telemetry),
			ui.WithMinUIUpdatePeriod(s.cfg.MinUIUpdatePeriod),
			ui.WithMinObservedUpdatePeriod(s.cfg.MinObservedUpdatePeriod),
		)
	}

	if sub == "clear" {
		if err := manager.ClearUI(ctx); err != nil {
			return fail(stderr, "%v", err)
		}
		_, _ = fmt.Fprintln(stdout, "Cleared UI state")
		return 0
	}

	if err := manager.Pull(ctx); err != nil {
		return fail(stderr, "%v", err)
	}
	if err := printJSON(stdout, ui.Document{
		"state": manager.LastUIState(),
		"cmds":  manager.LastUICmds(),
	}); err != nil {
		return fail(stderr, "%v", err)
	}
	return 0
}
