package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/getdoover/doover-go/pkg/deploy"
)

// runDeployCmd implements `doover deploy`.
//
// Validates a doover_config.json and applies it to the agent. Paths in the
// config resolve against the config file's directory.
func runDeployCmd(args []string, stdout, stderr io.Writer) int {
	var (
		archive  bool
		validate bool
	)
	return command{
		name:     "deploy",
		usage:    "<doover_config.json>",
		nargs:    1,
		needsAgt: true,
		flags: func(fs *flag.FlagSet) {
			fs.BoolVar(&archive, "archive", true, "Keep a copy of each processor package in the artifact store")
			fs.BoolVar(&validate, "validate", false, "Only validate the config")
		},
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			path := args[0]
			cfg, err := deploy.Load(path)
			if err != nil {
				return err
			}
			if validate {
				_, _ = fmt.Fprintf(stdout, "%s is valid\n", path)
				return nil
			}

			opts := []deploy.Option{deploy.WithLogger(s.logger.With("component", "deploy"))}
			if archive {
				registry, err := s.packageRegistry(ctx)
				if err != nil {
					return err
				}
				opts = append(opts, deploy.WithRegistry(registry))
			}

			res, err := deploy.Apply(ctx, s.client, s.agentID, filepath.Dir(path), cfg, opts...)
			printDeployResult(stdout, res)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "Successfully deployed config.")
			return nil
		},
	}.exec(args, stdout, stderr)
}

func printDeployResult(w io.Writer, res *deploy.Result) {
	if res == nil {
		return
	}
	for _, p := range res.Processors {
		line := "Deployed processor " + p
		if rec, ok := res.Packages[p]; ok {
			line += " (package " + rec + ")"
		}
		_, _ = fmt.Fprintln(w, line)
	}
	for _, t := range res.Tasks {
		_, _ = fmt.Fprintf(w, "Deployed task %s\n", t)
	}
	if len(res.Subscribed) > 0 {
		_, _ = fmt.Fprintf(w, "Subscribed: %s\n", strings.Join(res.Subscribed, ", "))
	}
	if len(res.Unsubscribed) > 0 {
		_, _ = fmt.Fprintf(w, "Unsubscribed: %s\n", strings.Join(res.Unsubscribed, ", "))
	}
	for _, f := range res.Files {
		_, _ = fmt.Fprintf(w, "Published file to %s\n", f)
	}
	for _, m := range res.Messages {
		_, _ = fmt.Fprintf(w, "Published message to %s\n", m)
	}
}
