package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/getdoover/doover-go/pkg/artifacts"
	"github.com/getdoover/doover-go/pkg/cloud"
)

// command is the shared shape of the API commands: parse flags, open a
// session and run.
type command struct {
	name     string
	usage    string
	nargs    int
	needsAgt bool
	flags    func(fs *flag.FlagSet)
	run      func(ctx context.Context, s *session, args []string, stdout io.Writer) error
}

func (c command) exec(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(c.name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	g := addGlobalFlags(fs)
	if c.flags != nil {
		c.flags(fs)
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != c.nargs {
		_, _ = fmt.Fprintf(stderr, "Usage: doover %s [flags] %s\n", c.name, c.usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	s, err := openSession(ctx, g, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer s.close(ctx)
	if c.needsAgt {
		if err := s.requireAgent(); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	if err := c.run(ctx, s, fs.Args(), stdout); err != nil {
		return fail(stderr, "%v", err)
	}
	return 0
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// lookupChannel treats UUIDs as channel ids and anything else as a channel
// name on the session's agent.
func (s *session) lookupChannel(ctx context.Context, ref string) (*cloud.Channel, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return s.client.GetChannel(ctx, ref)
	}
	if err := s.requireAgent(); err != nil {
		return nil, err
	}
	return s.client.GetChannelNamed(ctx, s.agentID, ref)
}

// runAgentsCmd implements `doover agents`.
func runAgentsCmd(args []string, stdout, stderr io.Writer) int {
	var asJSON bool
	return command{
		name:  "agents",
		flags: func(fs *flag.FlagSet) { fs.BoolVar(&asJSON, "json", false, "Output as JSON") },
		run: func(ctx context.Context, s *session, _ []string, stdout io.Writer) error {
			agents, err := s.client.ListAgents(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(stdout, agents)
			}
			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "\tID\tNAME\tTYPE\tCHANNELS")
			for _, a := range agents {
				marker := ""
				if a.ID == s.agentID {
					marker = "*"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", marker, a.ID, a.Name, a.Type, len(a.Channels))
			}
			return tw.Flush()
		},
	}.exec(args, stdout, stderr)
}

// runChannelCmd implements `doover channel`.
func runChannelCmd(args []string, stdout, stderr io.Writer) int {
	var messages int
	return command{
		name:  "channel",
		usage: "<channel name or id>",
		nargs: 1,
		flags: func(fs *flag.FlagSet) {
			fs.IntVar(&messages, "messages", 0, "Also list the latest N messages")
		},
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			ch, err := s.lookupChannel(ctx, args[0])
			if err != nil {
				return err
			}
			aggregate, err := ch.FetchAggregate(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "%s (%s, %s)\n", ch.Name, ch.ID, ch.Kind())
			if err := printJSON(stdout, aggregate); err != nil {
				return err
			}
			if messages <= 0 {
				return nil
			}
			msgs, err := ch.FetchMessages(ctx, messages)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				_, _ = fmt.Fprintf(stdout, "%s  %s  %s\n", m.Time().UTC().Format(time.RFC3339), m.ID, m)
			}
			return nil
		},
	}.exec(args, stdout, stderr)
}

// runCreateChannelCmd implements `doover create-channel`.
func runCreateChannelCmd(args []string, stdout, stderr io.Writer) int {
	return command{
		name:     "create-channel",
		usage:    "<name>",
		nargs:    1,
		needsAgt: true,
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			ch, err := s.client.CreateChannel(ctx, s.agentID, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Channel %s ready: %s\n", ch.Name, ch.ID)
			return nil
		},
	}.exec(args, stdout, stderr)
}

// runCreateProcessorCmd implements `doover create-processor`.
func runCreateProcessorCmd(args []string, stdout, stderr io.Writer) int {
	return command{
		name:     "create-processor",
		usage:    "<name>",
		nargs:    1,
		needsAgt: true,
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			ch, err := s.client.CreateProcessor(ctx, s.agentID, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Processor %s ready: %s\n", ch.Name, ch.ID)
			return nil
		},
	}.exec(args, stdout, stderr)
}

// runCreateTaskCmd implements `doover create-task`.
func runCreateTaskCmd(args []string, stdout, stderr io.Writer) int {
	return command{
		name:     "create-task",
		usage:    "<task name> <processor name>",
		nargs:    2,
		needsAgt: true,
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			proc, err := s.client.GetChannelNamed(ctx, s.agentID, cloud.ProcessorName(args[1]))
			if err != nil {
				return fmt.Errorf("processor %s: %w", args[1], err)
			}
			task, err := s.client.CreateTask(ctx, s.agentID, args[0], proc.ID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Task %s ready: %s (processor %s)\n", task.Name, task.ID, proc.Name)
			return nil
		},
	}.exec(args, stdout, stderr)
}

// runPublishCmd implements `doover publish`. The message is sent as JSON
// when it parses as JSON and as a string otherwise.
func runPublishCmd(args []string, stdout, stderr io.Writer) int {
	var opts cloud.PublishOptions
	return command{
		name:  "publish",
		usage: "<channel name or id> <message>",
		nargs: 2,
		flags: func(fs *flag.FlagSet) {
			fs.BoolVar(&opts.RecordLog, "log", true, "Keep the message in the channel log")
			fs.BoolVar(&opts.OverrideAggregate, "override", false, "Replace the aggregate instead of merging")
		},
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			msg := cloud.MaybeJSON(args[1])
			var err error
			if _, perr := uuid.Parse(args[0]); perr == nil {
				_, err = s.client.PublishToChannel(ctx, args[0], msg, opts)
			} else if err = s.requireAgent(); err == nil {
				_, err = s.client.PublishToChannelName(ctx, s.agentID, args[0], msg, opts)
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Published to %s\n", args[0])
			return nil
		},
	}.exec(args, stdout, stderr)
}

// runPublishFileCmd implements `doover publish-file`.
func runPublishFileCmd(args []string, stdout, stderr io.Writer) int {
	var mimeType string
	return command{
		name:     "publish-file",
		usage:    "<channel name> <file>",
		nargs:    2,
		needsAgt: true,
		flags: func(fs *flag.FlagSet) {
			fs.StringVar(&mimeType, "mime-type", "", "MIME type (default: guessed from the extension)")
		},
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			ch, err := s.client.CreateChannel(ctx, s.agentID, args[0])
			if err != nil {
				return err
			}
			if err := ch.PublishFile(ctx, args[1], mimeType); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Published %s to %s\n", filepath.Base(args[1]), ch.Name)
			return nil
		},
	}.exec(args, stdout, stderr)
}

// runPublishProcessorCmd implements `doover publish-processor`.
//
// Zips the package directory, keeps a copy in the artifact store selected
// by DOOVER_ARTIFACT_STORE unless --archive=false, and uploads it.
func runPublishProcessorCmd(args []string, stdout, stderr io.Writer) int {
	archive := true
	return command{
		name:     "publish-processor",
		usage:    "<processor name> <package dir>",
		nargs:    2,
		needsAgt: true,
		flags: func(fs *flag.FlagSet) {
			fs.BoolVar(&archive, "archive", true, "Keep a copy of the package in the artifact store")
		},
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			proc, err := s.client.CreateProcessor(ctx, s.agentID, args[0])
			if err != nil {
				return err
			}

			var pkg []byte
			if archive {
				registry, err := s.packageRegistry(ctx)
				if err != nil {
					return err
				}
				recID, rec, data, err := registry.ArchivePackage(ctx, proc.Name, s.agentID, args[1])
				if err != nil {
					return err
				}
				pkg = data
				_, _ = fmt.Fprintf(stdout, "Archived %d files as %s\n", len(rec.Files), recID)
			} else {
				pkg, _, err = artifacts.ZipDir(args[1])
				if err != nil {
					return err
				}
			}

			if err := proc.PublishPackage(ctx, pkg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Published %d bytes to %s\n", len(pkg), proc.Name)
			return nil
		},
	}.exec(args, stdout, stderr)
}

// runRepublishProcessorCmd implements `doover republish-processor`.
//
// Uploads a package archived by an earlier publish-processor or deploy, so a
// processor can be rolled back without its source directory.
func runRepublishProcessorCmd(args []string, stdout, stderr io.Writer) int {
	return command{
		name:     "republish-processor",
		usage:    "<package record id>",
		nargs:    1,
		needsAgt: true,
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			registry, err := s.packageRegistry(ctx)
			if err != nil {
				return err
			}
			rec, err := registry.Record(ctx, args[0])
			if err != nil {
				return err
			}
			pkg, err := registry.Package(ctx, rec)
			if err != nil {
				return err
			}
			if rec.AgentID != "" && rec.AgentID != s.agentID {
				s.logger.Warn("package was archived for another agent",
					"component", "cli", "archived_for", rec.AgentID, "agent", s.agentID)
			}

			proc, err := s.client.CreateChannel(ctx, s.agentID, rec.Processor)
			if err != nil {
				return err
			}
			if err := proc.PublishPackage(ctx, pkg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Published %d files archived %s to %s\n",
				len(rec.Files), rec.CreatedAt.Format(time.RFC3339), proc.Name)
			return nil
		},
	}.exec(args, stdout, stderr)
}

func (s *session) packageRegistry(ctx context.Context) (*artifacts.Registry, error) {
	store, err := artifacts.NewStoreFromEnv(ctx, filepath.Join(s.cfg.ConfigDir, "packages"))
	if err != nil {
		return nil, err
	}
	return artifacts.NewRegistry(store), nil
}

// runSubscriptionCmd implements `doover subscribe` and `doover unsubscribe`.
func runSubscriptionCmd(name string, subscribe bool, args []string, stdout, stderr io.Writer) int {
	return command{
		name:     name,
		usage:    "<task name> <channel name>",
		nargs:    2,
		needsAgt: true,
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			task, err := s.client.GetChannelNamed(ctx, s.agentID, cloud.TaskName(args[0]))
			if err != nil {
				return fmt.Errorf("task %s: %w", args[0], err)
			}
			if !subscribe {
				ch, err := s.client.GetChannelNamed(ctx, s.agentID, args[1])
				if err != nil {
					return fmt.Errorf("channel %s: %w", args[1], err)
				}
				if err := task.UnsubscribeFrom(ctx, ch.ID); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "Removed %s from %s's subscriptions\n", ch.Name, task.Name)
				return nil
			}
			ch, err := s.client.CreateChannel(ctx, s.agentID, args[1])
			if err != nil {
				return err
			}
			if err := task.SubscribeTo(ctx, ch.ID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Added %s to %s's subscriptions\n", ch.Name, task.Name)
			return nil
		},
	}.exec(args, stdout, stderr)
}
