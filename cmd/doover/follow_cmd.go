package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/getdoover/doover-go/pkg/store"
)

func (s *session) openHistory(path string) (*store.SQLiteSnapshotStore, error) {
	if path == "" {
		path = s.cfg.CacheDB
	}
	return store.Open(path)
}

// runFollowCmd implements `doover follow`.
//
// Polls a channel's aggregate, records every change in the local history
// database and prints it. Runs until interrupted, or for --count polls.
func runFollowCmd(args []string, stdout, stderr io.Writer) int {
	var (
		interval time.Duration
		count    int
		dbPath   string
	)
	return command{
		name:  "follow",
		usage: "<channel name or id>",
		nargs: 1,
		flags: func(fs *flag.FlagSet) {
			fs.DurationVar(&interval, "interval", 5*time.Second, "Poll interval")
			fs.IntVar(&count, "count", 0, "Stop after N polls (0 = until interrupted)")
			fs.StringVar(&dbPath, "db", "", "History database (default: DOOVER_CACHE_DB)")
		},
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			ch, err := s.lookupChannel(ctx, args[0])
			if err != nil {
				return err
			}
			history, err := s.openHistory(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = history.Close() }()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for polls := 0; count <= 0 || polls < count; polls++ {
				if polls > 0 {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
				}
				if err := ch.Refresh(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					s.logger.Warn("poll failed", "component", "follow", "channel", ch.Name, "error", err)
					continue
				}
				now := time.Now().UTC()
				changed, err := history.Record(ctx, ch.ID, ch.Name, ch.Aggregate, now)
				if err != nil {
					return err
				}
				if !changed {
					continue
				}
				_, _ = fmt.Fprintf(stdout, "%s %s\n", now.Format(time.RFC3339), ch.Name)
				if err := printJSON(stdout, ch.Aggregate); err != nil {
					return err
				}
			}
			return nil
		},
	}.exec(args, stdout, stderr)
}

// runHistoryCmd implements `doover history`.
func runHistoryCmd(args []string, stdout, stderr io.Writer) int {
	var (
		limit  int
		dbPath string
	)
	return command{
		name:  "history",
		usage: "<channel name or id>",
		nargs: 1,
		flags: func(fs *flag.FlagSet) {
			fs.IntVar(&limit, "limit", 20, "Number of snapshots to show")
			fs.StringVar(&dbPath, "db", "", "History database (default: DOOVER_CACHE_DB)")
		},
		run: func(ctx context.Context, s *session, args []string, stdout io.Writer) error {
			ch, err := s.lookupChannel(ctx, args[0])
			if err != nil {
				return err
			}
			history, err := s.openHistory(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = history.Close() }()

			snaps, err := history.List(ctx, ch.ID, limit)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				_, _ = fmt.Fprintf(stdout, "No history for %s; run `doover follow %s` first\n", ch.Name, args[0])
				return nil
			}
			for _, snap := range snaps {
				_, _ = fmt.Fprintf(stdout, "%s %s %s\n", snap.RecordedAt.Format(time.RFC3339), snap.Channel, snap.Hash[:12])
				if err := printJSON(stdout, snap.Aggregate); err != nil {
					return err
				}
			}
			return nil
		},
	}.exec(args, stdout, stderr)
}
