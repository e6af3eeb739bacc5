package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/getdoover/doover-go/pkg/cloud"
	"github.com/getdoover/doover-go/pkg/config"
)

// runConfigureCmd implements `doover configure`.
//
// Creates or updates a profile. With --login the credentials are exchanged
// for a token straight away, which also validates them.
func runConfigureCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("configure", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		name     string
		username string
		password string
		token    string
		agent    string
		baseURL  string
		login    bool
		list     bool
	)
	cmd.StringVar(&name, "profile", "default", "Profile name")
	cmd.StringVar(&username, "username", "", "Account username")
	cmd.StringVar(&password, "password", "", "Account password")
	cmd.StringVar(&token, "token", "", "Long-lived API token (instead of username/password)")
	cmd.StringVar(&agent, "agent", "", "Default agent id")
	cmd.StringVar(&baseURL, "base-url", "", "Doover site URL")
	cmd.BoolVar(&login, "login", false, "Log in now and store the session token")
	cmd.BoolVar(&list, "list", false, "List profiles and exit")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	profiles, err := config.LoadProfiles(cfg.ConfigDir)
	if err != nil {
		return fail(stderr, "%v", err)
	}

	if list {
		current := profiles.Current()
		for _, n := range profiles.Names() {
			marker := " "
			if current != nil && current.Name == n {
				marker = "*"
			}
			_, _ = fmt.Fprintf(stdout, "%s %s\n", marker, n)
		}
		return 0
	}

	profile, err := profiles.Get(name)
	if errors.Is(err, config.ErrProfileNotFound) {
		profile = &config.Profile{Name: name}
	}
	if username != "" {
		profile.Username = username
	}
	if password != "" {
		profile.Password = password
	}
	if token != "" {
		profile.Token = token
		profile.TokenExpires = time.Time{}
	}
	if agent != "" {
		profile.AgentID = agent
	}
	if baseURL != "" {
		profile.BaseURL = baseURL
	}
	if profile.Token == "" && (profile.Username == "" || profile.Password == "") {
		_, _ = fmt.Fprintln(stderr, "Error: --token or both --username and --password are required")
		return 2
	}
	profiles.Put(profile)
	if err := profiles.SetCurrent(profile.Name); err != nil {
		return fail(stderr, "%v", err)
	}

	if login {
		site := profile.BaseURL
		if site == "" {
			site = cfg.BaseURL
		}
		client, err := cloud.New(site,
			cloud.WithCredentials(profile.Username, profile.Password),
			cloud.WithTimeout(cfg.RequestTimeout),
			cloud.WithLogger(newLogger(cfg, stderr).With("component", "cloud")),
			cloud.WithLoginCallback(func(token string, expires time.Time, agentID string) {
				profile.Token = token
				profile.TokenExpires = expires
				if profile.AgentID == "" {
					profile.AgentID = agentID
				}
			}),
		)
		if err != nil {
			return fail(stderr, "%v", err)
		}
		if err := client.Login(context.Background()); err != nil {
			return fail(stderr, "login failed: %v", err)
		}
		_, _ = fmt.Fprintf(stdout, "Logged in as %s\n", profile.Username)
	}

	if err := profiles.Save(); err != nil {
		return fail(stderr, "%v", err)
	}
	_, _ = fmt.Fprintf(stdout, "Saved profile %s to %s\n", profile.Name, profiles.Path())
	return 0
}
