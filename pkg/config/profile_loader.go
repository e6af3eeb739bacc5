package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrProfileNotFound is returned when a named profile does not exist.
var ErrProfileNotFound = errors.New("config: profile not found")

// Profile is one set of credentials for a Doover site.
type Profile struct {
	Name         string
	Username     string
	Password     string
	Token        string
	TokenExpires time.Time
	AgentID      string
	BaseURL      string
}

// TokenValid reports whether the token is set and not yet expired at now. A
// token without an expiry never expires.
func (p *Profile) TokenValid(now time.Time) bool {
	if p.Token == "" {
		return false
	}
	return p.TokenExpires.IsZero() || now.Before(p.TokenExpires)
}

// profileEntry is the on-disk form. Passwords are base64 encoded.
type profileEntry struct {
	Profile      string     `yaml:"profile"`
	Username     string     `yaml:"username,omitempty"`
	Password     string     `yaml:"password,omitempty"`
	Token        string     `yaml:"token,omitempty"`
	TokenExpires *time.Time `yaml:"token_expires,omitempty"`
	AgentID      string     `yaml:"agent_id,omitempty"`
	BaseURL      string     `yaml:"base_url,omitempty"`
}

type profileFile struct {
	Current  string         `yaml:"current,omitempty"`
	Profiles []profileEntry `yaml:"profiles"`
}

// ProfileStore is the CLI's profile file at <dir>/config.yaml.
type ProfileStore struct {
	path     string
	current  string
	profiles map[string]*Profile
}

// LoadProfiles reads the profile file in dir. A missing or empty file yields
// an empty store.
func LoadProfiles(dir string) (*ProfileStore, error) {
	s := &ProfileStore{
		path:     filepath.Join(dir, "config.yaml"),
		profiles: make(map[string]*Profile),
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profiles %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", s.path, err)
	}
	for _, e := range file.Profiles {
		password, err := base64.StdEncoding.DecodeString(e.Password)
		if err != nil {
			return nil, fmt.Errorf("profile %q: decode password: %w", e.Profile, err)
		}
		p := &Profile{
			Name:     e.Profile,
			Username: e.Username,
			Password: string(password),
			Token:    e.Token,
			AgentID:  e.AgentID,
			BaseURL:  e.BaseURL,
		}
		if e.TokenExpires != nil {
			p.TokenExpires = *e.TokenExpires
		}
		s.profiles[p.Name] = p
	}
	s.current = file.Current
	return s, nil
}

// Path returns the profile file location.
func (s *ProfileStore) Path() string { return s.path }

// Get returns the named profile.
func (s *ProfileStore) Get(name string) (*Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return p, nil
}

// Put adds or replaces a profile. The first profile stored becomes current.
func (s *ProfileStore) Put(p *Profile) {
	s.profiles[p.Name] = p
	if s.current == "" {
		s.current = p.Name
	}
}

// Current returns the current profile, or nil when there is none.
func (s *ProfileStore) Current() *Profile {
	return s.profiles[s.current]
}

// SetCurrent selects the profile used by default.
func (s *ProfileStore) SetCurrent(name string) error {
	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	s.current = name
	return nil
}

// Names returns all profile names, sorted.
func (s *ProfileStore) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes the profile file atomically with owner-only permissions.
func (s *ProfileStore) Save() error {
	file := profileFile{Current: s.current}
	for _, name := range s.Names() {
		p := s.profiles[name]
		e := profileEntry{
			Profile:  p.Name,
			Username: p.Username,
			Token:    p.Token,
			AgentID:  p.AgentID,
			BaseURL:  p.BaseURL,
		}
		if p.Password != "" {
			e.Password = base64.StdEncoding.EncodeToString([]byte(p.Password))
		}
		if !p.TokenExpires.IsZero() {
			t := p.TokenExpires.UTC()
			e.TokenExpires = &t
		}
		file.Profiles = append(file.Profiles, e)
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp profile file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod profiles: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close profiles: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace profiles: %w", err)
	}
	return nil
}
