// Package config loads and merges ParticipantConfig per spec.md §6, using
// gopkg.in/yaml.v3 (the teacher's dependency, there limited to markdown
// frontmatter; here it drives the whole participant config document), with
// a two-layer default/per-directory merge modeled on onedrive-go's
// internal/config Load/Validate split.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/abuss/syncpair/internal/pathfilter"
	"github.com/abuss/syncpair/internal/syncerr"
)

// DirectorySettings is the per-directory settings block, mergeable with a
// participant-wide default.
type DirectorySettings struct {
	Description         string   `yaml:"description"`
	Shared              *bool    `yaml:"shared"`
	Enabled             *bool    `yaml:"enabled"`
	SyncIntervalSeconds *uint32  `yaml:"sync_interval_seconds"`
	IgnorePatterns      []string `yaml:"ignore_patterns"`
}

func (d DirectorySettings) sharedOr(defaultVal bool) bool {
	if d.Shared != nil {
		return *d.Shared
	}
	return defaultVal
}

func (d DirectorySettings) enabledOr(defaultVal bool) bool {
	if d.Enabled != nil {
		return *d.Enabled
	}
	return defaultVal
}

func (d DirectorySettings) intervalOr(defaultVal uint32) uint32 {
	if d.SyncIntervalSeconds != nil {
		return *d.SyncIntervalSeconds
	}
	return defaultVal
}

// merge overlays a directory-specific settings block on top of the
// participant's default: scalars are overridden when present on the
// specific side, ignore_patterns are unioned and deduplicated.
func merge(def, specific DirectorySettings) DirectorySettings {
	out := def
	if specific.Description != "" {
		out.Description = specific.Description
	}
	// shared/enabled/sync_interval_seconds: directory value overrides
	// default when the directory entry set it explicitly.
	if specific.Shared != nil {
		out.Shared = specific.Shared
	}
	if specific.Enabled != nil {
		out.Enabled = specific.Enabled
	}
	if specific.SyncIntervalSeconds != nil {
		out.SyncIntervalSeconds = specific.SyncIntervalSeconds
	}
	out.IgnorePatterns = pathfilter.MergePatterns(def.IgnorePatterns, specific.IgnorePatterns)
	return out
}

// DirectoryEntry is one configured logical directory, fully resolved.
type DirectoryEntry struct {
	Name                string
	LocalPath           string
	Description         string
	Shared              bool
	Enabled             bool
	SyncIntervalSeconds uint32
	IgnorePatterns      []string
}

// rawDirectory is the as-parsed YAML shape before tilde-expansion/merge.
type rawDirectory struct {
	Name      string            `yaml:"name"`
	LocalPath string            `yaml:"local_path"`
	Settings  DirectorySettings `yaml:"settings"`
}

type raw struct {
	ParticipantID string            `yaml:"participant_id"`
	Server        string            `yaml:"server"`
	Default       DirectorySettings `yaml:"default"`
	Directories   []rawDirectory    `yaml:"directories"`
}

// ParticipantConfig is the fully resolved, validated configuration the
// supervisor consumes.
type ParticipantConfig struct {
	ParticipantID string
	ServerURL     string
	Directories   []DirectoryEntry
}

// Load reads path, merges defaults into each directory entry, expands
// tildes in local_path, and validates the result.
func Load(path string) (*ParticipantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, syncerr.New(syncerr.ConfigInvalid, "config.Load", err)
	}

	var r raw
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, syncerr.New(syncerr.ConfigInvalid, "config.Load", fmt.Errorf("parse yaml: %w", err))
	}

	cfg, err := resolve(&r)
	if err != nil {
		return nil, syncerr.New(syncerr.ConfigInvalid, "config.Load", err)
	}
	return cfg, nil
}

func resolve(r *raw) (*ParticipantConfig, error) {
	if r.ParticipantID == "" {
		return nil, fmt.Errorf("participant_id is required")
	}
	if err := validateIdentifier("participant_id", r.ParticipantID); err != nil {
		return nil, err
	}
	if r.Server == "" {
		return nil, fmt.Errorf("server is required")
	}
	if _, err := url.Parse(r.Server); err != nil {
		return nil, fmt.Errorf("server is not a valid URL: %w", err)
	}
	if len(r.Directories) == 0 {
		return nil, fmt.Errorf("at least one directory entry is required")
	}

	defaultEnabled := true
	defaultInterval := uint32(30)
	if r.Default.Enabled == nil {
		r.Default.Enabled = &defaultEnabled
	}
	if r.Default.SyncIntervalSeconds == nil {
		r.Default.SyncIntervalSeconds = &defaultInterval
	}

	entries := make([]DirectoryEntry, 0, len(r.Directories))
	seen := make(map[string]bool, len(r.Directories))
	for _, d := range r.Directories {
		if d.Name == "" {
			return nil, fmt.Errorf("directory entry missing name")
		}
		if err := validateIdentifier("directory name", d.Name); err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate directory name %q", d.Name)
		}
		seen[d.Name] = true
		if d.LocalPath == "" {
			return nil, fmt.Errorf("directory %q missing local_path", d.Name)
		}
		localPath, err := expandTilde(d.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("directory %q: %w", d.Name, err)
		}

		settings := merge(r.Default, d.Settings)

		if _, err := pathfilter.Compile(settings.IgnorePatterns); err != nil {
			return nil, fmt.Errorf("directory %q: %w", d.Name, err)
		}

		entries = append(entries, DirectoryEntry{
			Name:                d.Name,
			LocalPath:           localPath,
			Description:         settings.Description,
			Shared:              settings.sharedOr(false),
			Enabled:             settings.enabledOr(defaultEnabled),
			SyncIntervalSeconds: settings.intervalOr(defaultInterval),
			IgnorePatterns:      settings.IgnorePatterns,
		})
	}

	return &ParticipantConfig{
		ParticipantID: r.ParticipantID,
		ServerURL:     strings.TrimRight(r.Server, "/"),
		Directories:   entries,
	}, nil
}

func validateIdentifier(field, v string) error {
	if strings.ContainsAny(v, ":/") {
		return fmt.Errorf("%s %q must not contain ':' or '/'", field, v)
	}
	return nil
}

func expandTilde(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand ~ in %q: %w", p, err)
	}
	if p == "~" {
		return home, nil
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:]), nil
	}
	return p, nil
}
