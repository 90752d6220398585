// SPDX-License-Identifier: MIT
// Package registry persists the set of course repositories forkkeeper keeps
// in sync with their upstream templates.
package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/skaphos/forkkeeper/internal/model"
)

// EntryStatus represents whether a registry entry's path is still valid.
type EntryStatus string

const (
	StatusPresent EntryStatus = "present"
	StatusMissing EntryStatus = "missing"
)

// Entry is a single course repository. Path is the identity; OriginURL never
// carries credentials.
type Entry struct {
	Path          string            `yaml:"path"`
	Name          string            `yaml:"name,omitempty"`
	RepoID        string            `yaml:"repo_id,omitempty"`
	OriginURL     string            `yaml:"origin_url,omitempty"`
	UpstreamURL   string            `yaml:"upstream_url,omitempty"`
	DefaultBranch string            `yaml:"default_branch,omitempty"`
	LastSeen      time.Time         `yaml:"last_seen,omitempty"`
	Status        EntryStatus       `yaml:"status"`
	LastSync      *model.SyncRecord `yaml:"last_sync,omitempty"`
}

// DisplayName returns Name, or the directory name when unset.
func (e Entry) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return filepath.Base(e.Path)
}

// Registry is the list of course repositories on this machine.
type Registry struct {
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
	Entries   []Entry   `yaml:"repos"`
}

// Load reads a registry file from the given path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Save writes the registry to the given path.
func Save(reg *Registry, path string) error {
	if reg == nil {
		return errors.New("registry is nil")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(reg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Upsert adds or updates an entry by path. Empty fields of entry keep the
// stored values.
func (r *Registry) Upsert(entry Entry) {
	entry.Path = filepath.Clean(entry.Path)
	if entry.Status == "" {
		entry.Status = StatusPresent
	}
	for i := range r.Entries {
		cur := &r.Entries[i]
		if cur.Path != entry.Path {
			continue
		}
		if entry.Name == "" {
			entry.Name = cur.Name
		}
		if entry.RepoID == "" {
			entry.RepoID = cur.RepoID
		}
		if entry.OriginURL == "" {
			entry.OriginURL = cur.OriginURL
		}
		if entry.UpstreamURL == "" {
			entry.UpstreamURL = cur.UpstreamURL
		}
		if entry.DefaultBranch == "" {
			entry.DefaultBranch = cur.DefaultBranch
		}
		if entry.LastSeen.IsZero() {
			entry.LastSeen = cur.LastSeen
		}
		if entry.LastSync == nil {
			entry.LastSync = cur.LastSync
		}
		*cur = entry
		return
	}
	r.Entries = append(r.Entries, entry)
	sort.SliceStable(r.Entries, func(i, j int) bool { return r.Entries[i].Path < r.Entries[j].Path })
}

// Remove deletes the entry for path and reports whether one existed.
func (r *Registry) Remove(path string) bool {
	path = filepath.Clean(path)
	for i := range r.Entries {
		if r.Entries[i].Path == path {
			r.Entries = append(r.Entries[:i], r.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// ValidatePaths checks all entries against the filesystem and marks
// entries as missing or present.
func (r *Registry) ValidatePaths() error {
	for i := range r.Entries {
		_, err := os.Stat(r.Entries[i].Path)
		if err != nil {
			if os.IsNotExist(err) {
				r.Entries[i].Status = StatusMissing
				continue
			}
			return err
		}
		r.Entries[i].Status = StatusPresent
	}
	return nil
}

// RecordSync stores the outcome of a sync on the entry for path.
func (r *Registry) RecordSync(path string, rec model.SyncRecord) {
	if e := r.FindByPath(path); e != nil {
		e.LastSync = &rec
		if rec.OK {
			e.LastSeen = rec.At
			e.Status = StatusPresent
		}
	}
}

// FindByPath returns the entry for path, or nil.
func (r *Registry) FindByPath(path string) *Entry {
	path = filepath.Clean(path)
	for i := range r.Entries {
		if r.Entries[i].Path == path {
			return &r.Entries[i]
		}
	}
	return nil
}
