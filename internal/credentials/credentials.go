// SPDX-License-Identifier: MIT

// Package credentials stores per-host access tokens and turns remote URLs
// into authenticated ones.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"go.yaml.in/yaml/v3"

	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/interact"
)

// EnvToken overrides every stored token when set.
const EnvToken = "FORKKEEPER_TOKEN"

// DefaultFilename is the token file name inside the config directory.
const DefaultFilename = "tokens.yaml"

// ErrNoToken is returned when a token is required but none is known.
var ErrNoToken = errors.New("no access token configured")

type fileFormat struct {
	Tokens map[string]string `yaml:"tokens"`
}

// Store is a YAML token file keyed by gitx.OriginKey. Every operation holds
// an advisory lock so concurrent forkkeeper processes do not lose writes.
type Store struct {
	path string
}

// NewStore returns a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

func (s *Store) lock() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, err
	}
	fl := flock.New(s.path + ".lock")
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", s.path, err)
	}
	return fl, nil
}

func (s *Store) read() (fileFormat, error) {
	out := fileFormat{Tokens: map[string]string{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, err
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if out.Tokens == nil {
		out.Tokens = map[string]string{}
	}
	return out, nil
}

func (s *Store) write(f fileFormat) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Get returns the token stored for rawURL's origin.
func (s *Store) Get(rawURL string) (string, bool, error) {
	key, err := gitx.OriginKey(rawURL)
	if err != nil {
		return "", false, err
	}
	fl, err := s.lock()
	if err != nil {
		return "", false, err
	}
	defer func() { _ = fl.Unlock() }()
	f, err := s.read()
	if err != nil {
		return "", false, err
	}
	tok, ok := f.Tokens[key]
	return tok, ok && tok != "", nil
}

// Set stores token for rawURL's origin.
func (s *Store) Set(rawURL, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	key, err := gitx.OriginKey(rawURL)
	if err != nil {
		return err
	}
	return s.update(func(f *fileFormat) { f.Tokens[key] = token })
}

// Delete removes the token for rawURL's origin. Deleting an unknown origin
// is not an error.
func (s *Store) Delete(rawURL string) error {
	key, err := gitx.OriginKey(rawURL)
	if err != nil {
		return err
	}
	return s.update(func(f *fileFormat) { delete(f.Tokens, key) })
}

func (s *Store) update(mutate func(*fileFormat)) error {
	fl, err := s.lock()
	if err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()
	f, err := s.read()
	if err != nil {
		return err
	}
	mutate(&f)
	return s.write(f)
}

// Origins lists the origins that have a stored token.
func (s *Store) Origins() ([]string, error) {
	fl, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer func() { _ = fl.Unlock() }()
	f, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(f.Tokens))
	for k := range f.Tokens {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Provider resolves tokens from the environment, then the store, and asks
// the user for a replacement when a remote rejects one.
type Provider struct {
	Store  *Store
	UI     interact.UI
	Getenv func(string) string
}

// NewProvider returns a Provider reading os.Getenv.
func NewProvider(store *Store, ui interact.UI) *Provider {
	if ui == nil {
		ui = interact.Noninteractive{}
	}
	return &Provider{Store: store, UI: ui, Getenv: os.Getenv}
}

// Token returns the token for rawURL, or "" when none is configured.
func (p *Provider) Token(rawURL string) (string, error) {
	if p.Getenv != nil {
		if tok := strings.TrimSpace(p.Getenv(EnvToken)); tok != "" {
			return tok, nil
		}
	}
	if p.Store == nil || !gitx.IsHTTPURL(rawURL) {
		return "", nil
	}
	tok, _, err := p.Store.Get(rawURL)
	return tok, err
}

// AuthURL embeds the configured token into an http(s) remote URL. URLs of
// other schemes and origins without a token are returned unchanged.
func (p *Provider) AuthURL(_ context.Context, rawURL string) (string, error) {
	if !gitx.IsHTTPURL(rawURL) {
		return rawURL, nil
	}
	tok, err := p.Token(rawURL)
	if err != nil {
		return "", err
	}
	return gitx.WithToken(gitx.StripToken(rawURL), tok), nil
}

// Refresh asks the user for a new token, stores it and returns the
// authenticated URL.
func (p *Provider) Refresh(ctx context.Context, rawURL string) (string, error) {
	if !gitx.IsHTTPURL(rawURL) {
		return "", fmt.Errorf("%s: %w", gitx.StripToken(rawURL), ErrNoToken)
	}
	key, err := gitx.OriginKey(rawURL)
	if err != nil {
		return "", err
	}
	tok, err := p.UI.Input(ctx, fmt.Sprintf("Access token for %s was rejected. Enter a new token:", key), true)
	if err != nil {
		return "", err
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", fmt.Errorf("%s: %w", key, ErrNoToken)
	}
	if p.Store != nil {
		if err := p.Store.Set(rawURL, tok); err != nil {
			return "", err
		}
	}
	return gitx.WithToken(gitx.StripToken(rawURL), tok), nil
}
