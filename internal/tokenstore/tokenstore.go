// Package tokenstore persists the bearer token between process runs so a
// returning user can skip the login screen.
//
// Tokens are stored under a fixed key ([Key]) in a small JSON document. The
// file is written with 0600 permissions and replaced atomically.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Key is the fixed key the bearer token is stored under.
const Key = "yuva_token"

// ErrNotFound is returned by Load when no token has been stored.
var ErrNotFound = errors.New("tokenstore: no stored token")

// Store is durable client-side storage for the bearer token.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the stored token or [ErrNotFound].
	Load() (string, error)

	// Save replaces the stored token.
	Save(token string) error

	// Clear removes the stored token. Clearing an empty store is not an error.
	Clear() error
}

// File is a [Store] backed by a JSON file on disk.
type File struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*File)(nil)

// NewFile returns a file-backed store at path. The file and its parent
// directory are created on the first Save.
func NewFile(path string) *File {
	return &File{path: path}
}

// DefaultPath returns <UserConfigDir>/yuva/credentials.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("tokenstore: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "yuva", "credentials.json"), nil
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Load implements [Store].
func (f *File) Load() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return "", err
	}
	tok := doc[Key]
	if tok == "" {
		return "", ErrNotFound
	}
	return tok, nil
}

// Save implements [Store].
func (f *File) Save(token string) error {
	if token == "" {
		return errors.New("tokenstore: refusing to save empty token")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if doc == nil {
		doc = make(map[string]string, 1)
	}
	doc[Key] = token
	return f.write(doc)
}

// Clear implements [Store].
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := doc[Key]; !ok {
		return nil
	}
	delete(doc, Key)
	if len(doc) == 0 {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("tokenstore: remove %s: %w", f.path, err)
		}
		return nil
	}
	return f.write(doc)
}

// read loads the document. A missing file yields ErrNotFound.
func (f *File) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tokenstore: read %s: %w", f.path, err)
	}
	var doc map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tokenstore: parse %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *File) write(doc map[string]string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("tokenstore: encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("tokenstore: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("tokenstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenstore: close: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("tokenstore: replace %s: %w", f.path, err)
	}
	return nil
}

// Memory is an in-process [Store]. The zero value is empty and ready to use.
type Memory struct {
	mu    sync.Mutex
	token string
}

var _ Store = (*Memory)(nil)

// Load implements [Store].
func (m *Memory) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", ErrNotFound
	}
	return m.token, nil
}

// Save implements [Store].
func (m *Memory) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// Clear implements [Store].
func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}
