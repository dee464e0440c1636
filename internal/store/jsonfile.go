package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// JSONFile persists snapshots as one JSON document, written atomically.
type JSONFile struct {
	path string

	mu      sync.Mutex
	lastSum [sha256.Size]byte
}

// NewJSONFile returns a backend for the document at path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: filepath.Clean(path)}
}

// Path returns the document location.
func (f *JSONFile) Path() string {
	return f.path
}

// LoadMappings reads the document. A missing or empty file is ErrNoMappings.
func (f *JSONFile) LoadMappings(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoMappings
		}
		return nil, fmt.Errorf("read mappings %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNoMappings
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode mappings %s: %w", f.path, err)
	}

	f.remember(data)
	return &snap, nil
}

// SaveMappings writes the document through a temp file and rename.
func (f *JSONFile) SaveMappings(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil {
		snap = &Snapshot{}
	}
	if snap.StaticNames == nil {
		snap.StaticNames = map[string]string{}
	}
	if snap.LearnedNames == nil {
		snap.LearnedNames = map[string]Record{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mappings: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeAtomic(f.path, data); err != nil {
		return err
	}
	f.lastSum = sha256.Sum256(data)
	return nil
}

// ChangedOnDisk reports whether the file differs from what this backend last
// read or wrote.
func (f *JSONFile) ChangedOnDisk() bool {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)

	f.mu.Lock()
	defer f.mu.Unlock()
	return sum != f.lastSum
}

func (f *JSONFile) remember(data []byte) {
	f.mu.Lock()
	f.lastSum = sha256.Sum256(data)
	f.mu.Unlock()
}

func writeAtomic(path string, content []byte) error {
	parentDir := filepath.Dir(path)
	if err := os.MkdirAll(parentDir, dirPerm); err != nil {
		return fmt.Errorf("create mappings dir: %w", err)
	}

	tmp, err := os.CreateTemp(parentDir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}
	return nil
}
