// Package dirblob provides a blob.Store keeping every blob in its own file
// under a root directory, grouped by key prefix (e.g. "<root>/grid/grid-1f").
package dirblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eak1mov/go-worldmap/blob"
)

const LockFileName = "LOCK"

var ErrInvalidKey = errors.New("worldmap: invalid blob key")

// Store implements blob.Store over a directory. A store directory is owned by
// one Store at a time; ownership is recorded by a lock file.
type Store struct {
	rootDir string
}

// Open takes ownership of rootDir, creating it if needed. It returns
// blob.ErrBusy if another Store holds the directory.
func Open(rootDir string) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, err
	}

	lockPath := filepath.Join(rootDir, LockFileName)
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", blob.ErrBusy, lockPath)
	}
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(file, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if err := file.Close(); err != nil {
		return nil, err
	}

	return &Store{rootDir: rootDir}, nil
}

// Close releases the directory.
func (s *Store) Close() error {
	err := os.Remove(filepath.Join(s.rootDir, LockFileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") || key == LockFileName {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	kind, _, found := strings.Cut(key, "-")
	if !found {
		return filepath.Join(s.rootDir, key), nil
	}
	return filepath.Join(s.rootDir, kind, key), nil
}

func (s *Store) Fetch(_ context.Context, key string) (io.ReadCloser, error) {
	filePath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, blob.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

type fileWriter struct {
	*os.File
	target string
	done   bool
}

func (w *fileWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.File.Close(); err != nil {
		os.Remove(w.Name())
		return err
	}
	if err := os.Rename(w.Name(), w.target); err != nil {
		os.Remove(w.Name())
		return err
	}
	return nil
}

func (s *Store) Create(_ context.Context, key string) (io.WriteCloser, error) {
	filePath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	dirPath := filepath.Dir(filePath)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, err
	}
	file, err := os.CreateTemp(dirPath, "."+key+".*")
	if err != nil {
		return nil, err
	}
	return &fileWriter{File: file, target: filePath}, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	filePath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// VisitKeys calls visitor for every stored key.
func (s *Store) VisitKeys(visitor func(key string) error) error {
	return filepath.WalkDir(s.rootDir, func(filePath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, ".") || name == LockFileName {
			return nil
		}
		return visitor(name)
	})
}
