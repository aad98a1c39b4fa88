// ABOUTME: Content-addressed file storage for uploaded and generated documents
// ABOUTME: Keeps document bytes on disk so the database only tracks metadata

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore persists document content under a root directory. Files are
// named by a fresh UUID so callers cannot collide or traverse paths.
type FileStore struct {
	dir string
}

// NewFileStore creates the storage directory if needed and returns a store
// rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put writes content to a new file and returns its storage path relative to
// the root, the hex SHA-256 of the content, and the byte count.
func (f *FileStore) Put(content []byte, ext string) (path, sum string, size int64, err error) {
	name := uuid.New().String()
	if ext != "" {
		name += "." + ext
	}

	full := filepath.Join(f.dir, name)
	if err := os.WriteFile(full, content, 0644); err != nil {
		return "", "", 0, fmt.Errorf("writing document content: %w", err)
	}

	digest := sha256.Sum256(content)
	return name, hex.EncodeToString(digest[:]), int64(len(content)), nil
}

// Get reads back the content stored under the given relative path.
// Returns ErrNotFound if the file is missing.
func (f *FileStore) Get(path string) ([]byte, error) {
	// The path came from Put, but reject anything that escapes the root.
	full := filepath.Join(f.dir, filepath.Clean("/"+path))
	content, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading document content: %w", err)
	}
	return content, nil
}
