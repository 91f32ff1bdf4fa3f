package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// TransientStorageError reports a failure to write or remove a transient file
type TransientStorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("transient storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransientStorageError) Unwrap() error {
	return e.Err
}

// TransientStore holds uploaded audio on disk for the duration of one analysis
type TransientStore struct {
	dir string
}

// NewTransientStore creates dir if needed
func NewTransientStore(dir string) (*TransientStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &TransientStorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return &TransientStore{dir: dir}, nil
}

// Dir returns the storage directory
func (s *TransientStore) Dir() string {
	return s.dir
}

// Save writes r to a new file named <uuid>.<subtype>, where subtype comes from
// the declared MIME type, and returns its path
func (s *TransientStore) Save(r io.Reader, contentType string) (string, error) {
	path := filepath.Join(s.dir, uuid.NewString()+"."+Subtype(contentType))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", &TransientStorageError{Op: "create", Path: path, Err: err}
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", &TransientStorageError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", &TransientStorageError{Op: "close", Path: path, Err: err}
	}

	return path, nil
}

// Reserve returns a fresh path in the store without creating the file
func (s *TransientStore) Reserve(contentType string) string {
	return filepath.Join(s.dir, uuid.NewString()+"."+Subtype(contentType))
}

// Remove deletes path. A file that is already gone is not an error.
func (s *TransientStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &TransientStorageError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Subtype returns the part of a MIME type after the last '/', without
// parameters and reduced to [a-z0-9]. It is "bin" when nothing remains.
func Subtype(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	if i := strings.LastIndexByte(contentType, '/'); i >= 0 {
		contentType = contentType[i+1:]
	}

	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(contentType)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "bin"
	}
	return b.String()
}
