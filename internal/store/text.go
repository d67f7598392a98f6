package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// TextStore keeps extracted text as <dir>/<docid>.txt artifacts.
// Writes for the same id are serialised; writes are atomic (temp + rename)
// so readers never see a half-written artifact.
type TextStore struct {
	dir   string
	locks *KeyedMutex
}

// NewTextStore creates dir if needed.
func NewTextStore(dir string) (*TextStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create text directory: %w", err)
	}
	return &TextStore{dir: dir, locks: NewKeyedMutex()}, nil
}

// Dir returns the artifact directory.
func (t *TextStore) Dir() string { return t.dir }

// Path returns the artifact path for docID.
func (t *TextStore) Path(docID string) string {
	return filepath.Join(t.dir, unsafeIDChars.ReplaceAllString(docID, "_")+".txt")
}

// Write replaces the artifact for docID.
func (t *TextStore) Write(docID, content string) error {
	unlock := t.locks.Lock(docID)
	defer unlock()

	tmp, err := os.CreateTemp(t.dir, ".tmp-*")
	if err != nil {
		return storageErr("create text artifact", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return storageErr("write text artifact", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return storageErr("close text artifact", err)
	}
	if err := os.Rename(tmpName, t.Path(docID)); err != nil {
		_ = os.Remove(tmpName)
		return storageErr("rename text artifact", err)
	}
	return nil
}

// Read returns the artifact content for docID.
func (t *TextStore) Read(docID string) (string, error) {
	data, err := os.ReadFile(t.Path(docID))
	if os.IsNotExist(err) {
		return "", docerrors.New(docerrors.ErrCodeFileNotFound,
			fmt.Sprintf("no extracted text for %s", docID), err)
	}
	if err != nil {
		return "", storageErr("read text artifact", err)
	}
	return string(data), nil
}

// Remove deletes the artifact for docID if present. Used when a re-run
// turns a previous success into FAILED.
func (t *TextStore) Remove(docID string) error {
	unlock := t.locks.Lock(docID)
	defer unlock()
	if err := os.Remove(t.Path(docID)); err != nil && !os.IsNotExist(err) {
		return storageErr("remove text artifact", err)
	}
	return nil
}
