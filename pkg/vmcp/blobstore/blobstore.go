// Package blobstore implements the local-filesystem blob store backing
// file-based custom resources (spec §6): a minimal put/get/delete/rename/
// list contract over `(blob_id, filename, mime, bytes)`, using advisory
// file locks so concurrent writers never corrupt a blob.
package blobstore

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// Metadata describes one stored blob.
type Metadata struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Store is a local-filesystem blob store rooted at dir. Each blob gets its
// own subdirectory `dir/<blob_id>/` holding `data` and `meta.json`.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, err, "creating blob store directory %q", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) blobDir(id string) string  { return filepath.Join(s.dir, id) }
func (s *Store) dataPath(id string) string { return filepath.Join(s.blobDir(id), "data") }
func (s *Store) metaPath(id string) string { return filepath.Join(s.blobDir(id), "meta.json") }
func (s *Store) lockPath(id string) string { return filepath.Join(s.blobDir(id), ".lock") }

// Put stores r under a new blob id and returns its Metadata.
func (s *Store) Put(filename, mimeType string, r io.Reader) (Metadata, error) {
	id := uuid.NewString()
	if err := os.MkdirAll(s.blobDir(id), 0o755); err != nil {
		return Metadata{}, vmcperrors.Newf(vmcperrors.Internal, err, "creating blob directory for %q", id)
	}

	lock := flock.New(s.lockPath(id))
	if err := lock.Lock(); err != nil {
		return Metadata{}, vmcperrors.Newf(vmcperrors.Internal, err, "locking blob %q for write", id)
	}
	defer lock.Unlock()

	f, err := os.Create(s.dataPath(id))
	if err != nil {
		return Metadata{}, vmcperrors.Newf(vmcperrors.Internal, err, "creating blob data file for %q", id)
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		return Metadata{}, vmcperrors.Newf(vmcperrors.Internal, copyErr, "writing blob %q", id)
	}
	if closeErr != nil {
		return Metadata{}, vmcperrors.Newf(vmcperrors.Internal, closeErr, "closing blob %q", id)
	}

	meta := Metadata{ID: id, Filename: filename, MIMEType: mimeType, Size: n}
	if err := s.writeMeta(id, meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Get opens a blob for reading. The caller must Close the returned
// ReadCloser.
func (s *Store) Get(id string) (io.ReadCloser, Metadata, error) {
	meta, err := s.readMeta(id)
	if err != nil {
		return nil, Metadata{}, err
	}

	lock := flock.New(s.lockPath(id))
	if err := lock.RLock(); err != nil {
		return nil, Metadata{}, vmcperrors.Newf(vmcperrors.Internal, err, "locking blob %q for read", id)
	}

	f, err := os.Open(s.dataPath(id))
	if err != nil {
		lock.Unlock()
		return nil, Metadata{}, vmcperrors.Newf(vmcperrors.Internal, err, "opening blob %q", id)
	}
	return &unlockingReader{File: f, lock: lock}, meta, nil
}

// Delete removes a blob and its metadata entirely.
func (s *Store) Delete(id string) error {
	lock := flock.New(s.lockPath(id))
	if err := lock.Lock(); err != nil {
		return vmcperrors.Newf(vmcperrors.Internal, err, "locking blob %q for delete", id)
	}
	defer lock.Unlock()

	if err := os.RemoveAll(s.blobDir(id)); err != nil {
		return vmcperrors.Newf(vmcperrors.Internal, err, "deleting blob %q", id)
	}
	return nil
}

// Rename updates a blob's stored filename without touching its bytes.
func (s *Store) Rename(id, newFilename string) (Metadata, error) {
	lock := flock.New(s.lockPath(id))
	if err := lock.Lock(); err != nil {
		return Metadata{}, vmcperrors.Newf(vmcperrors.Internal, err, "locking blob %q for rename", id)
	}
	defer lock.Unlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return Metadata{}, err
	}
	meta.Filename = newFilename
	if err := s.writeMeta(id, meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// List returns metadata for every blob in the store, in unspecified order.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, err, "listing blob store directory")
	}

	var out []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.readMeta(e.Name())
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *Store) writeMeta(id string, meta Metadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return vmcperrors.Newf(vmcperrors.Internal, err, "marshaling metadata for blob %q", id)
	}
	if err := os.WriteFile(s.metaPath(id), b, 0o644); err != nil {
		return vmcperrors.Newf(vmcperrors.Internal, err, "writing metadata for blob %q", id)
	}
	return nil
}

func (s *Store) readMeta(id string) (Metadata, error) {
	b, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return Metadata{}, vmcperrors.Newf(vmcperrors.Internal, err, "blob %q not found", id)
	}
	var meta Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return Metadata{}, vmcperrors.Newf(vmcperrors.Internal, err, "corrupt metadata for blob %q", id)
	}
	return meta, nil
}

// unlockingReader releases its blob's read lock when closed.
type unlockingReader struct {
	*os.File
	lock *flock.Flock
}

func (r *unlockingReader) Close() error {
	fileErr := r.File.Close()
	lockErr := r.lock.Unlock()
	if fileErr != nil {
		return fileErr
	}
	return lockErr
}
