package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// RecordName is the record's file name at the volume root
const RecordName = "PLR"

// FileStore keeps the record as a file on a Dir volume. Rewrites go to a
// pending file that replaces the record atomically on Close, so a write cut
// short leaves the previous record in place.
type FileStore struct {
	*Dir
	name string
}

// NewFileStore returns a store for the record file on dir
func NewFileStore(dir *Dir) *FileStore {
	return &FileStore{Dir: dir, name: RecordName}
}

// RecordPath returns the record's full path
func (s *FileStore) RecordPath() string {
	return filepath.Join(s.Path(), s.name)
}

func (s *FileStore) Exists() (bool, error) {
	if !s.Mounted() {
		return false, ErrNotMounted
	}
	_, err := os.Stat(s.RecordPath())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat record: %w", err)
	}
}

func (s *FileStore) Open(forRead bool) (Record, error) {
	if !s.Mounted() {
		return nil, ErrNotMounted
	}
	if forRead {
		f, err := os.Open(s.RecordPath())
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoRecord
		}
		if err != nil {
			return nil, fmt.Errorf("open record: %w", err)
		}
		return &fileReader{f: f}, nil
	}

	pf, err := renameio.NewPendingFile(s.RecordPath(),
		renameio.WithTempDir(s.Path()),
		renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("create pending record: %w", err)
	}
	return &pendingRecord{pf: pf}, nil
}

func (s *FileStore) Remove() error {
	if !s.Mounted() {
		return ErrNotMounted
	}
	err := os.Remove(s.RecordPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

type fileReader struct {
	f *os.File
}

func (r *fileReader) SeekToStart() error {
	_, err := r.f.Seek(0, io.SeekStart)
	return err
}

func (r *fileReader) WriteAll([]byte) error {
	return ErrReadOnly
}

func (r *fileReader) ReadAll(maxLen int) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.f, int64(maxLen)+1))
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	if len(b) > maxLen {
		return nil, ErrTooLarge
	}
	return b, nil
}

func (r *fileReader) Close() error {
	return r.f.Close()
}

// pendingRecord publishes on Close only if at least one write went through
// and none failed.
type pendingRecord struct {
	pf     *renameio.PendingFile
	dirty  bool
	failed bool
}

func (r *pendingRecord) SeekToStart() error {
	if _, err := r.pf.Seek(0, io.SeekStart); err != nil {
		r.failed = true
		return err
	}
	if err := r.pf.Truncate(0); err != nil {
		r.failed = true
		return err
	}
	return nil
}

func (r *pendingRecord) WriteAll(p []byte) error {
	if _, err := r.pf.Write(p); err != nil {
		r.failed = true
		return fmt.Errorf("write record: %w", err)
	}
	r.dirty = true
	return nil
}

func (r *pendingRecord) ReadAll(int) ([]byte, error) {
	return nil, errors.New("store: record opened for writing")
}

func (r *pendingRecord) Close() error {
	if r.failed || !r.dirty {
		return r.pf.Cleanup()
	}
	if err := r.pf.CloseAtomicallyReplace(); err != nil {
		_ = r.pf.Cleanup()
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}
