package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/afero"

	"github.com/veranemoloko/transfer-tracker/internal/validation"
)

// FileStorage keeps transfer payloads in a single flat directory. Files are
// addressed by task name, which never contains a path separator.
type FileStorage struct {
	dir string
	fs  afero.Fs
}

// NewFileStorage creates a FileStorage rooted at dir on the OS filesystem.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{
		dir: dir,
		fs:  afero.NewBasePathFs(afero.NewOsFs(), dir),
	}
}

// NewFileStorageFs creates a FileStorage on top of an arbitrary filesystem,
// e.g. afero.NewMemMapFs in tests.
func NewFileStorageFs(fsys afero.Fs) *FileStorage {
	return &FileStorage{fs: fsys}
}

func (s *FileStorage) Dir() string {
	return s.dir
}

func (s *FileStorage) path(filename string) (string, error) {
	if err := validation.ValidateTaskName(filename); err != nil {
		return "", err
	}
	return filename, nil
}

// CreateFile creates or truncates filename in the storage directory.
func (s *FileStorage) CreateFile(filename string) (afero.File, error) {
	p, err := s.path(filename)
	if err != nil {
		return nil, err
	}
	return s.fs.Create(p)
}

// OpenFile opens an existing file with the specified flags (e.g., read, write).
func (s *FileStorage) OpenFile(filename string, flags int) (afero.File, error) {
	p, err := s.path(filename)
	if err != nil {
		return nil, err
	}
	return s.fs.OpenFile(p, flags, 0o644)
}

// Open opens filename for reading and returns its size alongside.
func (s *FileStorage) Open(filename string) (afero.File, int64, error) {
	f, err := s.OpenFile(filename, os.O_RDONLY)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", filename)
	}
	return f, info.Size(), nil
}

// FileExists checks whether a file exists in the storage directory.
func (s *FileStorage) FileExists(filename string) bool {
	p, err := s.path(filename)
	if err != nil {
		return false
	}
	ok, err := afero.Exists(s.fs, p)
	return err == nil && ok
}

// GetFileSize returns the size of the file in bytes.
func (s *FileStorage) GetFileSize(filename string) (int64, error) {
	p, err := s.path(filename)
	if err != nil {
		return 0, err
	}
	info, err := s.fs.Stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes filename. A missing file is not an error.
func (s *FileStorage) Remove(filename string) error {
	p, err := s.path(filename)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
