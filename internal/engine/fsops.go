package engine

import (
	"io"
	"os"
)

// fsOps is the filesystem collaborator: placing a finished temp file and
// probing destination directories. Seam for tests.
type fsOps interface {
	MoveFile(from, to string) error
	DirExists(path string) bool
}

type osFS struct{}

func (osFS) MoveFile(from, to string) error {
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to copy+remove.
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	dst, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(from)
}

func (osFS) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
