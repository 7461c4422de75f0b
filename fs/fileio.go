// Package fs defines the filesystem boundary the marker subsystem writes
// through, plus the default os-backed implementation and a simulator for
// tests. Marker directories, marker files and coordinator batch objects all
// go through FileIO; object storage backends implement the same interface.
package fs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	retry "github.com/sethvargo/go-retry"
	"github.com/sharedcode/lakemark"
)

// FileIO defines filesystem operations used by the marker stores. The default
// implementation delegates to the standard library's os package with retry
// semantics for transient errors.
type FileIO interface {
	WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	// CreateFile creates an empty file. With overwrite false the create is
	// atomic-if-absent and a pre-existing file surfaces os.ErrExist.
	CreateFile(ctx context.Context, name string, overwrite bool) error
	Remove(ctx context.Context, name string) error
	Exists(ctx context.Context, path string) bool

	// Directory API.
	RemoveAll(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
	ReadDir(ctx context.Context, sourceDir string) ([]os.DirEntry, error)
	// ListRecursive returns the paths of all regular files under root.
	// A missing root yields an empty result, not an error.
	ListRecursive(ctx context.Context, root string) ([]string, error)
}

type defaultFileIO struct {
}

// NewFileIO returns a FileIO that performs I/O via the os package with basic
// retry handling for transient errors.
func NewFileIO() FileIO {
	return &defaultFileIO{}
}

func (dio defaultFileIO) WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(name, data, perm); err != nil {
		dirPath := filepath.Dir(name)
		if derr := dio.MkdirAll(ctx, dirPath, perm); derr == nil {
			return lakemark.Retry(ctx, func(context.Context) error {
				err := os.WriteFile(name, data, perm)
				if lakemark.ShouldRetry(err) {
					return retry.RetryableError(
						lakemark.Error{
							Code: lakemark.FileIOError,
							Err:  err,
						})
				}
				return err
			}, nil)
		}
		return err
	}
	return nil
}

func (dio defaultFileIO) ReadFile(ctx context.Context, name string) ([]byte, error) {
	var ba []byte
	err := lakemark.Retry(ctx, func(context.Context) error {
		var err error
		ba, err = os.ReadFile(name)
		if lakemark.ShouldRetry(err) {
			return retry.RetryableError(
				lakemark.Error{
					Code: lakemark.FileIOError,
					Err:  err,
				})
		}
		return err
	}, nil)
	return ba, err
}

func (dio defaultFileIO) CreateFile(ctx context.Context, name string, overwrite bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		// O_EXCL is the synchronization primitive the direct marker store
		// relies on; concurrent creators race on the kernel's atomicity.
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(name, flags, permission)
	if err != nil {
		return err
	}
	return f.Close()
}

func (dio defaultFileIO) Remove(ctx context.Context, name string) error {
	return lakemark.Retry(ctx, func(context.Context) error {
		err := os.Remove(name)
		if lakemark.ShouldRetry(err) {
			return retry.RetryableError(lakemark.Error{
				Code: lakemark.FileIOError,
				Err:  err,
			})
		}
		return err
	}, nil)
}

func (dio defaultFileIO) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	return lakemark.Retry(ctx, func(context.Context) error {
		err := os.MkdirAll(path, perm)
		if lakemark.ShouldRetry(err) {
			return retry.RetryableError(lakemark.Error{
				Code: lakemark.FileIOError,
				Err:  err,
			})
		}
		return err
	}, nil)
}

func (dio defaultFileIO) RemoveAll(ctx context.Context, path string) error {
	return lakemark.Retry(ctx, func(context.Context) error {
		err := os.RemoveAll(path)
		if lakemark.ShouldRetry(err) {
			return retry.RetryableError(lakemark.Error{
				Code: lakemark.FileIOError,
				Err:  err,
			})
		}
		return err
	}, nil)
}

func (dio defaultFileIO) Exists(ctx context.Context, path string) bool {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return true
	}
	return false
}

func (dio defaultFileIO) ReadDir(ctx context.Context, sourceDir string) ([]os.DirEntry, error) {
	var r []os.DirEntry
	err := lakemark.Retry(ctx, func(context.Context) error {
		var err error
		r, err = os.ReadDir(sourceDir)
		if lakemark.ShouldRetry(err) {
			return retry.RetryableError(lakemark.Error{
				Code: lakemark.FileIOError,
				Err:  err,
			})
		}
		return err
	}, nil)
	return r, err
}

func (dio defaultFileIO) ListRecursive(ctx context.Context, root string) ([]string, error) {
	if !dio.Exists(ctx, root) {
		return nil, nil
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, lakemark.Error{
			Code: lakemark.FileIOError,
			Err:  err,
		}
	}
	return paths, nil
}

// Directory/File permission.
const permission os.FileMode = os.ModeSticky | os.ModePerm
