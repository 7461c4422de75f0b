package fs

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type simDirEntry struct {
	name  string
	isDir bool
}

func (e simDirEntry) Name() string               { return e.name }
func (e simDirEntry) IsDir() bool                { return e.isDir }
func (e simDirEntry) Type() os.FileMode          { return 0 }
func (e simDirEntry) Info() (os.FileInfo, error) { return nil, nil }

// FileIOSimulator is an in-memory FileIO used by tests. It keeps a flat
// path->data map and derives directory semantics from path prefixes, so
// marker trees behave like they do on a real filesystem. Error induction
// flags are manipulated by tests concurrently; they use atomics to avoid
// races.
type FileIOSimulator struct {
	lookup map[string][]byte
	locker sync.Mutex

	errorOnCreate    atomic.Bool
	errorOnList      atomic.Bool
	errorOnRemoveAll atomic.Bool
}

// NewFileIOSimulator creates an empty in-memory FileIO.
func NewFileIOSimulator() *FileIOSimulator {
	return &FileIOSimulator{
		lookup: make(map[string][]byte),
	}
}

// InduceErrorOnCreate makes subsequent WriteFile/CreateFile calls fail.
func (sim *FileIOSimulator) InduceErrorOnCreate(v bool) { sim.errorOnCreate.Store(v) }

// InduceErrorOnList makes subsequent ReadDir/ListRecursive calls fail.
func (sim *FileIOSimulator) InduceErrorOnList(v bool) { sim.errorOnList.Store(v) }

// InduceErrorOnRemoveAll makes subsequent RemoveAll calls fail.
func (sim *FileIOSimulator) InduceErrorOnRemoveAll(v bool) { sim.errorOnRemoveAll.Store(v) }

func (sim *FileIOSimulator) WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	if sim.errorOnCreate.Load() {
		return fmt.Errorf("induced error on write of %s", name)
	}
	sim.locker.Lock()
	sim.lookup[name] = data
	sim.locker.Unlock()
	return nil
}

func (sim *FileIOSimulator) ReadFile(ctx context.Context, name string) ([]byte, error) {
	sim.locker.Lock()
	defer sim.locker.Unlock()
	ba, ok := sim.lookup[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return ba, nil
}

func (sim *FileIOSimulator) CreateFile(ctx context.Context, name string, overwrite bool) error {
	if sim.errorOnCreate.Load() {
		return fmt.Errorf("induced error on create of %s", name)
	}
	sim.locker.Lock()
	defer sim.locker.Unlock()
	if _, ok := sim.lookup[name]; ok && !overwrite {
		return os.ErrExist
	}
	sim.lookup[name] = nil
	return nil
}

func (sim *FileIOSimulator) Remove(ctx context.Context, name string) error {
	sim.locker.Lock()
	delete(sim.lookup, name)
	sim.locker.Unlock()
	return nil
}

func (sim *FileIOSimulator) Exists(ctx context.Context, path string) bool {
	prefix := ensureSeparatorSuffix(path)
	sim.locker.Lock()
	defer sim.locker.Unlock()
	for k := range sim.lookup {
		if k == path || strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func (sim *FileIOSimulator) RemoveAll(ctx context.Context, path string) error {
	if sim.errorOnRemoveAll.Load() {
		return fmt.Errorf("induced error on remove of %s", path)
	}
	prefix := ensureSeparatorSuffix(path)
	sim.locker.Lock()
	defer sim.locker.Unlock()
	for k := range sim.lookup {
		if k == path || strings.HasPrefix(k, prefix) {
			delete(sim.lookup, k)
		}
	}
	return nil
}

func (sim *FileIOSimulator) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	return nil
}

func (sim *FileIOSimulator) ReadDir(ctx context.Context, sourceDir string) ([]os.DirEntry, error) {
	if sim.errorOnList.Load() {
		return nil, fmt.Errorf("induced error on list of %s", sourceDir)
	}
	prefix := ensureSeparatorSuffix(sourceDir)
	seen := make(map[string]bool)
	sim.locker.Lock()
	for k := range sim.lookup {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		sep := strings.IndexRune(rest, os.PathSeparator)
		if sep < 0 {
			seen[rest] = false
		} else {
			seen[rest[:sep]] = true
		}
	}
	sim.locker.Unlock()

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	r := make([]os.DirEntry, len(names))
	for i, n := range names {
		r[i] = simDirEntry{name: n, isDir: seen[n]}
	}
	return r, nil
}

func (sim *FileIOSimulator) ListRecursive(ctx context.Context, root string) ([]string, error) {
	if sim.errorOnList.Load() {
		return nil, fmt.Errorf("induced error on list of %s", root)
	}
	prefix := ensureSeparatorSuffix(root)
	var paths []string
	sim.locker.Lock()
	for k := range sim.lookup {
		if strings.HasPrefix(k, prefix) {
			paths = append(paths, k)
		}
	}
	sim.locker.Unlock()
	sort.Strings(paths)
	return paths, nil
}

func ensureSeparatorSuffix(path string) string {
	s := string(os.PathSeparator)
	if strings.HasSuffix(path, s) {
		return path
	}
	return path + s
}

var _ FileIO = (*FileIOSimulator)(nil)
