// Package coordinator hosts the marker coordination sidecar: a long-lived
// service that accumulates marker requests from many concurrent tasks of the
// same write instant and batches them into periodic file system writes, one
// physical object per batch. This trades a window of crash durability (an
// unflushed batch dies with the service) for far fewer metadata operations
// than the direct store's file-per-marker approach.
package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sharedcode/lakemark"
	"github.com/sharedcode/lakemark/fs"
)

// batchFilePrefix names the batch objects inside a coordinated instant's
// marker directory: MARKERS0, MARKERS1, ...
const batchFilePrefix = "MARKERS"

// dirState is the coordinator's view of one instant's marker directory: the
// authoritative in-memory marker set plus the names accepted since the last
// flush. The mutex serializes concurrent task requests; batching happens
// under the same lock so a createIfAbsent can never miss an accepted marker.
type dirState struct {
	mu      sync.Mutex
	created map[string]bool
	pending []string
	seq     int
	loaded  bool
	// deleted tombstones the state once its marker directory is removed, so an
	// in-flight flush holding this pointer cannot resurrect the directory.
	deleted bool
}

func newDirState() *dirState {
	return &dirState{
		created: make(map[string]bool),
	}
}

// load rebuilds the in-memory set from the batch objects of a previous
// coordinator process. Called once, under mu.
func (st *dirState) load(ctx context.Context, fio fs.FileIO, dirPath string) error {
	if st.loaded {
		return nil
	}
	if fio.Exists(ctx, dirPath) {
		entries, err := fio.ReadDir(ctx, dirPath)
		if err != nil {
			return err
		}
		maxSeq := -1
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), batchFilePrefix) {
				continue
			}
			ba, err := fio.ReadFile(ctx, filepath.Join(dirPath, e.Name()))
			if err != nil {
				return err
			}
			for _, name := range strings.Split(string(ba), "\n") {
				if name != "" {
					st.created[name] = true
				}
			}
			var n int
			if _, err := fmt.Sscanf(e.Name(), batchFilePrefix+"%d", &n); err == nil && n > maxSeq {
				maxSeq = n
			}
		}
		st.seq = maxSeq + 1
	}
	st.loaded = true
	return nil
}

// add accepts a marker name. With checkIfExists true a duplicate yields
// created false; with checkIfExists false it is an error for the caller to
// map to MarkerAlreadyExists.
func (st *dirState) add(name string, checkIfExists bool) (created bool, err error) {
	if st.created[name] {
		if checkIfExists {
			return false, nil
		}
		return false, lakemark.Error{
			Code:     lakemark.MarkerAlreadyExists,
			Err:      fmt.Errorf("marker %s already exists", name),
			UserData: name,
		}
	}
	st.created[name] = true
	st.pending = append(st.pending, name)
	return true, nil
}

// flush writes the pending names as one batch object. On write failure the
// names stay pending for the next tick. Called under mu.
func (st *dirState) flush(ctx context.Context, fio fs.FileIO, dirPath string) error {
	if st.deleted {
		st.pending = nil
		return nil
	}
	if len(st.pending) == 0 {
		return nil
	}
	if !fio.Exists(ctx, dirPath) {
		if err := fio.MkdirAll(ctx, dirPath, permission); err != nil {
			return err
		}
	}
	name := filepath.Join(dirPath, fmt.Sprintf("%s%d", batchFilePrefix, st.seq))
	data := []byte(strings.Join(st.pending, "\n"))
	if err := fio.WriteFile(ctx, name, data, permission); err != nil {
		return err
	}
	st.seq++
	st.pending = nil
	return nil
}

// markerNames returns the sorted marker names of the instant. Called under mu.
func (st *dirState) markerNames() []string {
	names := make([]string, 0, len(st.created))
	for n := range st.created {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
