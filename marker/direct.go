package marker

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sharedcode/lakemark"
	"github.com/sharedcode/lakemark/fs"
)

// DirectStore keeps one minimal-content marker file per tracked data file,
// at its encoded path inside the instant's marker directory on the table's
// file system. It survives process crashes; the cost is one file system
// metadata operation per tracked file, which bottlenecks at high file counts
// on centralized-metadata file systems.
type DirectStore struct {
	fio      fs.FileIO
	basePath string
	instant  string
	dirPath  string
	logger   *log.Logger
}

// Directory/File permission.
const permission os.FileMode = os.ModeSticky | os.ModePerm

// NewDirectStore creates a DirectStore for one write instant of the table at
// basePath. A nil logger falls back to slog.Default().
func NewDirectStore(fio fs.FileIO, basePath, instant string, logger *log.Logger) *DirectStore {
	if fio == nil {
		fio = fs.NewFileIO()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DirectStore{
		fio:      fio,
		basePath: basePath,
		instant:  instant,
		dirPath:  markerDirPath(basePath, instant),
		logger:   logger,
	}
}

func (s *DirectStore) Create(ctx context.Context, partitionPath, dataFileName string, t lakemark.IOType, checkIfExists bool) (string, bool, error) {
	partitionDir := filepath.Join(s.dirPath, partitionPath)
	if !s.fio.Exists(ctx, partitionDir) {
		if err := s.fio.MkdirAll(ctx, partitionDir, permission); err != nil {
			return "", false, lakemark.Error{
				Code:     lakemark.MarkerDirectoryIOFailure,
				Err:      err,
				UserData: s.instant,
			}
		}
	}
	mp := MarkerPath(s.dirPath, partitionPath, dataFileName, t)
	if checkIfExists && s.fio.Exists(ctx, mp) {
		s.logger.Debug(fmt.Sprintf("marker %s already exists for instant %s, skipping", mp, s.instant))
		return "", false, nil
	}
	if err := s.fio.CreateFile(ctx, mp, false); err != nil {
		if errors.Is(err, os.ErrExist) {
			if checkIfExists {
				// Lost the create race to a duplicate-executing task; the
				// marker is present, which is all the caller needs.
				return "", false, nil
			}
			return "", false, lakemark.Error{
				Code:     lakemark.MarkerAlreadyExists,
				Err:      fmt.Errorf("marker %s already exists for instant %s: %w", mp, s.instant, err),
				UserData: mp,
			}
		}
		return "", false, lakemark.Error{
			Code:     lakemark.MarkerDirectoryIOFailure,
			Err:      fmt.Errorf("creating marker %s: %w", mp, err),
			UserData: s.instant,
		}
	}
	return mp, true, nil
}

func (s *DirectStore) DeleteDir(ctx context.Context, parallelism int) (bool, error) {
	if !s.fio.Exists(ctx, s.dirPath) {
		return false, nil
	}
	paths, err := s.fio.ListRecursive(ctx, s.dirPath)
	if err != nil {
		return false, lakemark.Error{
			Code:     lakemark.MarkerDirectoryIOFailure,
			Err:      err,
			UserData: s.instant,
		}
	}
	// Writers have quiesced by the time deletion runs (commit or rollback
	// phase), so per-file removal needs no coordination beyond fan-out.
	tr := lakemark.NewTaskRunner(ctx, parallelism)
	for _, p := range paths {
		p := p
		tr.Go(func() error {
			return s.fio.Remove(tr.GetContext(), p)
		})
	}
	if err := tr.Wait(); err != nil {
		return false, lakemark.Error{
			Code:     lakemark.MarkerDirectoryIOFailure,
			Err:      err,
			UserData: s.instant,
		}
	}
	if err := s.fio.RemoveAll(ctx, s.dirPath); err != nil {
		return false, lakemark.Error{
			Code:     lakemark.MarkerDirectoryIOFailure,
			Err:      err,
			UserData: s.instant,
		}
	}
	return true, nil
}

func (s *DirectStore) DirExists(ctx context.Context) (bool, error) {
	return s.fio.Exists(ctx, s.dirPath), nil
}

func (s *DirectStore) AllMarkerPaths(ctx context.Context) ([]string, error) {
	paths, err := s.fio.ListRecursive(ctx, s.dirPath)
	if err != nil {
		return nil, lakemark.Error{
			Code:     lakemark.MarkerDirectoryIOFailure,
			Err:      err,
			UserData: s.instant,
		}
	}
	return paths, nil
}

func (s *DirectStore) CreatedAndMergedDataPaths(ctx context.Context, parallelism int) (map[string]struct{}, error) {
	entries, err := s.fio.ReadDir(ctx, s.dirPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return nil, lakemark.Error{
			Code:     lakemark.MarkerDirectoryIOFailure,
			Err:      err,
			UserData: s.instant,
		}
	}

	dataPaths := make(map[string]struct{})
	var mu sync.Mutex
	collect := func(ctx context.Context, root string) error {
		paths, err := s.fio.ListRecursive(ctx, root)
		if err != nil {
			return err
		}
		for _, p := range paths {
			t, err := IOTypeOfMarker(p)
			if err != nil {
				return err
			}
			if t == lakemark.IOTypeAppend {
				continue
			}
			rel, err := StripMarkerSuffix(relativeMarkerPath(s.dirPath, p))
			if err != nil {
				return err
			}
			mu.Lock()
			dataPaths[filepath.Join(s.basePath, rel)] = struct{}{}
			mu.Unlock()
		}
		return nil
	}

	// Fan out one listing task per top-level partition folder.
	tr := lakemark.NewTaskRunner(ctx, parallelism)
	for _, e := range entries {
		sub := filepath.Join(s.dirPath, e.Name())
		if !e.IsDir() {
			// Markers of the root (non-partitioned) path.
			t, err := IOTypeOfMarker(sub)
			if err != nil {
				return nil, err
			}
			if t == lakemark.IOTypeAppend {
				continue
			}
			rel, err := StripMarkerSuffix(e.Name())
			if err != nil {
				return nil, err
			}
			dataPaths[filepath.Join(s.basePath, rel)] = struct{}{}
			continue
		}
		tr.Go(func() error {
			return collect(tr.GetContext(), sub)
		})
	}
	if err := tr.Wait(); err != nil {
		if lakemark.CodeOf(err) == lakemark.MalformedMarkerPath {
			return nil, err
		}
		return nil, lakemark.Error{
			Code:     lakemark.MarkerDirectoryIOFailure,
			Err:      err,
			UserData: s.instant,
		}
	}
	return dataPaths, nil
}

// InstantsWithMarkers lists every instant owning a marker directory under the
// table's marker root.
func (s *DirectStore) InstantsWithMarkers(ctx context.Context) ([]string, error) {
	root := markerRootPath(s.basePath)
	if !s.fio.Exists(ctx, root) {
		return nil, nil
	}
	entries, err := s.fio.ReadDir(ctx, root)
	if err != nil {
		return nil, lakemark.Error{
			Code: lakemark.MarkerDirectoryIOFailure,
			Err:  err,
		}
	}
	var instants []string
	for _, e := range entries {
		if e.IsDir() {
			instants = append(instants, e.Name())
		}
	}
	return instants, nil
}

// MarkerNamesOf lists another instant's markers as partition-relative names.
func (s *DirectStore) MarkerNamesOf(ctx context.Context, instant string) ([]string, error) {
	dir := markerDirPath(s.basePath, instant)
	paths, err := s.fio.ListRecursive(ctx, dir)
	if err != nil {
		return nil, lakemark.Error{
			Code:     lakemark.MarkerDirectoryIOFailure,
			Err:      err,
			UserData: instant,
		}
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, relativeMarkerPath(dir, p))
	}
	return names, nil
}

var _ Store = (*DirectStore)(nil)
var _ SnapshotSource = (*DirectStore)(nil)
