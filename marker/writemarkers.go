package marker

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/sharedcode/lakemark"
	"github.com/sharedcode/lakemark/timeline"
)

// CleanupOutcome reports what quiet marker directory cleanup did. Quiet
// cleanup never fails the caller; the outcome keeps the result observable
// instead of silently swallowing it.
type CleanupOutcome int

const (
	// CleanupSucceeded means the marker directory existed and was removed.
	CleanupSucceeded CleanupOutcome = iota
	// CleanupDirectoryAbsent means there was nothing to remove.
	CleanupDirectoryAbsent
	// CleanupFailed means removal failed; the failure was logged at warning
	// level and swallowed.
	CleanupFailed
)

// WriteMarkers orchestrates marker operations for one write instant: path
// encoding, persistence through the configured Store, and optional early
// conflict detection. Data-file writers request markers before opening data
// files; commit completion quiet-deletes the directory; rollback reads
// created-or-merged data paths to find files needing deletion.
type WriteMarkers struct {
	store    Store
	detector ConflictDetector
	instant  string
	logger   *log.Logger
}

// NewWriteMarkers composes a manager over the given store. detector may be
// nil, in which case CreateWithConflictCheck always falls back to plain
// creation. A nil logger falls back to slog.Default().
func NewWriteMarkers(store Store, detector ConflictDetector, instant string, logger *log.Logger) *WriteMarkers {
	if logger == nil {
		logger = log.Default()
	}
	return &WriteMarkers{
		store:    store,
		detector: detector,
		instant:  instant,
		logger:   logger,
	}
}

// Instant returns the write instant this manager is scoped to.
func (wm *WriteMarkers) Instant() string {
	return wm.instant
}

// Create persists a marker unconditionally; the caller guarantees uniqueness
// (single-writer fast path). A pre-existing marker surfaces
// MarkerAlreadyExists.
func (wm *WriteMarkers) Create(ctx context.Context, partitionPath, dataFileName string, t lakemark.IOType) (string, error) {
	path, _, err := wm.store.Create(ctx, partitionPath, dataFileName, t, false)
	return path, err
}

// CreateIfAbsent persists a marker idempotently: a retried or
// duplicate-executing task finds created false and an empty path instead of
// an error, and exactly one marker exists afterward.
func (wm *WriteMarkers) CreateIfAbsent(ctx context.Context, partitionPath, dataFileName string, t lakemark.IOType) (path string, created bool, err error) {
	return wm.store.Create(ctx, partitionPath, dataFileName, t, true)
}

// CreateWithConflictCheck persists a marker, first running early conflict
// detection when the write config enables it under optimistic concurrency
// control. Table-service instants (pending compaction/replace) bypass the
// check entirely: conflict detection between table services and common
// writers is deferred. On conflict the marker is not persisted and an
// EarlyConflictDetected error aborts the write attempt before any data I/O.
func (wm *WriteMarkers) CreateWithConflictCheck(ctx context.Context, partitionPath, dataFileName string, t lakemark.IOType,
	cfg lakemark.WriteConfig, fileGroupID string, tl timeline.ActiveTimeline) (string, error) {
	if cfg.ConcurrencyMode.SupportsOptimisticConcurrencyControl() && cfg.EarlyConflictDetection {
		if timeline.IsTableService(tl, wm.instant) {
			return wm.Create(ctx, partitionPath, dataFileName, t)
		}
		if wm.detector != nil {
			if err := wm.detector.Check(ctx, partitionPath, dataFileName, t, fileGroupID, tl); err != nil {
				return "", err
			}
			// Marker creation is the commit point of this optimistic check;
			// the marker becomes visible to subsequent checks by other
			// instants.
			return wm.Create(ctx, partitionPath, dataFileName, t)
		}
		wm.logger.Warn(fmt.Sprintf("early conflict detection enabled but no detector wired for instant %s, creating marker without check", wm.instant))
	}
	return wm.Create(ctx, partitionPath, dataFileName, t)
}

// DeleteMarkerDirectory removes the instant's whole marker directory and
// reports whether it existed. Failures propagate.
func (wm *WriteMarkers) DeleteMarkerDirectory(ctx context.Context, parallelism int) (bool, error) {
	return wm.store.DeleteDir(ctx, parallelism)
}

// QuietDeleteMarkerDirectory removes the marker directory, logging and
// swallowing every failure: cleanup is best effort and must never turn a
// successful commit into a reported failure.
func (wm *WriteMarkers) QuietDeleteMarkerDirectory(ctx context.Context, parallelism int) CleanupOutcome {
	existed, err := wm.store.DeleteDir(ctx, parallelism)
	if err != nil {
		wm.logger.Warn(fmt.Sprintf("error deleting marker directory for instant %s, details: %v", wm.instant, err))
		return CleanupFailed
	}
	if !existed {
		return CleanupDirectoryAbsent
	}
	return CleanupSucceeded
}

// MarkerDirectoryExists reports whether the instant's marker directory exists.
func (wm *WriteMarkers) MarkerDirectoryExists(ctx context.Context) (bool, error) {
	return wm.store.DirExists(ctx)
}

// AllMarkerPaths returns the set of every marker path of the instant.
func (wm *WriteMarkers) AllMarkerPaths(ctx context.Context) (map[string]struct{}, error) {
	paths, err := wm.store.AllMarkerPaths(ctx)
	if err != nil {
		return nil, err
	}
	r := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		r[p] = struct{}{}
	}
	return r, nil
}

// CreatedOrMergedDataPaths returns the data file paths tracked by CREATE and
// MERGE markers, for rollback and commit metadata assembly. APPEND markers
// are excluded.
func (wm *WriteMarkers) CreatedOrMergedDataPaths(ctx context.Context, parallelism int) (map[string]struct{}, error) {
	return wm.store.CreatedAndMergedDataPaths(ctx, parallelism)
}
