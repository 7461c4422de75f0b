package marker

import (
	"context"
	"fmt"
	log "log/slog"
	"path/filepath"

	"github.com/sharedcode/lakemark"
	"github.com/sharedcode/lakemark/timeline"
)

// ConflictDetector decides, before any data I/O happens, whether a candidate
// marker targets a file group already claimed by another concurrently pending
// write instant. Detection only: resolution (retry, abort, reconcile) belongs
// to the write layer.
type ConflictDetector interface {
	// Check returns an EarlyConflictDetected error when another pending,
	// non-table-service instant holds a marker in the candidate's file group,
	// nil otherwise.
	Check(ctx context.Context, partitionPath, dataFileName string, t lakemark.IOType, fileGroupID string, tl timeline.ActiveTimeline) error
}

// FileGroupGuard is an optional compare-and-swap layer closing the
// observe-then-act window of marker-based detection: claims are keyed by
// (partition, file group) and owned by an instant. The redis adapter provides
// a SETNX-backed implementation; without a guard, detection stays purely
// optimistic and the authoritative pre-commit check resolves races.
type FileGroupGuard interface {
	// Claim records the instant's ownership of the file group. When the group
	// is already owned, ok is false and ownerInstant names the holder.
	Claim(ctx context.Context, partitionPath, fileGroupID, instant string) (ownerInstant string, ok bool, err error)
}

type markerBasedDetector struct {
	src        SnapshotSource
	ownInstant string
	guard      FileGroupGuard
	logger     *log.Logger
}

// NewMarkerBasedDetector creates a detector reading other instants' marker
// sets through src. guard may be nil.
func NewMarkerBasedDetector(src SnapshotSource, ownInstant string, guard FileGroupGuard, logger *log.Logger) ConflictDetector {
	if logger == nil {
		logger = log.Default()
	}
	return &markerBasedDetector{
		src:        src,
		ownInstant: ownInstant,
		guard:      guard,
		logger:     logger,
	}
}

func (d *markerBasedDetector) Check(ctx context.Context, partitionPath, dataFileName string, t lakemark.IOType, fileGroupID string, tl timeline.ActiveTimeline) error {
	if fileGroupID == "" {
		fileGroupID = FileGroupID(dataFileName)
	}
	instants, err := d.src.InstantsWithMarkers(ctx)
	if err != nil {
		return err
	}
	wantDir := filepath.Clean(partitionPath)
	for _, instant := range instants {
		if instant == d.ownInstant {
			continue
		}
		// Completed instants delete their marker directory; a directory whose
		// instant left the active timeline is a leftover of a failed write
		// awaiting rollback, not a live claim.
		if !tl.ContainsInstant(instant) {
			continue
		}
		// Conflict detection against table services is deferred; their
		// markers are not consulted.
		if timeline.IsTableService(tl, instant) {
			continue
		}
		names, err := d.src.MarkerNamesOf(ctx, instant)
		if err != nil {
			return err
		}
		for _, name := range names {
			if filepath.Dir(name) != wantDir {
				continue
			}
			if FileGroupID(filepath.Base(name)) != fileGroupID {
				continue
			}
			return lakemark.Error{
				Code: lakemark.EarlyConflictDetected,
				Err: fmt.Errorf("early conflict detected: instant %s and pending instant %s both write file group %s in partition %q (marker %s)",
					d.ownInstant, instant, fileGroupID, partitionPath, name),
				UserData: instant,
			}
		}
	}

	if d.guard != nil {
		owner, ok, err := d.guard.Claim(ctx, partitionPath, fileGroupID, d.ownInstant)
		if err != nil {
			return lakemark.Error{
				Code: lakemark.MarkerDirectoryIOFailure,
				Err:  fmt.Errorf("file group guard unavailable: %w", err),
			}
		}
		if !ok && owner != d.ownInstant && tl.ContainsInstant(owner) && !timeline.IsTableService(tl, owner) {
			return lakemark.Error{
				Code: lakemark.EarlyConflictDetected,
				Err: fmt.Errorf("early conflict detected: file group %s in partition %q is claimed by pending instant %s (guard), instant %s must abort",
					fileGroupID, partitionPath, owner, d.ownInstant),
				UserData: owner,
			}
		}
	}
	return nil
}
