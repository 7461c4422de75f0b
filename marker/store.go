package marker

import (
	"context"

	"github.com/sharedcode/lakemark"
)

// Store is the backend-polymorphic, durable, listable set of marker records
// for one write instant. An instant binds to one Store implementation at
// construction and keeps it for its whole life; there is no reconciliation
// between backends for the same instant.
type Store interface {
	// Create persists the marker for (partitionPath, dataFileName, t) and
	// returns its path. With checkIfExists true the call is idempotent:
	// created is false and the path empty when the marker already exists.
	// With checkIfExists false a pre-existing marker is an error
	// (MarkerAlreadyExists).
	Create(ctx context.Context, partitionPath, dataFileName string, t lakemark.IOType, checkIfExists bool) (path string, created bool, err error)
	// DeleteDir removes the instant's whole marker directory and reports
	// whether it existed.
	DeleteDir(ctx context.Context, parallelism int) (bool, error)
	// DirExists reports whether the instant's marker directory exists.
	DirExists(ctx context.Context) (bool, error)
	// AllMarkerPaths returns every marker path of the instant.
	AllMarkerPaths(ctx context.Context) ([]string, error)
	// CreatedAndMergedDataPaths returns the data file paths derived from
	// CREATE and MERGE markers (suffix stripped, resolved against the table
	// base path). APPEND markers are excluded. Parallelism only affects
	// listing throughput, never results.
	CreatedAndMergedDataPaths(ctx context.Context, parallelism int) (map[string]struct{}, error)
}

// SnapshotSource lists marker state across instants. The early conflict
// detector reads other instants' marker sets through it; implementations
// never mutate foreign marker directories.
type SnapshotSource interface {
	// InstantsWithMarkers returns the instants that currently own a marker
	// directory under the table's marker root.
	InstantsWithMarkers(ctx context.Context) ([]string, error)
	// MarkerNamesOf returns the "<partition>/<marker file>" names of one
	// instant's markers.
	MarkerNamesOf(ctx context.Context, instant string) ([]string, error)
}
