package marker

import (
	"fmt"
	log "log/slog"
	"net/http"

	"github.com/sharedcode/lakemark"
	"github.com/sharedcode/lakemark/fs"
)

// Options assembles a WriteMarkers manager for one write instant.
type Options struct {
	// BasePath of the table.
	BasePath string
	// Instant this manager is scoped to.
	Instant string
	// Config selects the marker backend and concurrency behavior.
	Config lakemark.WriteConfig
	// FileIO used by the direct backend; nil selects the os-backed default.
	FileIO fs.FileIO
	// HTTPClient used by the coordinated backend; nil selects a default.
	HTTPClient *http.Client
	// Guard optionally closes the observe-then-act window of early conflict
	// detection; nil keeps detection purely optimistic.
	Guard FileGroupGuard
	// Logger; nil falls back to slog.Default().
	Logger *log.Logger
}

// New builds the WriteMarkers manager for opts, binding the instant to the
// configured backend for its whole life.
func New(opts Options) (*WriteMarkers, error) {
	var store Store
	var src SnapshotSource
	switch opts.Config.MarkerType {
	case lakemark.MarkerTypeDirect:
		ds := NewDirectStore(opts.FileIO, opts.BasePath, opts.Instant, opts.Logger)
		store, src = ds, ds
	case lakemark.MarkerTypeCoordinated:
		if opts.Config.CoordinatorEndpoint == "" {
			return nil, fmt.Errorf("marker type coordinated requires a coordinator endpoint")
		}
		cs := NewCoordinatedStore(opts.Config.CoordinatorEndpoint, opts.BasePath, opts.Instant, opts.HTTPClient, opts.Logger)
		store, src = cs, cs
	default:
		return nil, fmt.Errorf("unknown marker type %d", opts.Config.MarkerType)
	}
	detector := NewMarkerBasedDetector(src, opts.Instant, opts.Guard, opts.Logger)
	return NewWriteMarkers(store, detector, opts.Instant, opts.Logger), nil
}
