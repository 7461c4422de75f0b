// Package marker implements the per-write-instant marker subsystem: the path
// codec, the direct and coordinated marker stores, early conflict detection
// and the write marker manager that data-file writers and rollback call into.
//
// A marker is a record asserting "this instant is about to write this file
// with this intent", created before the real data write. Each write instant
// owns one marker directory under the table's marker root for its lifetime.
package marker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sharedcode/lakemark"
)

// MarkerExtension is the suffix token separating the data file name from the
// IO type in a marker file name: "<fileName>.marker.<IOTYPE>".
const MarkerExtension = ".marker"

// MarkerFileName formats the marker file name for a data file and IO type.
func MarkerFileName(dataFileName string, t lakemark.IOType) string {
	return fmt.Sprintf("%s%s.%s", dataFileName, MarkerExtension, t)
}

// MarkerPath encodes the full marker path for (partition, file name, IO type)
// under the instant's marker directory. Distinct triples always map to
// distinct paths because the IO type token terminates the name.
func MarkerPath(markerDirPath, partitionPath, dataFileName string, t lakemark.IOType) string {
	return filepath.Join(markerDirPath, partitionPath, MarkerFileName(dataFileName, t))
}

// StripMarkerSuffix removes ".marker.<IOTYPE>" from the file-name component of
// path, recovering the underlying data file path. It fails with a
// MalformedMarkerPath error when the suffix token is absent.
func StripMarkerSuffix(path string) (string, error) {
	i := strings.LastIndex(path, MarkerExtension+".")
	if i < 0 {
		return "", lakemark.Error{
			Code:     lakemark.MalformedMarkerPath,
			Err:      fmt.Errorf("path %q carries no %s suffix", path, MarkerExtension),
			UserData: path,
		}
	}
	if _, err := lakemark.ParseIOType(path[i+len(MarkerExtension)+1:]); err != nil {
		return "", err
	}
	return path[:i], nil
}

// IOTypeOfMarker parses the IO type token off a marker path. Rollback uses it
// to exclude APPEND markers from created-or-merged accounting.
func IOTypeOfMarker(path string) (lakemark.IOType, error) {
	i := strings.LastIndex(path, MarkerExtension+".")
	if i < 0 {
		return lakemark.IOTypeCreate, lakemark.Error{
			Code:     lakemark.MalformedMarkerPath,
			Err:      fmt.Errorf("path %q carries no %s suffix", path, MarkerExtension),
			UserData: path,
		}
	}
	return lakemark.ParseIOType(path[i+len(MarkerExtension)+1:])
}

// FileGroupID extracts the file group id from a data or marker file name.
// Data file names follow "<fileId>_<writeToken>_<instant>.<ext>"; the id is
// everything before the first underscore (or dot for unsuffixed names).
func FileGroupID(fileName string) string {
	base := filepath.Base(fileName)
	if i := strings.IndexByte(base, '_'); i >= 0 {
		return base[:i]
	}
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// markerDirPath returns the marker directory of an instant under the table
// base path: <base>/.lakemark/markers/<instant>.
func markerDirPath(basePath, instant string) string {
	return filepath.Join(basePath, lakemark.MarkerRootFolder, instant)
}

// markerRootPath returns the folder holding every instant's marker directory.
func markerRootPath(basePath string) string {
	return filepath.Join(basePath, lakemark.MarkerRootFolder)
}

// relativeMarkerPath trims dir (the marker directory) off p, yielding the
// "<partition>/<marker file>" remainder.
func relativeMarkerPath(dir, p string) string {
	r := strings.TrimPrefix(p, dir)
	return strings.TrimPrefix(r, string(os.PathSeparator))
}
