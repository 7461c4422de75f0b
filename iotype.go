package lakemark

import "fmt"

// IOType records the write intent a marker asserts over its data file.
type IOType int

const (
	// IOTypeCreate marks a brand new data file.
	IOTypeCreate IOType = iota
	// IOTypeMerge marks a full rewrite of an existing data file.
	IOTypeMerge
	// IOTypeAppend marks an extension of an existing data file without rewrite.
	// Append markers are excluded from created-or-merged accounting used by
	// rollback and commit metadata assembly.
	IOTypeAppend
)

// String returns the stable wire token of the IO type. Downstream rollback and
// stats tooling parse these tokens out of marker file names, so they must not
// change.
func (t IOType) String() string {
	switch t {
	case IOTypeCreate:
		return "CREATE"
	case IOTypeMerge:
		return "MERGE"
	case IOTypeAppend:
		return "APPEND"
	}
	return fmt.Sprintf("IOType(%d)", int(t))
}

// ParseIOType converts a wire token back to an IOType.
func ParseIOType(s string) (IOType, error) {
	switch s {
	case "CREATE":
		return IOTypeCreate, nil
	case "MERGE":
		return IOTypeMerge, nil
	case "APPEND":
		return IOTypeAppend, nil
	}
	return IOTypeCreate, Error{
		Code:     MalformedMarkerPath,
		Err:      fmt.Errorf("unknown IO type token %q", s),
		UserData: s,
	}
}
