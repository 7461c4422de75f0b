package marker

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/sharedcode/lakemark"
	"github.com/sharedcode/lakemark/fs"
)

var ctx = context.Background()

func TestDirectCreateThenDuplicate(t *testing.T) {
	base := t.TempDir()
	s := NewDirectStore(fs.NewFileIO(), base, "001", nil)

	path, created, err := s.Create(ctx, "p1", "f1-0_1-0-1_001.parquet", lakemark.IOTypeCreate, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created || path == "" {
		t.Fatalf("expected created marker with path, got created=%v path=%q", created, path)
	}
	want := filepath.Join(base, lakemark.MarkerRootFolder, "001", "p1", "f1-0_1-0-1_001.parquet.marker.CREATE")
	if path != want {
		t.Errorf("marker path: got %q, want %q", path, want)
	}

	// Unconditional create of the same marker is an error.
	_, _, err = s.Create(ctx, "p1", "f1-0_1-0-1_001.parquet", lakemark.IOTypeCreate, false)
	if lakemark.CodeOf(err) != lakemark.MarkerAlreadyExists {
		t.Errorf("expected MarkerAlreadyExists, got %v", err)
	}
}

func TestDirectCreateIfAbsentIsIdempotent(t *testing.T) {
	base := t.TempDir()
	s := NewDirectStore(fs.NewFileIO(), base, "001", nil)

	path, created, err := s.Create(ctx, "p1", "f1.parquet", lakemark.IOTypeMerge, true)
	if err != nil || !created || path == "" {
		t.Fatalf("first create: path=%q created=%v err=%v", path, created, err)
	}
	// A retried task sees created false, empty path and no error.
	path, created, err = s.Create(ctx, "p1", "f1.parquet", lakemark.IOTypeMerge, true)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created || path != "" {
		t.Errorf("expected idempotent no-op, got created=%v path=%q", created, path)
	}

	paths, err := s.AllMarkerPaths(ctx)
	if err != nil {
		t.Fatalf("AllMarkerPaths: %v", err)
	}
	if len(paths) != 1 {
		t.Errorf("expected exactly one marker, got %v", paths)
	}
}

func TestDirectDistinctTriplesDistinctMarkers(t *testing.T) {
	base := t.TempDir()
	s := NewDirectStore(fs.NewFileIO(), base, "001", nil)

	// Same file name under two IO types is two markers.
	type triple struct {
		partition, file string
		typ             lakemark.IOType
	}
	triples := []triple{
		{"p1", "f1.parquet", lakemark.IOTypeCreate},
		{"p1", "f1.parquet", lakemark.IOTypeAppend},
		{"p1", "f2.parquet", lakemark.IOTypeCreate},
		{"p2", "f1.parquet", lakemark.IOTypeCreate},
		{"2026/08/23", "f3.parquet", lakemark.IOTypeMerge},
	}
	for _, tr := range triples {
		if _, _, err := s.Create(ctx, tr.partition, tr.file, tr.typ, false); err != nil {
			t.Fatalf("Create %v: %v", tr, err)
		}
	}
	paths, err := s.AllMarkerPaths(ctx)
	if err != nil {
		t.Fatalf("AllMarkerPaths: %v", err)
	}
	if len(paths) != len(triples) {
		t.Errorf("expected %d markers, got %d: %v", len(triples), len(paths), paths)
	}
}

func TestDirectCreatedAndMergedExcludesAppend(t *testing.T) {
	base := t.TempDir()
	s := NewDirectStore(fs.NewFileIO(), base, "001", nil)

	seed := []struct {
		partition, file string
		typ             lakemark.IOType
	}{
		{"p1", "f1.parquet", lakemark.IOTypeCreate},
		{"p1", "f2.parquet", lakemark.IOTypeMerge},
		{"p2", "f3.log", lakemark.IOTypeAppend},
		{"p2", "f4.parquet", lakemark.IOTypeCreate},
	}
	for _, m := range seed {
		if _, _, err := s.Create(ctx, m.partition, m.file, m.typ, false); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := s.CreatedAndMergedDataPaths(ctx, 3)
	if err != nil {
		t.Fatalf("CreatedAndMergedDataPaths: %v", err)
	}
	want := map[string]struct{}{
		filepath.Join(base, "p1", "f1.parquet"): {},
		filepath.Join(base, "p1", "f2.parquet"): {},
		filepath.Join(base, "p2", "f4.parquet"): {},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d data paths, got %d: %v", len(want), len(got), got)
	}
	for p := range want {
		if _, ok := got[p]; !ok {
			t.Errorf("missing data path %q", p)
		}
	}
}

func TestDirectCreatedAndMergedMissingDir(t *testing.T) {
	s := NewDirectStore(fs.NewFileIO(), t.TempDir(), "001", nil)
	got, err := s.CreatedAndMergedDataPaths(ctx, 2)
	if err != nil {
		t.Fatalf("CreatedAndMergedDataPaths on missing dir: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty set, got %v", got)
	}
}

func TestDirectDeleteDir(t *testing.T) {
	base := t.TempDir()
	s := NewDirectStore(fs.NewFileIO(), base, "001", nil)

	// Deleting a never-created directory reports absence.
	existed, err := s.DeleteDir(ctx, 2)
	if err != nil {
		t.Fatalf("DeleteDir: %v", err)
	}
	if existed {
		t.Error("expected existed false for missing directory")
	}

	for i := 0; i < 5; i++ {
		fn := fmt.Sprintf("f%d.parquet", i)
		if _, _, err := s.Create(ctx, "p1", fn, lakemark.IOTypeCreate, false); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if ok, _ := s.DirExists(ctx); !ok {
		t.Fatal("marker directory should exist")
	}
	existed, err = s.DeleteDir(ctx, 3)
	if err != nil {
		t.Fatalf("DeleteDir: %v", err)
	}
	if !existed {
		t.Error("expected existed true")
	}
	if ok, _ := s.DirExists(ctx); ok {
		t.Error("marker directory should be gone")
	}
}

func TestDirectSnapshotAcrossInstants(t *testing.T) {
	base := t.TempDir()
	s1 := NewDirectStore(fs.NewFileIO(), base, "001", nil)
	s2 := NewDirectStore(fs.NewFileIO(), base, "002", nil)

	if _, _, err := s1.Create(ctx, "p1", "f1.parquet", lakemark.IOTypeCreate, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := s2.Create(ctx, "p1", "f2.parquet", lakemark.IOTypeMerge, false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	instants, err := s1.InstantsWithMarkers(ctx)
	if err != nil {
		t.Fatalf("InstantsWithMarkers: %v", err)
	}
	if len(instants) != 2 {
		t.Fatalf("expected 2 instants, got %v", instants)
	}

	names, err := s1.MarkerNamesOf(ctx, "002")
	if err != nil {
		t.Fatalf("MarkerNamesOf: %v", err)
	}
	if len(names) != 1 || names[0] != filepath.Join("p1", "f2.parquet.marker.MERGE") {
		t.Errorf("unexpected marker names of 002: %v", names)
	}
}
