package marker

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/lakemark"
	"github.com/sharedcode/lakemark/coordinator"
	"github.com/sharedcode/lakemark/fs"
	"github.com/sharedcode/lakemark/timeline"
)

func startCoordinator(t *testing.T, sim *fs.FileIOSimulator, basePath string) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := coordinator.NewService(coordinator.Options{
		BasePath: basePath,
		FileIO:   sim,
	})
	r := gin.New()
	svc.Register(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestCoordinatedStoreContractMatchesDirect(t *testing.T) {
	sim := fs.NewFileIOSimulator()
	endpoint := startCoordinator(t, sim, "base")
	s := NewCoordinatedStore(endpoint, "base", "001", nil, nil)

	path, created, err := s.Create(ctx, "p1", "f1-0_1-0-1_001.parquet", lakemark.IOTypeCreate, false)
	if err != nil || !created {
		t.Fatalf("create: path=%q created=%v err=%v", path, created, err)
	}
	want := filepath.Join("base", lakemark.MarkerRootFolder, "001", "p1", "f1-0_1-0-1_001.parquet.marker.CREATE")
	if path != want {
		t.Errorf("marker path: got %q, want %q", path, want)
	}

	// Unconditional duplicate maps the 409 back to MarkerAlreadyExists.
	_, _, err = s.Create(ctx, "p1", "f1-0_1-0-1_001.parquet", lakemark.IOTypeCreate, false)
	if lakemark.CodeOf(err) != lakemark.MarkerAlreadyExists {
		t.Errorf("expected MarkerAlreadyExists, got %v", err)
	}

	// Checked duplicate is idempotent.
	path, created, err = s.Create(ctx, "p1", "f1-0_1-0-1_001.parquet", lakemark.IOTypeCreate, true)
	if err != nil || created || path != "" {
		t.Errorf("checked duplicate: path=%q created=%v err=%v", path, created, err)
	}

	if ok, err := s.DirExists(ctx); err != nil || !ok {
		t.Errorf("DirExists: ok=%v err=%v", ok, err)
	}
	paths, err := s.AllMarkerPaths(ctx)
	if err != nil || len(paths) != 1 {
		t.Errorf("AllMarkerPaths: %v, %v", paths, err)
	}

	existed, err := s.DeleteDir(ctx, 4)
	if err != nil || !existed {
		t.Errorf("DeleteDir: existed=%v err=%v", existed, err)
	}
	if ok, _ := s.DirExists(ctx); ok {
		t.Error("directory should be gone")
	}
}

func TestCoordinatedCreatedAndMergedExcludesAppend(t *testing.T) {
	sim := fs.NewFileIOSimulator()
	endpoint := startCoordinator(t, sim, "base")
	s := NewCoordinatedStore(endpoint, "base", "001", nil, nil)

	seed := []struct {
		partition, file string
		typ             lakemark.IOType
	}{
		{"p1", "f1.parquet", lakemark.IOTypeCreate},
		{"p1", "f2.parquet", lakemark.IOTypeMerge},
		{"p2", "f3.log", lakemark.IOTypeAppend},
	}
	for _, m := range seed {
		if _, _, err := s.Create(ctx, m.partition, m.file, m.typ, false); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := s.CreatedAndMergedDataPaths(ctx, 2)
	if err != nil {
		t.Fatalf("CreatedAndMergedDataPaths: %v", err)
	}
	want := map[string]struct{}{
		filepath.Join("base", "p1", "f1.parquet"): {},
		filepath.Join("base", "p1", "f2.parquet"): {},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d paths, got %v", len(want), got)
	}
	for p := range want {
		if _, ok := got[p]; !ok {
			t.Errorf("missing %q", p)
		}
	}
}

func TestCoordinatedConflictDetectionAcrossInstants(t *testing.T) {
	sim := fs.NewFileIOSimulator()
	endpoint := startCoordinator(t, sim, "base")
	tl := timeline.NewInMemory()
	tl.AddInstant("001")
	tl.AddInstant("002")

	cfg := lakemark.WriteConfig{
		ConcurrencyMode:        lakemark.OptimisticConcurrencyControl,
		EarlyConflictDetection: true,
		MarkerType:             lakemark.MarkerTypeCoordinated,
		CoordinatorEndpoint:    endpoint,
	}
	wmA, err := New(Options{BasePath: "base", Instant: "001", Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wmB, err := New(Options{BasePath: "base", Instant: "002", Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := wmA.CreateWithConflictCheck(ctx, "p1", "f1-0_1-0-1_001.parquet", lakemark.IOTypeCreate, cfg, "", tl); err != nil {
		t.Fatalf("writer A: %v", err)
	}
	_, err = wmB.CreateWithConflictCheck(ctx, "p1", "f1-0_1-0-1_002.parquet", lakemark.IOTypeMerge, cfg, "", tl)
	if lakemark.CodeOf(err) != lakemark.EarlyConflictDetected {
		t.Errorf("expected EarlyConflictDetected, got %v", err)
	}
	if _, err := wmB.CreateWithConflictCheck(ctx, "p1", "f2-0_1-0-1_002.parquet", lakemark.IOTypeCreate, cfg, "", tl); err != nil {
		t.Errorf("non-conflicting create: %v", err)
	}
}

func TestFactoryRejectsMissingEndpoint(t *testing.T) {
	_, err := New(Options{
		BasePath: "base",
		Instant:  "001",
		Config:   lakemark.WriteConfig{MarkerType: lakemark.MarkerTypeCoordinated},
	})
	if err == nil {
		t.Error("expected error for missing coordinator endpoint")
	}
}

func TestCoordinatedStoreUnreachableService(t *testing.T) {
	s := NewCoordinatedStore("http://127.0.0.1:1", "base", "001", nil, nil)
	_, _, err := s.Create(ctx, "p1", "f1.parquet", lakemark.IOTypeCreate, false)
	if lakemark.CodeOf(err) != lakemark.MarkerDirectoryIOFailure {
		t.Errorf("expected MarkerDirectoryIOFailure, got %v", err)
	}
}
