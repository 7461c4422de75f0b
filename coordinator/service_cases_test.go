package coordinator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/lakemark/fs"
)

func newTestServer(t *testing.T, sim *fs.FileIOSimulator) (*Service, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := NewService(Options{
		BasePath: "base",
		FileIO:   sim,
	})
	r := gin.New()
	svc.Register(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return svc, ts
}

func postMarker(t *testing.T, ts *httptest.Server, req CreateMarkerRequest) (*http.Response, CreateMarkerResponse) {
	t.Helper()
	ba, _ := json.Marshal(req)
	resp, err := http.Post(ts.URL+"/v1/markers", "application/json", bytes.NewReader(ba))
	if err != nil {
		t.Fatalf("POST /v1/markers: %v", err)
	}
	defer resp.Body.Close()
	var out CreateMarkerResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp, out
}

func TestCreateMarkerValidation(t *testing.T) {
	_, ts := newTestServer(t, fs.NewFileIOSimulator())

	cases := []CreateMarkerRequest{
		{Instant: "001"},                                                 // missing marker name
		{MarkerName: "p1/f1.parquet.marker.CREATE"},                      // missing instant
		{Instant: "001", MarkerName: "p1/f1.parquet"},                    // no marker suffix
		{Instant: "001", MarkerName: "../../f1.parquet.marker.CREATE"},   // traversal
		{Instant: "001", MarkerName: "p1/../f1.parquet.marker.CREATE"},   // traversal mid-path
	}
	for _, req := range cases {
		resp, _ := postMarker(t, ts, req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("request %+v: expected 400, got %d", req, resp.StatusCode)
		}
	}

	// Consecutive dots inside a file name are not a parent reference.
	resp, out := postMarker(t, ts, CreateMarkerRequest{Instant: "001", MarkerName: "p1/f..parquet.marker.CREATE"})
	if resp.StatusCode != http.StatusOK || !out.Created {
		t.Errorf("dotted file name: status=%d out=%+v", resp.StatusCode, out)
	}
}

func TestCreateMarkerDuplicateStatus(t *testing.T) {
	_, ts := newTestServer(t, fs.NewFileIOSimulator())

	req := CreateMarkerRequest{Instant: "001", MarkerName: "p1/f1.parquet.marker.CREATE"}
	resp, out := postMarker(t, ts, req)
	if resp.StatusCode != http.StatusOK || !out.Created || out.Path == "" {
		t.Fatalf("first create: status=%d out=%+v", resp.StatusCode, out)
	}

	// Unconditional duplicate conflicts.
	resp, _ = postMarker(t, ts, req)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %d", resp.StatusCode)
	}

	// Checked duplicate is idempotent: 200, created false, empty path.
	req.CheckIfExists = true
	resp, out = postMarker(t, ts, req)
	if resp.StatusCode != http.StatusOK || out.Created || out.Path != "" {
		t.Errorf("checked duplicate: status=%d out=%+v", resp.StatusCode, out)
	}
}

func TestListExistsDeleteRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, fs.NewFileIOSimulator())

	get := func(p string, out any) int {
		resp, err := http.Get(ts.URL + p)
		if err != nil {
			t.Fatalf("GET %s: %v", p, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				t.Fatalf("decoding %s: %v", p, err)
			}
		}
		return resp.StatusCode
	}

	var ex ExistsResponse
	if get("/v1/markers/001/exists", &ex); ex.Exists {
		t.Error("directory should not exist yet")
	}

	for _, name := range []string{
		"p1/f1.parquet.marker.CREATE",
		"p2/f2.parquet.marker.APPEND",
	} {
		resp, _ := postMarker(t, ts, CreateMarkerRequest{Instant: "001", MarkerName: name})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("create %s: status %d", name, resp.StatusCode)
		}
	}

	var list MarkerListResponse
	get("/v1/markers/001", &list)
	if len(list.Markers) != 2 {
		t.Errorf("expected 2 markers, got %v", list.Markers)
	}
	if get("/v1/markers/001/exists", &ex); !ex.Exists {
		t.Error("directory should exist")
	}
	var instants InstantsResponse
	get("/v1/instants", &instants)
	if len(instants.Instants) != 1 || instants.Instants[0] != "001" {
		t.Errorf("expected instant 001, got %v", instants.Instants)
	}

	delReq, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/markers/001", nil)
	resp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	var del DeleteResponse
	json.NewDecoder(resp.Body).Decode(&del)
	resp.Body.Close()
	if !del.Deleted {
		t.Error("expected deleted true")
	}

	if get("/v1/markers/001/exists", &ex); ex.Exists {
		t.Error("directory should be gone after delete")
	}
}

func TestDeleteTombstonesStaleFlush(t *testing.T) {
	sim := fs.NewFileIOSimulator()
	svc, ts := newTestServer(t, sim)

	resp, _ := postMarker(t, ts, CreateMarkerRequest{Instant: "001", MarkerName: "p1/f1.parquet.marker.CREATE"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status %d", resp.StatusCode)
	}

	// Hold the state pointer the way a FlushAll that snapshotted the instants
	// map right before the delete would.
	svc.mu.Lock()
	st := svc.instants["001"]
	svc.mu.Unlock()
	if st == nil {
		t.Fatal("expected state for instant 001")
	}

	delReq, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/markers/001", nil)
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()

	// The stale flush runs after the delete; it must not write the pending
	// batch and recreate the directory of the completed instant.
	st.mu.Lock()
	flushErr := st.flush(ctx, sim, svc.markerDirPath("001"))
	st.mu.Unlock()
	if flushErr != nil {
		t.Fatalf("stale flush: %v", flushErr)
	}
	if sim.Exists(ctx, svc.markerDirPath("001")) {
		t.Error("deleted marker directory was resurrected by a stale flush")
	}

	resp2, err := http.Get(ts.URL + "/v1/markers/001/exists")
	if err != nil {
		t.Fatalf("GET exists: %v", err)
	}
	var ex ExistsResponse
	json.NewDecoder(resp2.Body).Decode(&ex)
	resp2.Body.Close()
	if ex.Exists {
		t.Error("marker directory reported present after delete")
	}
}

func TestFlushAllPersistsBatchesForRestart(t *testing.T) {
	sim := fs.NewFileIOSimulator()
	svc, ts := newTestServer(t, sim)

	resp, _ := postMarker(t, ts, CreateMarkerRequest{Instant: "001", MarkerName: "p1/f1.parquet.marker.CREATE"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	svc.FlushAll(ctx)
	if !sim.Exists(ctx, svc.markerDirPath("001")) {
		t.Fatal("flush should have written a batch object")
	}

	// A replacement process rebuilds state from the batch objects.
	_, ts2 := newTestServer(t, sim)
	resp, _ = postMarker(t, ts2, CreateMarkerRequest{Instant: "001", MarkerName: "p1/f1.parquet.marker.CREATE"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected recovered marker to conflict, got %d", resp.StatusCode)
	}
}
