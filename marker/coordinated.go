package marker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sharedcode/lakemark"
	"github.com/sharedcode/lakemark/coordinator"
)

// CoordinatedStore is the client side of the marker coordination sidecar: it
// submits marker requests over HTTP and lets the service batch them into
// amortized file system writes. The contract is identical to DirectStore;
// callers are backend agnostic. The durability trade-off lives entirely in
// the service (an unflushed batch dies with it).
type CoordinatedStore struct {
	endpoint   string
	httpClient *http.Client
	basePath   string
	instant    string
	dirPath    string
	writerID   uuid.UUID
	logger     *log.Logger
}

// NewCoordinatedStore creates a client store for one write instant talking to
// the coordination service at endpoint (e.g. "http://host:8970"). A nil
// httpClient selects a default with a 30s timeout.
func NewCoordinatedStore(endpoint, basePath, instant string, httpClient *http.Client, logger *log.Logger) *CoordinatedStore {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CoordinatedStore{
		endpoint:   endpoint,
		httpClient: httpClient,
		basePath:   basePath,
		instant:    instant,
		dirPath:    markerDirPath(basePath, instant),
		writerID:   uuid.New(),
		logger:     logger,
	}
}

func (s *CoordinatedStore) Create(ctx context.Context, partitionPath, dataFileName string, t lakemark.IOType, checkIfExists bool) (string, bool, error) {
	name := path.Join(filepath.ToSlash(partitionPath), MarkerFileName(dataFileName, t))
	req := coordinator.CreateMarkerRequest{
		Instant:       s.instant,
		MarkerName:    name,
		WriterID:      s.writerID.String(),
		CheckIfExists: checkIfExists,
	}
	var resp coordinator.CreateMarkerResponse
	status, err := s.postJSON(ctx, "/v1/markers", req, &resp)
	if err != nil {
		return "", false, err
	}
	switch status {
	case http.StatusOK:
		return resp.Path, resp.Created, nil
	case http.StatusConflict:
		return "", false, lakemark.Error{
			Code:     lakemark.MarkerAlreadyExists,
			Err:      fmt.Errorf("marker %s already exists for instant %s", name, s.instant),
			UserData: name,
		}
	}
	return "", false, lakemark.Error{
		Code:     lakemark.MarkerDirectoryIOFailure,
		Err:      fmt.Errorf("marker coordination service returned status %d creating %s", status, name),
		UserData: s.instant,
	}
}

func (s *CoordinatedStore) DeleteDir(ctx context.Context, parallelism int) (bool, error) {
	// Parallelism is the service's concern; deletion is a single request.
	var resp coordinator.DeleteResponse
	if err := s.doJSON(ctx, http.MethodDelete, "/v1/markers/"+url.PathEscape(s.instant), &resp); err != nil {
		return false, err
	}
	return resp.Deleted, nil
}

func (s *CoordinatedStore) DirExists(ctx context.Context) (bool, error) {
	var resp coordinator.ExistsResponse
	if err := s.doJSON(ctx, http.MethodGet, "/v1/markers/"+url.PathEscape(s.instant)+"/exists", &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

func (s *CoordinatedStore) AllMarkerPaths(ctx context.Context) ([]string, error) {
	names, err := s.MarkerNamesOf(ctx, s.instant)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(names))
	for _, n := range names {
		paths = append(paths, filepath.Join(s.dirPath, filepath.FromSlash(n)))
	}
	return paths, nil
}

func (s *CoordinatedStore) CreatedAndMergedDataPaths(ctx context.Context, parallelism int) (map[string]struct{}, error) {
	// The service answers with the full name list in one round trip; the
	// parallelism hint has nothing left to fan out.
	names, err := s.MarkerNamesOf(ctx, s.instant)
	if err != nil {
		return nil, err
	}
	dataPaths := make(map[string]struct{}, len(names))
	for _, n := range names {
		t, err := IOTypeOfMarker(n)
		if err != nil {
			return nil, err
		}
		if t == lakemark.IOTypeAppend {
			continue
		}
		rel, err := StripMarkerSuffix(n)
		if err != nil {
			return nil, err
		}
		dataPaths[filepath.Join(s.basePath, filepath.FromSlash(rel))] = struct{}{}
	}
	return dataPaths, nil
}

func (s *CoordinatedStore) InstantsWithMarkers(ctx context.Context) ([]string, error) {
	var resp coordinator.InstantsResponse
	if err := s.doJSON(ctx, http.MethodGet, "/v1/instants", &resp); err != nil {
		return nil, err
	}
	return resp.Instants, nil
}

func (s *CoordinatedStore) MarkerNamesOf(ctx context.Context, instant string) ([]string, error) {
	var resp coordinator.MarkerListResponse
	if err := s.doJSON(ctx, http.MethodGet, "/v1/markers/"+url.PathEscape(instant), &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Markers))
	for _, n := range resp.Markers {
		names = append(names, filepath.FromSlash(n))
	}
	return names, nil
}

func (s *CoordinatedStore) postJSON(ctx context.Context, p string, body any, out any) (int, error) {
	ba, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+p, bytes.NewReader(ba))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, lakemark.Error{
			Code:     lakemark.MarkerDirectoryIOFailure,
			Err:      fmt.Errorf("marker coordination service unreachable: %w", err),
			UserData: s.instant,
		}
	}
	defer resp.Body.Close()
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, lakemark.Error{
			Code: lakemark.MarkerDirectoryIOFailure,
			Err:  err,
		}
	}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusConflict {
		if resp.StatusCode == http.StatusOK {
			if err := json.Unmarshal(rb, out); err != nil {
				return 0, lakemark.Error{
					Code: lakemark.MarkerDirectoryIOFailure,
					Err:  fmt.Errorf("decoding coordination service response: %w", err),
				}
			}
		}
	}
	return resp.StatusCode, nil
}

func (s *CoordinatedStore) doJSON(ctx context.Context, method, p string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+p, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return lakemark.Error{
			Code:     lakemark.MarkerDirectoryIOFailure,
			Err:      fmt.Errorf("marker coordination service unreachable: %w", err),
			UserData: s.instant,
		}
	}
	defer resp.Body.Close()
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return lakemark.Error{
			Code: lakemark.MarkerDirectoryIOFailure,
			Err:  err,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return lakemark.Error{
			Code:     lakemark.MarkerDirectoryIOFailure,
			Err:      fmt.Errorf("marker coordination service returned status %d for %s %s", resp.StatusCode, method, p),
			UserData: s.instant,
		}
	}
	if err := json.Unmarshal(rb, out); err != nil {
		return lakemark.Error{
			Code: lakemark.MarkerDirectoryIOFailure,
			Err:  fmt.Errorf("decoding coordination service response: %w", err),
		}
	}
	return nil
}

var _ Store = (*CoordinatedStore)(nil)
var _ SnapshotSource = (*CoordinatedStore)(nil)
