package coordinator

import (
	"context"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/lakemark"
	"github.com/sharedcode/lakemark/fs"
)

// Directory/File permission.
const permission os.FileMode = os.ModeSticky | os.ModePerm

// DefaultBatchInterval is the flush cadence used when Options leaves
// BatchInterval zero.
const DefaultBatchInterval = 50 * time.Millisecond

// CreateMarkerRequest asks the coordinator to record one marker for an
// instant. MarkerName is the "<partition>/<file>.marker.<IOTYPE>" name
// relative to the instant's marker directory. WriterID identifies the
// requesting task for logging.
type CreateMarkerRequest struct {
	Instant       string `json:"instant" binding:"required"`
	MarkerName    string `json:"marker_name" binding:"required"`
	WriterID      string `json:"writer_id,omitempty"`
	CheckIfExists bool   `json:"check_if_exists"`
}

// CreateMarkerResponse carries the full marker path and whether this request
// created it. Created false with a 200 status means the marker pre-existed
// and the request was idempotent.
type CreateMarkerResponse struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
}

// MarkerListResponse lists one instant's marker names.
type MarkerListResponse struct {
	Markers []string `json:"markers"`
}

// ExistsResponse reports marker directory existence.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// DeleteResponse reports whether the deleted marker directory existed.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// InstantsResponse lists the instants owning marker state.
type InstantsResponse struct {
	Instants []string `json:"instants"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Options configures the coordination service.
type Options struct {
	// BasePath of the table whose markers this service coordinates.
	BasePath string
	// BatchInterval is the flush cadence; zero selects DefaultBatchInterval.
	BatchInterval time.Duration
	// FileIO to write batch objects through; nil selects the os-backed default.
	FileIO fs.FileIO
	// Logger; nil falls back to slog.Default().
	Logger *log.Logger
}

// Service batches marker requests per instant and owns the coordinated
// instants' marker directories on the table file system.
type Service struct {
	basePath string
	interval time.Duration
	fio      fs.FileIO
	logger   *log.Logger

	mu       sync.Mutex
	instants map[string]*dirState
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewService creates a Service; call Start to begin batch flushing and
// Register to attach its routes.
func NewService(opts Options) *Service {
	if opts.FileIO == nil {
		opts.FileIO = fs.NewFileIO()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = DefaultBatchInterval
	}
	return &Service{
		basePath: opts.BasePath,
		interval: opts.BatchInterval,
		fio:      opts.FileIO,
		logger:   opts.Logger,
		instants: make(map[string]*dirState),
	}
}

// Register attaches the marker coordination routes onto r.
func (s *Service) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	{
		v1.POST("/markers", s.createMarker)
		v1.GET("/markers/:instant", s.listMarkers)
		v1.GET("/markers/:instant/exists", s.markerDirExists)
		v1.DELETE("/markers/:instant", s.deleteMarkerDir)
		v1.GET("/instants", s.listInstants)
	}
}

// Start launches the periodic batch flusher.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.flushLoop(s.stopCh, s.doneCh)
}

// Stop flushes outstanding batches and stops the flusher.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
	s.FlushAll(ctx)
}

func (s *Service) flushLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.FlushAll(context.Background())
		}
	}
}

// FlushAll writes every instant's pending markers as batch objects. Write
// failures are logged and the affected names retried on the next tick.
func (s *Service) FlushAll(ctx context.Context) {
	s.mu.Lock()
	states := make(map[string]*dirState, len(s.instants))
	for k, v := range s.instants {
		states[k] = v
	}
	s.mu.Unlock()

	for instant, st := range states {
		st.mu.Lock()
		err := st.flush(ctx, s.fio, s.markerDirPath(instant))
		st.mu.Unlock()
		if err != nil {
			s.logger.Error(fmt.Sprintf("flushing marker batch for instant %s failed, will retry, details: %v", instant, err))
		}
	}
}

func (s *Service) markerDirPath(instant string) string {
	return filepath.Join(s.basePath, lakemark.MarkerRootFolder, instant)
}

// hasParentRef reports whether any path segment of the slash-normalized name
// is "..". File names with consecutive dots (e.g. "f..parquet") are legal.
func hasParentRef(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// state returns the instant's dirState, lazily rebuilding it from batch
// objects left by a previous coordinator process.
func (s *Service) state(ctx context.Context, instant string) (*dirState, error) {
	s.mu.Lock()
	st, ok := s.instants[instant]
	if !ok {
		st = newDirState()
		s.instants[instant] = st
	}
	s.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.load(ctx, s.fio, s.markerDirPath(instant)); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) createMarker(c *gin.Context) {
	var req CreateMarkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if !strings.Contains(req.MarkerName, ".marker.") || hasParentRef(req.MarkerName) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid marker name %q", req.MarkerName)})
		return
	}
	st, err := s.state(c.Request.Context(), req.Instant)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	st.mu.Lock()
	created, err := st.add(filepath.FromSlash(req.MarkerName), req.CheckIfExists)
	st.mu.Unlock()
	if err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}
	s.logger.Debug(fmt.Sprintf("marker %s accepted for instant %s (writer %s, created=%v)", req.MarkerName, req.Instant, req.WriterID, created))
	// Idempotent duplicate: present marker, empty path result.
	path := ""
	if created {
		path = filepath.Join(s.markerDirPath(req.Instant), filepath.FromSlash(req.MarkerName))
	}
	c.JSON(http.StatusOK, CreateMarkerResponse{Path: path, Created: created})
}

func (s *Service) listMarkers(c *gin.Context) {
	st, err := s.state(c.Request.Context(), c.Param("instant"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	st.mu.Lock()
	names := st.markerNames()
	st.mu.Unlock()
	for i := range names {
		names[i] = filepath.ToSlash(names[i])
	}
	c.JSON(http.StatusOK, MarkerListResponse{Markers: names})
}

func (s *Service) markerDirExists(c *gin.Context) {
	instant := c.Param("instant")
	ctx := c.Request.Context()
	s.mu.Lock()
	st, ok := s.instants[instant]
	s.mu.Unlock()
	exists := false
	if ok {
		st.mu.Lock()
		exists = len(st.created) > 0
		st.mu.Unlock()
	}
	if !exists {
		exists = s.fio.Exists(ctx, s.markerDirPath(instant))
	}
	c.JSON(http.StatusOK, ExistsResponse{Exists: exists})
}

func (s *Service) deleteMarkerDir(c *gin.Context) {
	instant := c.Param("instant")
	ctx := c.Request.Context()

	s.mu.Lock()
	st, had := s.instants[instant]
	delete(s.instants, instant)
	s.mu.Unlock()

	existed := false
	if had {
		// Tombstone the state: a FlushAll that snapshotted this pointer before
		// the map delete must not write its pending batch after the RemoveAll
		// below, recreating the directory of a completed instant.
		st.mu.Lock()
		existed = len(st.created) > 0
		st.created = make(map[string]bool)
		st.pending = nil
		st.deleted = true
		st.mu.Unlock()
	}
	dir := s.markerDirPath(instant)
	if s.fio.Exists(ctx, dir) {
		existed = true
		if err := s.fio.RemoveAll(ctx, dir); err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, DeleteResponse{Deleted: existed})
}

func (s *Service) listInstants(c *gin.Context) {
	ctx := c.Request.Context()
	seen := make(map[string]bool)
	s.mu.Lock()
	for instant, st := range s.instants {
		st.mu.Lock()
		if len(st.created) > 0 {
			seen[instant] = true
		}
		st.mu.Unlock()
	}
	s.mu.Unlock()

	// Instants flushed by a previous process show up on disk only.
	root := filepath.Join(s.basePath, lakemark.MarkerRootFolder)
	if s.fio.Exists(ctx, root) {
		entries, err := s.fio.ReadDir(ctx, root)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = true
			}
		}
	}
	instants := make([]string, 0, len(seen))
	for k := range seen {
		instants = append(instants, k)
	}
	c.JSON(http.StatusOK, InstantsResponse{Instants: instants})
}
