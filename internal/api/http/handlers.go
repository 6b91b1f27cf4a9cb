package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/LebronAl/incubator-iotdb/internal/errors"
	"github.com/LebronAl/incubator-iotdb/internal/metadata"
	"github.com/LebronAl/incubator-iotdb/internal/snapshot"
	"github.com/LebronAl/incubator-iotdb/pkg/types"
)

// SnapshotPublisher is the subset of snapshot.Publisher the API needs.
type SnapshotPublisher interface {
	Publish(ctx context.Context, export *metadata.ExportNode) (string, error)
	MergeAll(ctx context.Context) (*metadata.ExportNode, error)
}

var _ SnapshotPublisher = (*snapshot.Publisher)(nil)

// Handler serves the metadata API.
type Handler struct {
	manager   *metadata.Manager
	publisher SnapshotPublisher
}

// NewHandler creates a Handler. publisher may be nil, which disables the
// snapshot endpoints.
func NewHandler(manager *metadata.Manager, publisher SnapshotPublisher) *Handler {
	return &Handler{manager: manager, publisher: publisher}
}

// Router builds the full route table wrapped in the default middleware chain.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/timeseries", h.handleTimeseries)
	mux.HandleFunc("/v1/storage-groups", h.handleStorageGroups)
	mux.HandleFunc("/v1/paths", h.handlePaths)
	mux.HandleFunc("/v1/devices", h.handleDevices)
	mux.HandleFunc("/v1/nodes", h.handleNodes)
	mux.HandleFunc("/v1/children", h.handleChildren)
	mux.HandleFunc("/v1/export", h.handleExport)
	mux.HandleFunc("/v1/snapshot", h.handleSnapshot)
	mux.HandleFunc("/v1/snapshot/merged", h.handleSnapshotMerged)
	mux.HandleFunc("/v1/chunk-spaces", h.handleChunkSpaces)
	mux.HandleFunc("/v1/stats", h.handleStats)
	return DefaultMiddleware()(mux)
}

// writeMetaError maps the metadata error taxonomy onto HTTP status codes.
func writeMetaError(w http.ResponseWriter, err error, requestID string) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.CodeIllegalPath:
		status = http.StatusBadRequest
	case errors.CodePathNotExists:
		status = http.StatusNotFound
	case errors.CodePathAlreadyExists, errors.CodeStorageGroupAlreadySet, errors.CodeStorageGroupNotSet:
		status = http.StatusConflict
	}
	writeError(w, status, err.Error(), requestID)
}

// createTimeseriesRequest is the body of POST /v1/timeseries.
type createTimeseriesRequest struct {
	Path       string            `json:"path"`
	DataType   string            `json:"data_type"`
	Encoding   string            `json:"encoding"`
	Compressor string            `json:"compressor"`
	Props      map[string]string `json:"props,omitempty"`
}

func (h *Handler) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	switch r.Method {
	case http.MethodPost:
		var req createTimeseriesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
			return
		}
		if req.Path == "" {
			writeError(w, http.StatusBadRequest, "path is required", requestID)
			return
		}
		err := h.manager.CreateTimeseries(r.Context(), req.Path,
			types.DataType(req.DataType), types.Encoding(req.Encoding),
			types.Compressor(req.Compressor), req.Props)
		if err != nil {
			writeMetaError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"path": req.Path, "request_id": requestID})

	case http.MethodDelete:
		path := r.URL.Query().Get("path")
		if path == "" {
			writeError(w, http.StatusBadRequest, "path is required", requestID)
			return
		}
		group, err := h.manager.DeleteTimeseries(r.Context(), path)
		if err != nil {
			writeMetaError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"storage_group": group, "request_id": requestID})

	case http.MethodGet:
		pattern := r.URL.Query().Get("pattern")
		if pattern == "" {
			pattern = metadata.RootName
		}
		rows, err := h.manager.TimeseriesRows(pattern)
		if err != nil {
			writeMetaError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"timeseries": rows, "request_id": requestID})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
	}
}

// setStorageGroupRequest is the body of POST /v1/storage-groups.
type setStorageGroupRequest struct {
	Path string `json:"path"`
	TTL  string `json:"ttl,omitempty"`
}

func (h *Handler) handleStorageGroups(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	switch r.Method {
	case http.MethodPost:
		var req setStorageGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
			return
		}
		if req.Path == "" {
			writeError(w, http.StatusBadRequest, "path is required", requestID)
			return
		}
		var ttl time.Duration
		if req.TTL != "" {
			parsed, err := time.ParseDuration(req.TTL)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid ttl: %v", err), requestID)
				return
			}
			ttl = parsed
		}
		if err := h.manager.SetStorageGroup(r.Context(), req.Path, ttl); err != nil {
			writeMetaError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"path": req.Path, "request_id": requestID})

	case http.MethodDelete:
		path := r.URL.Query().Get("path")
		if path == "" {
			writeError(w, http.StatusBadRequest, "path is required", requestID)
			return
		}
		if err := h.manager.DeleteStorageGroup(r.Context(), path); err != nil {
			writeMetaError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"path": path, "request_id": requestID})

	case http.MethodGet:
		if pattern := r.URL.Query().Get("pattern"); pattern != "" {
			names, err := h.manager.StorageGroupNamesForPattern(pattern)
			if err != nil {
				writeMetaError(w, err, requestID)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"storage_groups": names, "request_id": requestID})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"storage_groups": h.manager.StorageGroupList(),
			"request_id":     requestID,
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
	}
}

func (h *Handler) handlePaths(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeError(w, http.StatusBadRequest, "pattern is required", requestID)
		return
	}
	grouped, err := h.manager.SeriesPathsGroupedByStorageGroup(pattern)
	if err != nil {
		writeMetaError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paths": grouped, "request_id": requestID})
}

func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	pattern := r.URL.Query().Get("pattern")
	var (
		devices []string
		err     error
	)
	if pattern == "" {
		devices, err = h.manager.AllDevices()
	} else {
		devices, err = h.manager.Devices(pattern)
	}
	if err != nil {
		writeMetaError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices, "request_id": requestID})
}

func (h *Handler) handleNodes(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = metadata.RootName
	}
	level, err := strconv.Atoi(r.URL.Query().Get("level"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "level must be an integer", requestID)
		return
	}
	nodes, err := h.manager.NodesAtLevel(path, level)
	if err != nil {
		writeMetaError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes, "request_id": requestID})
}

func (h *Handler) handleChildren(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = metadata.RootName
	}
	var (
		paths []string
		err   error
	)
	if r.URL.Query().Get("leaves") == "true" {
		paths, err = h.manager.LeafPaths(path)
	} else {
		paths, err = h.manager.ChildPaths(path)
	}
	if err != nil {
		writeMetaError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"children": paths, "request_id": requestID})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Export())
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	if h.publisher == nil {
		writeError(w, http.StatusNotImplemented, "snapshot publishing is not configured", requestID)
		return
	}
	key, err := h.publisher.Publish(r.Context(), h.manager.Export())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), requestID)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"object": key, "request_id": requestID})
}

func (h *Handler) handleSnapshotMerged(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	if h.publisher == nil {
		writeError(w, http.StatusNotImplemented, "snapshot publishing is not configured", requestID)
		return
	}
	merged, err := h.publisher.MergeAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), requestID)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

// chunkSpaceRequest is the body of POST and DELETE /v1/chunk-spaces.
type chunkSpaceRequest struct {
	TimeHandle  int64  `json:"time_handle"`
	ValueHandle int64  `json:"value_handle"`
	Path        string `json:"path,omitempty"`
}

func (h *Handler) handleChunkSpaces(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req chunkSpaceRequest
	if r.Method == http.MethodPost || r.Method == http.MethodDelete {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
			return
		}
	}

	switch r.Method {
	case http.MethodPost:
		if req.Path == "" {
			writeError(w, http.StatusBadRequest, "path is required", requestID)
			return
		}
		if err := h.manager.RegisterChunkSpace(req.TimeHandle, req.ValueHandle, req.Path); err != nil {
			writeMetaError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"request_id": requestID})

	case http.MethodDelete:
		h.manager.UnregisterChunkSpace(req.TimeHandle, req.ValueHandle)
		writeJSON(w, http.StatusOK, map[string]string{"request_id": requestID})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	counters, uptime := h.manager.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations":     counters,
		"uptime_seconds": int64(uptime.Seconds()),
		"request_id":     requestID,
	})
}
