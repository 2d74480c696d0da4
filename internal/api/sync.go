package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stockly-app/stockly/internal/models"
	"github.com/stockly-app/stockly/internal/serverdb"
)

// ChangeRequest is the JSON body for POST /v1/sync/{table}.
type ChangeRequest struct {
	Operation       string          `json:"operation"`
	ID              int64           `json:"id"`
	Data            json.RawMessage `json:"data"`
	BaseVersion     int64           `json:"base_version"`
	ClientTimestamp string          `json:"client_timestamp"`
	IdempotencyKey  string          `json:"idempotency_key"`
	DeviceID        string          `json:"device_id,omitempty"`
}

// ChangeResponse acknowledges an applied change.
type ChangeResponse struct {
	Success      bool            `json:"success"`
	ID           int64           `json:"id"`
	Version      int64           `json:"version"`
	LastModified string          `json:"last_modified"`
	Data         json.RawMessage `json:"data,omitempty"`
	Replayed     bool            `json:"replayed,omitempty"`
}

// EntityVersion is the server's current copy of one entity.
type EntityVersion struct {
	ID           int64           `json:"id"`
	Version      int64           `json:"version"`
	LastModified string          `json:"last_modified"`
	Data         json.RawMessage `json:"data"`
}

// BatchChange is one change inside a batch request.
type BatchChange struct {
	Table           string          `json:"table"`
	Operation       string          `json:"operation"`
	RecordID        int64           `json:"record_id"`
	Data            json.RawMessage `json:"data"`
	BaseVersion     int64           `json:"base_version"`
	ClientTimestamp string          `json:"client_timestamp"`
	IdempotencyKey  string          `json:"idempotency_key"`
}

// BatchRequest is the JSON body for POST /v1/sync/batch.
type BatchRequest struct {
	DeviceID string        `json:"device_id"`
	Changes  []BatchChange `json:"changes"`
}

// BatchResult is the outcome of one batch change, in request order.
type BatchResult struct {
	Table        string          `json:"table"`
	Operation    string          `json:"operation"`
	RecordID     int64           `json:"record_id"`
	Success      bool            `json:"success"`
	ID           int64           `json:"id,omitempty"`
	Version      int64           `json:"version,omitempty"`
	LastModified string          `json:"last_modified,omitempty"`
	Code         string          `json:"code,omitempty"`
	Error        string          `json:"error,omitempty"`
	Server       *EntityVersion  `json:"server,omitempty"`
	Exists       bool            `json:"exists,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Batch result codes for failed items.
const (
	batchCodeConflict = "conflict"
	batchCodeRejected = "rejected"
	batchCodeInternal = "internal"
)

// BatchResponse is the JSON response for POST /v1/sync/batch.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// TableResponse is the JSON response for GET /v1/sync/{table}.
type TableResponse struct {
	Table      string          `json:"table"`
	Rows       []EntityVersion `json:"rows"`
	ServerTime string          `json:"server_time"`
}

// StatusResponse is the JSON response for GET /v1/sync/status.
type StatusResponse struct {
	Status     string         `json:"status"`
	Tenant     string         `json:"tenant"`
	ServerTime string         `json:"server_time"`
	Tables     map[string]int `json:"tables"`
}

func entityVersion(e *serverdb.Entity) *EntityVersion {
	if e == nil {
		return nil
	}
	return &EntityVersion{ID: e.ID, Version: e.Version, LastModified: e.LastModified, Data: e.Data}
}

func serverTime() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// tenantStore resolves the entity store of the authenticated tenant,
// writing the error response itself when it cannot.
func (s *Server) tenantStore(w http.ResponseWriter, r *http.Request) (*serverdb.EntityStore, bool) {
	auth := getTenantFromContext(r.Context())
	if auth == nil {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "not authenticated")
		return nil, false
	}
	store, err := s.dbPool.Get(auth.TenantID)
	if err != nil {
		logFor(r.Context()).Error("open tenant db", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to open tenant database")
		return nil, false
	}
	return store, true
}

// deviceID prefers the body's device id over the X-Device-ID header.
func deviceID(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	return r.Header.Get("X-Device-ID")
}

// handleSyncStatus handles GET /v1/sync/status.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	store, ok := s.tenantStore(w, r)
	if !ok {
		return
	}
	counts, err := store.TableCounts()
	if err != nil {
		logFor(r.Context()).Error("table counts", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:     "ok",
		Tenant:     getTenantFromContext(r.Context()).Name,
		ServerTime: serverTime(),
		Tables:     counts,
	})
}

// handleSyncChange handles POST /v1/sync/{table}.
func (s *Server) handleSyncChange(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	if !models.IsSyncTable(table) {
		writeError(w, http.StatusBadRequest, ErrCodeUnknownTable, fmt.Sprintf("unknown table: %s", table))
		return
	}

	var req ChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	store, ok := s.tenantStore(w, r)
	if !ok {
		return
	}

	applied, err := store.Apply(serverdb.Change{
		Table:          table,
		Operation:      models.Operation(req.Operation),
		ID:             req.ID,
		Data:           req.Data,
		BaseVersion:    req.BaseVersion,
		IdempotencyKey: req.IdempotencyKey,
		DeviceID:       deviceID(r, req.DeviceID),
	})

	var ce *serverdb.ConflictError
	switch {
	case errors.As(err, &ce):
		s.metrics.RecordConflict()
		logFor(r.Context()).Info("conflict", "table", table, "id", req.ID, "base", req.BaseVersion)
		writeJSON(w, http.StatusConflict, ConflictResponse{
			Error:  APIError{Code: ErrCodeConflict, Message: ce.Error()},
			Server: entityVersion(ce.Current),
			Exists: ce.Current != nil,
		})
		return
	case errors.Is(err, serverdb.ErrDuplicate):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeDuplicate, err.Error())
		return
	case errors.Is(err, serverdb.ErrInvalidChange), errors.Is(err, serverdb.ErrUnknownTable):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidChange, err.Error())
		return
	case err != nil:
		logFor(r.Context()).Error("apply change", "table", table, "id", req.ID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to apply change")
		return
	}

	s.metrics.RecordApplied(applied.Replayed)
	logFor(r.Context()).Debug("applied", "table", table, "op", req.Operation, "id", applied.ID, "version", applied.Version, "replayed", applied.Replayed)
	writeJSON(w, http.StatusOK, ChangeResponse{
		Success:      true,
		ID:           applied.ID,
		Version:      applied.Version,
		LastModified: applied.LastModified,
		Data:         applied.Data,
		Replayed:     applied.Replayed,
	})
}

// handleSyncBatch handles POST /v1/sync/batch. Each change is applied in
// its own transaction; one failing change never fails the response.
func (s *Server) handleSyncBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if len(req.Changes) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "changes array is empty")
		return
	}
	if len(req.Changes) > s.config.MaxBatchSize {
		writeError(w, http.StatusBadRequest, ErrCodeBatchTooLarge,
			fmt.Sprintf("batch size %d exceeds max %d", len(req.Changes), s.config.MaxBatchSize))
		return
	}

	store, ok := s.tenantStore(w, r)
	if !ok {
		return
	}
	device := deviceID(r, req.DeviceID)

	resp := BatchResponse{Results: make([]BatchResult, len(req.Changes))}
	var applied, conflicts, failed int
	for i, c := range req.Changes {
		res := BatchResult{Table: c.Table, Operation: c.Operation, RecordID: c.RecordID}
		a, err := store.Apply(serverdb.Change{
			Table:          c.Table,
			Operation:      models.Operation(c.Operation),
			ID:             c.RecordID,
			Data:           c.Data,
			BaseVersion:    c.BaseVersion,
			IdempotencyKey: c.IdempotencyKey,
			DeviceID:       device,
		})

		var ce *serverdb.ConflictError
		switch {
		case errors.As(err, &ce):
			conflicts++
			s.metrics.RecordConflict()
			res.Code, res.Error = batchCodeConflict, ce.Error()
			res.Server, res.Exists = entityVersion(ce.Current), ce.Current != nil
		case errors.Is(err, serverdb.ErrInvalidChange), errors.Is(err, serverdb.ErrUnknownTable):
			failed++
			res.Code, res.Error = batchCodeRejected, err.Error()
		case err != nil:
			failed++
			logFor(r.Context()).Error("apply batch change", "table", c.Table, "id", c.RecordID, "err", err)
			res.Code, res.Error = batchCodeInternal, "failed to apply change"
		default:
			applied++
			s.metrics.RecordApplied(a.Replayed)
			res.Success = true
			res.ID, res.Version, res.LastModified, res.Data = a.ID, a.Version, a.LastModified, a.Data
		}
		resp.Results[i] = res
	}

	logFor(r.Context()).Info("batch", "changes", len(req.Changes), "applied", applied, "conflicts", conflicts, "failed", failed)
	writeJSON(w, http.StatusOK, resp)
}

// handleSyncTable handles GET /v1/sync/{table}: the full current table.
func (s *Server) handleSyncTable(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	if !models.IsSyncTable(table) {
		writeError(w, http.StatusNotFound, ErrCodeUnknownTable, fmt.Sprintf("unknown table: %s", table))
		return
	}
	store, ok := s.tenantStore(w, r)
	if !ok {
		return
	}

	entities, err := store.ListEntities(table)
	if err != nil {
		logFor(r.Context()).Error("list entities", "table", table, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read table")
		return
	}

	s.metrics.RecordPullRequest()
	resp := TableResponse{Table: table, Rows: make([]EntityVersion, 0, len(entities)), ServerTime: serverTime()}
	for _, e := range entities {
		resp.Rows = append(resp.Rows, *entityVersion(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSyncEntity handles GET /v1/sync/{table}/{id}.
func (s *Server) handleSyncEntity(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	if !models.IsSyncTable(table) {
		writeError(w, http.StatusNotFound, ErrCodeUnknownTable, fmt.Sprintf("unknown table: %s", table))
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid id")
		return
	}
	store, ok := s.tenantStore(w, r)
	if !ok {
		return
	}

	e, err := store.GetEntity(table, id)
	if err != nil {
		logFor(r.Context()).Error("get entity", "table", table, "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read entity")
		return
	}
	if e == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("%s %d not found", table, id))
		return
	}
	writeJSON(w, http.StatusOK, entityVersion(e))
}
