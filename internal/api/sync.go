package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/classcomm/classcomm/internal/sync"
)

const defaultPullLimit = 500

// PushRequest is the JSON body for POST /v1/sync/push. The tenant comes
// from the caller's credentials, never from the payload.
type PushRequest struct {
	ClientID   string           `json:"client_id"`
	Operations []sync.Operation `json:"operations"`
}

// PushResponse is the JSON response for a push request, aligned by
// operation id.
type PushResponse struct {
	Results []sync.OpResult `json:"results"`
}

// PullResponse is the JSON response for a pull request.
type PullResponse struct {
	Changes []sync.ChangeEntry `json:"changes"`
	Cursor  int64              `json:"cursor"`
	HasMore bool               `json:"has_more"`
}

// SyncStatusResponse is the JSON response for GET /v1/sync/status. It
// echoes the authenticated identity so clients can stamp owned rows.
type SyncStatusResponse struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	ChangeEntries int64  `json:"change_entries"`
	LastSeq       int64  `json:"last_seq"`
}

// handleSyncPush handles POST /v1/sync/push.
func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "client_id is required")
		return
	}
	if len(req.Operations) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "operations array is empty")
		return
	}
	if len(req.Operations) > s.config.MaxPushBatch {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest,
			fmt.Sprintf("batch size %d exceeds max %d", len(req.Operations), s.config.MaxPushBatch))
		return
	}

	results, err := s.store.ApplyOperations(user.UserID, req.Operations)
	if err != nil {
		logFor(r.Context()).Error("apply operations", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to apply operations")
		return
	}

	var applied int64
	for _, res := range results {
		if res.Outcome == sync.OutcomeApplied {
			applied++
		}
	}
	s.metrics.RecordPushOps(applied)

	writeJSON(w, http.StatusOK, PushResponse{Results: results})
}

// handleSyncPull handles GET /v1/sync/pull.
func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordPullRequest()
	user := getUserFromContext(r.Context())

	after := int64(0)
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid after cursor")
			return
		}
		after = n
	}

	limit := defaultPullLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid limit")
			return
		}
		if n > s.config.MaxPullLimit {
			n = s.config.MaxPullLimit
		}
		limit = n
	}

	result, err := s.store.ChangesSince(user.UserID, after, limit)
	if err != nil {
		logFor(r.Context()).Error("changes since", "after", after, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to query change log")
		return
	}

	if clientID := r.URL.Query().Get("client_id"); clientID != "" && result.Cursor > after {
		if err := s.store.TouchCursor(user.UserID, clientID, result.Cursor); err != nil {
			logFor(r.Context()).Warn("touch cursor", "err", err)
		}
	}

	writeJSON(w, http.StatusOK, PullResponse{
		Changes: result.Changes,
		Cursor:  result.Cursor,
		HasMore: result.HasMore,
	})
}

// handleSyncStatus handles GET /v1/sync/status.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	stats, err := s.store.Stats(user.UserID)
	if err != nil {
		logFor(r.Context()).Error("change log stats", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to query status")
		return
	}
	writeJSON(w, http.StatusOK, SyncStatusResponse{
		UserID:        user.UserID,
		Email:         user.Email,
		ChangeEntries: stats.Entries,
		LastSeq:       stats.LastSeq,
	})
}
