package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/classcomm/classcomm/internal/sync"
)

func testOp(id string) sync.Operation {
	return sync.Operation{
		ID:       id,
		Table:    "students",
		Op:       sync.OpInsert,
		RecordID: "rec-" + id,
		Data:     json.RawMessage(`{"_version":1}`),
		ClientID: "client-a",
		Version:  1,
	}
}

func TestPush_SendsBodyAndAuth(t *testing.T) {
	var gotAuth string
	var gotReq PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/v1/sync/push" {
			t.Errorf("request: got %s %s, want POST /v1/sync/push", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: got %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode push request: %v", err)
		}
		json.NewEncoder(w).Encode(PushResponse{Results: []sync.OpResult{
			{ID: "op-1", Outcome: sync.OutcomeApplied, NewVersion: 1, Seq: 7},
			{ID: "op-2", Outcome: sync.OutcomeRejected, Reason: "forbidden"},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, "ck_live_test", "client-a")
	results, err := c.Push(context.Background(), []sync.Operation{testOp("op-1"), testOp("op-2")})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	if gotAuth != "Bearer ck_live_test" {
		t.Errorf("auth header: got %q, want Bearer ck_live_test", gotAuth)
	}
	if gotReq.ClientID != "client-a" {
		t.Errorf("client id: got %q, want client-a", gotReq.ClientID)
	}
	if len(gotReq.Operations) != 2 {
		t.Fatalf("operations sent: got %d, want 2", len(gotReq.Operations))
	}
	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	if results[0].Outcome != sync.OutcomeApplied || results[0].Seq != 7 {
		t.Errorf("result 0: got %+v", results[0])
	}
	if results[1].Outcome != sync.OutcomeRejected || results[1].Reason != "forbidden" {
		t.Errorf("result 1: got %+v", results[1])
	}
}

func TestPush_ResultCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PushResponse{Results: []sync.OpResult{
			{ID: "op-1", Outcome: sync.OutcomeApplied},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "client-a")
	_, err := c.Push(context.Background(), []sync.Operation{testOp("op-1"), testOp("op-2")})
	if err == nil {
		t.Fatal("push with short result list: got nil error")
	}
}

func TestPull_QueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("after"); got != "42" {
			t.Errorf("after: got %q, want 42", got)
		}
		if got := q.Get("limit"); got != "500" {
			t.Errorf("limit: got %q, want 500", got)
		}
		if got := q.Get("client_id"); got != "client-a" {
			t.Errorf("client_id: got %q, want client-a", got)
		}
		json.NewEncoder(w).Encode(PullResponse{
			Changes: []sync.ChangeEntry{{Seq: 43, Table: "students", RecordID: "s1", Version: 2}},
			Cursor:  43,
			HasMore: true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "client-a")
	result, err := c.Pull(context.Background(), 42, "client-a", 500)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if result.Cursor != 43 || !result.HasMore {
		t.Errorf("pull result: cursor %d has_more %v, want 43 true", result.Cursor, result.HasMore)
	}
	if len(result.Changes) != 1 || result.Changes[0].Seq != 43 {
		t.Errorf("changes: got %+v", result.Changes)
	}
}

func TestSyncStatus_Decodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sync/status" {
			t.Errorf("path: got %s, want /v1/sync/status", r.URL.Path)
		}
		json.NewEncoder(w).Encode(SyncStatusResponse{
			UserID: "u_1", Email: "t@school.edu", ChangeEntries: 10, LastSeq: 10,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "client-a")
	status, err := c.SyncStatus(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.UserID != "u_1" || status.LastSeq != 10 {
		t.Errorf("status: got %+v", status)
	}
}

func TestHealthCheck_NoAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("auth header on healthz: got %q, want empty", got)
		}
		json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "client-a")
	resp, err := c.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status: got %q, want ok", resp.Status)
	}
}

func TestErrorEnvelope_SentinelMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"not found", http.StatusNotFound, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(errorEnvelope{Error: apiError{Code: tt.name, Message: "nope"}})
			}))
			defer srv.Close()

			c := New(srv.URL, "key", "client-a")
			_, err := c.SyncStatus(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("error: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestError_NonEnvelopeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "client-a")
	_, err := c.SyncStatus(context.Background())
	if err == nil {
		t.Fatal("500 with plain body: got nil error")
	}
}
