package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "sk_test", "dev-1")
}

func TestPushSendsAuthAndDecodesAck(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sync/products" || r.Method != "POST" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("Authorization = %q", got)
		}
		var req ChangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Operation != "update" || req.ID != 42 || req.BaseVersion != 3 || req.DeviceID != "dev-1" {
			t.Errorf("request body = %+v", req)
		}
		json.NewEncoder(w).Encode(ChangeResponse{Success: true, ID: 42, Version: 4, LastModified: "2026-03-01T10:00:00Z"})
	})

	resp, err := c.Push(context.Background(), "products", &ChangeRequest{
		Operation: "update", ID: 42, Data: json.RawMessage(`{"quantity_on_hand":7}`), BaseVersion: 3,
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !resp.Success || resp.Version != 4 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestPushConflictCarriesServerCopy(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"conflict","message":"version mismatch"},
			"server":{"id":42,"version":5,"last_modified":"2026-03-01T08:00:00Z","data":{"quantity_on_hand":5}},
			"exists":true}`))
	})

	_, err := c.Push(context.Background(), "products", &ChangeRequest{Operation: "update", ID: 42})
	ce, ok := AsConflict(err)
	if !ok {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if !ce.Exists || ce.Server == nil || ce.Server.Version != 5 || ce.Table != "products" || ce.ID != 42 {
		t.Errorf("conflict = %+v", ce)
	}
	want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if !ce.Server.Modified().Equal(want) {
		t.Errorf("Modified = %v, want %v", ce.Server.Modified(), want)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		rejected  bool
		sentinel  error
	}{
		{http.StatusInternalServerError, true, false, nil},
		{http.StatusServiceUnavailable, true, false, nil},
		{http.StatusTooManyRequests, true, false, nil},
		{http.StatusBadRequest, false, true, nil},
		{http.StatusUnprocessableEntity, false, true, nil},
		{http.StatusUnauthorized, false, false, ErrUnauthorized},
		{http.StatusNotFound, false, false, ErrNotFound},
	}
	for _, tt := range tests {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"error":{"code":"x","message":"nope"}}`))
		})
		_, err := c.FetchEntity(context.Background(), "clients", 1)
		if err == nil {
			t.Errorf("HTTP %d: expected error", tt.status)
			continue
		}
		if IsTransient(err) != tt.transient {
			t.Errorf("HTTP %d: transient = %v, want %v (%v)", tt.status, IsTransient(err), tt.transient, err)
		}
		if IsRejected(err) != tt.rejected {
			t.Errorf("HTTP %d: rejected = %v, want %v", tt.status, IsRejected(err), tt.rejected)
		}
		if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
			t.Errorf("HTTP %d: err = %v, want %v", tt.status, err, tt.sentinel)
		}
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, "k", "d")
	_, err := c.PullTable(context.Background(), "clients")
	if !IsTransient(err) {
		t.Fatalf("err = %v, want TransientError", err)
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Status(ctx)
	if !IsTransient(err) {
		t.Fatalf("err = %v, want TransientError", err)
	}
}

func TestPushBatchValidatesResultCount(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(BatchResponse{Results: []BatchResult{{Success: true}}})
	})
	_, err := c.PushBatch(context.Background(), &BatchRequest{Changes: []BatchChange{{Table: "a"}, {Table: "b"}}})
	if err == nil {
		t.Fatal("expected error for mismatched result count")
	}
}
