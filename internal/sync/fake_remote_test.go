package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/models"
	"github.com/stockly-app/stockly/internal/syncclient"
)

// fakeRemote is an in-memory reconciliation server with version checks.
type fakeRemote struct {
	mu       gosync.Mutex
	rows     map[string]map[int64]*fakeRow
	nextID   int64
	now      time.Time
	pushes   []syncclient.ChangeRequest
	batches  int
	pushHook func(table string, req *syncclient.ChangeRequest) error
	fetchErr error
	pullErr  map[string]error
}

type fakeRow struct {
	version  int64
	modified time.Time
	data     models.Row
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		rows:    make(map[string]map[int64]*fakeRow),
		nextID:  100,
		now:     time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		pullErr: make(map[string]error),
	}
}

// put seeds or overwrites a server row.
func (f *fakeRemote) put(table string, id, version int64, modified time.Time, data models.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[table] == nil {
		f.rows[table] = make(map[int64]*fakeRow)
	}
	data = data.Clone()
	data["id"] = id
	f.rows[table][id] = &fakeRow{version: version, modified: modified, data: data}
}

func (f *fakeRemote) get(table string, id int64) *fakeRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[table][id]
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (r *fakeRow) entity(id int64) *syncclient.EntityVersion {
	data, _ := json.Marshal(r.data)
	return &syncclient.EntityVersion{
		ID:           id,
		Version:      r.version,
		LastModified: r.modified.Format(time.RFC3339Nano),
		Data:         data,
	}
}

// apply runs one change against the fake tables. Callers hold f.mu.
func (f *fakeRemote) apply(table string, req *syncclient.ChangeRequest) (*syncclient.ChangeResponse, error) {
	if f.rows[table] == nil {
		f.rows[table] = make(map[int64]*fakeRow)
	}
	data, err := models.DecodeRow(req.Data)
	if err != nil {
		return nil, &syncclient.RejectedError{Status: 400, Message: err.Error()}
	}
	f.now = f.now.Add(time.Second)
	existing := f.rows[table][req.ID]
	conflict := func() error {
		ce := &syncclient.ConflictError{Table: table, ID: req.ID, Message: "version mismatch"}
		if existing != nil {
			ce.Server = existing.entity(req.ID)
			ce.Exists = true
		}
		return ce
	}

	switch models.Operation(req.Operation) {
	case models.OpCreate:
		id := req.ID
		if existing != nil {
			if req.BaseVersion != existing.version {
				return nil, conflict()
			}
		} else if id <= 0 {
			f.nextID++
			id = f.nextID
		}
		data["id"] = id
		version := int64(1)
		if existing != nil {
			version = existing.version + 1
		}
		f.rows[table][id] = &fakeRow{version: version, modified: f.now, data: data}
		return &syncclient.ChangeResponse{Success: true, ID: id, Version: version, LastModified: f.now.Format(time.RFC3339Nano)}, nil

	case models.OpUpdate:
		if existing == nil || req.BaseVersion != existing.version {
			return nil, conflict()
		}
		for k, v := range data {
			if k != "id" {
				existing.data[k] = v
			}
		}
		existing.version++
		existing.modified = f.now
		return &syncclient.ChangeResponse{Success: true, ID: req.ID, Version: existing.version, LastModified: f.now.Format(time.RFC3339Nano)}, nil

	case models.OpDelete:
		if existing == nil || req.BaseVersion != existing.version {
			return nil, conflict()
		}
		delete(f.rows[table], req.ID)
		return &syncclient.ChangeResponse{Success: true, ID: req.ID, Version: existing.version + 1, LastModified: f.now.Format(time.RFC3339Nano)}, nil
	}
	return nil, &syncclient.RejectedError{Status: 400, Message: "bad operation"}
}

func (f *fakeRemote) Push(ctx context.Context, table string, req *syncclient.ChangeRequest) (*syncclient.ChangeResponse, error) {
	f.mu.Lock()
	f.pushes = append(f.pushes, *req)
	hook := f.pushHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(table, req); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apply(table, req)
}

func (f *fakeRemote) PushBatch(ctx context.Context, req *syncclient.BatchRequest) (*syncclient.BatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	resp := &syncclient.BatchResponse{Results: make([]syncclient.BatchResult, len(req.Changes))}
	for i, c := range req.Changes {
		r := syncclient.BatchResult{Table: c.Table, Operation: c.Operation, RecordID: c.RecordID}
		ack, err := f.apply(c.Table, &syncclient.ChangeRequest{
			Operation: c.Operation, ID: c.RecordID, Data: c.Data, BaseVersion: c.BaseVersion,
		})
		if ce, ok := syncclient.AsConflict(err); ok {
			r.Code, r.Error, r.Server, r.Exists = syncclient.CodeConflict, ce.Error(), ce.Server, ce.Exists
		} else if err != nil {
			r.Code, r.Error = syncclient.CodeRejected, err.Error()
		} else {
			r.Success, r.ID, r.Version, r.LastModified = true, ack.ID, ack.Version, ack.LastModified
		}
		resp.Results[i] = r
	}
	return resp, nil
}

func (f *fakeRemote) PullTable(ctx context.Context, table string) (*syncclient.TableResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pullErr[table]; err != nil {
		return nil, err
	}
	resp := &syncclient.TableResponse{Table: table, ServerTime: f.now.Format(time.RFC3339Nano)}
	ids := make([]int64, 0, len(f.rows[table]))
	for id := range f.rows[table] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		resp.Rows = append(resp.Rows, *f.rows[table][id].entity(id))
	}
	return resp, nil
}

func (f *fakeRemote) FetchEntity(ctx context.Context, table string, id int64) (*syncclient.EntityVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	row := f.rows[table][id]
	if row == nil {
		return nil, fmt.Errorf("%w: %s %d", syncclient.ErrNotFound, table, id)
	}
	return row.entity(id), nil
}

// sleepRecorder captures backoff delays without waiting.
type sleepRecorder struct {
	mu     gosync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type harness struct {
	store  *db.DB
	remote *fakeRemote
	engine *Engine
	sleeps *sleepRecorder
	clock  *time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h := &harness{remote: newFakeRemote(), sleeps: &sleepRecorder{}, clock: &clock}
	store, err := db.Initialize(t.TempDir(), db.WithClock(func() time.Time { return *h.clock }), db.WithDeviceID("dev-test"))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	h.store = store

	if cfg.Tables == nil {
		cfg.Tables = []string{models.TableCategories, models.TableClients, models.TableProducts}
	}
	h.engine, err = New(store, h.remote, cfg, WithSleep(h.sleeps.sleep))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *harness) advance(d time.Duration) { *h.clock = h.clock.Add(d) }
