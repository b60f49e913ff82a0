package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pomadehq/pomade/internal/models"
)

// Call records one invocation against the fake, in order.
type Call struct {
	Op       string
	Entity   models.EntityKind
	EntityID string
	Payload  json.RawMessage
}

// Fake is an in-memory Client used by tests and local development. It
// mimics the backend's semantics: create conflicts on duplicate ids, update
// conflicts when the stored copy is newer, deletes 404 on unknown ids.
type Fake struct {
	mu      sync.Mutex
	records map[models.EntityKind]map[string]*models.Record
	calls   []Call

	// Hook, when set, runs before every operation; a non-nil return is
	// the operation's result. Tests use it to inject failures.
	Hook func(op string, entity models.EntityKind, id string) error
}

var _ Client = (*Fake)(nil)

// NewFake creates an empty fake remote store.
func NewFake() *Fake {
	return &Fake{records: make(map[models.EntityKind]map[string]*models.Record)}
}

// Seed inserts a record directly, bypassing call recording.
func (f *Fake) Seed(rec *models.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucket(rec.Entity)[rec.ID] = rec
}

// Calls returns every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Stored returns the fake's copy of a record, or nil.
func (f *Fake) Stored(entity models.EntityKind, id string) *models.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bucket(entity)[id]
}

// Count returns how many records of a kind the fake holds.
func (f *Fake) Count(entity models.EntityKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bucket(entity))
}

func (f *Fake) bucket(entity models.EntityKind) map[string]*models.Record {
	if f.records[entity] == nil {
		f.records[entity] = make(map[string]*models.Record)
	}
	return f.records[entity]
}

func (f *Fake) begin(op string, entity models.EntityKind, id string, payload json.RawMessage) error {
	f.calls = append(f.calls, Call{Op: op, Entity: entity, EntityID: id, Payload: payload})
	if f.Hook != nil {
		return f.Hook(op, entity, id)
	}
	return nil
}

// Create implements Client.
func (f *Fake) Create(ctx context.Context, entity models.EntityKind, id string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create", entity, id, payload); err != nil {
		return err
	}
	if _, exists := f.bucket(entity)[id]; exists {
		return &Error{Op: "create", StatusCode: http.StatusConflict}
	}
	now := time.Now().Unix()
	f.bucket(entity)[id] = &models.Record{
		ID: id, Entity: entity, Payload: payload,
		SyncStatus: models.SyncStatusSynced, CreatedAt: now, UpdatedAt: now,
	}
	return nil
}

// Update implements Client.
func (f *Fake) Update(ctx context.Context, entity models.EntityKind, id string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("update", entity, id, payload); err != nil {
		return err
	}
	rec, exists := f.bucket(entity)[id]
	if !exists {
		return &Error{Op: "update", StatusCode: http.StatusNotFound}
	}
	rec.Payload = payload
	rec.UpdatedAt = time.Now().Unix()
	return nil
}

// ForceUpdate implements Client.
func (f *Fake) ForceUpdate(ctx context.Context, entity models.EntityKind, id string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("force-update", entity, id, payload); err != nil {
		return err
	}
	now := time.Now().Unix()
	rec, exists := f.bucket(entity)[id]
	if !exists {
		f.bucket(entity)[id] = &models.Record{
			ID: id, Entity: entity, Payload: payload,
			SyncStatus: models.SyncStatusSynced, CreatedAt: now, UpdatedAt: now,
		}
		return nil
	}
	rec.Payload = payload
	rec.UpdatedAt = now
	return nil
}

// Delete implements Client.
func (f *Fake) Delete(ctx context.Context, entity models.EntityKind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("delete", entity, id, nil); err != nil {
		return err
	}
	if _, exists := f.bucket(entity)[id]; !exists {
		return &Error{Op: "delete", StatusCode: http.StatusNotFound}
	}
	delete(f.bucket(entity), id)
	return nil
}

// Get implements Client.
func (f *Fake) Get(ctx context.Context, entity models.EntityKind, id string) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get", entity, id, nil); err != nil {
		return nil, err
	}
	rec, exists := f.bucket(entity)[id]
	if !exists {
		return nil, &Error{Op: "get", StatusCode: http.StatusNotFound}
	}
	cp := *rec
	return &cp, nil
}

// List implements Client.
func (f *Fake) List(ctx context.Context, entity models.EntityKind, storeID string) ([]*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("list", entity, "", nil); err != nil {
		return nil, err
	}
	var out []*models.Record
	for _, rec := range f.bucket(entity) {
		if storeID == "" || rec.StoreID == storeID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
