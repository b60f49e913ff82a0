// Package services exposes the per-entity convenience API the application
// layer consumes. Each service wraps the router with entity-specific
// local/remote function pairs and queues a sync operation on every
// successful local write.
package services

import (
	"context"
	"encoding/json"

	"github.com/pomadehq/pomade/internal/apperr"
	"github.com/pomadehq/pomade/internal/models"
	"github.com/pomadehq/pomade/internal/policy"
	"github.com/pomadehq/pomade/internal/remote"
	"github.com/pomadehq/pomade/internal/router"
	"github.com/pomadehq/pomade/internal/store"
)

// EntityService is the generic CRUD surface for one entity kind.
type EntityService struct {
	kind   models.EntityKind
	r      *router.Router
	local  *store.Store
	remote remote.Client
}

// Services bundles the per-entity services for every synchronizable kind.
type Services struct {
	Clients      *EntityService
	Staff        *EntityService
	Services     *EntityService
	Appointments *EntityService
	Tickets      *EntityService
	Transactions *EntityService
}

// New builds the service bundle.
func New(r *router.Router, local *store.Store, rc remote.Client) *Services {
	svc := func(kind models.EntityKind) *EntityService {
		return &EntityService{kind: kind, r: r, local: local, remote: rc}
	}
	return &Services{
		Clients:      svc(models.EntityClient),
		Staff:        svc(models.EntityStaff),
		Services:     svc(models.EntityService),
		Appointments: svc(models.EntityAppointment),
		Tickets:      svc(models.EntityTicket),
		Transactions: svc(models.EntityTransaction),
	}
}

// For returns the service for an arbitrary entity kind.
func (s *Services) For(kind models.EntityKind) *EntityService {
	switch kind {
	case models.EntityClient:
		return s.Clients
	case models.EntityStaff:
		return s.Staff
	case models.EntityService:
		return s.Services
	case models.EntityAppointment:
		return s.Appointments
	case models.EntityTicket:
		return s.Tickets
	case models.EntityTransaction:
		return s.Transactions
	default:
		return nil
	}
}

// Create writes a new record. payload is the entity's domain document.
func (s *EntityService) Create(ctx context.Context, payload json.RawMessage) router.Result[*models.Record] {
	storeID := s.r.Device().StoreID

	localFn := func(ctx context.Context) (*models.Record, error) {
		return s.local.Create(s.kind, storeID, payload)
	}
	remoteFn := func(ctx context.Context) (*models.Record, error) {
		// Remote-first: only cache locally once the server confirmed.
		rec := store.BuildRecord(s.kind, storeID, payload)
		if err := s.remote.Create(ctx, s.kind, rec.ID, rec.Payload); err != nil {
			return nil, err
		}
		rec.SyncStatus = models.SyncStatusSynced
		if err := s.local.ApplyRemote(rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
	enqueue := func(rec *models.Record) *router.Mutation {
		return &router.Mutation{
			Entity:   s.kind,
			EntityID: rec.ID,
			Action:   models.ActionCreate,
			Payload:  rec.Payload,
		}
	}
	return router.Write(s.r, ctx, localFn, remoteFn, enqueue)
}

// Update replaces an existing record's domain document.
func (s *EntityService) Update(ctx context.Context, id string, payload json.RawMessage) router.Result[*models.Record] {
	localFn := func(ctx context.Context) (*models.Record, error) {
		return s.local.Update(s.kind, id, payload)
	}
	remoteFn := func(ctx context.Context) (*models.Record, error) {
		if err := s.remote.Update(ctx, s.kind, id, payload); err != nil {
			return nil, err
		}
		// Re-fetch rather than synthesize: the remote owns the timestamps,
		// and the record may never have been cached locally.
		rec, err := s.remote.Get(ctx, s.kind, id)
		if err != nil {
			return nil, err
		}
		if err := s.local.ApplyRemote(rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
	enqueue := func(rec *models.Record) *router.Mutation {
		return &router.Mutation{
			Entity:   s.kind,
			EntityID: rec.ID,
			Action:   models.ActionUpdate,
			Payload:  rec.Payload,
		}
	}
	return router.Write(s.r, ctx, localFn, remoteFn, enqueue)
}

// Delete tombstones a record locally and queues the remote delete.
func (s *EntityService) Delete(ctx context.Context, id string) router.Result[string] {
	localFn := func(ctx context.Context) (string, error) {
		if err := s.local.Delete(s.kind, id); err != nil {
			return "", err
		}
		return id, nil
	}
	remoteFn := func(ctx context.Context) (string, error) {
		if err := s.remote.Delete(ctx, s.kind, id); err != nil {
			return "", err
		}
		// The local row is just a cache here; a missing one is fine.
		if err := s.local.Delete(s.kind, id); err != nil && !apperr.Is(err, apperr.ErrNotFound) {
			return "", err
		}
		return id, nil
	}
	enqueue := func(deletedID string) *router.Mutation {
		return &router.Mutation{
			Entity:   s.kind,
			EntityID: deletedID,
			Action:   models.ActionDelete,
			Payload:  json.RawMessage(`{}`),
		}
	}
	return router.Write(s.r, ctx, localFn, remoteFn, enqueue)
}

// Get reads one record, routed per policy.
func (s *EntityService) Get(ctx context.Context, id string) router.Result[*models.Record] {
	localFn := func(ctx context.Context) (*models.Record, error) {
		return s.local.Get(s.kind, id)
	}
	remoteFn := func(ctx context.Context) (*models.Record, error) {
		return s.remote.Get(ctx, s.kind, id)
	}
	return router.Read(s.r, ctx, localFn, remoteFn)
}

// GetAll lists the store's records of this kind, routed per policy.
func (s *EntityService) GetAll(ctx context.Context, opts ...router.ReadOption) router.Result[[]*models.Record] {
	storeID := s.r.Device().StoreID

	localFn := func(ctx context.Context) ([]*models.Record, error) {
		return s.local.ListByStore(s.kind, storeID)
	}
	remoteFn := func(ctx context.Context) ([]*models.Record, error) {
		return s.remote.List(ctx, s.kind, storeID)
	}
	return router.Read(s.r, ctx, localFn, remoteFn, opts...)
}

// Hydrate pulls the remote copy of this entity kind into the local store.
// Runs with an explicit server override so it works under any policy.
func (s *EntityService) Hydrate(ctx context.Context) router.Result[[]*models.Record] {
	res := s.GetAll(ctx, router.WithSource(policy.SourceServer))
	if res.Err != nil {
		return res
	}
	for _, rec := range res.Data {
		if err := s.local.ApplyRemote(rec); err != nil {
			res.Err = err
			return res
		}
	}
	return res
}
