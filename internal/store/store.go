// Package store implements the on-device record store. It owns the local
// copy of every entity and is the primary source of truth for
// offline-enabled devices.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pomadehq/pomade/internal/apperr"
	"github.com/pomadehq/pomade/internal/models"
)

// Store provides CRUD operations for entity records, keyed by
// (entity kind, id) and queryable by owning store id.
type Store struct {
	db *sql.DB

	// Prepared statement cache. Statements are prepared on first use and
	// reused to avoid repeated SQL parsing.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// New creates a new Store instance.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// prepareStmt gets or creates a prepared statement from cache.
func (s *Store) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate.
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// BuildRecord constructs a record envelope with a generated id and fresh
// timestamps without persisting it. Used on remote-first write paths where
// the local row is only a cache of the confirmed remote copy.
func BuildRecord(entity models.EntityKind, storeID string, payload json.RawMessage) *models.Record {
	now := time.Now().Unix()
	return &models.Record{
		ID:         uuid.New().String(),
		Entity:     entity,
		StoreID:    storeID,
		Payload:    payload,
		SyncStatus: models.SyncStatusLocal,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Create inserts a new record with a generated id. The record starts in
// sync status "local" until the router hands it to the sync queue.
func (s *Store) Create(entity models.EntityKind, storeID string, payload json.RawMessage) (*models.Record, error) {
	if !entity.Valid() {
		return nil, apperr.Newf(apperr.ErrInvalid, "unknown entity kind %q", entity)
	}

	now := time.Now().Unix()
	rec := &models.Record{
		ID:         uuid.New().String(),
		Entity:     entity,
		StoreID:    storeID,
		Payload:    payload,
		SyncStatus: models.SyncStatusLocal,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	query := `
	INSERT INTO records (id, entity, store_id, payload, sync_status, is_deleted, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`
	_, err := s.db.Exec(query, rec.ID, rec.Entity, rec.StoreID, string(rec.Payload),
		rec.SyncStatus, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to create record", err)
	}
	return rec, nil
}

// Get retrieves a record by entity kind and id. Deleted records are not
// returned.
func (s *Store) Get(entity models.EntityKind, id string) (*models.Record, error) {
	query := `
	SELECT id, entity, store_id, payload, sync_status, is_deleted, created_at, updated_at
	FROM records WHERE entity = ? AND id = ? AND is_deleted = 0
	`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	rec, err := scanRecord(stmt.QueryRow(entity, id))
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.ErrNotFound, "%s %s not found", entity, id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to get record", err)
	}
	return rec, nil
}

// ListByStore returns all live records of a kind owned by a store id,
// oldest first.
func (s *Store) ListByStore(entity models.EntityKind, storeID string) ([]*models.Record, error) {
	query := `
	SELECT id, entity, store_id, payload, sync_status, is_deleted, created_at, updated_at
	FROM records WHERE entity = ? AND store_id = ? AND is_deleted = 0
	ORDER BY created_at ASC
	`
	rows, err := s.db.Query(query, entity, storeID)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to list records", err)
	}
	defer rows.Close()

	var recs []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrDatabase, "failed to scan record", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Update replaces a record's payload, bumps updated_at, and resets sync
// status to "local".
func (s *Store) Update(entity models.EntityKind, id string, payload json.RawMessage) (*models.Record, error) {
	now := time.Now().Unix()
	query := `
	UPDATE records SET payload = ?, sync_status = ?, updated_at = ?
	WHERE entity = ? AND id = ? AND is_deleted = 0
	`
	res, err := s.db.Exec(query, string(payload), models.SyncStatusLocal, now, entity, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to update record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to update record", err)
	}
	if n == 0 {
		return nil, apperr.Newf(apperr.ErrNotFound, "%s %s not found", entity, id)
	}
	return s.Get(entity, id)
}

// Delete soft-deletes a record. The row is kept as a tombstone so a replayed
// remote download cannot resurrect it.
func (s *Store) Delete(entity models.EntityKind, id string) error {
	now := time.Now().Unix()
	query := `
	UPDATE records SET is_deleted = 1, sync_status = ?, updated_at = ?
	WHERE entity = ? AND id = ? AND is_deleted = 0
	`
	res, err := s.db.Exec(query, models.SyncStatusLocal, now, entity, id)
	if err != nil {
		return apperr.Wrap(apperr.ErrDatabase, "failed to delete record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.ErrDatabase, "failed to delete record", err)
	}
	if n == 0 {
		return apperr.Newf(apperr.ErrNotFound, "%s %s not found", entity, id)
	}
	return nil
}

// SetSyncStatus updates only the sync status marker of a record. Used by the
// router (local -> pending) and the drainer (pending -> synced/conflict).
// Tombstoned rows are still reachable here so deletes can be confirmed.
func (s *Store) SetSyncStatus(entity models.EntityKind, id string, status models.SyncStatus) error {
	query := `UPDATE records SET sync_status = ? WHERE entity = ? AND id = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(status, entity, id); err != nil {
		return apperr.Wrap(apperr.ErrDatabase, "failed to set sync status", err)
	}
	return nil
}

// ApplyRemote upserts a record received from the remote store. The record is
// written as "synced": the remote copy is authoritative for this write.
func (s *Store) ApplyRemote(rec *models.Record) error {
	query := `
	INSERT INTO records (id, entity, store_id, payload, sync_status, is_deleted, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (entity, id) DO UPDATE SET
		payload = excluded.payload,
		sync_status = excluded.sync_status,
		is_deleted = excluded.is_deleted,
		updated_at = excluded.updated_at
	`
	_, err := s.db.Exec(query, rec.ID, rec.Entity, rec.StoreID, string(rec.Payload),
		models.SyncStatusSynced, rec.IsDeleted, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.ErrDatabase, "failed to apply remote record", err)
	}
	return nil
}

// CountByStatus returns how many live records of a kind sit in each sync
// status. Observability surface for the CLI.
func (s *Store) CountByStatus(entity models.EntityKind) (map[models.SyncStatus]int, error) {
	query := `
	SELECT sync_status, COUNT(*) FROM records
	WHERE entity = ? AND is_deleted = 0 GROUP BY sync_status
	`
	rows, err := s.db.Query(query, entity)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to count records", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status models.SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.Wrap(apperr.ErrDatabase, "failed to scan count", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var rec models.Record
	var payload string
	err := row.Scan(&rec.ID, &rec.Entity, &rec.StoreID, &payload, &rec.SyncStatus,
		&rec.IsDeleted, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}
