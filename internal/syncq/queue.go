// Package syncq implements the durable sync queue: the staging area for
// mutations awaiting delivery to the remote store. Entries are persisted in
// SQLite so pending writes survive process restarts. The router is the only
// producer and the drainer the only consumer.
package syncq

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pomadehq/pomade/internal/apperr"
	"github.com/pomadehq/pomade/internal/logging"
	"github.com/pomadehq/pomade/internal/models"
)

const (
	// DefaultMaxAttempts bounds retries before an entry turns terminal.
	DefaultMaxAttempts = 5

	// claimTTL is how long a dequeued entry stays invisible. A claim older
	// than this belongs to a drainer that died mid-entry and is up for
	// grabs again.
	claimTTL = 2 * time.Minute
)

// Priority bands: lower value drains first. Financial entities are most
// urgent, and a DELETE ranks above CREATE/UPDATE of the same entity class so
// replay cannot resurrect deleted records.
const (
	priorityFinancial = 10
	priorityStandard  = 20
	deleteBoost       = 5
)

// PriorityFor returns the queue priority for a mutation.
func PriorityFor(entity models.EntityKind, action models.Action) int {
	base := priorityStandard
	if entity.IsFinancial() {
		base = priorityFinancial
	}
	if action == models.ActionDelete {
		base -= deleteBoost
	}
	return base
}

// Queue is the durable sync queue. All mutation goes through the single
// write connection; the mutex additionally serializes the two actors so a
// dequeue-and-claim is atomic even if the drainer's single-flight gate ever
// fails.
type Queue struct {
	db          *sql.DB
	mu          sync.Mutex
	maxAttempts int
	now         func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxAttempts overrides the default retry ceiling for new entries.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithClock overrides the queue's time source. Tests use it to step through
// retry backoff windows.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue on top of an opened, migrated database.
func New(db *sql.DB, opts ...Option) *Queue {
	q := &Queue{
		db:          db,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add enqueues a mutation. Per-entity-per-action collapsing: if a pending
// entry for the same (entityId, action) exists, its payload is replaced and
// its attempt counter reset, so the queue never replays a stale intermediate
// state. A DELETE additionally cancels any pending CREATE/UPDATE for the
// entity; if a CREATE was still pending the remote never saw the record and
// the DELETE itself is dropped.
func (q *Queue) Add(entity models.EntityKind, entityID string, action models.Action, payload json.RawMessage) (*models.QueueEntry, error) {
	if !entity.Valid() {
		return nil, apperr.Newf(apperr.ErrInvalid, "unknown entity kind %q", entity)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().Unix()

	if action == models.ActionDelete {
		dropped, err := q.cancelPendingForDelete(entity, entityID)
		if err != nil {
			return nil, err
		}
		if dropped {
			// The CREATE never drained: nothing to delete remotely.
			logging.Debug("delete collapsed against pending create", map[string]interface{}{
				"entity":    entity,
				"entity_id": entityID,
			})
			return nil, nil
		}
	}

	// Replace the payload of an existing pending entry for the same key.
	// The claim is cleared too: if a drainer holds this entry mid-apply,
	// its eventual MarkSucceeded/MarkFailed carries the old claim stamp and
	// no longer matches, so the rewritten payload stays queued instead of
	// being retired along with the stale one.
	res, err := q.db.Exec(`
		UPDATE sync_queue
		SET payload = ?, attempts = 0, next_retry_at = 0, last_error = '', claimed_at = 0
		WHERE entity = ? AND entity_id = ? AND action = ? AND status = ?`,
		string(payload), entity, entityID, action, models.QueueStatusPending)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to collapse queue entry", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return q.getByKey(entity, entityID, action)
	}

	entry := &models.QueueEntry{
		ID:          uuid.New().String(),
		Entity:      entity,
		EntityID:    entityID,
		Action:      action,
		Payload:     payload,
		Priority:    PriorityFor(entity, action),
		MaxAttempts: q.maxAttempts,
		Status:      models.QueueStatusPending,
		CreatedAt:   now,
	}
	err = q.db.QueryRow(`
		INSERT INTO sync_queue (id, entity, entity_id, action, payload, priority,
			attempts, max_attempts, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		RETURNING seq`,
		entry.ID, entry.Entity, entry.EntityID, entry.Action, string(entry.Payload),
		entry.Priority, entry.MaxAttempts, entry.Status, entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to enqueue", err)
	}

	logging.Debug("enqueued sync operation", map[string]interface{}{
		"entity":    entity,
		"entity_id": entityID,
		"action":    action,
		"priority":  entry.Priority,
	})
	return entry, nil
}

// cancelPendingForDelete removes pending CREATE/UPDATE entries for an
// entity about to be deleted. Returns true when a pending CREATE existed,
// meaning the DELETE needs no remote replay at all.
func (q *Queue) cancelPendingForDelete(entity models.EntityKind, entityID string) (bool, error) {
	res, err := q.db.Exec(`
		DELETE FROM sync_queue
		WHERE entity = ? AND entity_id = ? AND action = ? AND status = ?`,
		entity, entityID, models.ActionCreate, models.QueueStatusPending)
	if err != nil {
		return false, apperr.Wrap(apperr.ErrDatabase, "failed to cancel pending create", err)
	}
	createDropped, _ := res.RowsAffected()

	_, err = q.db.Exec(`
		DELETE FROM sync_queue
		WHERE entity = ? AND entity_id = ? AND action = ? AND status = ?`,
		entity, entityID, models.ActionUpdate, models.QueueStatusPending)
	if err != nil {
		return false, apperr.Wrap(apperr.ErrDatabase, "failed to cancel pending update", err)
	}
	return createDropped > 0, nil
}

// DequeueNext claims and returns the most urgent ready entry, or nil when
// none is ready. Ordering: ascending priority, then FIFO by sequence within
// equal priority. Entries claimed by a live drainer are skipped; claims
// older than claimTTL are considered stale and reclaimed. An entry is held
// back while any earlier entry for the same entity id is still pending
// (claimed or in retry backoff): replaying an UPDATE before its CREATE
// would reorder the entity's history against the remote.
func (q *Queue) DequeueNext() (*models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().Unix()
	staleBefore := q.now().Add(-claimTTL).Unix()

	row := q.db.QueryRow(`
		SELECT seq, id, entity, entity_id, action, payload, priority, attempts,
			max_attempts, status, created_at, next_retry_at, last_attempt_at,
			last_error, claimed_at
		FROM sync_queue AS sq
		WHERE status = ? AND next_retry_at <= ?
			AND (claimed_at = 0 OR claimed_at < ?)
			AND NOT EXISTS (
				SELECT 1 FROM sync_queue AS earlier
				WHERE earlier.entity = sq.entity
					AND earlier.entity_id = sq.entity_id
					AND earlier.status = sq.status
					AND earlier.seq < sq.seq
			)
		ORDER BY priority ASC, seq ASC
		LIMIT 1`,
		models.QueueStatusPending, now, staleBefore)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to dequeue", err)
	}

	res, err := q.db.Exec(`
		UPDATE sync_queue SET claimed_at = ?
		WHERE seq = ? AND claimed_at = ?`,
		now, entry.Seq, entry.ClaimedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to claim entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the claim race; caller just asks again.
		return nil, nil
	}
	entry.ClaimedAt = now
	return entry, nil
}

// MarkSucceeded deletes an entry after successful remote application.
// claimedAt is the stamp DequeueNext handed out with the entry: the delete
// only lands if the entry was not rewritten by a collapsing Add (or
// cancelled by a DELETE) while the apply was in flight. Returns whether the
// entry was actually retired; a false return means the payload the caller
// pushed is stale and a fresh one is still queued.
func (q *Queue) MarkSucceeded(id string, claimedAt int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`DELETE FROM sync_queue WHERE id = ? AND claimed_at = ?`, id, claimedAt)
	if err != nil {
		return false, apperr.Wrap(apperr.ErrDatabase, "failed to delete queue entry", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkFailed records a failed attempt. Transient failures reschedule with
// exponential backoff; once attempts reach the ceiling, or when permanent is
// set (validation rejections and other non-retryable responses), the entry
// turns terminal "failed" and stays queryable so unsynced data is auditable.
// A stale claim stamp (the entry was rewritten or cancelled mid-apply) makes
// the call a no-op: the failure belongs to a payload that no longer exists.
func (q *Queue) MarkFailed(id string, claimedAt int64, cause error, permanent bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, err := q.getByID(id)
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if entry.ClaimedAt != claimedAt {
		return nil
	}

	now := q.now().Unix()
	entry.Attempts++
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if permanent || entry.Attempts >= entry.MaxAttempts {
		_, err := q.db.Exec(`
			UPDATE sync_queue
			SET attempts = ?, status = ?, last_attempt_at = ?, last_error = ?, claimed_at = 0
			WHERE id = ?`,
			entry.Attempts, models.QueueStatusFailed, now, msg, id)
		if err != nil {
			return apperr.Wrap(apperr.ErrDatabase, "failed to mark entry failed", err)
		}
		logging.ErrorWithCode("sync entry abandoned", string(apperr.ErrSyncAbandoned), cause,
			map[string]interface{}{
				"entry_id":  id,
				"entity":    entry.Entity,
				"entity_id": entry.EntityID,
				"action":    entry.Action,
				"attempts":  entry.Attempts,
				"permanent": permanent,
			})
		return nil
	}

	nextRetryAt := now + backoffSeconds(entry.Attempts)
	_, err = q.db.Exec(`
		UPDATE sync_queue
		SET attempts = ?, next_retry_at = ?, last_attempt_at = ?, last_error = ?, claimed_at = 0
		WHERE id = ?`,
		entry.Attempts, nextRetryAt, now, msg, id)
	if err != nil {
		return apperr.Wrap(apperr.ErrDatabase, "failed to record attempt", err)
	}

	logging.Warn("sync entry attempt failed", map[string]interface{}{
		"entry_id":      id,
		"entity":        entry.Entity,
		"entity_id":     entry.EntityID,
		"attempts":      entry.Attempts,
		"max_attempts":  entry.MaxAttempts,
		"next_retry_at": nextRetryAt,
		"error":         msg,
	})
	return nil
}

// Release unclaims an entry without recording an attempt. Used when a drain
// cycle is cancelled mid-batch.
func (q *Queue) Release(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.Exec(`UPDATE sync_queue SET claimed_at = 0 WHERE id = ?`, id)
	if err != nil {
		return apperr.Wrap(apperr.ErrDatabase, "failed to release entry", err)
	}
	return nil
}

// backoffSeconds computes the retry delay: 2^attempts * 30s, capped at one
// hour.
func backoffSeconds(attempts int) int64 {
	backoff := int64(1) << uint(attempts)
	backoff *= 30

	const maxBackoff = int64(3600)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// Pending returns how many entries are waiting to drain.
func (q *Queue) Pending() (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE status = ?`,
		models.QueueStatusPending).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrDatabase, "failed to count pending", err)
	}
	return n, nil
}

// Failed returns terminal entries for operator audit, oldest first.
func (q *Queue) Failed() ([]*models.QueueEntry, error) {
	return q.list(`SELECT seq, id, entity, entity_id, action, payload, priority, attempts,
		max_attempts, status, created_at, next_retry_at, last_attempt_at, last_error, claimed_at
		FROM sync_queue WHERE status = ? ORDER BY seq ASC`, models.QueueStatusFailed)
}

// List returns every entry in the queue, drain order first.
func (q *Queue) List() ([]*models.QueueEntry, error) {
	return q.list(`SELECT seq, id, entity, entity_id, action, payload, priority, attempts,
		max_attempts, status, created_at, next_retry_at, last_attempt_at, last_error, claimed_at
		FROM sync_queue ORDER BY priority ASC, seq ASC`)
}

// RetryFailed resets terminal entries back to pending with a fresh attempt
// budget. Returns how many were reset.
func (q *Queue) RetryFailed() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`
		UPDATE sync_queue
		SET status = ?, attempts = 0, next_retry_at = 0, last_error = '', claimed_at = 0
		WHERE status = ?`,
		models.QueueStatusPending, models.QueueStatusFailed)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrDatabase, "failed to retry failed entries", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Info("reset failed sync entries for retry", map[string]interface{}{"count": n})
	}
	return int(n), nil
}

// Stats returns queue counts by status.
func (q *Queue) Stats() (map[string]int, error) {
	rows, err := q.db.Query(`SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to get stats", err)
	}
	defer rows.Close()

	stats := map[string]int{
		"total":   0,
		"pending": 0,
		"failed":  0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.Wrap(apperr.ErrDatabase, "failed to scan stats", err)
		}
		stats[status] = n
		stats["total"] += n
	}
	return stats, rows.Err()
}

func (q *Queue) list(query string, args ...any) ([]*models.QueueEntry, error) {
	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to list queue", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrDatabase, "failed to scan entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (q *Queue) getByID(id string) (*models.QueueEntry, error) {
	row := q.db.QueryRow(`
		SELECT seq, id, entity, entity_id, action, payload, priority, attempts,
			max_attempts, status, created_at, next_retry_at, last_attempt_at,
			last_error, claimed_at
		FROM sync_queue WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.ErrNotFound, "queue entry %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to get entry", err)
	}
	return entry, nil
}

func (q *Queue) getByKey(entity models.EntityKind, entityID string, action models.Action) (*models.QueueEntry, error) {
	row := q.db.QueryRow(`
		SELECT seq, id, entity, entity_id, action, payload, priority, attempts,
			max_attempts, status, created_at, next_retry_at, last_attempt_at,
			last_error, claimed_at
		FROM sync_queue
		WHERE entity = ? AND entity_id = ? AND action = ? AND status = ?`,
		entity, entityID, action, models.QueueStatusPending)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to get entry by key", err)
	}
	return entry, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var payload string
	err := row.Scan(&e.Seq, &e.ID, &e.Entity, &e.EntityID, &e.Action, &payload,
		&e.Priority, &e.Attempts, &e.MaxAttempts, &e.Status, &e.CreatedAt,
		&e.NextRetryAt, &e.LastAttemptAt, &e.LastError, &e.ClaimedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	return &e, nil
}
