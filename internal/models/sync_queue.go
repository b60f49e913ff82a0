package models

import "encoding/json"

// Action is the mutation type carried by a sync queue entry.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// QueueStatus represents the lifecycle state of a queue entry.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	// QueueStatusFailed is terminal: the entry exhausted its attempts (or
	// hit a permanent remote rejection) and is kept for operator audit
	// instead of being deleted.
	QueueStatusFailed QueueStatus = "failed"
)

// QueueEntry represents a pending mutation awaiting delivery to the remote
// store. Entries are durable across process restarts.
type QueueEntry struct {
	ID            string          `db:"id" json:"id"`
	Seq           int64           `db:"seq" json:"seq"`
	Entity        EntityKind      `db:"entity" json:"entity"`
	EntityID      string          `db:"entity_id" json:"entity_id"`
	Action        Action          `db:"action" json:"action"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Priority      int             `db:"priority" json:"priority"`
	Attempts      int             `db:"attempts" json:"attempts"`
	MaxAttempts   int             `db:"max_attempts" json:"max_attempts"`
	Status        QueueStatus     `db:"status" json:"status"`
	CreatedAt     int64           `db:"created_at" json:"created_at"`
	NextRetryAt   int64           `db:"next_retry_at" json:"next_retry_at"`
	LastAttemptAt int64           `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
	ClaimedAt     int64           `db:"claimed_at" json:"claimed_at,omitempty"`
}

// TableName returns the table name for QueueEntry.
func (QueueEntry) TableName() string {
	return "sync_queue"
}
