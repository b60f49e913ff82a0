// Package models provides data model definitions for the Pomade sync core.
package models

import "encoding/json"

// EntityKind identifies a synchronizable entity type.
type EntityKind string

const (
	EntityClient      EntityKind = "clients"
	EntityStaff       EntityKind = "staff"
	EntityService     EntityKind = "services"
	EntityAppointment EntityKind = "appointments"
	EntityTicket      EntityKind = "tickets"
	EntityTransaction EntityKind = "transactions"
)

// Kinds lists every synchronizable entity kind.
var Kinds = []EntityKind{
	EntityClient,
	EntityStaff,
	EntityService,
	EntityAppointment,
	EntityTicket,
	EntityTransaction,
}

// IsFinancial reports whether records of this kind carry money.
// Financial records are never auto-resolved on conflict and sync at
// the most urgent priority.
func (k EntityKind) IsFinancial() bool {
	return k == EntityTicket || k == EntityTransaction
}

// Valid reports whether k names a known entity kind.
func (k EntityKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// SyncStatus tracks where a record stands relative to the remote store.
type SyncStatus string

const (
	// SyncStatusLocal marks a record created or modified on-device and not
	// yet handed to the sync queue.
	SyncStatusLocal SyncStatus = "local"
	// SyncStatusPending marks a record with an outstanding queue entry.
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusSynced marks a record the remote store has confirmed.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusConflict marks a record that diverged between devices.
	// Surfaced for operator review, never silently resolved for
	// financial entities.
	SyncStatusConflict SyncStatus = "conflict"
)

// Record is the generic envelope stored per entity. Domain fields live in
// Payload as JSON; the envelope carries everything the sync core needs.
type Record struct {
	ID         string          `db:"id" json:"id"`
	Entity     EntityKind      `db:"entity" json:"entity"`
	StoreID    string          `db:"store_id" json:"store_id"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	SyncStatus SyncStatus      `db:"sync_status" json:"sync_status"`
	IsDeleted  bool            `db:"is_deleted" json:"is_deleted"`
	CreatedAt  int64           `db:"created_at" json:"created_at"`
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Record.
func (Record) TableName() string {
	return "records"
}

// Client is the domain payload for a salon client.
type Client struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Staff is the domain payload for a staff member.
type Staff struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role,omitempty"`
	Active    bool   `json:"active"`
}

// Service is the domain payload for a bookable service.
type Service struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	Category        string `json:"category,omitempty"`
}

// Appointment is the domain payload for a booked appointment.
type Appointment struct {
	ClientID  string `json:"client_id"`
	StaffID   string `json:"staff_id"`
	ServiceID string `json:"service_id"`
	StartsAt  int64  `json:"starts_at"`
	EndsAt    int64  `json:"ends_at"`
	Status    string `json:"status,omitempty"`
}

// Ticket is the domain payload for an open or closed sale ticket.
type Ticket struct {
	ClientID      string   `json:"client_id,omitempty"`
	StaffIDs      []string `json:"staff_ids,omitempty"`
	ServiceIDs    []string `json:"service_ids,omitempty"`
	SubtotalCents int64    `json:"subtotal_cents"`
	TipCents      int64    `json:"tip_cents"`
	Status        string   `json:"status,omitempty"`
}

// Transaction is the domain payload for a completed payment.
type Transaction struct {
	TicketID    string `json:"ticket_id"`
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
	Reference   string `json:"reference,omitempty"`
}
