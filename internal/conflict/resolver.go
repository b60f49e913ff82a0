// Package conflict resolves records that diverged between the local and
// remote stores while both sides were mutated independently.
package conflict

import (
	"errors"
	"time"

	"github.com/pomadehq/pomade/internal/logging"
	"github.com/pomadehq/pomade/internal/models"
)

// ResolutionStrategy defines how conflicts are resolved.
type ResolutionStrategy string

const (
	ResolutionStrategyLastWriteWins ResolutionStrategy = "last_write_wins"
	ResolutionStrategyManual        ResolutionStrategy = "manual"
)

// Winner names the side last-write-wins picked.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// Errors
var (
	ErrInvalidConflict = errors.New("invalid conflict: both records must be non-nil")
	ErrIDMismatch      = errors.New("record id mismatch")
)

// Conflict represents a detected divergence between local and remote copies
// of one record.
type Conflict struct {
	Entity     models.EntityKind
	EntityID   string
	Local      *models.Record
	Remote     *models.Record
	DetectedAt int64
}

// Outcome is the result of resolving a conflict.
type Outcome struct {
	Strategy ResolutionStrategy
	Winner   Winner
	// ManualReview is set when the conflict must be surfaced instead of
	// auto-resolved. The record keeps sync status "conflict" until an
	// operator decides.
	ManualReview bool
}

// Resolver applies the configured resolution strategy. Financial entities
// are always routed to manual review regardless of strategy: money is never
// silently overwritten.
type Resolver struct {
	strategy ResolutionStrategy
}

// NewResolver creates a Resolver with the given strategy.
func NewResolver(strategy ResolutionStrategy) *Resolver {
	return &Resolver{strategy: strategy}
}

// Detect reports whether local and remote copies of a record diverged. Both
// sides diverged when their update timestamps differ.
func Detect(local, remote *models.Record) (*Conflict, bool) {
	if local == nil || remote == nil {
		return nil, false
	}
	if local.ID != remote.ID || local.Entity != remote.Entity {
		return nil, false
	}
	if local.UpdatedAt == remote.UpdatedAt {
		return nil, false
	}

	c := &Conflict{
		Entity:     local.Entity,
		EntityID:   local.ID,
		Local:      local,
		Remote:     remote,
		DetectedAt: time.Now().Unix(),
	}

	logging.Warn("concurrent edit conflict detected", map[string]interface{}{
		"entity":           local.Entity,
		"entity_id":        local.ID,
		"local_timestamp":  local.UpdatedAt,
		"remote_timestamp": remote.UpdatedAt,
	})
	return c, true
}

// Resolve resolves a conflict using the configured strategy.
func (r *Resolver) Resolve(c *Conflict) (*Outcome, error) {
	if c == nil || c.Local == nil || c.Remote == nil {
		return nil, ErrInvalidConflict
	}
	if c.Local.ID != c.Remote.ID {
		return nil, ErrIDMismatch
	}

	if c.Entity.IsFinancial() || r.strategy == ResolutionStrategyManual {
		logging.Warn("conflict queued for manual review", map[string]interface{}{
			"entity":           c.Entity,
			"entity_id":        c.EntityID,
			"local_timestamp":  c.Local.UpdatedAt,
			"remote_timestamp": c.Remote.UpdatedAt,
		})
		return &Outcome{
			Strategy:     ResolutionStrategyManual,
			ManualReview: true,
		}, nil
	}

	return r.resolveLastWriteWins(c), nil
}

// resolveLastWriteWins picks the copy with the newer update timestamp. Ties
// go to local: the device asking is the one holding unacknowledged work.
func (r *Resolver) resolveLastWriteWins(c *Conflict) *Outcome {
	winner := WinnerLocal
	if c.Remote.UpdatedAt > c.Local.UpdatedAt {
		winner = WinnerRemote
	}

	logging.Info("conflict resolved using last-write-wins", map[string]interface{}{
		"entity":           c.Entity,
		"entity_id":        c.EntityID,
		"winner":           winner,
		"local_timestamp":  c.Local.UpdatedAt,
		"remote_timestamp": c.Remote.UpdatedAt,
	})

	return &Outcome{
		Strategy: ResolutionStrategyLastWriteWins,
		Winner:   winner,
	}
}
