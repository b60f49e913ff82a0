// Package drainer implements the background worker that empties the sync
// queue against the remote store. It owns the idle -> syncing -> (idle |
// error) state machine; its failures are observable but never propagate to
// application code.
package drainer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pomadehq/pomade/internal/apperr"
	"github.com/pomadehq/pomade/internal/conflict"
	"github.com/pomadehq/pomade/internal/logging"
	"github.com/pomadehq/pomade/internal/models"
	"github.com/pomadehq/pomade/internal/policy"
	"github.com/pomadehq/pomade/internal/remote"
	"github.com/pomadehq/pomade/internal/store"
	"github.com/pomadehq/pomade/internal/syncq"
)

// State is the drainer's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
)

// Monitor is the reachability signal the drainer consumes.
type Monitor interface {
	IsOnline() bool
	Subscribe() <-chan bool
}

// Config holds drainer tunables.
type Config struct {
	// Interval between periodic drain attempts.
	Interval time.Duration
	// BatchSize bounds how many entries one cycle applies, so a long queue
	// cannot starve the caller's runtime indefinitely.
	BatchSize int
	// RemoteTimeout bounds each remote call.
	RemoteTimeout time.Duration
}

// DefaultConfig returns the default drainer configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		BatchSize:     50,
		RemoteTimeout: 15 * time.Second,
	}
}

// Drainer consumes the sync queue and replays entries against the remote
// store.
type Drainer struct {
	queue    *syncq.Queue
	remote   remote.Client
	local    *store.Store
	resolver *conflict.Resolver
	pol      policy.SyncPolicy
	monitor  Monitor
	cfg      Config

	mu         sync.RWMutex
	state      State
	inFlight   bool
	lastSyncAt time.Time
	lastErr    error

	bo        *backoff.ExponentialBackOff
	triggerCh chan struct{}
	stopCh    chan struct{}
	stopped   sync.Once
	wg        sync.WaitGroup
}

// New creates a Drainer. pol decides whether draining is allowed at all
// (online-only devices never queue, so their drainer stays idle).
func New(queue *syncq.Queue, rc remote.Client, local *store.Store, resolver *conflict.Resolver, pol policy.SyncPolicy, monitor Monitor, cfg Config) *Drainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = DefaultConfig().RemoteTimeout
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0 // keep retrying; abandonment is per-entry

	return &Drainer{
		queue:     queue,
		remote:    rc,
		local:     local,
		resolver:  resolver,
		pol:       pol,
		monitor:   monitor,
		cfg:       cfg,
		state:     StateIdle,
		bo:        bo,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background loop. Triggers: periodic ticker, an
// offline -> online transition, and TriggerSync.
func (d *Drainer) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop halts the background loop. A cycle in progress finishes its current
// entry and stops dequeuing further.
func (d *Drainer) Stop() {
	d.stopped.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// TriggerSync requests an immediate drain. Returns false when a drain is
// already pending or in progress; overlapping triggers coalesce.
func (d *Drainer) TriggerSync() bool {
	select {
	case d.triggerCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// State returns the current lifecycle state.
func (d *Drainer) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// LastSyncAt returns when the last drain cycle completed cleanly.
func (d *Drainer) LastSyncAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSyncAt
}

// LastError returns the error that put the drainer in the error state, if
// any.
func (d *Drainer) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

func (d *Drainer) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	reconnect := d.monitor.Subscribe()

	// retryCh is armed with backoff after a cycle ends in error.
	var retryCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			if retryCh != nil {
				// The error backoff owns rescheduling; periodic ticks stay
				// quiet until it fires or connectivity returns.
				continue
			}
		case online := <-reconnect:
			if !online {
				continue
			}
			// Fresh connectivity: drop any error backoff and drain now.
			d.bo.Reset()
			retryCh = nil
		case <-d.triggerCh:
		case <-retryCh:
			retryCh = nil
		}

		if err := d.Drain(ctx); err != nil {
			retryCh = time.After(d.bo.NextBackOff())
		} else {
			d.bo.Reset()
		}
	}
}

// Drain runs one batch-bounded drain cycle. Single-flight: a cycle already
// in progress makes this call a no-op. Exposed for manual sync.
func (d *Drainer) Drain(ctx context.Context) error {
	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		logging.Debug("drain already in progress, skipping", nil)
		return nil
	}
	if !d.pol.OfflineCapable() || !d.monitor.IsOnline() {
		d.mu.Unlock()
		return nil
	}
	d.inFlight = true
	d.state = StateSyncing
	d.lastErr = nil
	d.mu.Unlock()

	err := d.drainBatch(ctx)

	d.mu.Lock()
	d.inFlight = false
	if err != nil {
		d.state = StateError
		d.lastErr = err
	} else {
		d.state = StateIdle
		d.lastSyncAt = time.Now()
	}
	d.mu.Unlock()

	if err != nil {
		logging.ErrorWithCode("drain cycle failed", string(apperr.ErrSyncFailed), err, nil)
	}
	return err
}

// drainBatch applies up to BatchSize entries. Entry-level failures are
// recorded on the entry and the cycle continues; losing connectivity
// mid-batch aborts the cycle, releases the current claim, and reports the
// error so the loop reschedules with backoff.
func (d *Drainer) drainBatch(ctx context.Context) error {
	applied := 0
	for i := 0; i < d.cfg.BatchSize; i++ {
		// Cancellation is checked between entries, never mid-entry, so a
		// half-applied mutation is never abandoned.
		select {
		case <-ctx.Done():
			return nil
		case <-d.stopCh:
			return nil
		default:
		}

		entry, err := d.queue.DequeueNext()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}

		applyErr := d.apply(ctx, entry)
		if applyErr == nil {
			retired, err := d.queue.MarkSucceeded(entry.ID, entry.ClaimedAt)
			if err != nil {
				return err
			}
			// A rewritten entry (a write landed mid-apply) stays queued with
			// the fresh payload; the record is not synced yet.
			if retired && entry.Action != models.ActionDelete {
				if err := d.local.SetSyncStatus(entry.Entity, entry.EntityID, models.SyncStatusSynced); err != nil {
					logging.Error("failed to mark record synced", err, map[string]interface{}{
						"entity":    entry.Entity,
						"entity_id": entry.EntityID,
					})
				}
			}
			applied++
			continue
		}

		if remote.IsTemporary(applyErr) && !apperr.Is(applyErr, apperr.ErrSyncConflict) && !d.monitor.IsOnline() {
			// Connectivity died mid-batch: leave the entry queued and let
			// the loop reschedule the whole cycle.
			if err := d.queue.Release(entry.ID); err != nil {
				logging.Error("failed to release claimed entry", err, map[string]interface{}{
					"entry_id": entry.ID,
				})
			}
			return apperr.Wrap(apperr.ErrRemoteUnavailable, "connectivity lost mid-batch", applyErr)
		}

		permanent := !remote.IsTemporary(applyErr) || apperr.Is(applyErr, apperr.ErrSyncConflict)
		if err := d.queue.MarkFailed(entry.ID, entry.ClaimedAt, applyErr, permanent); err != nil {
			return err
		}
	}

	if applied > 0 {
		logging.Info("drain cycle applied entries", map[string]interface{}{"applied": applied})
	}
	return nil
}

// apply replays one entry against the remote store, dispatched by action.
func (d *Drainer) apply(ctx context.Context, entry *models.QueueEntry) error {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.RemoteTimeout)
	defer cancel()

	switch entry.Action {
	case models.ActionCreate:
		err := d.remote.Create(callCtx, entry.Entity, entry.EntityID, entry.Payload)
		if remote.IsConflict(err) {
			return d.reconcile(callCtx, entry)
		}
		return err
	case models.ActionUpdate:
		err := d.remote.Update(callCtx, entry.Entity, entry.EntityID, entry.Payload)
		if remote.IsConflict(err) {
			return d.reconcile(callCtx, entry)
		}
		return err
	case models.ActionDelete:
		err := d.remote.Delete(callCtx, entry.Entity, entry.EntityID)
		if remote.IsNotFound(err) {
			// Already gone; deletes are idempotent.
			return nil
		}
		return err
	default:
		return apperr.Newf(apperr.ErrInvalid, "unknown action %q", entry.Action)
	}
}

// reconcile handles a remote version conflict on an entry. Baseline is
// last-write-wins by update timestamp; financial entities are surfaced as
// conflicts instead of auto-resolved, turning the entry terminal.
func (d *Drainer) reconcile(ctx context.Context, entry *models.QueueEntry) error {
	remoteRec, err := d.remote.Get(ctx, entry.Entity, entry.EntityID)
	if err != nil {
		return err
	}

	localRec, err := d.local.Get(entry.Entity, entry.EntityID)
	if err != nil {
		// No live local copy (deleted or never stored): the remote copy
		// stands.
		return d.local.ApplyRemote(remoteRec)
	}

	c, diverged := conflict.Detect(localRec, remoteRec)
	if !diverged {
		// Same timestamps both sides; nothing left to push.
		return nil
	}

	outcome, err := d.resolver.Resolve(c)
	if err != nil {
		return apperr.Wrap(apperr.ErrSyncConflict, "conflict resolution failed", err)
	}

	if outcome.ManualReview {
		if err := d.local.SetSyncStatus(entry.Entity, entry.EntityID, models.SyncStatusConflict); err != nil {
			logging.Error("failed to mark record conflicted", err, map[string]interface{}{
				"entity":    entry.Entity,
				"entity_id": entry.EntityID,
			})
		}
		return apperr.Newf(apperr.ErrSyncConflict,
			"%s %s diverged across devices and requires review", entry.Entity, entry.EntityID)
	}

	if outcome.Winner == conflict.WinnerLocal {
		return d.remote.ForceUpdate(ctx, entry.Entity, entry.EntityID, localRec.Payload)
	}

	// Remote won: pull its copy into the local store. The queued entry is
	// superseded and counts as applied.
	return d.local.ApplyRemote(remoteRec)
}
