package router

import (
	"encoding/json"
	"sync"

	"github.com/pomadehq/pomade/internal/logging"
	"github.com/pomadehq/pomade/internal/models"
	"github.com/pomadehq/pomade/internal/syncq"
)

// Mutation is the one-way message the router sends to the sync queue after
// a successful local write.
type Mutation struct {
	Entity   models.EntityKind
	EntityID string
	Action   models.Action
	Payload  json.RawMessage
}

// StatusMarker flips a record's sync status once its mutation is safely
// queued. Satisfied by the local store.
type StatusMarker interface {
	SetSyncStatus(entity models.EntityKind, id string, status models.SyncStatus) error
}

type mailboxMsg struct {
	mut   *Mutation
	flush chan struct{}
}

// Mailbox decouples the router's completion from queue bookkeeping: Send
// never blocks the caller, and a dedicated goroutine performs the durable
// enqueue. Enqueue failures are logged, not surfaced; eventual sync
// correctness belongs to the drainer, not the write path.
type Mailbox struct {
	queue  *syncq.Queue
	marker StatusMarker
	ch     chan mailboxMsg
	wg     sync.WaitGroup
	once   sync.Once

	// Overflow buffer for when ch is full. A single spill goroutine moves
	// messages into ch in arrival order, so mutations for the same record
	// never enter the durable queue out of order.
	mu       sync.Mutex
	overflow []mailboxMsg
	spilling bool
}

// MailboxOption configures a Mailbox.
type MailboxOption func(*Mailbox)

// WithStatusMarker makes the mailbox flip records to "pending" once their
// mutation is durably queued.
func WithStatusMarker(m StatusMarker) MailboxOption {
	return func(mb *Mailbox) { mb.marker = m }
}

// NewMailbox creates and starts a Mailbox draining into queue.
func NewMailbox(queue *syncq.Queue, buffer int, opts ...MailboxOption) *Mailbox {
	if buffer <= 0 {
		buffer = 256
	}
	mb := &Mailbox{
		queue: queue,
		ch:    make(chan mailboxMsg, buffer),
	}
	for _, opt := range opts {
		opt(mb)
	}

	mb.wg.Add(1)
	go mb.run()
	return mb
}

func (mb *Mailbox) run() {
	defer mb.wg.Done()
	for msg := range mb.ch {
		if msg.flush != nil {
			close(msg.flush)
			continue
		}
		mb.process(msg.mut)
	}
}

func (mb *Mailbox) process(mut *Mutation) {
	if _, err := mb.queue.Add(mut.Entity, mut.EntityID, mut.Action, mut.Payload); err != nil {
		logging.Error("failed to enqueue sync operation", err, map[string]interface{}{
			"entity":    mut.Entity,
			"entity_id": mut.EntityID,
			"action":    mut.Action,
		})
		return
	}
	if mb.marker != nil && mut.Action != models.ActionDelete {
		if err := mb.marker.SetSyncStatus(mut.Entity, mut.EntityID, models.SyncStatusPending); err != nil {
			logging.Error("failed to mark record pending", err, map[string]interface{}{
				"entity":    mut.Entity,
				"entity_id": mut.EntityID,
			})
		}
	}
}

// Send hands a mutation to the mailbox without blocking the caller. When
// the buffer is full the message is parked in the overflow list and fed to
// the worker in arrival order.
func (mb *Mailbox) Send(mut *Mutation) {
	mb.enqueueMsg(mailboxMsg{mut: mut})
}

func (mb *Mailbox) enqueueMsg(msg mailboxMsg) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	// Anything already parked must go first.
	if len(mb.overflow) == 0 {
		select {
		case mb.ch <- msg:
			return
		default:
		}
	}

	mb.overflow = append(mb.overflow, msg)
	if !mb.spilling {
		mb.spilling = true
		go mb.spill()
	}
}

// spill feeds parked messages into ch one at a time. The head is only
// removed after it is in the channel, so a concurrent Send always sees a
// non-empty overflow and parks behind it.
func (mb *Mailbox) spill() {
	for {
		mb.mu.Lock()
		if len(mb.overflow) == 0 {
			mb.spilling = false
			mb.mu.Unlock()
			return
		}
		msg := mb.overflow[0]
		mb.mu.Unlock()

		mb.ch <- msg

		mb.mu.Lock()
		mb.overflow = mb.overflow[1:]
		mb.mu.Unlock()
	}
}

// Flush blocks until every mutation sent before the call has been
// processed. Test hook; production code never needs it.
func (mb *Mailbox) Flush() {
	done := make(chan struct{})
	mb.enqueueMsg(mailboxMsg{flush: done})
	<-done
}

// Close stops the mailbox after draining buffered and parked mutations.
func (mb *Mailbox) Close() {
	mb.once.Do(func() {
		// Flush empties the overflow list and parks the close behind it.
		mb.Flush()
		close(mb.ch)
	})
	mb.wg.Wait()
}
