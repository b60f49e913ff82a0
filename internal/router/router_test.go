package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pomadehq/pomade/internal/apperr"
	"github.com/pomadehq/pomade/internal/db"
	"github.com/pomadehq/pomade/internal/models"
	"github.com/pomadehq/pomade/internal/policy"
	"github.com/pomadehq/pomade/internal/store"
	"github.com/pomadehq/pomade/internal/syncq"
)

type routerEnv struct {
	store   *store.Store
	queue   *syncq.Queue
	mailbox *Mailbox
}

func newEnv(t *testing.T) *routerEnv {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.NewMigrator(database.DB).Up())

	st := store.New(database.DB)
	t.Cleanup(func() { st.Close() })
	q := syncq.New(database.DB)
	mb := NewMailbox(q, 16, WithStatusMarker(st))
	t.Cleanup(mb.Close)
	return &routerEnv{store: st, queue: q, mailbox: mb}
}

func offlineEnabledDevice() policy.DeviceContext {
	return policy.DeviceContext{
		DeviceID: "dev-1",
		StoreID:  "store-1",
		Mode:     policy.ModeOfflineEnabled,
	}
}

func onlineOnlyDevice() policy.DeviceContext {
	return policy.DeviceContext{
		DeviceID: "dev-2",
		StoreID:  "store-1",
		Mode:     policy.ModeOnlineOnly,
	}
}

func online() bool  { return true }
func offline() bool { return false }

// An offline-enabled device without connectivity: the write lands locally,
// the caller gets the record back immediately, and exactly one create entry
// sits in the queue once the mailbox has drained.
func TestWriteOfflineQueuesCreate(t *testing.T) {
	env := newEnv(t)
	r := New(offlineEnabledDevice(), offline, env.mailbox)

	res := Write(r, context.Background(),
		func(ctx context.Context) (*models.Record, error) {
			return env.store.Create(models.EntityClient, "store-1", json.RawMessage(`{"first_name":"Ana"}`))
		},
		func(ctx context.Context) (*models.Record, error) {
			t.Fatal("remote path must not run while offline")
			return nil, nil
		},
		func(rec *models.Record) *Mutation {
			return &Mutation{
				Entity:   rec.Entity,
				EntityID: rec.ID,
				Action:   models.ActionCreate,
				Payload:  rec.Payload,
			}
		},
	)
	require.True(t, res.Ok(), "write failed: %v", res.Err)
	assert.Equal(t, policy.SourceLocal, res.Source)
	assert.NotEmpty(t, res.Data.ID)

	env.mailbox.Flush()

	entries, err := env.queue.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionCreate, entries[0].Action)
	assert.Equal(t, res.Data.ID, entries[0].EntityID)

	// The mailbox flips the record to pending once the entry is durable.
	got, err := env.store.Get(models.EntityClient, res.Data.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
}

// An online-only device without connectivity: the write is rejected with a
// policy violation, nothing is stored and nothing is queued.
func TestWriteOnlineOnlyOfflineRejected(t *testing.T) {
	env := newEnv(t)
	r := New(onlineOnlyDevice(), offline, env.mailbox)

	res := Write(r, context.Background(),
		func(ctx context.Context) (*models.Record, error) {
			t.Fatal("local path must not run for an online-only device")
			return nil, nil
		},
		func(ctx context.Context) (*models.Record, error) {
			t.Fatal("remote path must not run while offline")
			return nil, nil
		},
		nil,
	)
	require.False(t, res.Ok())
	assert.True(t, apperr.Is(res.Err, apperr.ErrOfflineWrite))
	assert.Contains(t, res.Err.Error(), "offline")

	env.mailbox.Flush()
	n, err := env.queue.Pending()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteOnlineOnlyUsesRemote(t *testing.T) {
	env := newEnv(t)
	r := New(onlineOnlyDevice(), online, env.mailbox)

	remoteCalled := false
	res := Write(r, context.Background(),
		func(ctx context.Context) (string, error) { return "local", nil },
		func(ctx context.Context) (string, error) {
			remoteCalled = true
			return "remote", nil
		},
		nil,
	)
	require.True(t, res.Ok())
	assert.True(t, remoteCalled)
	assert.Equal(t, policy.SourceServer, res.Source)
	assert.Equal(t, "remote", res.Data)
}

func TestWriteLocalFailureSurfaced(t *testing.T) {
	env := newEnv(t)
	r := New(offlineEnabledDevice(), offline, env.mailbox)

	boom := errors.New("disk full")
	res := Write(r, context.Background(),
		func(ctx context.Context) (string, error) { return "", boom },
		func(ctx context.Context) (string, error) { return "", nil },
		func(string) *Mutation {
			t.Fatal("must not enqueue after a failed local write")
			return nil
		},
	)
	require.False(t, res.Ok())
	assert.ErrorIs(t, res.Err, boom)

	env.mailbox.Flush()
	n, err := env.queue.Pending()
	require.NoError(t, err)
	assert.Zero(t, n)
}

// An offline-enabled device online prefers the server; when the server read
// fails the local copy is returned marked as cached rather than surfacing
// the network error.
func TestReadFallsBackToCachedLocal(t *testing.T) {
	env := newEnv(t)
	r := New(offlineEnabledDevice(), online, env.mailbox)

	res := Read(r, context.Background(),
		func(ctx context.Context) (string, error) { return "local-copy", nil },
		func(ctx context.Context) (string, error) { return "", errors.New("connection refused") },
	)
	require.True(t, res.Ok())
	assert.Equal(t, "local-copy", res.Data)
	assert.Equal(t, policy.SourceLocal, res.Source)
	assert.True(t, res.Cached)
}

func TestReadOnlineOnlySurfacesRemoteError(t *testing.T) {
	env := newEnv(t)
	r := New(onlineOnlyDevice(), online, env.mailbox)

	boom := errors.New("connection refused")
	res := Read(r, context.Background(),
		func(ctx context.Context) (string, error) {
			t.Fatal("online-only devices have no local fallback")
			return "", nil
		},
		func(ctx context.Context) (string, error) { return "", boom },
	)
	require.False(t, res.Ok())
	assert.ErrorIs(t, res.Err, boom)
	assert.False(t, res.Cached)
}

func TestReadLocalFirst(t *testing.T) {
	env := newEnv(t)
	dev := offlineEnabledDevice()
	dev.OfflineModeEnabled = true
	r := New(dev, online, env.mailbox)

	res := Read(r, context.Background(),
		func(ctx context.Context) (string, error) { return "local", nil },
		func(ctx context.Context) (string, error) {
			t.Fatal("local-first reads must not touch the remote")
			return "", nil
		},
	)
	require.True(t, res.Ok())
	assert.Equal(t, policy.SourceLocal, res.Source)
	assert.False(t, res.Cached)
}

func TestReadSourceOverride(t *testing.T) {
	env := newEnv(t)
	dev := offlineEnabledDevice()
	dev.OfflineModeEnabled = true
	r := New(dev, online, env.mailbox)

	res := Read(r, context.Background(),
		func(ctx context.Context) (string, error) { return "local", nil },
		func(ctx context.Context) (string, error) { return "remote", nil },
		WithSource(policy.SourceServer),
	)
	require.True(t, res.Ok())
	assert.Equal(t, "remote", res.Data)
	assert.Equal(t, policy.SourceServer, res.Source)
}

func TestGetModeInfo(t *testing.T) {
	env := newEnv(t)
	r := New(offlineEnabledDevice(), offline, env.mailbox)

	info := r.GetModeInfo()
	assert.Equal(t, policy.ModeOfflineEnabled, info.Mode)
	assert.Equal(t, "offline-enabled", info.Policy)
	assert.False(t, info.Online)
	assert.Equal(t, policy.SourceLocal, info.DataSource)
}

// Mutations must enter the durable queue in send order even when the
// channel buffer overflows: an update sequenced ahead of its create would
// be rejected by the remote and abandoned.
func TestMailboxPreservesOrderUnderBackpressure(t *testing.T) {
	env := newEnv(t)
	mb := NewMailbox(env.queue, 1)
	defer mb.Close()

	const records = 32
	for i := 0; i < records; i++ {
		id := fmt.Sprintf("c-%d", i)
		mb.Send(&Mutation{
			Entity:   models.EntityClient,
			EntityID: id,
			Action:   models.ActionCreate,
			Payload:  json.RawMessage(`{}`),
		})
		mb.Send(&Mutation{
			Entity:   models.EntityClient,
			EntityID: id,
			Action:   models.ActionUpdate,
			Payload:  json.RawMessage(`{}`),
		})
	}
	mb.Flush()

	entries, err := env.queue.List()
	require.NoError(t, err)
	require.Len(t, entries, 2*records)

	createSeq := make(map[string]int64)
	updateSeq := make(map[string]int64)
	for _, e := range entries {
		switch e.Action {
		case models.ActionCreate:
			createSeq[e.EntityID] = e.Seq
		case models.ActionUpdate:
			updateSeq[e.EntityID] = e.Seq
		}
	}
	for i := 0; i < records; i++ {
		id := fmt.Sprintf("c-%d", i)
		assert.Less(t, createSeq[id], updateSeq[id], "record %s", id)
	}
}

func TestMailboxCollapsesRepeatedUpdates(t *testing.T) {
	env := newEnv(t)

	for i := 0; i < 3; i++ {
		env.mailbox.Send(&Mutation{
			Entity:   models.EntityClient,
			EntityID: "c-1",
			Action:   models.ActionUpdate,
			Payload:  json.RawMessage(`{"v":1}`),
		})
	}
	env.mailbox.Flush()

	n, err := env.queue.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
