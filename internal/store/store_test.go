package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pomadehq/pomade/internal/apperr"
	"github.com/pomadehq/pomade/internal/db"
	"github.com/pomadehq/pomade/internal/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.NewMigrator(database.DB).Up())
	s := New(database.DB)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newStore(t)

	rec, err := s.Create(models.EntityClient, "store-1", json.RawMessage(`{"first_name":"Ana"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, models.SyncStatusLocal, rec.SyncStatus)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)

	got, err := s.Get(models.EntityClient, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "store-1", got.StoreID)
	assert.JSONEq(t, `{"first_name":"Ana"}`, string(got.Payload))
}

func TestCreateRejectsUnknownEntity(t *testing.T) {
	s := newStore(t)
	_, err := s.Create(models.EntityKind("memberships"), "store-1", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrInvalid))
}

func TestGetNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(models.EntityClient, "missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrNotFound))
}

func TestUpdateResetsSyncStatus(t *testing.T) {
	s := newStore(t)

	rec, err := s.Create(models.EntityClient, "store-1", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	require.NoError(t, s.SetSyncStatus(models.EntityClient, rec.ID, models.SyncStatusSynced))

	updated, err := s.Update(models.EntityClient, rec.ID, json.RawMessage(`{"v":2}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(updated.Payload))
	// A local edit always re-enters the sync pipeline.
	assert.Equal(t, models.SyncStatusLocal, updated.SyncStatus)
}

func TestDeleteTombstones(t *testing.T) {
	s := newStore(t)

	rec, err := s.Create(models.EntityClient, "store-1", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NoError(t, s.Delete(models.EntityClient, rec.ID))

	_, err = s.Get(models.EntityClient, rec.ID)
	assert.True(t, apperr.Is(err, apperr.ErrNotFound))

	// Tombstoned rows stay reachable for status bookkeeping.
	require.NoError(t, s.SetSyncStatus(models.EntityClient, rec.ID, models.SyncStatusSynced))

	// A second delete is an error: the record is already gone.
	err = s.Delete(models.EntityClient, rec.ID)
	assert.True(t, apperr.Is(err, apperr.ErrNotFound))
}

func TestListByStore(t *testing.T) {
	s := newStore(t)

	_, err := s.Create(models.EntityClient, "store-1", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	_, err = s.Create(models.EntityClient, "store-1", json.RawMessage(`{"n":2}`))
	require.NoError(t, err)
	_, err = s.Create(models.EntityClient, "store-2", json.RawMessage(`{"n":3}`))
	require.NoError(t, err)
	deleted, err := s.Create(models.EntityClient, "store-1", json.RawMessage(`{"n":4}`))
	require.NoError(t, err)
	require.NoError(t, s.Delete(models.EntityClient, deleted.ID))

	recs, err := s.ListByStore(models.EntityClient, "store-1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestApplyRemoteUpserts(t *testing.T) {
	s := newStore(t)

	rec, err := s.Create(models.EntityStaff, "store-1", json.RawMessage(`{"role":"stylist"}`))
	require.NoError(t, err)

	remote := *rec
	remote.Payload = json.RawMessage(`{"role":"manager"}`)
	remote.UpdatedAt = rec.UpdatedAt + 10
	require.NoError(t, s.ApplyRemote(&remote))

	got, err := s.Get(models.EntityStaff, rec.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"manager"}`, string(got.Payload))
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)

	// Unknown ids insert rather than update.
	fresh := &models.Record{
		ID:      "remote-only",
		Entity:  models.EntityStaff,
		StoreID: "store-1",
		Payload: json.RawMessage(`{}`),
	}
	require.NoError(t, s.ApplyRemote(fresh))
	_, err = s.Get(models.EntityStaff, "remote-only")
	require.NoError(t, err)
}

func TestCountByStatus(t *testing.T) {
	s := newStore(t)

	a, err := s.Create(models.EntityTicket, "store-1", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = s.Create(models.EntityTicket, "store-1", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NoError(t, s.SetSyncStatus(models.EntityTicket, a.ID, models.SyncStatusConflict))

	counts, err := s.CountByStatus(models.EntityTicket)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.SyncStatusLocal])
	assert.Equal(t, 1, counts[models.SyncStatusConflict])
}

func TestBuildRecordDoesNotPersist(t *testing.T) {
	s := newStore(t)

	rec := BuildRecord(models.EntityClient, "store-1", json.RawMessage(`{}`))
	assert.NotEmpty(t, rec.ID)

	_, err := s.Get(models.EntityClient, rec.ID)
	assert.True(t, apperr.Is(err, apperr.ErrNotFound))
}
