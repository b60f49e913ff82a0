package conflict

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pomadehq/pomade/internal/models"
)

func rec(entity models.EntityKind, id string, updatedAt int64) *models.Record {
	return &models.Record{
		ID:        id,
		Entity:    entity,
		StoreID:   "store-1",
		Payload:   json.RawMessage(`{}`),
		UpdatedAt: updatedAt,
	}
}

func TestDetect(t *testing.T) {
	local := rec(models.EntityClient, "c-1", 100)
	remote := rec(models.EntityClient, "c-1", 200)

	c, diverged := Detect(local, remote)
	require.True(t, diverged)
	assert.Equal(t, models.EntityClient, c.Entity)
	assert.Equal(t, "c-1", c.EntityID)
	assert.NotZero(t, c.DetectedAt)
}

func TestDetectNoDivergence(t *testing.T) {
	_, diverged := Detect(rec(models.EntityClient, "c-1", 100), rec(models.EntityClient, "c-1", 100))
	assert.False(t, diverged)

	_, diverged = Detect(nil, rec(models.EntityClient, "c-1", 100))
	assert.False(t, diverged)

	_, diverged = Detect(rec(models.EntityClient, "c-1", 100), nil)
	assert.False(t, diverged)

	// Different records are not a conflict.
	_, diverged = Detect(rec(models.EntityClient, "c-1", 100), rec(models.EntityClient, "c-2", 200))
	assert.False(t, diverged)
}

func TestResolveLastWriteWins(t *testing.T) {
	r := NewResolver(ResolutionStrategyLastWriteWins)

	c, _ := Detect(rec(models.EntityClient, "c-1", 200), rec(models.EntityClient, "c-1", 100))
	out, err := r.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, ResolutionStrategyLastWriteWins, out.Strategy)
	assert.Equal(t, WinnerLocal, out.Winner)
	assert.False(t, out.ManualReview)

	c, _ = Detect(rec(models.EntityClient, "c-1", 100), rec(models.EntityClient, "c-1", 200))
	out, err = r.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, WinnerRemote, out.Winner)
}

func TestResolveFinancialAlwaysManual(t *testing.T) {
	r := NewResolver(ResolutionStrategyLastWriteWins)

	for _, kind := range []models.EntityKind{models.EntityTicket, models.EntityTransaction} {
		c, diverged := Detect(rec(kind, "f-1", 200), rec(kind, "f-1", 100))
		require.True(t, diverged)

		out, err := r.Resolve(c)
		require.NoError(t, err)
		assert.True(t, out.ManualReview, "%s must never auto-resolve", kind)
		assert.Equal(t, ResolutionStrategyManual, out.Strategy)
	}
}

func TestResolveManualStrategy(t *testing.T) {
	r := NewResolver(ResolutionStrategyManual)

	c, _ := Detect(rec(models.EntityClient, "c-1", 200), rec(models.EntityClient, "c-1", 100))
	out, err := r.Resolve(c)
	require.NoError(t, err)
	assert.True(t, out.ManualReview)
}

func TestResolveInvalidInput(t *testing.T) {
	r := NewResolver(ResolutionStrategyLastWriteWins)

	_, err := r.Resolve(nil)
	assert.ErrorIs(t, err, ErrInvalidConflict)

	_, err = r.Resolve(&Conflict{Local: rec(models.EntityClient, "a", 1)})
	assert.ErrorIs(t, err, ErrInvalidConflict)

	_, err = r.Resolve(&Conflict{
		Local:  rec(models.EntityClient, "a", 1),
		Remote: rec(models.EntityClient, "b", 2),
	})
	assert.ErrorIs(t, err, ErrIDMismatch)
}
