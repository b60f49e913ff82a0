// Package device persists the per-device registration record that drives
// the mode policy. Registration happens once; mode changes only through an
// explicit call; logout clears the record. The sync subsystem itself never
// writes here.
package device

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/pomadehq/pomade/internal/apperr"
	"github.com/pomadehq/pomade/internal/models"
	"github.com/pomadehq/pomade/internal/policy"
)

// Registry reads and writes the device registration record.
type Registry struct {
	db *sql.DB
}

// NewRegistry creates a Registry on top of an opened, migrated database.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Register creates the device record. A device registers exactly once;
// re-registering without Clear is an error.
func (r *Registry) Register(storeID string, mode policy.Mode, offlineModeEnabled bool) (*models.DeviceState, error) {
	if mode != policy.ModeOnlineOnly && mode != policy.ModeOfflineEnabled {
		return nil, apperr.Newf(apperr.ErrInvalid, "unknown device mode %q", mode)
	}

	if existing, err := r.Current(); err == nil && existing != nil {
		return nil, apperr.New(apperr.ErrInvalid, "device already registered")
	}

	st := &models.DeviceState{
		DeviceID:           uuid.New().String(),
		StoreID:            storeID,
		Mode:               string(mode),
		OfflineModeEnabled: offlineModeEnabled,
		RegisteredAt:       time.Now().Unix(),
	}
	_, err := r.db.Exec(`
		INSERT INTO device_state (device_id, store_id, mode, offline_mode_enabled, registered_at)
		VALUES (?, ?, ?, ?, ?)`,
		st.DeviceID, st.StoreID, st.Mode, st.OfflineModeEnabled, st.RegisteredAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to register device", err)
	}
	return st, nil
}

// Current returns the device record, or ErrDeviceUnregistered when the
// device never registered (or logged out).
func (r *Registry) Current() (*models.DeviceState, error) {
	row := r.db.QueryRow(`
		SELECT device_id, store_id, mode, offline_mode_enabled, registered_at
		FROM device_state LIMIT 1`)

	var st models.DeviceState
	err := row.Scan(&st.DeviceID, &st.StoreID, &st.Mode, &st.OfflineModeEnabled, &st.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.ErrDeviceUnregistered, "device is not registered")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDatabase, "failed to load device state", err)
	}
	return &st, nil
}

// SetMode changes the device mode and offline toggle. This is the only
// mutation path after registration.
func (r *Registry) SetMode(mode policy.Mode, offlineModeEnabled bool) error {
	if mode != policy.ModeOnlineOnly && mode != policy.ModeOfflineEnabled {
		return apperr.Newf(apperr.ErrInvalid, "unknown device mode %q", mode)
	}
	res, err := r.db.Exec(`UPDATE device_state SET mode = ?, offline_mode_enabled = ?`,
		string(mode), offlineModeEnabled)
	if err != nil {
		return apperr.Wrap(apperr.ErrDatabase, "failed to set device mode", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.ErrDeviceUnregistered, "device is not registered")
	}
	return nil
}

// Clear removes the registration record on logout.
func (r *Registry) Clear() error {
	if _, err := r.db.Exec(`DELETE FROM device_state`); err != nil {
		return apperr.Wrap(apperr.ErrDatabase, "failed to clear device state", err)
	}
	return nil
}

// Context builds the policy DeviceContext for the registered device.
func (r *Registry) Context() (policy.DeviceContext, error) {
	st, err := r.Current()
	if err != nil {
		return policy.DeviceContext{}, err
	}
	return policy.FromDeviceState(st), nil
}
