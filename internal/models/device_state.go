package models

// DeviceState is the per-device registration record driving the mode policy.
// Set once at registration, mutated only by an explicit mode change, cleared
// on logout. The sync subsystem never writes it.
type DeviceState struct {
	DeviceID           string `db:"device_id" json:"device_id"`
	StoreID            string `db:"store_id" json:"store_id"`
	Mode               string `db:"mode" json:"mode"` // online-only, offline-enabled
	OfflineModeEnabled bool   `db:"offline_mode_enabled" json:"offline_mode_enabled"`
	RegisteredAt       int64  `db:"registered_at" json:"registered_at"`
}

// TableName returns the table name for DeviceState.
func (DeviceState) TableName() string {
	return "device_state"
}
