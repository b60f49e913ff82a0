// Package policy decides, per operation, whether the local or remote store
// is the target. Decisions are pure functions of device state and
// reachability: no locks, no side effects, safe from any goroutine.
package policy

import (
	"github.com/pomadehq/pomade/internal/apperr"
	"github.com/pomadehq/pomade/internal/models"
)

// Mode is the registered device mode.
type Mode string

const (
	ModeOnlineOnly     Mode = "online-only"
	ModeOfflineEnabled Mode = "offline-enabled"
)

// Source names a data source for a single operation.
type Source string

const (
	SourceLocal  Source = "local"
	SourceServer Source = "server"
)

// SyncPolicy is the collapsed policy variant, selected once from device
// state. Earlier designs kept three parallel router implementations; the
// variants now differ only here.
type SyncPolicy int

const (
	// OnlineOnly devices have no durable local fallback guarantee: reads
	// and writes target the server, and writes without connectivity fail
	// fast instead of queuing.
	OnlineOnly SyncPolicy = iota
	// OfflineEnabled devices read from the server when reachable (falling
	// back to local) and write locally first, queuing for sync.
	OfflineEnabled
	// LocalFirst devices always read local for instant response and write
	// locally first. The drainer keeps the server converged.
	LocalFirst
)

// String implements fmt.Stringer.
func (p SyncPolicy) String() string {
	switch p {
	case OnlineOnly:
		return "online-only"
	case OfflineEnabled:
		return "offline-enabled"
	case LocalFirst:
		return "local-first"
	default:
		return "unknown"
	}
}

// DeviceContext carries everything the policy needs about the device. It is
// passed explicitly; the data layer never reads ambient global state.
type DeviceContext struct {
	DeviceID           string
	StoreID            string
	Mode               Mode
	OfflineModeEnabled bool
	RegisteredAt       int64
}

// FromDeviceState builds a DeviceContext from the persisted registration
// record.
func FromDeviceState(st *models.DeviceState) DeviceContext {
	return DeviceContext{
		DeviceID:           st.DeviceID,
		StoreID:            st.StoreID,
		Mode:               Mode(st.Mode),
		OfflineModeEnabled: st.OfflineModeEnabled,
		RegisteredAt:       st.RegisteredAt,
	}
}

// PolicyFor selects the sync policy for a device. Offline capability
// requires both the registered mode and the device-level toggle; the toggle
// alone promotes an offline-enabled device to pure local-first reads.
func PolicyFor(dc DeviceContext) SyncPolicy {
	if dc.Mode != ModeOfflineEnabled {
		return OnlineOnly
	}
	if dc.OfflineModeEnabled {
		return LocalFirst
	}
	return OfflineEnabled
}

// OfflineCapable reports whether the policy has a durable local fallback.
func (p SyncPolicy) OfflineCapable() bool {
	return p != OnlineOnly
}

// DecideRead returns the source a read should target. An explicit override
// (used for privileged operations like initial hydration) is honored
// unconditionally.
func DecideRead(p SyncPolicy, online bool, override *Source) Source {
	if override != nil {
		return *override
	}
	switch p {
	case OnlineOnly:
		return SourceServer
	case OfflineEnabled:
		if online {
			return SourceServer
		}
		return SourceLocal
	default: // LocalFirst
		return SourceLocal
	}
}

// DecideWrite returns the source a write should target, or the policy
// violation error for online-only devices without connectivity. Queuing a
// write on a device with no guaranteed local fallback would be a silent
// data-loss risk, so those fail fast with a distinct code.
func DecideWrite(p SyncPolicy, online bool) (Source, error) {
	if !p.OfflineCapable() {
		if !online {
			return "", apperr.New(apperr.ErrOfflineWrite,
				"cannot save while offline: this device is registered online-only")
		}
		return SourceServer, nil
	}
	return SourceLocal, nil
}
