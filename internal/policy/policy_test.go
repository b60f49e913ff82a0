package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pomadehq/pomade/internal/apperr"
)

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		name string
		dc   DeviceContext
		want SyncPolicy
	}{
		{
			name: "online-only mode",
			dc:   DeviceContext{Mode: ModeOnlineOnly},
			want: OnlineOnly,
		},
		{
			name: "online-only mode ignores offline toggle",
			dc:   DeviceContext{Mode: ModeOnlineOnly, OfflineModeEnabled: true},
			want: OnlineOnly,
		},
		{
			name: "offline-enabled without toggle",
			dc:   DeviceContext{Mode: ModeOfflineEnabled},
			want: OfflineEnabled,
		},
		{
			name: "offline-enabled with toggle is local-first",
			dc:   DeviceContext{Mode: ModeOfflineEnabled, OfflineModeEnabled: true},
			want: LocalFirst,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PolicyFor(tt.dc))
		})
	}
}

func TestDecideRead(t *testing.T) {
	tests := []struct {
		name   string
		pol    SyncPolicy
		online bool
		want   Source
	}{
		{"online-only reads server when online", OnlineOnly, true, SourceServer},
		{"online-only reads server even offline", OnlineOnly, false, SourceServer},
		{"offline-enabled reads server when online", OfflineEnabled, true, SourceServer},
		{"offline-enabled reads local when offline", OfflineEnabled, false, SourceLocal},
		{"local-first always reads local", LocalFirst, true, SourceLocal},
		{"local-first reads local offline too", LocalFirst, false, SourceLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecideRead(tt.pol, tt.online, nil))
		})
	}
}

func TestDecideReadOverride(t *testing.T) {
	server := SourceServer
	// An explicit override wins regardless of policy.
	assert.Equal(t, SourceServer, DecideRead(LocalFirst, false, &server))

	local := SourceLocal
	assert.Equal(t, SourceLocal, DecideRead(OnlineOnly, true, &local))
}

func TestDecideWrite(t *testing.T) {
	src, err := DecideWrite(OnlineOnly, true)
	require.NoError(t, err)
	assert.Equal(t, SourceServer, src)

	src, err = DecideWrite(OfflineEnabled, false)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, src)

	src, err = DecideWrite(LocalFirst, true)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, src)
}

func TestDecideWriteOnlineOnlyOffline(t *testing.T) {
	// Writing while offline on an online-only device is a policy
	// violation, distinguishable from a generic network error.
	_, err := DecideWrite(OnlineOnly, false)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrOfflineWrite))
	assert.Contains(t, err.Error(), "offline")
}

func TestOfflineCapable(t *testing.T) {
	assert.False(t, OnlineOnly.OfflineCapable())
	assert.True(t, OfflineEnabled.OfflineCapable())
	assert.True(t, LocalFirst.OfflineCapable())
}

func TestFromDeviceState(t *testing.T) {
	dc := DeviceContext{
		DeviceID:           "dev-1",
		StoreID:            "store-1",
		Mode:               ModeOfflineEnabled,
		OfflineModeEnabled: true,
	}
	assert.Equal(t, "local-first", PolicyFor(dc).String())
}
