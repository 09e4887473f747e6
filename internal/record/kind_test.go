package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("entry")
	require.NoError(t, err)
	assert.Equal(t, KindEntry, k)

	k, err = ParseKind("exit")
	require.NoError(t, err)
	assert.Equal(t, KindExit, k)

	_, err = ParseKind("entrada")
	assert.Error(t, err)
}

func TestKind_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Kind Kind `json:"kind"`
	}{KindExit})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"exit"}`, string(data))

	var out struct {
		Kind Kind `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"entry"}`), &out))
	assert.Equal(t, KindEntry, out.Kind)
}

func TestKind_MarshalInvalid(t *testing.T) {
	_, err := Kind(0).MarshalText()
	assert.Error(t, err)
}

func TestZoneStatus_UnknownIsNotOutside(t *testing.T) {
	var z ZoneStatus
	assert.Equal(t, ZoneUnknown, z, "zero value must be unknown")
	assert.NotEqual(t, ZoneOutside, z)

	parsed, err := ParseZoneStatus("")
	require.NoError(t, err)
	assert.Equal(t, ZoneUnknown, parsed)

	_, err = ParseZoneStatus("maybe")
	assert.Error(t, err)
}

func TestOriginFor(t *testing.T) {
	assert.Equal(t, OriginEntry, OriginFor(KindEntry))
	assert.Equal(t, OriginExit, OriginFor(KindExit))
	assert.Equal(t, OriginManual, OriginFor(Kind(0)))
}

func TestParseOrigin(t *testing.T) {
	for _, o := range []Origin{OriginEntry, OriginExit, OriginPeriodic, OriginManual} {
		parsed, err := ParseOrigin(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, parsed)
	}
	_, err := ParseOrigin("hourly")
	assert.Error(t, err)
}

func TestParseSlot(t *testing.T) {
	s, err := ParseSlot(1)
	require.NoError(t, err)
	assert.Equal(t, SlotMandatory, s)

	s, err = ParseSlot(2)
	require.NoError(t, err)
	assert.Equal(t, SlotOptional, s)

	_, err = ParseSlot(3)
	assert.Error(t, err)
	_, err = ParseSlot(0)
	assert.Error(t, err)
}

func TestSyncState_UnmarshalText(t *testing.T) {
	var s SyncState
	require.NoError(t, s.UnmarshalText([]byte("queued")))
	assert.Equal(t, StateQueued, s)
	require.NoError(t, s.UnmarshalText([]byte("confirmed")))
	assert.Equal(t, StateConfirmed, s)
	assert.Error(t, s.UnmarshalText([]byte("pendiente_sync")))
}
