package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFromRow_JSONShapes(t *testing.T) {
	// Rows arriving over HTTP carry float64 numbers and RFC 3339 strings.
	raw := `{
		"id": "evt-1",
		"user_id": "u-1",
		"date": "2026-03-02",
		"kind": "exit",
		"timestamp": "2026-03-02T17:30:00Z",
		"latitude": 4.61,
		"longitude": -74.08,
		"accuracy_m": 12.5,
		"zone_code": "LOTE-7",
		"zone_name": "Lote 7",
		"zone_status": "inside",
		"photo_url": "http://blobs/u-1/evt-1.jpg",
		"inconsistent": true,
		"inconsistency_note": "exit marked without a prior entry"
	}`
	var row map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &row))

	e, err := EventFromRow(row)
	require.NoError(t, err)

	assert.Equal(t, "evt-1", e.ID)
	assert.Equal(t, KindExit, e.Kind)
	assert.Equal(t, time.Date(2026, 3, 2, 17, 30, 0, 0, time.UTC), e.Timestamp)
	require.NotNil(t, e.Coord)
	assert.InDelta(t, 4.61, e.Coord.Lat, 1e-9)
	assert.InDelta(t, 12.5, e.Coord.AccuracyM, 1e-9)
	require.NotNil(t, e.Zone)
	assert.Equal(t, "LOTE-7", e.Zone.Code)
	assert.Equal(t, ZoneInside, e.ZoneStatus)
	assert.True(t, e.Inconsistent)
	assert.Equal(t, StateConfirmed, e.State)
}

func TestEventToRow_NullsForMissingParts(t *testing.T) {
	e := Event{
		ID:        "evt-2",
		UserID:    "u-1",
		Date:      "2026-03-02",
		Kind:      KindEntry,
		Timestamp: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		PhotoBlob: []byte{0xff, 0xd8},
	}

	row := EventToRow(e)

	assert.Nil(t, row["latitude"])
	assert.Nil(t, row["zone_code"])
	assert.Nil(t, row["photo_url"])
	assert.Nil(t, row["inconsistency_note"])
	assert.Equal(t, "unknown", row["zone_status"])
	_, hasBlob := row["photo_blob"]
	assert.False(t, hasBlob, "blobs never travel in rows")

	back, err := EventFromRow(row)
	require.NoError(t, err)
	assert.Nil(t, back.Coord)
	assert.Nil(t, back.Zone)
	assert.Equal(t, e.Timestamp, back.Timestamp)
}

func TestFollowUpFromRow_SlotValidation(t *testing.T) {
	row := FollowUpToRow(FollowUp{
		SessionID: "evt-1",
		Slot:      SlotMandatory,
		UserID:    "u-1",
		Date:      "2026-03-02",
		Timestamp: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		PhotoURL:  "http://blobs/x.jpg",
	})
	f, err := FollowUpFromRow(row)
	require.NoError(t, err)
	assert.Equal(t, SlotMandatory, f.Slot)
	assert.Equal(t, "evt-1#1", f.Key())

	row["slot"] = float64(3)
	_, err = FollowUpFromRow(row)
	assert.Error(t, err)
}

func TestLocationFromRow_RequiresCoordinate(t *testing.T) {
	row := LocationToRow(LocationSample{
		ID:        "loc-1",
		UserID:    "u-1",
		Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Coord:     Coordinate{Lat: 1, Lon: 2, AccuracyM: 3},
		Origin:    OriginPeriodic,
	})
	l, err := LocationFromRow(row)
	require.NoError(t, err)
	assert.Equal(t, OriginPeriodic, l.Origin)

	delete(row, "latitude")
	_, err = LocationFromRow(row)
	assert.Error(t, err)
}

func TestLocalDate(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	// 02:00 UTC is still the previous evening in Bogota (UTC-5).
	ts := time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-02", LocalDate(ts, bogota))
	assert.Equal(t, "2026-03-03", LocalDate(ts, nil))
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: "a", Timestamp: base},
		{ID: "c", Timestamp: base.Add(2 * time.Hour)},
		{ID: "b", Timestamp: base.Add(time.Hour)},
	}
	SortNewestFirst(events)
	assert.Equal(t, []string{"c", "b", "a"}, []string{events[0].ID, events[1].ID, events[2].ID})

	SortOldestFirst(events)
	assert.Equal(t, []string{"a", "b", "c"}, []string{events[0].ID, events[1].ID, events[2].ID})
}

func TestNormalizeText(t *testing.T) {
	decomposed := "Lote Pin\u0303a "
	assert.Equal(t, "Lote Pi\u00f1a", NormalizeText(decomposed))
	assert.Nil(t, NormalizeZone(nil))
	assert.Equal(t, &Zone{Code: "L1", Name: "Piña"}, NormalizeZone(&Zone{Code: " L1 ", Name: "Piña"}))
}
