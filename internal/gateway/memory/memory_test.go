package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/query"
	"github.com/vivacius/asistenciacampo/internal/geofence"
	"github.com/vivacius/asistenciacampo/internal/record"
)

func eventRow(id string, hour int) gateway.Row {
	return record.EventToRow(record.Event{
		ID:        id,
		UserID:    "u-1",
		Date:      "2026-03-02",
		Kind:      record.KindEntry,
		Timestamp: time.Date(2026, 3, 2, hour, 0, 0, 0, time.UTC),
	})
}

func TestInsertRecord_DuplicateKey(t *testing.T) {
	ctx := context.Background()
	g := New()

	require.NoError(t, g.InsertRecord(ctx, gateway.TableAttendance, eventRow("evt-1", 8)))
	err := g.InsertRecord(ctx, gateway.TableAttendance, eventRow("evt-1", 8))
	require.Error(t, err)
	assert.True(t, gateway.IsDuplicate(err))
	assert.Len(t, g.Rows(gateway.TableAttendance), 1)
}

func TestInsertRecord_FollowUpCompositeKey(t *testing.T) {
	ctx := context.Background()
	g := New()
	row := func(slot record.Slot) gateway.Row {
		return record.FollowUpToRow(record.FollowUp{SessionID: "evt-1", Slot: slot, UserID: "u-1",
			Date: "2026-03-02", Timestamp: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)})
	}

	require.NoError(t, g.InsertRecord(ctx, gateway.TableFollowUps, row(record.SlotMandatory)))
	require.NoError(t, g.InsertRecord(ctx, gateway.TableFollowUps, row(record.SlotOptional)))
	assert.True(t, gateway.IsDuplicate(g.InsertRecord(ctx, gateway.TableFollowUps, row(record.SlotMandatory))))
}

func TestInsertRecord_StoresCopy(t *testing.T) {
	g := New()
	row := eventRow("evt-1", 8)
	require.NoError(t, g.InsertRecord(context.Background(), gateway.TableAttendance, row))
	row["zone_code"] = "mutated"
	assert.Nil(t, g.Rows(gateway.TableAttendance)[0]["zone_code"])
}

func TestFailureInjection(t *testing.T) {
	ctx := context.Background()
	g := New()
	boom := errors.New("503 service unavailable")

	g.FailNext(OpInsert, boom)
	assert.ErrorIs(t, g.InsertRecord(ctx, gateway.TableAttendance, eventRow("evt-1", 8)), boom)
	require.NoError(t, g.InsertRecord(ctx, gateway.TableAttendance, eventRow("evt-1", 8)))

	g.Fail(OpUpload, boom)
	_, err := g.UploadBlob(ctx, "u-1/evt-2.jpg", []byte("x"), "image/jpeg")
	assert.ErrorIs(t, err, boom)
	_, err = g.UploadBlob(ctx, "u-1/evt-2.jpg", []byte("x"), "image/jpeg")
	assert.ErrorIs(t, err, boom)

	g.Fail(OpUpload, nil)
	url, err := g.UploadBlob(ctx, "u-1/evt-2.jpg", []byte("x"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "mem://blobs/u-1/evt-2.jpg", url)

	assert.Equal(t, 2, g.Calls(OpInsert))
	assert.Equal(t, 3, g.Calls(OpUpload))
}

func TestUploadBlob_Overwrites(t *testing.T) {
	ctx := context.Background()
	g := New()
	_, err := g.UploadBlob(ctx, "p.jpg", []byte("one"), "image/jpeg")
	require.NoError(t, err)
	_, err = g.UploadBlob(ctx, "p.jpg", []byte("two"), "image/jpeg")
	require.NoError(t, err)

	b, ok := g.Blob("p.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("two"), b)
}

func TestQueryRecords(t *testing.T) {
	ctx := context.Background()
	g := New()
	require.NoError(t, g.InsertRecord(ctx, gateway.TableAttendance, eventRow("a", 8)))
	require.NoError(t, g.InsertRecord(ctx, gateway.TableAttendance, eventRow("b", 12)))

	rows, err := g.QueryRecords(ctx, gateway.TableAttendance, query.New().
		Where(query.Eq("user_id", "u-1"), query.Eq("date", "2026-03-02")).
		OrderBy("timestamp", true))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0]["id"])

	_, err = g.QueryRecords(ctx, gateway.TableAttendance, query.New().Where(query.Eq("password", "x")))
	assert.Error(t, err)
}

func TestResolveZone(t *testing.T) {
	g := New(geofence.Zone{Code: "L7", Name: "Lote 7", Lat: 4.61, Lon: -74.08, RadiusM: 200})

	z, err := g.ResolveZone(context.Background(), 4.6101, -74.0801)
	require.NoError(t, err)
	require.NotNil(t, z)
	assert.Equal(t, "L7", z.Code)

	z, err = g.ResolveZone(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Nil(t, z)
}

func TestOnInsertHook(t *testing.T) {
	g := New()
	var got []gateway.Table
	g.OnInsert(func(table gateway.Table, _ gateway.Row) { got = append(got, table) })

	require.NoError(t, g.InsertRecord(context.Background(), gateway.TableAttendance, eventRow("a", 8)))
	_ = g.InsertRecord(context.Background(), gateway.TableAttendance, eventRow("a", 8))
	assert.Equal(t, []gateway.Table{gateway.TableAttendance}, got)
}
