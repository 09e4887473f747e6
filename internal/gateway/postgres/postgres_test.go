package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivacius/asistenciacampo/internal/blobstore"
	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/query"
	"github.com/vivacius/asistenciacampo/internal/geofence"
	"github.com/vivacius/asistenciacampo/internal/record"
)

// createTestGateway connects to TEST_DATABASE_URL and resets the tables.
func createTestGateway(t *testing.T) *Gateway {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	blobs, err := blobstore.NewLocal(t.TempDir(), "http://localhost/blobs")
	require.NoError(t, err)

	g := New(pool, blobs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, g.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE attendance_records, followup_photos, location_samples, zones`)
	require.NoError(t, err)
	return g
}

func TestGateway_InsertDuplicateAndQuery(t *testing.T) {
	g := createTestGateway(t)
	ctx := context.Background()

	e := record.Event{
		ID:         "evt-1",
		UserID:     "u-1",
		Date:       "2026-03-02",
		Kind:       record.KindEntry,
		Timestamp:  time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC),
		Coord:      &record.Coordinate{Lat: 4.61, Lon: -74.08, AccuracyM: 8},
		ZoneStatus: record.ZoneInside,
		Zone:       &record.Zone{Code: "L7", Name: "Lote 7"},
	}
	require.NoError(t, g.InsertRecord(ctx, gateway.TableAttendance, record.EventToRow(e)))

	err := g.InsertRecord(ctx, gateway.TableAttendance, record.EventToRow(e))
	assert.True(t, gateway.IsDuplicate(err))

	rows, err := g.QueryRecords(ctx, gateway.TableAttendance,
		query.New().Where(query.Eq("user_id", "u-1"), query.Eq("date", "2026-03-02")))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got, err := record.EventFromRow(rows[0])
	require.NoError(t, err)
	assert.Equal(t, e.Timestamp, got.Timestamp)
	assert.Equal(t, e.Zone, got.Zone)
	assert.Equal(t, record.StateConfirmed, got.State)
}

func TestGateway_FollowUpCompositeKey(t *testing.T) {
	g := createTestGateway(t)
	ctx := context.Background()

	f := record.FollowUp{SessionID: "evt-1", Slot: record.SlotMandatory, UserID: "u-1",
		Date: "2026-03-02", Timestamp: time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)}
	require.NoError(t, g.InsertRecord(ctx, gateway.TableFollowUps, record.FollowUpToRow(f)))
	assert.True(t, gateway.IsDuplicate(g.InsertRecord(ctx, gateway.TableFollowUps, record.FollowUpToRow(f))))

	rows, err := g.QueryRecords(ctx, gateway.TableFollowUps, query.New().Where(query.Eq("session_id", "evt-1")))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	back, err := record.FollowUpFromRow(rows[0])
	require.NoError(t, err)
	assert.Equal(t, record.SlotMandatory, back.Slot)
}

func TestGateway_ZonesAndBlobs(t *testing.T) {
	g := createTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.SeedZones(ctx, []geofence.Zone{
		{Code: "L7", Name: "Lote 7", Lat: 4.61, Lon: -74.08, RadiusM: 300},
	}))
	z, err := g.ResolveZone(ctx, 4.6101, -74.0801)
	require.NoError(t, err)
	require.NotNil(t, z)
	assert.Equal(t, "L7", z.Code)

	url, err := g.UploadBlob(ctx, "u-1/evt-1.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/blobs/u-1/evt-1.jpg", url)
}
