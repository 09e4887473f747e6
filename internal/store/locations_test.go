package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivacius/asistenciacampo/internal/record"
)

func TestPutLocation_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	l := createTestLocation("loc-1", at(9, 0))
	l.Zone = &record.Zone{Code: "L7", Name: "Lote 7"}
	l.ZoneStatus = record.ZoneInside
	require.NoError(t, s.PutLocation(ctx, l))
	require.NoError(t, s.PutLocation(ctx, createTestLocation("loc-0", at(8, 0))))

	locs, err := s.ListAllLocations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "loc-0", locs[0].ID)
	assert.Equal(t, "loc-1", locs[1].ID)
	assert.Equal(t, l.Coord, locs[1].Coord)
	assert.Equal(t, l.Zone, locs[1].Zone)
	assert.Equal(t, record.OriginPeriodic, locs[1].Origin)
	assert.Equal(t, record.StateQueued, locs[1].State)

	require.NoError(t, s.DeleteLocation(ctx, "loc-1"))
	require.NoError(t, s.DeleteLocation(ctx, "loc-1"))
	locs, err = s.ListAllLocations(ctx)
	require.NoError(t, err)
	assert.Len(t, locs, 1)
}

func TestPutLocation_RequiresID(t *testing.T) {
	err := createTestStore(t).PutLocation(context.Background(), createTestLocation("", at(9, 0)))
	require.Error(t, err)
}
