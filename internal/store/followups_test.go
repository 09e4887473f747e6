package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivacius/asistenciacampo/internal/record"
)

func TestPutFollowUp_LaterSubmissionSupersedes(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	first := createTestFollowUp("evt-1", record.SlotMandatory, at(11, 0))
	require.NoError(t, s.PutFollowUp(ctx, first))

	second := first
	second.Timestamp = at(11, 5)
	second.PhotoBlob = []byte("jpeg:retake")
	require.NoError(t, s.PutFollowUp(ctx, second))

	items, err := s.ListFollowUps(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, at(11, 5).Equal(items[0].Timestamp))
	assert.Equal(t, []byte("jpeg:retake"), items[0].PhotoBlob)
	assert.Equal(t, "evt-1#1", items[0].Key())
}

func TestListFollowUps_OrderedBySlot(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.PutFollowUp(ctx, createTestFollowUp("evt-1", record.SlotOptional, at(13, 0))))
	require.NoError(t, s.PutFollowUp(ctx, createTestFollowUp("evt-1", record.SlotMandatory, at(11, 0))))
	require.NoError(t, s.PutFollowUp(ctx, createTestFollowUp("evt-2", record.SlotMandatory, at(11, 30))))

	items, err := s.ListFollowUps(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, record.SlotMandatory, items[0].Slot)
	assert.Equal(t, record.SlotOptional, items[1].Slot)

	byDay, err := s.ListFollowUpsByUserDate(ctx, "u-1", "2026-03-02")
	require.NoError(t, err)
	assert.Len(t, byDay, 3)

	all, err := s.ListAllFollowUps(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPutFollowUp_RejectsInvalidSlot(t *testing.T) {
	f := createTestFollowUp("evt-1", record.Slot(3), at(11, 0))
	err := createTestStore(t).PutFollowUp(context.Background(), f)
	require.Error(t, err)
}

func TestDeleteFollowUp_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.PutFollowUp(ctx, createTestFollowUp("evt-1", record.SlotMandatory, at(11, 0))))
	require.NoError(t, s.DeleteFollowUp(ctx, "evt-1", record.SlotMandatory))
	require.NoError(t, s.DeleteFollowUp(ctx, "evt-1", record.SlotMandatory))

	items, err := s.ListFollowUps(ctx, "evt-1")
	require.NoError(t, err)
	assert.Empty(t, items)
}
