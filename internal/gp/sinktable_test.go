package gp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkTableFindEndpoint(t *testing.T) {
	tbl := NewSinkTable(3)
	e, err := tbl.Allocate()
	require.NoError(t, err)
	e.ID = IEEE(0x00124B0000000042)
	e.Endpoint = 2

	tests := []struct {
		ep   uint8
		want bool
	}{
		{2, true},
		{3, false},
		{0x00, true},
		{0xFF, true},
	}
	for _, tt := range tests {
		_, ok := tbl.FindEndpoint(IEEE(0x00124B0000000042), tt.ep)
		assert.Equalf(t, tt.want, ok, "FindEndpoint(ep=%d)", tt.ep)
	}

	_, ok := tbl.FindMode(IEEE(0x00124B0000000042), 2, CommModePrecommGroup)
	assert.False(t, ok)
	_, ok = tbl.FindMode(IEEE(0x00124B0000000042), 2, CommModeFullUnicast)
	assert.True(t, ok)
}

func TestSinkTableAllocate(t *testing.T) {
	tbl := NewSinkTable(2)
	for i := 0; i < 2; i++ {
		e, err := tbl.Allocate()
		require.NoError(t, err)
		assert.False(t, e.Complete)
		assert.Equal(t, uint32(0xFFFFFFFF), e.FrameCounter)
		e.ID = SrcID(uint32(i + 1))
	}
	_, err := tbl.Allocate()
	require.ErrorIs(t, err, ErrCapacityExceeded)

	removed := tbl.RemoveMatching(SrcID(1), 0)
	require.Len(t, removed, 1)
	assert.Equal(t, 1, tbl.Len())
	_, err = tbl.Allocate()
	require.NoError(t, err, "freed slot is reused")
}

func TestSinkTableIncomplete(t *testing.T) {
	tbl := NewSinkTable(3)
	for i, complete := range []bool{true, false, false} {
		e, err := tbl.Allocate()
		require.NoError(t, err)
		e.ID = SrcID(uint32(0x10 + i))
		e.Complete = complete
	}
	inc := tbl.Incomplete()
	require.Len(t, inc, 2)
	assert.Equal(t, SrcID(0x11), inc[0].ID)
	assert.Equal(t, SrcID(0x12), inc[1].ID)
}

func TestSinkEntryAddGroup(t *testing.T) {
	e := newSinkEntry()
	assert.True(t, e.addGroup(0x10, 0xFFFF))
	assert.False(t, e.addGroup(0x10, 0xFFFF), "duplicate")
	assert.True(t, e.addGroup(0x11, 0x1234))
	assert.False(t, e.addGroup(0x12, 0xFFFF), "list full")
	assert.Len(t, e.Groups, MaxSinkGroups)
}

func TestSinkEntryWire(t *testing.T) {
	tests := []struct {
		name string
		e    SinkEntry
	}{
		{
			name: "precommissioned groups",
			e: SinkEntry{
				ID:              SrcID(0x0A0B0C0D),
				Options:         SinkOptions{CommMode: CommModePrecommGroup, SeqNumCap: true, AssignedAlias: true},
				DeviceID:        DevOnOffSwitch,
				FrameCounter:    12,
				GroupcastRadius: 0xFF,
				AssignedAlias:   0x5555,
				Groups:          []SinkGroup{{GroupID: 1, Alias: 0xFFFF}, {GroupID: 2, Alias: 0x0102}},
				Complete:        true,
			},
		},
		{
			name: "secured ieee",
			e: SinkEntry{
				ID:              IEEE(0x00124B00000000AA),
				Endpoint:        1,
				Options:         SinkOptions{CommMode: CommModeLightweightUni, SecUse: true, RxOnCap: true},
				DeviceID:        DevTemperatureSensor,
				SecLevel:        SecLevelEncMIC,
				KeyType:         KeyTypeOutOfBox,
				FrameCounter:    0x00010000,
				Key:             Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
				GroupcastRadius: 2,
				AssignedAlias:   0xFFFF,
				Complete:        true,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.e.AppendWire(nil)
			got, n, err := DecodeSinkEntry(buf)
			require.NoError(t, err)
			assert.Equal(t, len(buf), n)
			assert.Equal(t, tt.e, got)
		})
	}
}

func TestSinkTableAttrImage(t *testing.T) {
	tbl := NewSinkTable(5)
	assert.Equal(t, []byte{0, 0}, tbl.AttrImage())

	e, err := tbl.Allocate()
	require.NoError(t, err)
	e.ID = SrcID(0x01)
	e.Options.CommMode = CommModeDerivedGroup
	img := tbl.AttrImage()
	assert.Equal(t, append([]byte{uint8(e.SerializedLen()), 0}, e.AppendWire(nil)...), img)
}

func TestPageRecords(t *testing.T) {
	recs := [][]byte{make([]byte, 30), make([]byte, 30), make([]byte, 30)}
	n, body := pageRecords(recs, 0, 75)
	assert.Equal(t, 2, n)
	assert.Len(t, body, 60)

	n, body = pageRecords(recs, 2, 75)
	assert.Equal(t, 1, n)
	assert.Len(t, body, 30)

	n, _ = pageRecords(recs, 0, 30)
	assert.Equal(t, 0, n, "a record must stay below the limit")
}
