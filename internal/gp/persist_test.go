package gp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyTableBinary(t *testing.T) {
	src := NewProxyTable(4)
	require.NoError(t, src.ApplyPairing(derivedPairing(SrcID(0x11))))
	p := &Pairing{
		ID: IEEE(0x00124B0000000099), Endpoint: 4, AddSink: true, CommMode: CommModeLightweightUni,
		SinkIEEE: testIEEE, SinkNwk: testNwk, AssignedAliasPresent: true, AssignedAlias: 0x7777,
	}
	require.NoError(t, src.ApplyPairing(p))

	blob, err := src.MarshalBinary()
	require.NoError(t, err)

	dst := NewProxyTable(4)
	require.NoError(t, dst.UnmarshalBinary(blob))
	assert.Equal(t, src.Entries(), dst.Entries())
}

func TestSinkTableBinary(t *testing.T) {
	src := NewSinkTable(4)
	e, err := src.Allocate()
	require.NoError(t, err)
	e.ID = SrcID(0x22)
	e.Options.CommMode = CommModeDerivedGroup
	e.DeviceID = DevOnOffSwitch
	e.FrameCounter = 5
	e.Complete = true

	e, err = src.Allocate()
	require.NoError(t, err)
	e.ID = SrcID(0x23)
	e.Options = SinkOptions{CommMode: CommModeDerivedGroup, SecUse: true}
	e.SecLevel = SecLevelEncMIC
	e.KeyType = KeyTypeGpdGroup
	e.Key = DefaultSharedKey
	e.ReplyIncludeKey = true
	e.ReplyEncrypt = true

	blob, err := src.MarshalBinary()
	require.NoError(t, err)
	dst := NewSinkTable(4)
	require.NoError(t, dst.UnmarshalBinary(blob))
	assert.Equal(t, src.Entries(), dst.Entries())
	assert.Len(t, dst.Incomplete(), 1, "candidate state survives a restart")
}

func TestTransTableBinary(t *testing.T) {
	src := NewTransTable(6, nil)
	id := SrcID(0x33)
	_, err := src.UpdateFromDeviceClass(id, 0, DevLevelSwitch, []uint8{CmdMoveUp, CmdStepUp}, nil, 1)
	require.NoError(t, err)
	_, err = src.UpdateGenericSwitch(id, 0, SwitchInfo{Config: 0x02, ContactStatus: 0x01})
	require.NoError(t, err)
	rec := AttrRecord{AttrID: 0x0000, DataType: 0x29, Reported: true, AttrOffset: 0}
	_, err = src.UpdateFromReportDescriptor(id, 0, 1, false, ClusterTemperature, 0, rec, func(uint16) bool { return true })
	require.NoError(t, err)
	require.Equal(t, 4, src.Len())

	blob, err := src.MarshalBinary()
	require.NoError(t, err)
	dst := NewTransTable(6, nil)
	require.NoError(t, dst.UnmarshalBinary(blob))
	assert.Equal(t, src.Entries(), dst.Entries())
}

func TestUnmarshalRejects(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
		want error
	}{
		{"wrong version", []byte{9, 0}, ErrInvalidField},
		{"truncated", []byte{tableBlobVersion, 1, 10, 0x00}, ErrMalformed},
		{"over capacity", []byte{tableBlobVersion, 9}, ErrCapacityExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := NewSinkTable(2)
			require.ErrorIs(t, tbl.UnmarshalBinary(tt.blob), tt.want)
			assert.Equal(t, 0, tbl.Len())
		})
	}
}

func TestCoreLoadsAndDiscards(t *testing.T) {
	store := newMemStore()
	src := NewSinkTable(DefaultMaxSinkEntries)
	e, err := src.Allocate()
	require.NoError(t, err)
	e.ID = SrcID(0x44)
	e.Options.CommMode = CommModeDerivedGroup
	e.Complete = true
	blob, err := src.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, store.SaveTable(storeModule, itemSink, blob))
	require.NoError(t, store.SaveTable(storeModule, itemProxy, []byte{0xEE}))

	c, err := New(DefaultConfig(), Deps{
		Stub:      newFakeStub(),
		Store:     store,
		Endpoints: fakeEndpoints{},
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.sink.Len())
	assert.Equal(t, 0, c.proxy.Len(), "unreadable blob starts empty")
}

func TestTransTableBinaryEntryLimit(t *testing.T) {
	fill := func(n int) *TransTable {
		tbl := NewTransTable(n+1, nil)
		for tbl.Len() < n {
			require.NoError(t, tbl.Upsert(SrcID(uint32(tbl.Len())), 0, TransAdd, onOffTranslation(CmdOff, zclOff)))
		}
		return tbl
	}

	full := fill(MaxTableEntries)
	blob, err := full.MarshalBinary()
	require.NoError(t, err)
	dst := NewTransTable(MaxTableEntries, nil)
	require.NoError(t, dst.UnmarshalBinary(blob))
	assert.Equal(t, MaxTableEntries, dst.Len())

	_, err = fill(MaxTableEntries + 1).MarshalBinary()
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestNewRejectsTableSize(t *testing.T) {
	for _, mutate := range []func(*Config){
		func(c *Config) { c.MaxProxyEntries = MaxTableEntries + 1 },
		func(c *Config) { c.MaxSinkEntries = 0 },
		func(c *Config) { c.MaxTransEntries = 300 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		_, err := New(cfg, Deps{Stub: newFakeStub(), Store: newMemStore(), Endpoints: fakeEndpoints{}, Logger: discardLogger()})
		require.ErrorIs(t, err, ErrInvalidField)
	}

	cfg := DefaultConfig()
	cfg.MaxSinkEntries = MaxTableEntries
	c, err := New(cfg, Deps{Stub: newFakeStub(), Store: newMemStore(), Endpoints: fakeEndpoints{}, Logger: discardLogger()})
	require.NoError(t, err)
	attr, err := c.attribute(AttrMaxSinkTableEntries)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF}, attr)
}
