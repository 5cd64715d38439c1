package gp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var switchGpd = SrcID(0x11223344)

// commission enters sink commissioning mode without the proxies and
// delivers a unidirectional Commissioning GPDF.
func commission(t *testing.T, env *testEnv, id GpdID, p *CommissioningPayload) {
	t.Helper()
	c := env.core
	require.NoError(t, c.commissionModeSet(true, false))
	c.dataIndication(ptr(commissioningInd(id, p)))
}

func ptr[T any](v T) *T { return &v }

func TestCommissioningDerivedGroup(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	require.NoError(t, c.commissionModeSet(true, true))
	assert.True(t, c.pctx.inCommMode, "local proxy follows the sink")

	c.dataIndication(ptr(commissioningInd(switchGpd, &CommissioningPayload{DeviceID: DevOnOffSwitch})))

	require.Equal(t, 1, c.sink.Len())
	e, ok := c.sink.Find(switchGpd)
	require.True(t, ok)
	assert.True(t, e.Complete)
	assert.Equal(t, CommModeDerivedGroup, e.Options.CommMode)
	assert.Equal(t, uint32(1), e.FrameCounter)

	alias := AliasDerived(switchGpd)
	assert.Equal(t, uint16(0x3344), alias)
	assert.Equal(t, []uint16{alias}, env.stub.announced())
	assert.True(t, env.stub.inGroup(alias))

	pairings := env.stub.sent(CmdIDPairing, true)
	require.Len(t, pairings, 1)
	p, err := DecodePairing(pairings[0].Payload)
	require.NoError(t, err)
	assert.True(t, p.AddSink)
	assert.Equal(t, alias, p.SinkGroupID)
	assert.Equal(t, AddrBroadcast, pairings[0].Dst.Mode)

	pe, ok := c.proxy.Find(switchGpd)
	require.True(t, ok, "pairing reaches the local proxy")
	assert.True(t, pe.Options.DerivedGroup)

	assert.Equal(t, 3, c.trans.Len())
	assert.False(t, c.sctx.inCommMode, "exit on first pairing")
	assert.False(t, c.pctx.inCommMode)
	require.Len(t, env.hooks.commissioned, 1)
	assert.Equal(t, "sink:off", env.hooks.modes[len(env.hooks.modes)-1])
	assert.Contains(t, env.stub.permit, uint8(0))
}

func TestCommissioningRepeated(t *testing.T) {
	env := newTestCore(t, func(cfg *Config) { cfg.ExitMode = ExitOnWindowExpiration })
	c := env.core
	p := &CommissioningPayload{DeviceID: DevOnOffSwitch}
	commission(t, env, switchGpd, p)
	require.True(t, c.sctx.inCommMode)

	// Same frame relayed twice.
	c.dataIndication(ptr(commissioningInd(switchGpd, p)))
	assert.Len(t, env.stub.sent(CmdIDPairing, true), 1)

	// Retransmission with a new sequence number.
	ind := commissioningInd(switchGpd, p)
	ind.SeqNum = 2
	c.dataIndication(&ind)

	assert.Equal(t, 1, c.sink.Len())
	assert.Equal(t, 3, c.trans.Len())
	assert.Len(t, env.stub.announced(), 1, "alias is announced once")
	assert.Len(t, env.stub.sent(CmdIDPairing, true), 2)
}

func TestCommissioningIgnoredOutsideMode(t *testing.T) {
	env := newTestCore(t, nil)
	env.core.dataIndication(ptr(commissioningInd(switchGpd, &CommissioningPayload{DeviceID: DevOnOffSwitch})))
	assert.Equal(t, 0, env.core.sink.Len())
	assert.Empty(t, env.stub.frames)
}

func TestCommissioningSecurityPolicy(t *testing.T) {
	tests := []struct {
		name   string
		secLvl uint8
		p      *CommissioningPayload
	}{
		{
			name:   "below minimal level",
			secLvl: uint8(SecLevelEncMIC),
			p: &CommissioningPayload{
				DeviceID: DevOnOffSwitch,
				Ext:      CommissioningExtOptions{SecLevelCap: SecLevelMIC, KeyType: KeyTypeGpdGroup, KeyPresent: true},
			},
		},
		{
			name:   "plain key with link key protection",
			secLvl: SecProtectWithLinkKey,
			p: &CommissioningPayload{
				DeviceID: DevOnOffSwitch,
				Ext:      CommissioningExtOptions{SecLevelCap: SecLevelEncMIC, KeyType: KeyTypeOutOfBox, KeyPresent: true},
				Key:      individual,
			},
		},
		{
			name: "secured without any key",
			p: &CommissioningPayload{
				DeviceID: DevOnOffSwitch,
				Ext:      CommissioningExtOptions{SecLevelCap: SecLevelEncMIC},
			},
		},
		{
			name: "encrypted key without key collaborator",
			p: &CommissioningPayload{
				DeviceID: DevOnOffSwitch,
				Ext:      CommissioningExtOptions{SecLevelCap: SecLevelEncMIC, KeyType: KeyTypeOutOfBox, KeyPresent: true, KeyEncrypt: true},
				Key:      individual,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestCore(t, func(cfg *Config) { cfg.SecLevel = tt.secLvl })
			commission(t, env, switchGpd, tt.p)
			assert.Equal(t, 0, env.core.sink.Len())
			assert.Empty(t, env.stub.announced())
		})
	}
}

func TestCommissioningKeyRequest(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	require.NoError(t, c.commissionModeSet(true, false))

	ind := commissioningInd(switchGpd, &CommissioningPayload{
		DeviceID: DevOnOffSwitch,
		Options:  CommissioningOptions{GpSecKeyRequest: true, PanIDRequest: true},
		Ext:      CommissioningExtOptions{SecLevelCap: SecLevelEncMIC},
	})
	ind.RxAfterTx = true
	c.dataIndication(&ind)

	e, ok := c.sink.Find(switchGpd)
	require.True(t, ok)
	assert.False(t, e.Complete, "waits for Success")
	assert.Equal(t, KeyTypeGpdGroup, e.KeyType)

	require.Len(t, env.stub.dataReqs, 1)
	req := env.stub.dataReqs[0]
	assert.True(t, req.Action)
	assert.Equal(t, CmdCommissioningReply, req.GpdCommand)
	reply, err := DecodeCommissioningReply(req.Payload)
	require.NoError(t, err)
	assert.True(t, reply.PanIDPresent)
	assert.Equal(t, testPan, reply.PanID)
	assert.True(t, reply.KeyPresent)
	assert.False(t, reply.KeyEncrypt)
	assert.Equal(t, DefaultSharedKey, reply.Key)
	assert.Len(t, env.stub.sent(CmdIDResponse, true), 1)

	success := dataInd(switchGpd, CmdSuccess, 2)
	success.Status = IndSecuritySuccess
	success.SecLevel = SecLevelEncMIC
	success.FrameCounter = 5
	c.dataIndication(&success)

	e, ok = c.sink.Find(switchGpd)
	require.True(t, ok)
	assert.True(t, e.Complete)
	assert.Equal(t, uint32(5), e.FrameCounter)
	assert.Len(t, env.stub.announced(), 1)
}

func TestSuccessWrongLevelIgnored(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	require.NoError(t, c.commissionModeSet(true, false))
	ind := commissioningInd(switchGpd, &CommissioningPayload{
		DeviceID: DevOnOffSwitch,
		Options:  CommissioningOptions{GpSecKeyRequest: true},
		Ext:      CommissioningExtOptions{SecLevelCap: SecLevelEncMIC},
	})
	ind.RxAfterTx = true
	c.dataIndication(&ind)

	c.dataIndication(ptr(dataInd(switchGpd, CmdSuccess, 2)))
	e, ok := c.sink.Find(switchGpd)
	require.True(t, ok)
	assert.False(t, e.Complete)
}

func TestDecommissioning(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	commission(t, env, switchGpd, &CommissioningPayload{DeviceID: DevOnOffSwitch})
	require.Equal(t, 1, c.proxy.Len())
	alias := AliasDerived(switchGpd)
	require.True(t, env.stub.inGroup(alias))

	c.dataIndication(ptr(dataInd(switchGpd, CmdDecommissioning, 7)))

	assert.Equal(t, 0, c.sink.Len())
	assert.Equal(t, 0, c.trans.Len())
	assert.Equal(t, 0, c.proxy.Len(), "proxies are told to forget the gpd")
	assert.False(t, env.stub.inGroup(alias))
	assert.Equal(t, []GpdID{switchGpd}, env.hooks.removed)

	var removeGPD bool
	for _, f := range env.stub.sent(CmdIDPairing, true) {
		p, err := DecodePairing(f.Payload)
		require.NoError(t, err)
		removeGPD = removeGPD || p.RemoveGPD
	}
	assert.True(t, removeGPD)
}

func TestDecommissioningUnknownGpd(t *testing.T) {
	env := newTestCore(t, nil)
	env.core.dataIndication(ptr(dataInd(unknownGpd, CmdDecommissioning, 1)))
	assert.Empty(t, env.stub.frames)
	assert.Empty(t, env.hooks.removed)
	assert.Empty(t, env.core.dirty)
}

func TestWindowTimeoutPurgesCandidates(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	require.NoError(t, c.commissionModeSet(true, true))
	commissionPayload := &CommissioningPayload{DeviceID: DevOnOffSwitch, AppInfo: &AppInfo{AppDescFollows: true}}
	c.dataIndication(ptr(commissioningInd(switchGpd, commissionPayload)))
	require.Len(t, c.sink.Incomplete(), 1)
	require.Equal(t, 3, c.trans.Len())
	require.True(t, c.sctx.multi.owns(switchGpd))

	c.sinkWindowTimeout()

	assert.False(t, c.sctx.inCommMode)
	assert.False(t, c.sctx.multi.active)
	assert.Empty(t, c.sink.Incomplete())
	assert.Equal(t, 0, c.sink.Len())
	assert.Equal(t, 0, c.trans.Len(), "no orphan translations")
	assert.False(t, c.pctx.inCommMode, "proxies leave with the sink")
	assert.Equal(t, "sink:off", env.hooks.modes[len(env.hooks.modes)-1])
}

func TestCommissionModeOffKeepsCompleteEntries(t *testing.T) {
	env := newTestCore(t, func(cfg *Config) { cfg.ExitMode = ExitOnWindowExpiration })
	c := env.core
	commission(t, env, switchGpd, &CommissioningPayload{DeviceID: DevOnOffSwitch})
	c.dataIndication(ptr(commissioningInd(SrcID(0x99), &CommissioningPayload{DeviceID: DevTemperatureSensor, AppInfo: &AppInfo{AppDescFollows: true}})))
	require.Equal(t, 2, c.sink.Len())

	require.NoError(t, c.commissionModeSet(false, false))
	assert.Equal(t, 1, c.sink.Len())
	_, ok := c.sink.Find(switchGpd)
	assert.True(t, ok)
	assert.Equal(t, 3, c.trans.Len())
}

func TestCommissionModeInvolveTC(t *testing.T) {
	env := newTestCore(t, func(cfg *Config) { cfg.SecLevel = SecInvolveTC })
	require.Error(t, env.core.commissionModeSet(true, false))
	assert.False(t, env.core.sctx.inCommMode)
}

func TestMultiSensorCommissioning(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	id := SrcID(0x7E3A0001)
	commission(t, env, id, &CommissioningPayload{DeviceID: DevTemperatureSensor, AppInfo: &AppInfo{AppDescFollows: true}})
	e, ok := c.sink.Find(id)
	require.True(t, ok)
	require.False(t, e.Complete)
	assert.Equal(t, 2, c.trans.Len())

	c.dataIndication(ptr(dataInd(id, CmdApplicationDesc, 2, appDescription(1, 1, 0)...)))

	e, ok = c.sink.Find(id)
	require.True(t, ok)
	assert.True(t, e.Complete)
	assert.Equal(t, 3, c.trans.Len())
	assert.False(t, c.sctx.multi.active)

	c.dataIndication(ptr(dataInd(id, CmdCompactAttrReport, 3, 0x01, 0x34, 0x12)))
	cmds := env.hooks.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, Command{
		ID:         id,
		GpdCommand: CmdCompactAttrReport,
		Group:      0x0001,
		Endpoint:   0xFF,
		Profile:    ProfileHA,
		Cluster:    ClusterTemperature,
		CommandID:  0x0A,
		Global:     true,
		Payload:    []byte{0x00, 0x00, 0x29, 0x34, 0x12},
	}, cmds[0])

	// Attribute beyond the report is skipped.
	c.dataIndication(ptr(dataInd(id, CmdCompactAttrReport, 4, 0x01, 0x34)))
	assert.Len(t, env.hooks.commands(), 1)
}

func TestMultiSensorNoLocalCluster(t *testing.T) {
	env := newTestCore(t, func(cfg *Config) { cfg.ExitMode = ExitOnWindowExpiration })
	c := env.core
	delete(env.eps, ClusterTemperature)
	id := SrcID(0x7E3A0002)
	commission(t, env, id, &CommissioningPayload{DeviceID: DevTemperatureSensor, AppInfo: &AppInfo{AppDescFollows: true}})

	c.dataIndication(ptr(dataInd(id, CmdApplicationDesc, 2, appDescription(1, 1, 0)...)))

	assert.Equal(t, 0, c.sink.Len())
	assert.Equal(t, 0, c.trans.Len())
	assert.False(t, c.sctx.multi.active)
	assert.True(t, c.sctx.inCommMode)
}

func TestMultiSensorTimeout(t *testing.T) {
	env := newTestCore(t, func(cfg *Config) { cfg.ExitMode = ExitOnWindowExpiration })
	c := env.core
	id := SrcID(0x7E3A0003)
	commission(t, env, id, &CommissioningPayload{DeviceID: DevTemperatureSensor, AppInfo: &AppInfo{AppDescFollows: true}})
	c.dataIndication(ptr(dataInd(id, CmdApplicationDesc, 2, appDescription(2, 1, 0)...)))
	require.True(t, c.sctx.multi.active)
	require.Equal(t, uint8(1), c.sctx.multi.received)

	c.multiSensorTimeout()

	assert.Equal(t, 0, c.sink.Len())
	assert.Equal(t, 0, c.trans.Len())
	assert.False(t, c.sctx.multi.active)
}

func TestTranslateOnOff(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	commission(t, env, switchGpd, &CommissioningPayload{DeviceID: DevOnOffSwitch})

	c.dataIndication(ptr(dataInd(switchGpd, CmdToggle, 2)))
	c.dataIndication(ptr(dataInd(switchGpd, CmdToggle, 2)))
	c.dataIndication(ptr(dataInd(switchGpd, CmdMoveUp, 3)))

	cmds := env.hooks.commands()
	require.Len(t, cmds, 1, "duplicate dropped, untranslated command ignored")
	assert.Equal(t, Command{
		ID:         switchGpd,
		GpdCommand: CmdToggle,
		Group:      0x0001,
		Endpoint:   0x01,
		Profile:    ProfileHA,
		Cluster:    ClusterOnOff,
		CommandID:  zclToggle,
	}, cmds[0])
}

func TestTranslateGenericSwitch(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	id := SrcID(0x5A5A0001)
	commission(t, env, id, &CommissioningPayload{
		DeviceID: DevGeneric8Contact,
		AppInfo:  &AppInfo{Switch: &SwitchInfo{Config: 0x02}},
	})
	require.Equal(t, 1, c.trans.Len())

	c.dataIndication(ptr(dataInd(id, CmdVectorPress, 2, 0xFF)))
	c.dataIndication(ptr(dataInd(id, CmdVectorRelease, 3, 0x00)))

	cmds := env.hooks.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, uint16(0xFFFF), cmds[0].Cluster)
	assert.Equal(t, CmdVectorPress, cmds[0].CommandID)
	assert.Equal(t, []byte{0x03}, cmds[0].Payload, "status masked to the two contacts")
	assert.Equal(t, CmdVectorRelease, cmds[1].CommandID)
	assert.Equal(t, []byte{0x00}, cmds[1].Payload)
}

func securedSinkEntry(t *testing.T, c *Core, id GpdID, counter uint32) {
	t.Helper()
	require.NoError(t, c.sinkPairingConfiguration(&PairingConfiguration{
		Action:             PairingExtend,
		ID:                 id,
		Options:            SinkOptions{CommMode: CommModeDerivedGroup, SecUse: true},
		DeviceID:           DevOnOffSwitch,
		AssignedAlias:      0xFFFF,
		GroupcastRadius:    0xFF,
		SecLevel:           SecLevelEncMIC,
		KeyType:            KeyTypeGpdGroup,
		FrameCounter:       counter,
		Key:                DefaultSharedKey,
		NumPairedEndpoints: PairedEndpointsAll,
	}))
}

func TestSinkNotificationReplay(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	securedSinkEntry(t, c, securedGpd, 10)

	notify := func(counter uint32) {
		c.sinkNotification(&Notification{
			ID: securedGpd, SecLevel: SecLevelEncMIC, KeyType: KeyTypeGpdGroup,
			FrameCounter: counter, GpdCommand: CmdOn, GppShortAddr: 0x4444,
		})
	}
	notify(10)
	assert.Empty(t, env.hooks.commands(), "replay")
	notify(11)
	notify(11)
	require.Len(t, env.hooks.commands(), 1)

	e, _ := c.sink.Find(securedGpd)
	assert.Equal(t, uint32(11), e.FrameCounter)
	assert.True(t, c.dirty[itemSink])
}

func TestSinkDataSecurityMismatch(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	securedSinkEntry(t, c, securedGpd, 10)

	ind := dataInd(securedGpd, CmdOn, 1)
	c.dataIndication(&ind)
	assert.Empty(t, env.hooks.commands(), "unsecured frame for secured entry")

	ind = dataInd(securedGpd, CmdOn, 2)
	ind.Status = IndSecuritySuccess
	ind.SecLevel = SecLevelEncMIC
	ind.KeyType = 1
	ind.FrameCounter = 20
	c.dataIndication(&ind)
	assert.Empty(t, env.hooks.commands(), "individual key for shared key entry")

	ind.KeyType = 0
	ind.FrameCounter = 21
	c.dataIndication(&ind)
	assert.Len(t, env.hooks.commands(), 1)
}

func TestSinkChannelRequest(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	require.NoError(t, c.commissionModeSet(true, false))

	ind := DataIndication{
		Status:     IndNoSecurity,
		FrameType:  FrameTypeMaintenance,
		GpdCommand: CmdChannelRequest,
		Payload:    []byte{0x55},
		RSSI:       -40,
		LQI:        255,
	}
	c.dataIndication(&ind)

	require.Len(t, env.stub.dataReqs, 1)
	req := env.stub.dataReqs[0]
	assert.Equal(t, CmdChannelConfiguration, req.GpdCommand)
	assert.Equal(t, channelConfiguration(15, true), req.Payload)

	rsps := env.stub.sent(CmdIDResponse, true)
	require.Len(t, rsps, 1)
	rsp, err := DecodeResponse(rsps[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, testNwk, rsp.TempMaster)
	assert.Equal(t, uint8(5), rsp.TempMasterChannel)

	drain(c, 200*time.Millisecond)
	env.stub.mu.Lock()
	defer env.stub.mu.Unlock()
	assert.Equal(t, []uint8{16}, env.stub.channels)
}

func TestSinkChannelRequestStopped(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	require.NoError(t, c.commissionModeSet(true, false))
	c.dataIndication(&DataIndication{Status: IndNoSecurity, FrameType: FrameTypeMaintenance, GpdCommand: CmdChannelRequest, Payload: []byte{0x55}})
	require.True(t, c.sctx.channel.running(), "channel switch is pending")

	c.stopTimers()
	drain(c, 200*time.Millisecond)
	env.stub.mu.Lock()
	defer env.stub.mu.Unlock()
	assert.Empty(t, env.stub.channels)
}

func TestSinkChannelRequestDenied(t *testing.T) {
	env := newTestCore(t, nil)
	env.hooks.denyChannel = true
	c := env.core
	require.NoError(t, c.commissionModeSet(true, false))
	c.dataIndication(&DataIndication{Status: IndNoSecurity, FrameType: FrameTypeMaintenance, GpdCommand: CmdChannelRequest, Payload: []byte{0x55}})
	assert.Empty(t, env.stub.dataReqs)
}

func TestTunneledCommissioning(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	require.NoError(t, c.commissionModeSet(true, false))

	n := &CommissioningNotification{
		ID:               switchGpd,
		ProxyInfoPresent: true,
		FrameCounter:     1,
		GpdCommand:       CmdCommissioning,
		Payload:          (&CommissioningPayload{DeviceID: DevOnOffSwitch}).Encode(),
		GppShortAddr:     0x5555,
		GppGpdLink:       0xC0,
		MIC:              0xFFFFFFFF,
	}
	require.NoError(t, c.sinkCommand(&IncomingCommand{SrcAddr: 0x5555, CommandID: CmdIDCommNotification, Payload: n.Encode()}))
	e, ok := c.sink.Find(switchGpd)
	require.True(t, ok)
	assert.True(t, e.Complete)

	// The same GPDF received directly is a duplicate.
	c.cfg.ExitMode = 0
	c.sctx.inCommMode = true
	c.dataIndication(ptr(commissioningInd(switchGpd, &CommissioningPayload{DeviceID: DevOnOffSwitch})))
	assert.Len(t, env.stub.sent(CmdIDPairing, true), 1)
}

func TestTunneledFailedFrameWithoutKeys(t *testing.T) {
	env := newTestCore(t, nil)
	c := env.core
	require.NoError(t, c.commissionModeSet(true, false))
	n := &CommissioningNotification{
		ID: switchGpd, SecLevel: SecLevelEncMIC, KeyType: KeyTypeGpdGroup, SecProcessingFailed: true,
		FrameCounter: 3, GpdCommand: CmdCommissioning, MIC: 0x01020304,
	}
	c.sinkCommNotification(n, 0x5555)
	assert.Equal(t, 0, c.sink.Len())
}

func TestSinkCommissioningModeCommand(t *testing.T) {
	tests := []struct {
		name string
		m    SinkCommissioningMode
		want error
	}{
		{"other endpoint", SinkCommissioningMode{Enter: true, GPMAddrSecurity: 0xFFFF, GPMAddrPairing: 0xFFFF, SinkEndpoint: 9}, ErrNotFound},
		{"commissioning manager", SinkCommissioningMode{Enter: true, InvolveGPMSec: true, GPMAddrSecurity: 0xFFFF, GPMAddrPairing: 0xFFFF, SinkEndpoint: 0xFF}, ErrInvalidField},
		{"enter", SinkCommissioningMode{Enter: true, InvolveProxies: true, GPMAddrSecurity: 0xFFFF, GPMAddrPairing: 0xFFFF, SinkEndpoint: 0x01}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestCore(t, nil)
			err := env.core.command(&IncomingCommand{CommandID: CmdIDSinkCommissioningMode, Payload: tt.m.Encode()})
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
				assert.False(t, env.core.sctx.inCommMode)
				return
			}
			require.NoError(t, err)
			assert.True(t, env.core.sctx.inCommMode)
			assert.Len(t, env.stub.sent(CmdIDProxyCommissioningMode, true), 1)
		})
	}
}

func TestCommissioningOutOfBoxKeyReplaced(t *testing.T) {
	tests := []struct {
		name       string
		sharedType KeyType
		keyRequest bool
		wantType   KeyType
		wantKey    Key
		wantReply  bool
	}{
		{"group key replaces oob key", KeyTypeGpdGroup, true, KeyTypeGpdGroup, DefaultSharedKey, true},
		{"no key request keeps oob key", KeyTypeGpdGroup, false, KeyTypeOutOfBox, individual, false},
		{"oob shared key type keeps oob key", KeyTypeOutOfBox, true, KeyTypeOutOfBox, individual, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestCore(t, func(cfg *Config) { cfg.SharedKeyType = tt.sharedType })
			c := env.core
			require.NoError(t, c.commissionModeSet(true, false))

			ind := commissioningInd(switchGpd, &CommissioningPayload{
				DeviceID: DevOnOffSwitch,
				Options:  CommissioningOptions{GpSecKeyRequest: tt.keyRequest},
				Ext:      CommissioningExtOptions{SecLevelCap: SecLevelEncMIC, KeyType: KeyTypeOutOfBox, KeyPresent: true},
				Key:      individual,
			})
			ind.RxAfterTx = true
			c.dataIndication(&ind)

			e, ok := c.sink.Find(switchGpd)
			require.True(t, ok)
			assert.True(t, e.Options.SecUse)
			assert.Equal(t, tt.wantType, e.KeyType)
			assert.Equal(t, tt.wantKey, e.Key)
			assert.Equal(t, tt.wantReply, e.ReplyIncludeKey)
			assert.False(t, e.ReplyEncrypt, "gpd did not ask for an encrypted key")

			require.Len(t, env.stub.dataReqs, 1)
			reply, err := DecodeCommissioningReply(env.stub.dataReqs[0].Payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantReply, reply.KeyPresent)
			if tt.wantReply {
				assert.Equal(t, DefaultSharedKey, reply.Key)
				assert.Equal(t, KeyTypeGpdGroup, reply.KeyType)
			}
		})
	}
}
