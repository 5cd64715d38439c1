package gp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zigbee-go-gp/internal/zcl"
)

func TestPairingEncode(t *testing.T) {
	id := SrcID(0x11223344)
	p := &Pairing{ID: id, AddSink: true, CommMode: CommModeDerivedGroup, SinkGroupID: AliasDerived(id), DeviceID: DevOnOffSwitch}
	want := []byte{0x28, 0x00, 0x00, 0x44, 0x33, 0x22, 0x11, 0x44, 0x33, 0x02}
	assert.Equal(t, want, p.Encode())

	got, err := DecodePairing(want)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), got.FrameCounter, "absent counter decodes as unknown")
	assert.Equal(t, uint8(0xFF), got.GroupcastRadius)
	assert.Equal(t, uint16(0x3344), got.SinkGroupID)
	assert.True(t, got.ID.Equal(id))
}

func TestPairingLightweightAndRemove(t *testing.T) {
	p := &Pairing{
		ID: IEEE(0x00124B0000000005), Endpoint: 7, AddSink: true, CommMode: CommModeLightweightUni,
		SecLevel: SecLevelEncMIC, KeyType: KeyTypeOutOfBox, FrameCounterPresent: true, KeyPresent: true,
		AssignedAliasPresent: true, GroupcastRadiusPresent: true,
		SinkIEEE: testIEEE, SinkNwk: testNwk, FrameCounter: 77, Key: individual, AssignedAlias: 0x0BAD, GroupcastRadius: 3,
	}
	got, err := DecodePairing(p.Encode())
	require.NoError(t, err)
	assert.Equal(t, p, got)

	rm := &Pairing{ID: SrcID(0x42), RemoveGPD: true, CommMode: CommModeDerivedGroup}
	buf := rm.Encode()
	assert.Len(t, buf, 3+4, "remove carries no sink address")
	got, err = DecodePairing(buf)
	require.NoError(t, err)
	assert.True(t, got.RemoveGPD)
}

func TestNotificationDecode(t *testing.T) {
	n := &Notification{
		ID: SrcID(0x01020304), AlsoDerivedGroup: true, SecLevel: SecLevelEncMIC, KeyType: KeyTypeGpdGroup,
		RxAfterTx: true, BidirectionalCap: true, ProxyInfoPresent: true,
		FrameCounter: 0x0A0B0C0D, GpdCommand: CmdToggle, GppShortAddr: 0x9999, GppGpdLink: 0xC5,
	}
	got, err := DecodeNotification(n.Encode())
	require.NoError(t, err)
	assert.Equal(t, n, got)

	_, err = DecodeNotification(n.Encode()[:9])
	require.ErrorIs(t, err, ErrMalformed)
}

func TestCommissioningNotificationMIC(t *testing.T) {
	n := &CommissioningNotification{
		ID: SrcID(0x01), SecLevel: SecLevelEncMIC, KeyType: KeyTypeOutOfBox, SecProcessingFailed: true,
		FrameCounter: 9, GpdCommand: 0x22, Payload: []byte{0xFE}, MIC: 0xDEADBEEF,
	}
	buf := n.Encode()
	assert.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, buf[len(buf)-4:])
	got, err := DecodeCommissioningNotification(buf)
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestProxyCommissioningModeEncode(t *testing.T) {
	m := &ProxyCommissioningMode{Enter: true, WindowPresent: true, ExitMode: ProxyExitOnWindowExpiration | ProxyExitOnFirstPairing, Window: 180}
	assert.Equal(t, []byte{0x0F, 0xB4, 0x00}, m.Encode())

	got, err := DecodeProxyCommissioningMode([]byte{0x00})
	require.NoError(t, err)
	assert.False(t, got.Enter)
	assert.False(t, got.WindowPresent)
}

func TestResponseDecode(t *testing.T) {
	m := &Response{
		ID: IEEE(0x00124B0000000001), Endpoint: 1, TempMaster: 0x1234, TempMasterChannel: 4,
		GpdCommand: CmdChannelConfiguration, Payload: []byte{0x14},
	}
	got, err := DecodeResponse(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestPairingConfigurationDecode(t *testing.T) {
	cfg := &PairingConfiguration{
		Action:             PairingExtend,
		SendPairing:        true,
		ID:                 SrcID(0x0BADCAFE),
		Options:            SinkOptions{CommMode: CommModePrecommGroup, SecUse: true, AssignedAlias: true},
		DeviceID:           DevGeneric8Contact,
		Groups:             []SinkGroup{{GroupID: 0x0010, Alias: 0xFFFF}},
		AssignedAlias:      0x2222,
		GroupcastRadius:    0x05,
		SecLevel:           SecLevelEncMIC,
		KeyType:            KeyTypeGpdGroup,
		FrameCounter:       1,
		Key:                DefaultSharedKey,
		NumPairedEndpoints: 2,
		PairedEndpoints:    []uint8{1, 2},
		AppInfo: &AppInfo{
			ManuIDPresent:   true,
			ManuID:          0x10F2,
			CommandsPresent: true,
			Commands:        []uint8{CmdVectorPress, CmdVectorRelease},
			ClustersPresent: true,
			ServerClusters:  []uint16{ClusterOnOff},
			Switch:          &SwitchInfo{Config: 0x04, ContactStatus: 0x01},
		},
	}
	got, err := DecodePairingConfiguration(cfg.Encode())
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestPairingConfigurationAppDesc(t *testing.T) {
	cfg := &PairingConfiguration{
		Action:             PairingAppDesc,
		ID:                 SrcID(0x77),
		Options:            SinkOptions{CommMode: CommModeDerivedGroup},
		GroupcastRadius:    0xFF,
		NumPairedEndpoints: PairedEndpointsAll,
		ReportDescriptor:   []byte{0x01, 0x01, 0x00},
	}
	got, err := DecodePairingConfiguration(cfg.Encode())
	require.NoError(t, err)
	assert.Equal(t, cfg.ReportDescriptor, got.ReportDescriptor)
	assert.Equal(t, uint16(0xFFFF), got.AssignedAlias)
	assert.Equal(t, uint32(0xFFFFFFFF), got.FrameCounter)
}

func TestTableRequestDecode(t *testing.T) {
	q, err := DecodeTableRequest([]byte{0x08, 0x03})
	require.NoError(t, err)
	assert.Equal(t, TableReqByIndex, q.ReqType)
	assert.Equal(t, uint8(3), q.Index)

	q, err = DecodeTableRequest((&TableRequest{App: AppIDGPD, ID: IEEE(5), Endpoint: 2}).Encode())
	require.NoError(t, err)
	assert.Equal(t, IEEE(5), q.ID)
	assert.Equal(t, uint8(2), q.Endpoint)

	_, err = DecodeTableRequest([]byte{0x10})
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestTranslationTableUpdateDecode(t *testing.T) {
	u := &TranslationTableUpdate{
		ID:      SrcID(0x1234),
		Action:  TransReplace,
		AddInfo: true,
		Translations: []Translation{
			{Index: 0, GpdCommand: CmdOn, Endpoint: 1, Profile: ProfileHA, Cluster: ClusterOnOff, ZbCommand: zclOn, PayloadLen: 2, Payload: []byte{1, 2}},
			{Index: 1, GpdCommand: CmdVectorPress, Endpoint: 1, Profile: ProfileHA, Cluster: 0xFFFF, ZbCommand: 0xFF, PayloadLen: PayloadFromGPD, AddInfo: []byte{0x11, 0x01, 0x0F}},
		},
	}
	got, err := DecodeTranslationTableUpdate(u.Encode())
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = DecodeTranslationTableUpdate(nil)
	require.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeTranslationTableUpdate([]byte{0x00, 0x00, 1, 2, 3, 4})
	require.ErrorIs(t, err, ErrMalformed, "no translations")
}

func TestCommissioningPayloadDecode(t *testing.T) {
	p := &CommissioningPayload{
		DeviceID: DevTemperatureSensor,
		Options:  CommissioningOptions{MacSeqNumCap: true, RxOnCap: true, PanIDRequest: true, GpSecKeyRequest: true},
		Ext: CommissioningExtOptions{
			SecLevelCap: SecLevelEncMIC, KeyType: KeyTypeOutOfBox, KeyPresent: true, KeyEncrypt: true, OutCounterPresent: true,
		},
		Key:        individual,
		KeyMIC:     0x01020304,
		OutCounter: 500,
		AppInfo:    &AppInfo{AppDescFollows: true},
	}
	got, err := DecodeCommissioningPayload(p.Encode())
	require.NoError(t, err)
	assert.Equal(t, p.Ext, got.Ext)
	assert.Equal(t, p.Key, got.Key)
	assert.Equal(t, p.KeyMIC, got.KeyMIC)
	assert.Equal(t, p.OutCounter, got.OutCounter)
	assert.True(t, got.Options.ExtOptPresent)
	assert.True(t, got.Options.AppInfoPresent)
	assert.True(t, got.AppInfo.AppDescFollows)

	minimal, err := DecodeCommissioningPayload([]byte{DevOnOffSwitch, 0x00})
	require.NoError(t, err)
	assert.Equal(t, DevOnOffSwitch, minimal.DeviceID)
	assert.Nil(t, minimal.AppInfo)

	_, err = DecodeCommissioningPayload([]byte{DevOnOffSwitch})
	require.ErrorIs(t, err, ErrMalformed)
}

// appDescription builds an Application Description with one report of one
// temperature data point.
func appDescription(total, reportID, offset uint8) []byte {
	return []byte{
		total, 1, // total, number of reports
		reportID, 0x00, // report id, options
		8,          // remaining length
		0x00,       // data point options: one record, server side
		0x02, 0x04, // cluster 0x0402
		0x00, 0x00, // attribute 0x0000
		0x29,   // int16
		0x10,   // reported, remaining length 1
		offset, // attribute offset
	}
}

func TestDecodeAppDescription(t *testing.T) {
	d, err := DecodeAppDescription(appDescription(2, 5, 1))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), d.TotalReports)
	require.Len(t, d.Reports, 1)
	rep := d.Reports[0]
	assert.Equal(t, uint8(5), rep.ReportID)
	require.Len(t, rep.DataPoints, 1)
	assert.Equal(t, ClusterTemperature, rep.DataPoints[0].Cluster)
	assert.Equal(t, []AttrRecord{{AttrID: 0, DataType: 0x29, Reported: true, AttrOffset: 1}}, rep.DataPoints[0].Records)

	_, err = DecodeAppDescription([]byte{0, 1})
	require.ErrorIs(t, err, ErrMalformed)

	bad := appDescription(1, 1, 0)
	bad[4] = 6
	_, err = DecodeAppDescription(bad)
	require.ErrorIs(t, err, ErrMalformed, "report overruns its length")
}

func TestCommissioningReplyEncode(t *testing.T) {
	r := &CommissioningReply{PanIDPresent: true, PanID: 0xBEEF, SecLevel: SecLevelEncMIC, KeyType: KeyTypeGpdGroup}
	assert.Equal(t, []byte{0x59, 0xEF, 0xBE}, r.Encode())

	r = &CommissioningReply{
		KeyPresent: true, KeyEncrypt: true, SecLevel: SecLevelEncMIC, KeyType: KeyTypeGpdGroup,
		Key: individual, KeyMIC: 7, FrameCounter: 8,
	}
	got, err := DecodeCommissioningReply(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestChannelPayloads(t *testing.T) {
	next, ok := channelRequestNext([]byte{0x34})
	assert.True(t, ok)
	assert.Equal(t, uint8(4), next)
	_, ok = channelRequestNext(nil)
	assert.False(t, ok)

	assert.Equal(t, []byte{0x14}, channelConfiguration(15, true))
	assert.Equal(t, []byte{0x0F}, channelConfiguration(26, false))
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want uint8
	}{
		{nil, zcl.ZCLStatusSuccess},
		{fmt.Errorf("x: %w", ErrNotFound), zcl.ZCLStatusNotFound},
		{ErrCapacityExceeded, zcl.ZCLStatusInsufficientSpace},
		{ErrInsufficientSpace, zcl.ZCLStatusInsufficientSpace},
		{ErrInvalidField, zcl.ZCLStatusInvalidField},
		{fmt.Errorf("decode: %w", ErrMalformed), zcl.ZCLStatusMalformedCommand},
		{ErrUnsupportedCommand, zcl.ZCLStatusUnsupClusterCmd},
		{errors.New("boom"), zcl.ZCLStatusFailure},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, StatusOf(tt.err), "StatusOf(%v)", tt.err)
	}
}
