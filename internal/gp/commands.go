package gp

import (
	"fmt"
)

// GP cluster commands received by the server side (sink).
const (
	CmdIDNotification           uint8 = 0x00
	CmdIDPairingSearch          uint8 = 0x01
	CmdIDTunnelingStop          uint8 = 0x03
	CmdIDCommNotification       uint8 = 0x04
	CmdIDSinkCommissioningMode  uint8 = 0x05
	CmdIDTranslationTableUpdate uint8 = 0x07
	CmdIDTranslationTableReq    uint8 = 0x08
	CmdIDPairingConfiguration   uint8 = 0x09
	CmdIDSinkTableReq           uint8 = 0x0A
	CmdIDProxyTableRsp          uint8 = 0x0B
)

// GP cluster commands received by the client side (proxy).
const (
	CmdIDNotificationRsp        uint8 = 0x00
	CmdIDPairing                uint8 = 0x01
	CmdIDProxyCommissioningMode uint8 = 0x02
	CmdIDResponse               uint8 = 0x06
	CmdIDTranslationTableRsp    uint8 = 0x08
	CmdIDSinkTableRsp           uint8 = 0x0A
	CmdIDProxyTableReq          uint8 = 0x0B
)

// Notification is the GP Notification command a proxy tunnels to sinks
// for an operational GPDF.
type Notification struct {
	ID               GpdID
	Endpoint         uint8
	AlsoUnicast      bool
	AlsoDerivedGroup bool
	AlsoCommGroup    bool
	SecLevel         SecLevel
	KeyType          KeyType
	RxAfterTx        bool
	TxQueueFull      bool
	BidirectionalCap bool
	ProxyInfoPresent bool
	FrameCounter     uint32
	GpdCommand       uint8
	Payload          []byte
	GppShortAddr     uint16
	GppGpdLink       uint8
}

// Encode returns the command payload.
func (n *Notification) Encode() []byte {
	v := uint32(n.ID.App) & 0x7
	v |= boolBit(n.AlsoUnicast, 3)
	v |= boolBit(n.AlsoDerivedGroup, 4)
	v |= boolBit(n.AlsoCommGroup, 5)
	v |= (uint32(n.SecLevel) & 0x3) << 6
	v |= (uint32(n.KeyType) & 0x7) << 8
	v |= boolBit(n.RxAfterTx, 11)
	v |= boolBit(n.TxQueueFull, 12)
	v |= boolBit(n.BidirectionalCap, 13)
	v |= boolBit(n.ProxyInfoPresent, 14)

	b := putU16(nil, uint16(v))
	b = n.ID.appendTo(b, n.Endpoint)
	b = putU32(b, n.FrameCounter)
	b = append(b, n.GpdCommand, uint8(len(n.Payload)))
	b = append(b, n.Payload...)
	if n.ProxyInfoPresent {
		b = putU16(b, n.GppShortAddr)
		b = append(b, n.GppGpdLink)
	}
	return b
}

// DecodeNotification parses a GP Notification payload.
func DecodeNotification(buf []byte) (*Notification, error) {
	r := newReader(buf)
	v := uint32(r.u16())
	n := &Notification{
		AlsoUnicast:      bit(v, 3),
		AlsoDerivedGroup: bit(v, 4),
		AlsoCommGroup:    bit(v, 5),
		SecLevel:         SecLevel(v >> 6 & 0x3),
		KeyType:          KeyType(v >> 8 & 0x7),
		RxAfterTx:        bit(v, 11),
		TxQueueFull:      bit(v, 12),
		BidirectionalCap: bit(v, 13),
		ProxyInfoPresent: bit(v, 14),
	}
	n.ID, n.Endpoint = readGpdID(r, AppID(v&0x7))
	n.FrameCounter = r.u32()
	n.GpdCommand = r.u8()
	n.Payload = r.bytes(int(r.u8()))
	if n.ProxyInfoPresent {
		n.GppShortAddr = r.u16()
		n.GppGpdLink = r.u8()
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode notification: %w", r.err)
	}
	return n, nil
}

// CommissioningNotification tunnels a GPDF received while the proxy is in
// commissioning mode, or one it could not authenticate.
type CommissioningNotification struct {
	ID                  GpdID
	Endpoint            uint8
	RxAfterTx           bool
	SecLevel            SecLevel
	KeyType             KeyType
	SecProcessingFailed bool
	BidirectionalCap    bool
	ProxyInfoPresent    bool
	FrameCounter        uint32
	GpdCommand          uint8
	Payload             []byte
	GppShortAddr        uint16
	GppGpdLink          uint8
	MIC                 uint32
}

// Encode returns the command payload.
func (n *CommissioningNotification) Encode() []byte {
	v := uint32(n.ID.App) & 0x7
	v |= boolBit(n.RxAfterTx, 3)
	v |= (uint32(n.SecLevel) & 0x3) << 4
	v |= (uint32(n.KeyType) & 0x7) << 6
	v |= boolBit(n.SecProcessingFailed, 9)
	v |= boolBit(n.BidirectionalCap, 10)
	v |= boolBit(n.ProxyInfoPresent, 11)

	b := putU16(nil, uint16(v))
	b = n.ID.appendTo(b, n.Endpoint)
	b = putU32(b, n.FrameCounter)
	b = append(b, n.GpdCommand, uint8(len(n.Payload)))
	b = append(b, n.Payload...)
	if n.ProxyInfoPresent {
		b = putU16(b, n.GppShortAddr)
		b = append(b, n.GppGpdLink)
	}
	if n.SecProcessingFailed {
		b = putU32(b, n.MIC)
	}
	return b
}

// DecodeCommissioningNotification parses a GP Commissioning Notification
// payload.
func DecodeCommissioningNotification(buf []byte) (*CommissioningNotification, error) {
	r := newReader(buf)
	v := uint32(r.u16())
	n := &CommissioningNotification{
		RxAfterTx:           bit(v, 3),
		SecLevel:            SecLevel(v >> 4 & 0x3),
		KeyType:             KeyType(v >> 6 & 0x7),
		SecProcessingFailed: bit(v, 9),
		BidirectionalCap:    bit(v, 10),
		ProxyInfoPresent:    bit(v, 11),
	}
	n.ID, n.Endpoint = readGpdID(r, AppID(v&0x7))
	n.FrameCounter = r.u32()
	n.GpdCommand = r.u8()
	n.Payload = r.bytes(int(r.u8()))
	if n.ProxyInfoPresent {
		n.GppShortAddr = r.u16()
		n.GppGpdLink = r.u8()
	}
	if n.SecProcessingFailed {
		n.MIC = r.u32()
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode commissioning notification: %w", r.err)
	}
	return n, nil
}

// Pairing is the GP Pairing command a sink broadcasts to set up or tear
// down proxy forwarding.
type Pairing struct {
	ID                     GpdID
	Endpoint               uint8
	AddSink                bool
	RemoveGPD              bool
	CommMode               CommMode
	GpdFixed               bool
	SeqNumCap              bool
	SecLevel               SecLevel
	KeyType                KeyType
	FrameCounterPresent    bool
	KeyPresent             bool
	AssignedAliasPresent   bool
	GroupcastRadiusPresent bool

	SinkIEEE        uint64
	SinkNwk         uint16
	SinkGroupID     uint16
	DeviceID        uint8
	FrameCounter    uint32
	Key             Key
	AssignedAlias   uint16
	GroupcastRadius uint8
}

func (p *Pairing) unicast() bool {
	return p.CommMode == CommModeFullUnicast || p.CommMode == CommModeLightweightUni
}

// Encode returns the command payload.
func (p *Pairing) Encode() []byte {
	v := uint32(p.ID.App) & 0x7
	v |= boolBit(p.AddSink, 3)
	v |= boolBit(p.RemoveGPD, 4)
	v |= (uint32(p.CommMode) & 0x3) << 5
	v |= boolBit(p.GpdFixed, 7)
	v |= boolBit(p.SeqNumCap, 8)
	v |= (uint32(p.SecLevel) & 0x3) << 9
	v |= (uint32(p.KeyType) & 0x7) << 11
	v |= boolBit(p.FrameCounterPresent, 14)
	v |= boolBit(p.KeyPresent, 15)
	v |= boolBit(p.AssignedAliasPresent, 16)
	v |= boolBit(p.GroupcastRadiusPresent, 17)

	b := putU24(nil, v)
	b = p.ID.appendTo(b, p.Endpoint)
	if !p.RemoveGPD {
		if p.unicast() {
			b = putU64(b, p.SinkIEEE)
			b = putU16(b, p.SinkNwk)
		} else {
			b = putU16(b, p.SinkGroupID)
		}
	}
	if p.AddSink {
		b = append(b, p.DeviceID)
	}
	if p.FrameCounterPresent {
		b = putU32(b, p.FrameCounter)
	}
	if p.KeyPresent {
		b = append(b, p.Key[:]...)
	}
	if p.AssignedAliasPresent {
		b = putU16(b, p.AssignedAlias)
	}
	if p.GroupcastRadiusPresent {
		b = append(b, p.GroupcastRadius)
	}
	return b
}

// DecodePairing parses a GP Pairing payload.
func DecodePairing(buf []byte) (*Pairing, error) {
	r := newReader(buf)
	v := r.u24()
	p := &Pairing{
		AddSink:                bit(v, 3),
		RemoveGPD:              bit(v, 4),
		CommMode:               CommMode(v >> 5 & 0x3),
		GpdFixed:               bit(v, 7),
		SeqNumCap:              bit(v, 8),
		SecLevel:               SecLevel(v >> 9 & 0x3),
		KeyType:                KeyType(v >> 11 & 0x7),
		FrameCounterPresent:    bit(v, 14),
		KeyPresent:             bit(v, 15),
		AssignedAliasPresent:   bit(v, 16),
		GroupcastRadiusPresent: bit(v, 17),
		FrameCounter:           0xFFFFFFFF,
		GroupcastRadius:        0xFF,
	}
	p.ID, p.Endpoint = readGpdID(r, AppID(v&0x7))
	if !p.RemoveGPD {
		if p.unicast() {
			p.SinkIEEE = r.u64()
			p.SinkNwk = r.u16()
		} else {
			p.SinkGroupID = r.u16()
		}
	}
	if p.AddSink {
		p.DeviceID = r.u8()
	}
	if p.FrameCounterPresent {
		p.FrameCounter = r.u32()
	}
	if p.KeyPresent {
		p.Key = r.key()
	}
	if p.AssignedAliasPresent {
		p.AssignedAlias = r.u16()
	}
	if p.GroupcastRadiusPresent {
		p.GroupcastRadius = r.u8()
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode pairing: %w", r.err)
	}
	return p, nil
}

// ProxyCommissioningMode tells proxies to enter or leave commissioning mode.
type ProxyCommissioningMode struct {
	Enter          bool
	WindowPresent  bool
	ExitMode       uint8
	ChannelPresent bool
	Unicast        bool
	Window         uint16
	Channel        uint8
}

// Exit mode bits of ProxyCommissioningMode.ExitMode.
const (
	ProxyExitOnWindowExpiration uint8 = 1 << 0
	ProxyExitOnFirstPairing     uint8 = 1 << 1
)

// Encode returns the command payload.
func (m *ProxyCommissioningMode) Encode() []byte {
	v := boolBit(m.Enter, 0)
	v |= boolBit(m.WindowPresent, 1)
	v |= (uint32(m.ExitMode) & 0x3) << 2
	v |= boolBit(m.ChannelPresent, 4)
	v |= boolBit(m.Unicast, 5)
	b := []byte{uint8(v)}
	if m.WindowPresent {
		b = putU16(b, m.Window)
	}
	if m.ChannelPresent {
		b = append(b, m.Channel)
	}
	return b
}

// DecodeProxyCommissioningMode parses a GP Proxy Commissioning Mode payload.
func DecodeProxyCommissioningMode(buf []byte) (*ProxyCommissioningMode, error) {
	r := newReader(buf)
	v := uint32(r.u8())
	m := &ProxyCommissioningMode{
		Enter:          bit(v, 0),
		WindowPresent:  bit(v, 1),
		ExitMode:       uint8(v >> 2 & 0x3),
		ChannelPresent: bit(v, 4),
		Unicast:        bit(v, 5),
	}
	if m.WindowPresent {
		m.Window = r.u16()
	}
	if m.ChannelPresent {
		m.Channel = r.u8()
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode proxy commissioning mode: %w", r.err)
	}
	return m, nil
}

// Response carries a GPD command (Commissioning Reply, Channel
// Configuration) from a sink to the proxy that is to deliver it.
type Response struct {
	ID                GpdID
	Endpoint          uint8
	TxOnEndpointMatch bool
	TempMaster        uint16
	TempMasterChannel uint8
	GpdCommand        uint8
	Payload           []byte
}

// Encode returns the command payload.
func (m *Response) Encode() []byte {
	v := uint32(m.ID.App)&0x7 | boolBit(m.TxOnEndpointMatch, 3)
	b := []byte{uint8(v)}
	b = putU16(b, m.TempMaster)
	b = append(b, m.TempMasterChannel&0x0F)
	b = m.ID.appendTo(b, m.Endpoint)
	b = append(b, m.GpdCommand, uint8(len(m.Payload)))
	return append(b, m.Payload...)
}

// DecodeResponse parses a GP Response payload.
func DecodeResponse(buf []byte) (*Response, error) {
	r := newReader(buf)
	v := uint32(r.u8())
	m := &Response{TxOnEndpointMatch: bit(v, 3)}
	m.TempMaster = r.u16()
	m.TempMasterChannel = r.u8() & 0x0F
	m.ID, m.Endpoint = readGpdID(r, AppID(v&0x7))
	m.GpdCommand = r.u8()
	m.Payload = r.bytes(int(r.u8()))
	if r.err != nil {
		return nil, fmt.Errorf("decode response: %w", r.err)
	}
	return m, nil
}

// SinkCommissioningMode asks a sink to enter or leave commissioning mode.
type SinkCommissioningMode struct {
	Enter             bool
	InvolveGPMSec     bool
	InvolveGPMPairing bool
	InvolveProxies    bool
	GPMAddrSecurity   uint16
	GPMAddrPairing    uint16
	SinkEndpoint      uint8
}

// Encode returns the command payload.
func (m *SinkCommissioningMode) Encode() []byte {
	v := boolBit(m.Enter, 0) | boolBit(m.InvolveGPMSec, 1) | boolBit(m.InvolveGPMPairing, 2) | boolBit(m.InvolveProxies, 3)
	b := []byte{uint8(v)}
	b = putU16(b, m.GPMAddrSecurity)
	b = putU16(b, m.GPMAddrPairing)
	return append(b, m.SinkEndpoint)
}

// DecodeSinkCommissioningMode parses a GP Sink Commissioning Mode payload.
func DecodeSinkCommissioningMode(buf []byte) (*SinkCommissioningMode, error) {
	r := newReader(buf)
	v := uint32(r.u8())
	m := &SinkCommissioningMode{
		Enter:             bit(v, 0),
		InvolveGPMSec:     bit(v, 1),
		InvolveGPMPairing: bit(v, 2),
		InvolveProxies:    bit(v, 3),
		GPMAddrSecurity:   r.u16(),
		GPMAddrPairing:    r.u16(),
		SinkEndpoint:      r.u8(),
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode sink commissioning mode: %w", r.err)
	}
	return m, nil
}

// AppInfo is the optional application information of a Commissioning
// GPDF or a Pairing Configuration.
type AppInfo struct {
	ManuIDPresent   bool
	ManuID          uint16
	ModelIDPresent  bool
	ModelID         uint16
	CommandsPresent bool
	Commands        []uint8
	ClustersPresent bool
	ServerClusters  []uint16
	ClientClusters  []uint16
	Switch          *SwitchInfo
	AppDescFollows  bool
}

func (a *AppInfo) flags() uint8 {
	v := boolBit(a.ManuIDPresent, 0) |
		boolBit(a.ModelIDPresent, 1) |
		boolBit(a.CommandsPresent, 2) |
		boolBit(a.ClustersPresent, 3) |
		boolBit(a.Switch != nil, 4) |
		boolBit(a.AppDescFollows, 5)
	return uint8(v)
}

// Clusters returns the server clusters followed by the client clusters.
func (a *AppInfo) Clusters() []uint16 {
	if a == nil {
		return nil
	}
	out := append([]uint16(nil), a.ServerClusters...)
	return append(out, a.ClientClusters...)
}

// appendTo writes the flags byte and the fields it announces.
func (a *AppInfo) appendTo(b []byte) []byte {
	b = append(b, a.flags())
	if a.ManuIDPresent {
		b = putU16(b, a.ManuID)
	}
	if a.ModelIDPresent {
		b = putU16(b, a.ModelID)
	}
	if a.CommandsPresent {
		b = append(b, uint8(len(a.Commands)))
		b = append(b, a.Commands...)
	}
	if a.ClustersPresent {
		b = append(b, uint8(len(a.ServerClusters))&0x0F|uint8(len(a.ClientClusters))<<4)
		for _, c := range a.ServerClusters {
			b = putU16(b, c)
		}
		for _, c := range a.ClientClusters {
			b = putU16(b, c)
		}
	}
	if a.Switch != nil {
		b = append(b, 2, a.Switch.Config, a.Switch.ContactStatus)
	}
	return b
}

func readAppInfo(r *reader) *AppInfo {
	v := uint32(r.u8())
	a := &AppInfo{
		ManuIDPresent:   bit(v, 0),
		ModelIDPresent:  bit(v, 1),
		CommandsPresent: bit(v, 2),
		ClustersPresent: bit(v, 3),
		AppDescFollows:  bit(v, 5),
	}
	if a.ManuIDPresent {
		a.ManuID = r.u16()
	}
	if a.ModelIDPresent {
		a.ModelID = r.u16()
	}
	if a.CommandsPresent {
		a.Commands = r.bytes(int(r.u8()))
	}
	if a.ClustersPresent {
		hdr := r.u8()
		for i := 0; i < int(hdr&0x0F); i++ {
			a.ServerClusters = append(a.ServerClusters, r.u16())
		}
		for i := 0; i < int(hdr>>4); i++ {
			a.ClientClusters = append(a.ClientClusters, r.u16())
		}
	}
	if bit(v, 4) {
		n := int(r.u8())
		sw := r.bytes(n)
		if n >= 2 {
			a.Switch = &SwitchInfo{Config: sw[0], ContactStatus: sw[1]}
		}
	}
	return a
}

// PairingConfigAction is the action of a Pairing Configuration.
type PairingConfigAction uint8

const (
	PairingNoAction  PairingConfigAction = 0
	PairingExtend    PairingConfigAction = 1
	PairingReplace   PairingConfigAction = 2
	PairingRemove    PairingConfigAction = 3
	PairingRemoveGPD PairingConfigAction = 4
	PairingAppDesc   PairingConfigAction = 5
)

func (a PairingConfigAction) String() string {
	switch a {
	case PairingNoAction:
		return "no-action"
	case PairingExtend:
		return "extend"
	case PairingReplace:
		return "replace"
	case PairingRemove:
		return "remove-pairing"
	case PairingRemoveGPD:
		return "remove-gpd"
	case PairingAppDesc:
		return "application-description"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Paired endpoint count markers.
const (
	PairedEndpointsUnspecified uint8 = 0x00
	PairedEndpointsNone        uint8 = 0xFD
	PairedEndpointsAll         uint8 = 0xFE
	PairedEndpointsReserved    uint8 = 0xFF
)

// PairingConfiguration configures a sink (and optionally its proxies) for
// a GPD without the GPD taking part.
type PairingConfiguration struct {
	Action      PairingConfigAction
	SendPairing bool

	ID              GpdID
	Endpoint        uint8
	Options         SinkOptions
	DeviceID        uint8
	Groups          []SinkGroup
	AssignedAlias   uint16
	GroupcastRadius uint8
	SecLevel        SecLevel
	KeyType         KeyType
	FrameCounter    uint32
	Key             Key

	NumPairedEndpoints uint8
	PairedEndpoints    []uint8

	AppInfo *AppInfo

	// ReportDescriptor is the Application Description body for
	// PairingAppDesc.
	ReportDescriptor []byte
}

func pairedEndpointsListed(n uint8) bool {
	return n != PairedEndpointsUnspecified && n != PairedEndpointsNone &&
		n != PairedEndpointsAll && n != PairedEndpointsReserved
}

// Encode returns the command payload.
func (c *PairingConfiguration) Encode() []byte {
	o := c.Options
	b := []byte{uint8(c.Action)&0x7 | uint8(boolBit(c.SendPairing, 3))}
	opts := uint32(o.encode(c.ID.App)) | boolBit(c.AppInfo != nil, 10)
	b = putU16(b, uint16(opts))
	b = c.ID.appendTo(b, c.Endpoint)
	b = append(b, c.DeviceID)
	if o.CommMode == CommModePrecommGroup {
		b = append(b, uint8(len(c.Groups)))
		for _, g := range c.Groups {
			b = putU16(b, g.GroupID)
			b = putU16(b, g.Alias)
		}
	}
	if o.AssignedAlias {
		b = putU16(b, c.AssignedAlias)
	}
	b = append(b, c.GroupcastRadius)
	if o.SecUse {
		b = append(b, secOptions(c.SecLevel, c.KeyType))
		b = putU32(b, c.FrameCounter)
		b = append(b, c.Key[:]...)
	} else if o.SeqNumCap {
		b = putU32(b, c.FrameCounter)
	}
	b = append(b, c.NumPairedEndpoints)
	if pairedEndpointsListed(c.NumPairedEndpoints) {
		b = append(b, c.PairedEndpoints...)
	}
	if c.AppInfo != nil {
		b = c.AppInfo.appendTo(b)
	}
	if c.Action == PairingAppDesc {
		b = append(b, c.ReportDescriptor...)
	}
	return b
}

// DecodePairingConfiguration parses a GP Pairing Configuration payload.
func DecodePairingConfiguration(buf []byte) (*PairingConfiguration, error) {
	r := newReader(buf)
	act := r.u8()
	c := &PairingConfiguration{
		Action:        PairingConfigAction(act & 0x7),
		SendPairing:   act&0x08 != 0,
		AssignedAlias: 0xFFFF,
		FrameCounter:  0xFFFFFFFF,
	}
	raw := r.u16()
	app, o := decodeSinkOptions(raw)
	c.Options = o
	c.ID, c.Endpoint = readGpdID(r, app)
	c.DeviceID = r.u8()
	if o.CommMode == CommModePrecommGroup {
		n := int(r.u8())
		for i := 0; i < n && r.err == nil; i++ {
			c.Groups = append(c.Groups, SinkGroup{GroupID: r.u16(), Alias: r.u16()})
		}
	}
	if o.AssignedAlias {
		c.AssignedAlias = r.u16()
	}
	c.GroupcastRadius = r.u8()
	if o.SecUse {
		c.SecLevel, c.KeyType = splitSecOptions(r.u8())
		c.FrameCounter = r.u32()
		c.Key = r.key()
	} else if o.SeqNumCap {
		c.FrameCounter = r.u32()
	}
	c.NumPairedEndpoints = r.u8()
	if pairedEndpointsListed(c.NumPairedEndpoints) {
		c.PairedEndpoints = r.bytes(int(c.NumPairedEndpoints))
	}
	if bit(uint32(raw), 10) {
		c.AppInfo = readAppInfo(r)
	}
	if c.Action == PairingAppDesc {
		c.ReportDescriptor = r.rest()
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode pairing configuration: %w", r.err)
	}
	return c, nil
}

// Table request types.
const (
	TableReqByID    uint8 = 0
	TableReqByIndex uint8 = 1
)

// TableRequest is a Sink Table Request or Proxy Table Request.
type TableRequest struct {
	App      AppID
	ReqType  uint8
	ID       GpdID
	Endpoint uint8
	Index    uint8
}

// Encode returns the command payload.
func (q *TableRequest) Encode() []byte {
	b := []byte{uint8(q.App)&0x7 | (q.ReqType&0x3)<<3}
	if q.ReqType == TableReqByID {
		return q.ID.appendTo(b, q.Endpoint)
	}
	return append(b, q.Index)
}

// DecodeTableRequest parses a Sink or Proxy Table Request payload.
func DecodeTableRequest(buf []byte) (*TableRequest, error) {
	r := newReader(buf)
	v := r.u8()
	q := &TableRequest{App: AppID(v & 0x7), ReqType: v >> 3 & 0x3}
	switch q.ReqType {
	case TableReqByID:
		q.ID, q.Endpoint = readGpdID(r, q.App)
	case TableReqByIndex:
		q.Index = r.u8()
	default:
		r.fail(fmt.Errorf("table request type %d: %w", q.ReqType, ErrInvalidField))
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode table request: %w", r.err)
	}
	return q, nil
}

// TableResponse is a Sink Table Response or Proxy Table Response. Entries
// holds the concatenated wire entries.
type TableResponse struct {
	Status     uint8
	Total      uint8
	StartIndex uint8
	Count      uint8
	Entries    []byte
}

// Encode returns the command payload.
func (t *TableResponse) Encode() []byte {
	b := []byte{t.Status, t.Total, t.StartIndex, t.Count}
	return append(b, t.Entries...)
}

// DecodeTableResponse parses a Sink or Proxy Table Response payload.
func DecodeTableResponse(buf []byte) (*TableResponse, error) {
	r := newReader(buf)
	t := &TableResponse{Status: r.u8(), Total: r.u8(), StartIndex: r.u8(), Count: r.u8()}
	t.Entries = r.rest()
	if r.err != nil {
		return nil, fmt.Errorf("decode table response: %w", r.err)
	}
	return t, nil
}

// TranslationTableUpdate adds, replaces or removes translations of a GPD.
type TranslationTableUpdate struct {
	ID           GpdID
	Endpoint     uint8
	Action       TransAction
	AddInfo      bool
	Translations []Translation
}

// Encode returns the command payload.
func (u *TranslationTableUpdate) Encode() []byte {
	v := uint32(u.ID.App) & 0x7
	v |= (uint32(u.Action) & 0x3) << 3
	v |= (uint32(len(u.Translations)) & 0x7) << 5
	v |= boolBit(u.AddInfo, 8)
	b := putU16(nil, uint16(v))
	b = u.ID.appendTo(b, u.Endpoint)
	for _, tr := range u.Translations {
		b = append(b, tr.Index, tr.GpdCommand, tr.Endpoint)
		b = putU16(b, tr.Profile)
		b = putU16(b, tr.Cluster)
		b = append(b, tr.ZbCommand, tr.PayloadLen)
		if payloadInline(tr.PayloadLen) {
			b = append(b, tr.Payload...)
		}
		if u.AddInfo {
			b = append(b, uint8(len(tr.AddInfo)))
			b = append(b, tr.AddInfo...)
		}
	}
	return b
}

// DecodeTranslationTableUpdate parses a GP Translation Table Update
// payload. An update without translations is malformed.
func DecodeTranslationTableUpdate(buf []byte) (*TranslationTableUpdate, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("decode translation table update: empty: %w", ErrMalformed)
	}
	r := newReader(buf)
	v := uint32(r.u16())
	u := &TranslationTableUpdate{
		Action:  TransAction(v >> 3 & 0x3),
		AddInfo: bit(v, 8),
	}
	num := int(v >> 5 & 0x7)
	if num == 0 {
		return nil, fmt.Errorf("decode translation table update: no translations: %w", ErrMalformed)
	}
	u.ID, u.Endpoint = readGpdID(r, AppID(v&0x7))
	for i := 0; i < num && r.err == nil; i++ {
		tr := Translation{
			Index:      r.u8(),
			GpdCommand: r.u8(),
			Endpoint:   r.u8(),
			Profile:    r.u16(),
			Cluster:    r.u16(),
			ZbCommand:  r.u8(),
			PayloadLen: r.u8(),
		}
		if payloadInline(tr.PayloadLen) {
			tr.Payload = r.bytes(int(tr.PayloadLen))
		}
		if u.AddInfo {
			tr.AddInfo = r.bytes(int(r.u8()))
		}
		u.Translations = append(u.Translations, tr)
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode translation table update: %w", r.err)
	}
	return u, nil
}

// TranslationTableResponse is one page of the translation table.
type TranslationTableResponse struct {
	Status     uint8
	App        AppID
	AddInfo    bool
	Total      uint8
	StartIndex uint8
	Count      uint8
	Entries    []byte
}

// Encode returns the command payload.
func (t *TranslationTableResponse) Encode() []byte {
	opts := uint8(t.App)&0x7 | uint8(boolBit(t.AddInfo, 3))
	b := []byte{t.Status, opts, t.Total, t.StartIndex, t.Count}
	return append(b, t.Entries...)
}

// DecodeTranslationTableResponse parses a Translation Table Response and
// its entries.
func DecodeTranslationTableResponse(buf []byte) (*TranslationTableResponse, []TransEntry, error) {
	r := newReader(buf)
	t := &TranslationTableResponse{Status: r.u8()}
	opts := uint32(r.u8())
	t.App = AppID(opts & 0x7)
	t.AddInfo = bit(opts, 3)
	t.Total = r.u8()
	t.StartIndex = r.u8()
	t.Count = r.u8()
	t.Entries = r.rest()
	if r.err != nil {
		return nil, nil, fmt.Errorf("decode translation table response: %w", r.err)
	}
	er := newReader(t.Entries)
	var entries []TransEntry
	for i := 0; i < int(t.Count) && er.err == nil; i++ {
		entries = append(entries, decodeTransEntry(er, t.App, t.AddInfo))
	}
	if er.err != nil {
		return nil, nil, fmt.Errorf("decode translation table response: %w", er.err)
	}
	return t, entries, nil
}
