// Package gp implements the Zigbee Green Power proxy and sink: the proxy,
// sink and translation tables, GPDF security evaluation, the sink
// commissioning state machine and the proxy commissioning-mode relay.
//
// The radio, NWK and APS layers are reached through the Stub interface.
// All state is owned by a Core and mutated only from its event loop.
package gp

import (
	"encoding/binary"
	"fmt"
)

// Endpoint and profile identifiers used by the GP endpoint.
const (
	Endpoint        uint8  = 0xF2
	ProfileGP       uint16 = 0xA1E0
	ProfileHA       uint16 = 0x0104
	ClusterGP       uint16 = 0x0021
	BroadcastRxOn   uint16 = 0xFFFD
	BroadcastAll    uint16 = 0xFFFF
	AddrUnspecified uint16 = 0xFFFE
)

// AppID selects how a GPD is addressed.
type AppID uint8

const (
	AppIDSrcID AppID = 0
	AppIDGPD   AppID = 2
)

func (a AppID) String() string {
	switch a {
	case AppIDSrcID:
		return "srcid"
	case AppIDGPD:
		return "ieee"
	default:
		return fmt.Sprintf("app(%d)", uint8(a))
	}
}

// Reserved identifier values.
const (
	SrcIDWildcard uint32 = 0xFFFFFFFF
	IEEEWildcard  uint64 = 0xFFFFFFFFFFFFFFFF
)

// GpdID identifies a Green Power Device either by SrcID or by IEEE address.
// Only the field selected by App is significant.
type GpdID struct {
	App   AppID  `json:"app_id"`
	SrcID uint32 `json:"src_id,omitempty"`
	IEEE  uint64 `json:"ieee,omitempty"`
}

// SrcID returns a SrcID-addressed identifier.
func SrcID(id uint32) GpdID { return GpdID{App: AppIDSrcID, SrcID: id} }

// IEEE returns an IEEE-addressed identifier.
func IEEE(addr uint64) GpdID { return GpdID{App: AppIDGPD, IEEE: addr} }

// Valid reports whether the identifier names a real device. Zero and
// all-ones values are reserved.
func (g GpdID) Valid() bool {
	switch g.App {
	case AppIDSrcID:
		return g.SrcID != 0 && g.SrcID != SrcIDWildcard
	case AppIDGPD:
		return g.IEEE != 0 && g.IEEE != IEEEWildcard
	}
	return false
}

// Equal compares two identifiers per variant.
func (g GpdID) Equal(o GpdID) bool {
	if g.App != o.App {
		return false
	}
	if g.App == AppIDSrcID {
		return g.SrcID == o.SrcID
	}
	return g.IEEE == o.IEEE
}

// IsWildcard reports whether the identifier is the "any GPD" value.
func (g GpdID) IsWildcard() bool {
	if g.App == AppIDSrcID {
		return g.SrcID == SrcIDWildcard
	}
	return g.IEEE == IEEEWildcard
}

func (g GpdID) String() string {
	if g.App == AppIDGPD {
		return fmt.Sprintf("0x%016X", g.IEEE)
	}
	return fmt.Sprintf("0x%08X", g.SrcID)
}

// idLen is the encoded length of the identifier, including the endpoint
// byte for IEEE addressing.
func (g GpdID) idLen() int {
	if g.App == AppIDGPD {
		return 9
	}
	return 4
}

func (g GpdID) appendTo(b []byte, ep uint8) []byte {
	switch g.App {
	case AppIDSrcID:
		b = binary.LittleEndian.AppendUint32(b, g.SrcID)
	case AppIDGPD:
		b = binary.LittleEndian.AppendUint64(b, g.IEEE)
		b = append(b, ep)
	}
	return b
}

func readGpdID(r *reader, app AppID) (GpdID, uint8) {
	id := GpdID{App: app}
	var ep uint8
	switch app {
	case AppIDSrcID:
		id.SrcID = r.u32()
	case AppIDGPD:
		id.IEEE = r.u64()
		ep = r.u8()
	default:
		r.fail(fmt.Errorf("app id %d: %w", app, ErrInvalidField))
	}
	return id, ep
}

// endpointMismatch reports whether an IEEE-addressed frame names a concrete
// endpoint other than the one stored in an entry.
func endpointMismatch(app AppID, entryEP, ep uint8) bool {
	if app != AppIDGPD {
		return false
	}
	if entryEP == 0xFF || ep == 0x00 || ep == 0xFF {
		return false
	}
	return entryEP != ep
}

// endpointMatches is the wildcard-aware equality used by removals: 0x00 and
// 0xFF on either side match everything.
func endpointMatches(app AppID, entryEP, ep uint8) bool {
	if app != AppIDGPD {
		return true
	}
	if ep == 0x00 || ep == 0xFF || entryEP == 0x00 || entryEP == 0xFF {
		return true
	}
	return entryEP == ep
}

// Key is a 128-bit GP security key.
type Key [16]byte

// IsZero reports whether the key is all zeros.
func (k Key) IsZero() bool { return k == Key{} }

// SecLevel is the GPDF security level.
type SecLevel uint8

const (
	SecLevelNone     SecLevel = 0
	SecLevelReserved SecLevel = 1
	SecLevelMIC      SecLevel = 2
	SecLevelEncMIC   SecLevel = 3
)

// KeyType is the GP security key type.
type KeyType uint8

const (
	KeyTypeNone              KeyType = 0
	KeyTypeNwk               KeyType = 1
	KeyTypeGpdGroup          KeyType = 2
	KeyTypeNwkDerivedGroup   KeyType = 3
	KeyTypeOutOfBox          KeyType = 4
	KeyTypeDerivedIndividual KeyType = 7
)

// CommMode is the sink communication mode.
type CommMode uint8

const (
	CommModeFullUnicast    CommMode = 0
	CommModeDerivedGroup   CommMode = 1
	CommModePrecommGroup   CommMode = 2
	CommModeLightweightUni CommMode = 3
)

func (m CommMode) String() string {
	switch m {
	case CommModeFullUnicast:
		return "full-unicast"
	case CommModeDerivedGroup:
		return "derived-group"
	case CommModePrecommGroup:
		return "precommissioned-group"
	case CommModeLightweightUni:
		return "lightweight-unicast"
	}
	return fmt.Sprintf("commmode(%d)", uint8(m))
}

// Sink commissioning exit mode bits.
const (
	ExitOnWindowExpiration  uint8 = 1 << 0
	ExitOnFirstPairing      uint8 = 1 << 1
	ExitOnProxyCommModeExit uint8 = 1 << 2
)

// Bits of the sink security level attribute above the minimal level.
const (
	SecProtectWithLinkKey uint8 = 1 << 2
	SecInvolveTC          uint8 = 1 << 3
)

// GPD device identifiers.
const (
	DevSimple1StateSwitch uint8 = 0x00
	DevSimple2StateSwitch uint8 = 0x01
	DevOnOffSwitch        uint8 = 0x02
	DevLevelSwitch        uint8 = 0x03
	DevGeneric8Contact    uint8 = 0x07
	DevTemperatureSensor  uint8 = 0x30
	DevNotSpecific        uint8 = 0xFE
)

// GPD command identifiers.
const (
	CmdOff                  uint8 = 0x20
	CmdOn                   uint8 = 0x21
	CmdToggle               uint8 = 0x22
	CmdMoveUp               uint8 = 0x30
	CmdMoveDown             uint8 = 0x31
	CmdStepUp               uint8 = 0x32
	CmdStepDown             uint8 = 0x33
	CmdLevelStop            uint8 = 0x34
	CmdMoveUpWithOnOff      uint8 = 0x35
	CmdMoveDownWithOnOff    uint8 = 0x36
	CmdStepUpWithOnOff      uint8 = 0x37
	CmdStepDownWithOnOff    uint8 = 0x38
	CmdVectorPress          uint8 = 0x69
	CmdVectorRelease        uint8 = 0x6A
	CmdAttrReport           uint8 = 0xA0
	CmdManuAttrReport       uint8 = 0xA1
	CmdMultiClusterReport   uint8 = 0xA2
	CmdManuMultiClusterRpt  uint8 = 0xA3
	CmdZCLTunneling         uint8 = 0xA6
	CmdCompactAttrReport    uint8 = 0xA8
	CmdAnySensorReport      uint8 = 0xAF
	CmdCommissioning        uint8 = 0xE0
	CmdDecommissioning      uint8 = 0xE1
	CmdSuccess              uint8 = 0xE2
	CmdChannelRequest       uint8 = 0xE3
	CmdApplicationDesc      uint8 = 0xE4
	CmdCommissioningReply   uint8 = 0xF0
	CmdChannelConfiguration uint8 = 0xF3
)

// isReportCmd reports whether a GPD command is an attribute report that
// may be served by an any-sensor translation.
func isReportCmd(cmd uint8) bool {
	switch cmd {
	case CmdAttrReport, CmdManuAttrReport, CmdMultiClusterReport, CmdManuMultiClusterRpt, CmdCompactAttrReport:
		return true
	}
	return false
}

// NwkFrameType is the GP NWK frame type of a received GPDF.
type NwkFrameType uint8

const (
	FrameTypeData        NwkFrameType = 0
	FrameTypeMaintenance NwkFrameType = 1
)

// DataIndStatus is the stub's verdict on a received GPDF.
type DataIndStatus uint8

const (
	IndSecuritySuccess DataIndStatus = 0
	IndNoSecurity      DataIndStatus = 1
	IndCounterFailure  DataIndStatus = 2
	IndAuthFailure     DataIndStatus = 3
	IndUnprocessed     DataIndStatus = 4
)

// SecDecision is the outcome of GPDF security evaluation.
type SecDecision uint8

const (
	SecDrop SecDecision = iota
	SecMatch
	SecPassUnprocessed
	SecTxThenDrop
	SecError
)

func (d SecDecision) String() string {
	switch d {
	case SecDrop:
		return "drop"
	case SecMatch:
		return "match"
	case SecPassUnprocessed:
		return "pass-unprocessed"
	case SecTxThenDrop:
		return "tx-then-drop"
	}
	return "error"
}

// Timing constants.
const (
	DefaultCommissioningWindow = 180 // seconds
	MultiSensorTimeout         = 20  // seconds
	DuplicateTimeout           = 2   // seconds
	TransmitChannelTimeout     = 5   // seconds
)

// DefaultSharedKey is the GP shared key used when none is configured.
var DefaultSharedKey = Key{0xC0, 0xC1, 0xC2, 0xC3, 0xC4, 0xC5, 0xC6, 0xC7, 0xC8, 0xC9, 0xCA, 0xCB, 0xCC, 0xCD, 0xCE, 0xCF}

// DefaultLinkKey is the well-known trust center link key ("ZigBeeAlliance09").
var DefaultLinkKey = Key{0x5A, 0x69, 0x67, 0x42, 0x65, 0x65, 0x41, 0x6C, 0x6C, 0x69, 0x61, 0x6E, 0x63, 0x65, 0x30, 0x39}
