// Package ncp talks to the Zigbee network co-processor that hosts the GP
// stub: the radio firmware that receives and transmits GPDFs, and carries
// the NWK and APS layers the GP endpoint sends its cluster commands over.
// Backend: nRF52840 running ZBOSS NCP firmware with GP stub extensions,
// over USB CDC ACM.
package ncp

import "context"

// NCP is the interface the GP host drives the co-processor through.
type NCP interface {
	// Network management
	Reset(ctx context.Context) error
	Init(ctx context.Context) error
	StartNetwork(ctx context.Context, endpoints []SimpleDescriptor) error
	NetworkInfo(ctx context.Context) (*NetworkInfo, error)
	GetLocalIEEE(ctx context.Context) ([8]byte, error)
	GetNwkKey(ctx context.Context) ([16]byte, error)
	SetChannel(ctx context.Context, channel uint8) error
	PermitJoin(ctx context.Context, duration uint8) error

	// NWK address management
	SendAddrConflict(ctx context.Context, addr uint16) error
	NewStochasticAddress(ctx context.Context) (uint16, error)

	// APS
	AddGroup(ctx context.Context, group uint16, endpoint uint8) error
	RemoveGroup(ctx context.Context, group uint16, endpoint uint8) error
	SendZCL(ctx context.Context, req ZCLRequest) error
	DeviceAnnounce(ctx context.Context, alias uint16, ieee [8]byte) error

	// GP stub
	GPDataRequest(ctx context.Context, req GPDataRequest) error
	GPClearTxQueue(ctx context.Context) error
	GPSecResponse(ctx context.Context, rsp GPSecResponse) error

	// Indication callbacks
	OnGPDataIndication(handler func(GPDataIndication))
	OnGPSecRequest(handler func(GPSecRequest))
	OnClusterCommand(handler func(ClusterCommandEvent))
	OnDeviceAnnounce(handler func(DeviceAnnounceEvent))
	OnNCPReset(handler func())

	// Info
	GetNCPInfo() *NCPInfo

	// Lifecycle
	Close() error
}

// NCPInfo holds firmware/stack version information from the NCP.
type NCPInfo struct {
	FWVersion       uint32
	StackVersion    string // e.g. "3.11.3.0"
	ProtocolVersion uint32
}

// NetworkInfo holds current network state.
type NetworkInfo struct {
	Channel   uint8
	PanID     uint16
	ExtPanID  [8]byte
	ShortAddr uint16
}

// SimpleDescriptor describes a local endpoint registered with the stack.
type SimpleDescriptor struct {
	Endpoint    uint8
	ProfileID   uint16
	DeviceID    uint16
	InClusters  []uint16
	OutClusters []uint16
}

// AddrMode is the APS destination address mode of a ZCL request.
type AddrMode uint8

const (
	AddrGroup     AddrMode = 0x01
	AddrShort     AddrMode = 0x02
	AddrBroadcast AddrMode = 0x0F // sent in short mode to 0xFFFx
)

// Alias is a NWK source address and sequence number sent in place of our
// own.
type Alias struct {
	Addr uint16
	Seq  uint8
}

// ZCLRequest sends a complete ZCL frame (header included) through APSDE.
type ZCLRequest struct {
	Mode      AddrMode
	DstAddr   uint16
	DstEP     uint8
	SrcEP     uint8
	ProfileID uint16
	ClusterID uint16
	Radius    uint8
	Alias     *Alias
	Frame     []byte
}

// GPDataRequest is a GP-DATA.request: queue (Action) or remove a GPDF in
// the stub's transmit queue.
type GPDataRequest struct {
	Action       bool
	UseGpTxQueue bool
	AppID        uint8
	SrcID        uint32
	IEEE         [8]byte
	Endpoint     uint8
	CommandID    uint8
	Payload      []byte
	Lifetime     uint32 // ms, 24 bits on the wire
	Handle       uint8
}

// GPDataIndication is a GP-DATA.indication from the stub.
type GPDataIndication struct {
	AppID             uint8
	SrcID             uint32
	IEEE              [8]byte
	Endpoint          uint8
	Status            uint8
	FrameType         uint8
	RxAfterTx         bool
	AutoCommissioning bool
	SecLevel          uint8
	KeyType           uint8
	FrameCounter      uint32
	MIC               uint32
	SrcAddr           uint16
	SeqNum            uint8
	RSSI              int8
	LQI               uint8
	CommandID         uint8
	Payload           []byte
}

// GPSecRequest is a GP-SEC.request: the stub asks which key, if any, to
// process a received GPDF with.
type GPSecRequest struct {
	AppID        uint8
	SrcID        uint32
	IEEE         [8]byte
	Endpoint     uint8
	SecLevel     uint8
	KeyType      uint8
	FrameCounter uint32
	Handle       uint8
}

// GPSecResponse answers a GPSecRequest.
type GPSecResponse struct {
	Handle   uint8
	Status   uint8
	KeyType  uint8
	Key      [16]byte
	SecLevel uint8
}

// DeviceAnnounceEvent is emitted on device announce.
type DeviceAnnounceEvent struct {
	ShortAddr  uint16
	IEEEAddr   [8]byte
	Capability uint8
}

// ClusterCommandEvent is a ZCL frame received on a local endpoint. Frame
// holds the whole ZCL frame, header included.
type ClusterCommandEvent struct {
	SrcAddr   uint16
	SrcEP     uint8
	DstAddr   uint16
	DstEP     uint8
	Delivery  Delivery
	GroupAddr uint16
	ClusterID uint16
	ProfileID uint16
	Frame     []byte
	LQI       uint8
	RSSI      int8
}

// Delivery is the APS delivery mode of a received frame.
type Delivery uint8

const (
	DeliveryUnicast   Delivery = 0
	DeliveryBroadcast Delivery = 2
	DeliveryGroup     Delivery = 3
)

// Broadcast reports whether the frame was group-addressed or sent to a
// broadcast address.
func (e ClusterCommandEvent) Broadcast() bool {
	return e.Delivery != DeliveryUnicast || e.DstAddr >= 0xFFF8
}
