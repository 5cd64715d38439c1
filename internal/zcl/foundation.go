package zcl

import (
	"errors"
	"fmt"
)

// Foundation ZCL command IDs (global, not cluster-specific).
const (
	FoundationReadAttributes         uint8 = 0x00
	FoundationReadAttributesResponse uint8 = 0x01
	FoundationWriteAttributes        uint8 = 0x02
	FoundationWriteAttributesResp    uint8 = 0x04
	FoundationConfigReporting        uint8 = 0x06
	FoundationConfigReportingResp    uint8 = 0x07
	FoundationReportAttributes       uint8 = 0x0A
	FoundationDefaultResponse        uint8 = 0x0B
	FoundationDiscoverAttributes     uint8 = 0x0C
	FoundationDiscoverAttributesResp uint8 = 0x0D
)

// ZCL status codes
const (
	ZCLStatusSuccess           uint8 = 0x00
	ZCLStatusFailure           uint8 = 0x01
	ZCLStatusMalformedCommand  uint8 = 0x80
	ZCLStatusUnsupClusterCmd   uint8 = 0x81
	ZCLStatusUnsupGeneralCmd   uint8 = 0x82
	ZCLStatusInvalidField      uint8 = 0x85
	ZCLStatusUnsupportedAttr   uint8 = 0x86
	ZCLStatusInvalidValue      uint8 = 0x87
	ZCLStatusReadOnly          uint8 = 0x88
	ZCLStatusInsufficientSpace uint8 = 0x89
	ZCLStatusNotFound          uint8 = 0x8B
	ZCLStatusUnreportable      uint8 = 0x8C
	ZCLStatusInvalidDataType   uint8 = 0x8D
)

// Frame control bits.
const (
	FrameTypeGlobal       uint8 = 0x00
	FrameTypeCluster      uint8 = 0x01
	FrameManufacturer     uint8 = 0x04
	FrameServerToClient   uint8 = 0x08
	FrameDisableDefaultRs uint8 = 0x10
)

// ErrShortFrame is returned for a ZCL frame shorter than its header.
var ErrShortFrame = errors.New("zcl: frame too short")

// Header is a decoded ZCL frame header.
type Header struct {
	ClusterSpecific  bool
	ServerToClient   bool
	DisableDefaultRs bool
	Manufacturer     uint16 // valid when HasManufacturer
	HasManufacturer  bool
	Seq              uint8
	CommandID        uint8
}

// FrameControl returns the frame control byte for h.
func (h Header) FrameControl() uint8 {
	var fc uint8
	if h.ClusterSpecific {
		fc |= FrameTypeCluster
	}
	if h.HasManufacturer {
		fc |= FrameManufacturer
	}
	if h.ServerToClient {
		fc |= FrameServerToClient
	}
	if h.DisableDefaultRs {
		fc |= FrameDisableDefaultRs
	}
	return fc
}

// Encode returns the header followed by payload.
func (h Header) Encode(payload []byte) []byte {
	buf := make([]byte, 0, 5+len(payload))
	buf = append(buf, h.FrameControl())
	if h.HasManufacturer {
		buf = append(buf, byte(h.Manufacturer), byte(h.Manufacturer>>8))
	}
	buf = append(buf, h.Seq, h.CommandID)
	return append(buf, payload...)
}

// ParseFrame splits a ZCL frame into its header and payload.
func ParseFrame(data []byte) (Header, []byte, error) {
	if len(data) < 3 {
		return Header{}, nil, ErrShortFrame
	}
	fc := data[0]
	h := Header{
		ClusterSpecific:  fc&0x03 == FrameTypeCluster,
		ServerToClient:   fc&FrameServerToClient != 0,
		DisableDefaultRs: fc&FrameDisableDefaultRs != 0,
	}
	pos := 1
	if fc&FrameManufacturer != 0 {
		if len(data) < 5 {
			return Header{}, nil, ErrShortFrame
		}
		h.HasManufacturer = true
		h.Manufacturer = uint16(data[1]) | uint16(data[2])<<8
		pos = 3
	}
	h.Seq = data[pos]
	h.CommandID = data[pos+1]
	return h, data[pos+2:], nil
}

// DefaultResponse builds the payload of a Default Response to cmd.
func DefaultResponse(cmd, status uint8) []byte {
	return []byte{cmd, status}
}

// StatusName returns a short name for a ZCL status code.
func StatusName(status uint8) string {
	switch status {
	case ZCLStatusSuccess:
		return "SUCCESS"
	case ZCLStatusFailure:
		return "FAILURE"
	case ZCLStatusMalformedCommand:
		return "MALFORMED_COMMAND"
	case ZCLStatusUnsupClusterCmd:
		return "UNSUP_CLUSTER_COMMAND"
	case ZCLStatusUnsupGeneralCmd:
		return "UNSUP_GENERAL_COMMAND"
	case ZCLStatusInvalidField:
		return "INVALID_FIELD"
	case ZCLStatusUnsupportedAttr:
		return "UNSUPPORTED_ATTRIBUTE"
	case ZCLStatusInvalidValue:
		return "INVALID_VALUE"
	case ZCLStatusReadOnly:
		return "READ_ONLY"
	case ZCLStatusInsufficientSpace:
		return "INSUFFICIENT_SPACE"
	case ZCLStatusNotFound:
		return "NOT_FOUND"
	case ZCLStatusUnreportable:
		return "UNREPORTABLE_ATTRIBUTE"
	case ZCLStatusInvalidDataType:
		return "INVALID_DATA_TYPE"
	}
	return fmt.Sprintf("0x%02X", status)
}
