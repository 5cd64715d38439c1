package host

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/ncp"
)

func gpdID(app uint8, srcID uint32, ieee [8]byte) gp.GpdID {
	if gp.AppID(app) == gp.AppIDGPD {
		return gp.IEEE(binary.LittleEndian.Uint64(ieee[:]))
	}
	return gp.SrcID(srcID)
}

func ieeeBytes(v uint64) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b
}

func dataIndication(in ncp.GPDataIndication) gp.DataIndication {
	return gp.DataIndication{
		ID:                gpdID(in.AppID, in.SrcID, in.IEEE),
		Endpoint:          in.Endpoint,
		Status:            gp.DataIndStatus(in.Status),
		FrameType:         gp.NwkFrameType(in.FrameType),
		GpdCommand:        in.CommandID,
		Payload:           in.Payload,
		FrameCounter:      in.FrameCounter,
		SecLevel:          gp.SecLevel(in.SecLevel),
		KeyType:           in.KeyType,
		RxAfterTx:         in.RxAfterTx,
		AutoCommissioning: in.AutoCommissioning,
		RSSI:              in.RSSI,
		LQI:               in.LQI,
		SeqNum:            in.SeqNum,
		MIC:               in.MIC,
	}
}

func secRequest(in ncp.GPSecRequest) gp.SecRequest {
	return gp.SecRequest{
		ID:           gpdID(in.AppID, in.SrcID, in.IEEE),
		Endpoint:     in.Endpoint,
		FrameCounter: in.FrameCounter,
		Level:        gp.SecLevel(in.SecLevel),
		KeyType:      in.KeyType,
		Handle:       in.Handle,
	}
}

func secResponse(rsp gp.SecResponse, level uint8) ncp.GPSecResponse {
	return ncp.GPSecResponse{
		Handle:   rsp.Handle,
		Status:   uint8(rsp.Status),
		KeyType:  uint8(rsp.KeyType),
		Key:      rsp.Key,
		SecLevel: level,
	}
}

// ParseGpdID parses a GPD identifier for an application id: a SrcID as
// up to 8 hex digits, or an IEEE address as 16 hex digits (colons
// allowed). A "0x" prefix is accepted.
func ParseGpdID(app gp.AppID, s string) (gp.GpdID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	switch app {
	case gp.AppIDSrcID:
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return gp.GpdID{}, fmt.Errorf("parse src id %q: %w", s, err)
		}
		return gp.SrcID(uint32(v)), nil
	case gp.AppIDGPD:
		v, err := ParseIEEE(s)
		if err != nil {
			return gp.GpdID{}, err
		}
		return gp.IEEE(v), nil
	}
	return gp.GpdID{}, fmt.Errorf("unsupported application id %d", app)
}

// ParseAnyGpdID picks the application id from the length of s: 16 hex
// digits name an IEEE address, anything shorter a SrcID.
func ParseAnyGpdID(s string) (gp.GpdID, error) {
	hexLen := len(strings.ReplaceAll(strings.TrimPrefix(s, "0x"), ":", ""))
	if hexLen == 16 {
		return ParseGpdID(gp.AppIDGPD, s)
	}
	return ParseGpdID(gp.AppIDSrcID, s)
}
