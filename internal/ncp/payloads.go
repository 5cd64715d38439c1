package ncp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errShortPayload = errors.New("ncp: payload too short")

// GP application ids carried in GP stub payloads.
const (
	appSrcID uint8 = 0x00
	appIEEE  uint8 = 0x02
)

// ZDO Device_annce is sent as an APS frame on the ZDO endpoint.
const (
	zdoEndpoint       uint8  = 0x00
	zdoProfile        uint16 = 0x0000
	zdoClusterDevAnnc uint16 = 0x0013
	broadcastRxOn     uint16 = 0xFFFD
	capabilityRouter  uint8  = 0x8E // FFD, mains, rx-on, allocate address
	defaultRadius     uint8  = 30
)

// APSDE tx options.
const (
	txOptAPSAck   uint8 = 0x04
	txOptNoAPSAck uint8 = 0x00
)

// buildAPSDEDataReq builds the APSDE_DATA_REQ payload:
// param_len(1) + data_len(2) + dst_addr(8) + profile_id(2) + cluster_id(2) +
// dst_endpoint(1) + src_endpoint(1) + radius(1) + dst_addr_mode(1) +
// tx_options(1) + use_alias(1) + alias_src_addr(2) + alias_seq_num(1) + data
func buildAPSDEDataReq(req ZCLRequest) []byte {
	const fixedLen = 24
	buf := make([]byte, fixedLen+len(req.Frame))
	buf[0] = fixedLen - 3
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(req.Frame)))
	binary.LittleEndian.PutUint16(buf[3:5], req.DstAddr)
	binary.LittleEndian.PutUint16(buf[11:13], req.ProfileID)
	binary.LittleEndian.PutUint16(buf[13:15], req.ClusterID)
	buf[15] = req.DstEP
	buf[16] = req.SrcEP
	buf[17] = req.Radius
	if buf[17] == 0 {
		buf[17] = defaultRadius
	}
	switch req.Mode {
	case AddrGroup:
		buf[18] = uint8(AddrGroup)
		buf[19] = txOptNoAPSAck
	case AddrBroadcast:
		buf[18] = uint8(AddrShort)
		buf[19] = txOptNoAPSAck
	default:
		buf[18] = uint8(AddrShort)
		buf[19] = txOptAPSAck
	}
	if req.Alias != nil {
		buf[20] = 0x01
		binary.LittleEndian.PutUint16(buf[21:23], req.Alias.Addr)
		buf[23] = req.Alias.Seq
	}
	copy(buf[fixedLen:], req.Frame)
	return buf
}

// apsHeaderSize is the fixed part of APSDE_DATA_IND:
// param_len(1) + data_len(2) + aps_fc(1) + src_nwk_addr(2) + dst_nwk_addr(2) +
// group_addr(2) + dst_endpoint(1) + src_endpoint(1) + cluster_id(2) +
// profile_id(2) + aps_counter(1) + src_mac_addr(2) + dst_mac_addr(2) +
// lqi(1) + rssi(1) + aps_key_attr(1)
const apsHeaderSize = 24

// parseAPSDEDataInd decodes an APSDE_DATA_IND payload.
func parseAPSDEDataInd(p []byte) (ClusterCommandEvent, error) {
	if len(p) < apsHeaderSize {
		return ClusterCommandEvent{}, fmt.Errorf("apsde ind: %w (%d bytes)", errShortPayload, len(p))
	}
	dataLen := int(binary.LittleEndian.Uint16(p[1:3]))
	if len(p) < apsHeaderSize+dataLen {
		return ClusterCommandEvent{}, fmt.Errorf("apsde ind: data truncated: need %d, have %d", apsHeaderSize+dataLen, len(p))
	}
	return ClusterCommandEvent{
		Delivery:  Delivery((p[3] >> 2) & 0x03),
		SrcAddr:   binary.LittleEndian.Uint16(p[4:6]),
		DstAddr:   binary.LittleEndian.Uint16(p[6:8]),
		GroupAddr: binary.LittleEndian.Uint16(p[8:10]),
		DstEP:     p[10],
		SrcEP:     p[11],
		ClusterID: binary.LittleEndian.Uint16(p[12:14]),
		ProfileID: binary.LittleEndian.Uint16(p[14:16]),
		LQI:       p[21],
		RSSI:      int8(p[22]),
		Frame:     append([]byte(nil), p[apsHeaderSize:apsHeaderSize+dataLen]...),
	}, nil
}

// buildDevAnnce builds the ZDP Device_annce payload.
func buildDevAnnce(seq uint8, nwk uint16, ieee [8]byte) []byte {
	buf := make([]byte, 12)
	buf[0] = seq
	binary.LittleEndian.PutUint16(buf[1:3], nwk)
	copy(buf[3:11], ieee[:])
	buf[11] = capabilityRouter
	return buf
}

// buildSimpleDescPayload builds AF_SET_SIMPLE_DESC payload.
func buildSimpleDescPayload(d SimpleDescriptor) []byte {
	buf := make([]byte, 8, 8+2*(len(d.InClusters)+len(d.OutClusters)))
	buf[0] = d.Endpoint
	binary.LittleEndian.PutUint16(buf[1:3], d.ProfileID)
	binary.LittleEndian.PutUint16(buf[3:5], d.DeviceID)
	buf[6] = uint8(len(d.InClusters))
	buf[7] = uint8(len(d.OutClusters))
	for _, c := range d.InClusters {
		buf = binary.LittleEndian.AppendUint16(buf, c)
	}
	for _, c := range d.OutClusters {
		buf = binary.LittleEndian.AppendUint16(buf, c)
	}
	return buf
}

// buildGroupReq builds the APSME add/remove group payload: group(2) + ep(1).
func buildGroupReq(group uint16, ep uint8) []byte {
	return []byte{byte(group), byte(group >> 8), ep}
}

// appendGpdID appends the GPD identifier for an application id: a 4-byte
// SrcID, or an 8-byte IEEE address followed by the endpoint.
func appendGpdID(buf []byte, app uint8, srcID uint32, ieee [8]byte, ep uint8) []byte {
	if app == appIEEE {
		buf = append(buf, ieee[:]...)
		return append(buf, ep)
	}
	return binary.LittleEndian.AppendUint32(buf, srcID)
}

func readGpdID(p []byte, app uint8) (srcID uint32, ieee [8]byte, ep uint8, n int, err error) {
	if app == appIEEE {
		if len(p) < 9 {
			return 0, ieee, 0, 0, errShortPayload
		}
		copy(ieee[:], p[:8])
		return 0, ieee, p[8], 9, nil
	}
	if len(p) < 4 {
		return 0, ieee, 0, 0, errShortPayload
	}
	return binary.LittleEndian.Uint32(p), ieee, 0, 4, nil
}

// buildGPDataReq encodes a GP-DATA.request:
// options(1) + [gpdId] + cmd(1) + len(1) + payload + lifetime(3) + handle(1).
// options: bit0 action, bit1 useGpTxQueue, bits2-4 appId.
func buildGPDataReq(r GPDataRequest) []byte {
	var opts uint8
	if r.Action {
		opts |= 0x01
	}
	if r.UseGpTxQueue {
		opts |= 0x02
	}
	opts |= (r.AppID & 0x07) << 2
	buf := []byte{opts}
	buf = appendGpdID(buf, r.AppID, r.SrcID, r.IEEE, r.Endpoint)
	buf = append(buf, r.CommandID, uint8(len(r.Payload)))
	buf = append(buf, r.Payload...)
	buf = append(buf, byte(r.Lifetime), byte(r.Lifetime>>8), byte(r.Lifetime>>16))
	return append(buf, r.Handle)
}

// parseGPDataInd decodes a GP-DATA.indication:
// options(1) + status(1) + [gpdId] + secLevel(1) + keyType(1) +
// frameCounter(4) + mic(4) + srcAddr(2) + seq(1) + rssi(1) + lqi(1) +
// cmd(1) + len(1) + payload.
// options: bits0-2 appId, bit3 rxAfterTx, bit4 autoCommissioning,
// bits5-6 frame type.
func parseGPDataInd(p []byte) (GPDataIndication, error) {
	var ind GPDataIndication
	if len(p) < 2 {
		return ind, fmt.Errorf("gp data ind: %w", errShortPayload)
	}
	opts := p[0]
	ind.AppID = opts & 0x07
	ind.RxAfterTx = opts&0x08 != 0
	ind.AutoCommissioning = opts&0x10 != 0
	ind.FrameType = (opts >> 5) & 0x03
	ind.Status = p[1]
	srcID, ieee, ep, n, err := readGpdID(p[2:], ind.AppID)
	if err != nil {
		return ind, fmt.Errorf("gp data ind: %w", err)
	}
	ind.SrcID, ind.IEEE, ind.Endpoint = srcID, ieee, ep
	p = p[2+n:]
	if len(p) < 17 {
		return ind, fmt.Errorf("gp data ind: %w", errShortPayload)
	}
	ind.SecLevel = p[0]
	ind.KeyType = p[1]
	ind.FrameCounter = binary.LittleEndian.Uint32(p[2:6])
	ind.MIC = binary.LittleEndian.Uint32(p[6:10])
	ind.SrcAddr = binary.LittleEndian.Uint16(p[10:12])
	ind.SeqNum = p[12]
	ind.RSSI = int8(p[13])
	ind.LQI = p[14]
	ind.CommandID = p[15]
	plen := int(p[16])
	if len(p) < 17+plen {
		return ind, fmt.Errorf("gp data ind: payload truncated: need %d, have %d", plen, len(p)-17)
	}
	ind.Payload = append([]byte(nil), p[17:17+plen]...)
	return ind, nil
}

// parseGPSecReq decodes a GP-SEC.request:
// options(1) + handle(1) + [gpdId] + frameCounter(4).
// options: bits0-2 appId, bit3 keyType, bits4-5 security level.
func parseGPSecReq(p []byte) (GPSecRequest, error) {
	var req GPSecRequest
	if len(p) < 2 {
		return req, fmt.Errorf("gp sec req: %w", errShortPayload)
	}
	req.AppID = p[0] & 0x07
	req.KeyType = (p[0] >> 3) & 0x01
	req.SecLevel = (p[0] >> 4) & 0x03
	req.Handle = p[1]
	srcID, ieee, ep, n, err := readGpdID(p[2:], req.AppID)
	if err != nil {
		return req, fmt.Errorf("gp sec req: %w", err)
	}
	req.SrcID, req.IEEE, req.Endpoint = srcID, ieee, ep
	p = p[2+n:]
	if len(p) < 4 {
		return req, fmt.Errorf("gp sec req: %w", errShortPayload)
	}
	req.FrameCounter = binary.LittleEndian.Uint32(p)
	return req, nil
}

// buildGPSecRsp encodes a GP-SEC.response:
// handle(1) + status(1) + keyType(1) + secLevel(1) + key(16).
func buildGPSecRsp(r GPSecResponse) []byte {
	buf := []byte{r.Handle, r.Status, r.KeyType, r.SecLevel}
	return append(buf, r.Key[:]...)
}
