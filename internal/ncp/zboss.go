package ncp

// ZBOSS NCP serial protocol: LL/HL frame codec, CRC8/CRC16, call IDs.

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// LL header layout: sig(2) + size(2) + type(1) + flags(1) + crc8(1).
const (
	sig0         = 0xDE
	sig1         = 0xAD
	llHeaderSize = 7
	bodyCRCSize  = 2
	llType       = 0x06
	maxFrameSize = 2048
)

// LL flags.
const (
	flagACK         = 0x01
	flagRetrans     = 0x02
	flagPktSeqShift = 2
	flagAckSeqShift = 4
	flagFirstFrag   = 0x40
	flagLastFrag    = 0x80
)

// HL packet types.
const (
	hlVersion    uint8 = 0x00
	hlRequest    uint8 = 0x00
	hlResponse   uint8 = 0x01
	hlIndication uint8 = 0x02
)

// Call IDs.
const (
	// NCP management
	callGetModuleVersion uint16 = 0x0001
	callNCPReset         uint16 = 0x0002
	callSetChannelMask   uint16 = 0x0007
	callGetChannel       uint16 = 0x0008
	callGetPanID         uint16 = 0x0009
	callGetLocalIEEE     uint16 = 0x000B
	callSetRxOnWhenIdle  uint16 = 0x0013
	callGetNwkKeys       uint16 = 0x001E
	callGetExtPanID      uint16 = 0x0023
	callNCPResetInd      uint16 = 0x002B

	// AF
	callAFSetSimpleDesc uint16 = 0x0101

	// ZDO
	callZDOPermitJoiningReq uint16 = 0x020B
	callZDODevAnnceInd      uint16 = 0x020C

	// APS
	callAPSDEDataReq     uint16 = 0x0301
	callAPSMEAddGroup    uint16 = 0x0304
	callAPSMERemoveGroup uint16 = 0x0305
	callAPSDEDataInd     uint16 = 0x0306

	// NWK
	callNwkGetShortByIEEE   uint16 = 0x0406
	callNwkStartWithoutForm uint16 = 0x041D

	// GP stub extensions
	callGPDataReq        uint16 = 0x0601
	callGPClearTxQueue   uint16 = 0x0602
	callGPSecRsp         uint16 = 0x0603
	callGPDataInd        uint16 = 0x0604
	callGPSecReqInd      uint16 = 0x0605
	callGPDataCnfInd     uint16 = 0x0606
	callGPSetTxChannel   uint16 = 0x0607
	callNwkAddrConflict  uint16 = 0x0608
	callNwkNewStochastic uint16 = 0x0609
)

var callNames = map[uint16]string{
	callGetModuleVersion:    "GET_MODULE_VERSION",
	callNCPReset:            "NCP_RESET",
	callSetChannelMask:      "SET_CHANNEL_MASK",
	callGetChannel:          "GET_CHANNEL",
	callGetPanID:            "GET_PAN_ID",
	callGetLocalIEEE:        "GET_LOCAL_IEEE",
	callSetRxOnWhenIdle:     "SET_RX_ON_WHEN_IDLE",
	callGetNwkKeys:          "GET_NWK_KEYS",
	callGetExtPanID:         "GET_EXT_PAN_ID",
	callNCPResetInd:         "NCP_RESET_IND",
	callAFSetSimpleDesc:     "AF_SET_SIMPLE_DESC",
	callZDOPermitJoiningReq: "ZDO_PERMIT_JOINING_REQ",
	callZDODevAnnceInd:      "ZDO_DEV_ANNCE_IND",
	callAPSDEDataReq:        "APSDE_DATA_REQ",
	callAPSMEAddGroup:       "APSME_ADD_GROUP",
	callAPSMERemoveGroup:    "APSME_RM_GROUP",
	callAPSDEDataInd:        "APSDE_DATA_IND",
	callNwkGetShortByIEEE:   "NWK_GET_SHORT_BY_IEEE",
	callNwkStartWithoutForm: "NWK_START_WITHOUT_FORMATION",
	callGPDataReq:           "GP_DATA_REQ",
	callGPClearTxQueue:      "GP_CLEAR_TX_QUEUE",
	callGPSecRsp:            "GP_SEC_RSP",
	callGPDataInd:           "GP_DATA_IND",
	callGPSecReqInd:         "GP_SEC_REQ_IND",
	callGPDataCnfInd:        "GP_DATA_CNF_IND",
	callGPSetTxChannel:      "GP_SET_TX_CHANNEL",
	callNwkAddrConflict:     "NWK_ADDR_CONFLICT",
	callNwkNewStochastic:    "NWK_NEW_STOCHASTIC_ADDR",
}

// callName returns a human-readable name for a call ID.
func callName(id uint16) string {
	if name, ok := callNames[id]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", id)
}

// Response status categories.
const (
	statusGeneric uint8 = 0x00
	statusMAC     uint8 = 0x02
	statusNWK     uint8 = 0x03
	statusAPS     uint8 = 0x04
	statusZDO     uint8 = 0x05
)

// statusName returns a human-readable status description.
func statusName(cat, code uint8) string {
	if cat == 0 && code == 0 {
		return "OK"
	}
	catName := "Generic"
	switch cat {
	case statusMAC:
		catName = "MAC"
	case statusNWK:
		catName = "NWK"
	case statusAPS:
		catName = "APS"
	case statusZDO:
		catName = "ZDO"
	}
	return fmt.Sprintf("%s/%d(0x%02X)", catName, code, code)
}

// hlHeader is the high-level header. TSN is present in requests and
// responses, the status pair only in responses.
type hlHeader struct {
	PacketType uint8
	CallID     uint16
	TSN        uint8
	StatusCat  uint8
	StatusCode uint8
}

// frame is a parsed ZBOSS NCP frame.
type frame struct {
	Flags   uint8
	HL      hlHeader
	Payload []byte
}

func (f *frame) isACK() bool   { return f.Flags&flagACK != 0 }
func (f *frame) pktSeq() uint8 { return (f.Flags >> flagPktSeqShift) & 0x03 }
func (f *frame) ackSeq() uint8 { return (f.Flags >> flagAckSeqShift) & 0x03 }

func (f *frame) ok() bool { return f.HL.StatusCat == 0 && f.HL.StatusCode == 0 }

// CRC-8/KOOP, reflected poly 0xB2, init and xorout 0xFF.
var crc8Table = makeTable8(0xB2)

// CRC-16/KERMIT, reflected poly 0x8408, init and xorout 0.
var fcsTable = makeTable16(0x8408)

func makeTable8(poly uint8) (t [256]uint8) {
	for i := range t {
		crc := uint8(i)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ poly
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}

func makeTable16(poly uint16) (t [256]uint16) {
	for i := range t {
		crc := uint16(i)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ poly
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}

func crc8(data []byte) uint8 {
	crc := uint8(0xFF)
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc ^ 0xFF
}

func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc>>8 ^ fcsTable[(crc^uint16(b))&0xFF]
	}
	return crc
}

// encodeRequest builds a complete frame for an HL request.
func encodeRequest(callID uint16, tsn, pktSeq uint8, payload []byte) []byte {
	hl := make([]byte, 5, 5+len(payload))
	hl[0] = hlVersion
	hl[1] = hlRequest
	binary.LittleEndian.PutUint16(hl[2:4], callID)
	hl[4] = tsn
	return encodeData(pktSeq, append(hl, payload...))
}

// encodeResponse builds a frame for an HL response. The NCP sends these;
// the host only needs them in tests.
func encodeResponse(callID uint16, tsn, pktSeq, cat, code uint8, payload []byte) []byte {
	hl := []byte{hlVersion, hlResponse, byte(callID), byte(callID >> 8), tsn, cat, code}
	return encodeData(pktSeq, append(hl, payload...))
}

// encodeIndication builds a frame for an HL indication.
func encodeIndication(callID uint16, pktSeq uint8, payload []byte) []byte {
	hl := []byte{hlVersion, hlIndication, byte(callID), byte(callID >> 8)}
	return encodeData(pktSeq, append(hl, payload...))
}

// encodeData wraps HL data in an LL data frame: the LL size counts itself,
// type, flags, crc8 and the CRC16-prefixed body.
func encodeData(pktSeq uint8, hl []byte) []byte {
	size := 5 + bodyCRCSize + len(hl)
	buf := make([]byte, 2+size)
	buf[0], buf[1] = sig0, sig1
	binary.LittleEndian.PutUint16(buf[2:4], uint16(size))
	buf[4] = llType
	buf[5] = flagFirstFrag | flagLastFrag | (pktSeq&0x03)<<flagPktSeqShift
	buf[6] = crc8(buf[2:6])
	binary.LittleEndian.PutUint16(buf[7:9], crc16(hl))
	copy(buf[9:], hl)
	return buf
}

// encodeACK builds an LL ACK frame (header only).
func encodeACK(ackSeq uint8) []byte {
	buf := []byte{sig0, sig1, 5, 0, llType, flagACK | (ackSeq&0x03)<<flagAckSeqShift, 0}
	buf[6] = crc8(buf[2:6])
	return buf
}

// decodeFrame parses one complete frame.
func decodeFrame(data []byte) (*frame, error) {
	if len(data) < llHeaderSize {
		return nil, fmt.Errorf("zboss: frame too short: %d bytes", len(data))
	}
	if data[0] != sig0 || data[1] != sig1 {
		return nil, fmt.Errorf("zboss: bad signature: 0x%02X%02X", data[0], data[1])
	}
	if got := crc8(data[2:6]); data[6] != got {
		return nil, fmt.Errorf("zboss: LL CRC8 mismatch: got 0x%02X, want 0x%02X", data[6], got)
	}
	if data[4] != llType {
		return nil, fmt.Errorf("zboss: unexpected LL type: 0x%02X", data[4])
	}
	size := int(binary.LittleEndian.Uint16(data[2:4]))
	if size+2 > len(data) {
		return nil, fmt.Errorf("zboss: frame truncated: need %d, have %d", size+2, len(data))
	}

	f := &frame{Flags: data[5]}
	if f.isACK() {
		return f, nil
	}

	body := data[llHeaderSize : 2+size]
	if len(body) < bodyCRCSize+4 {
		return nil, fmt.Errorf("zboss: body too short: %d bytes", len(body))
	}
	hl := body[bodyCRCSize:]
	if want, got := binary.LittleEndian.Uint16(body), crc16(hl); want != got {
		return nil, fmt.Errorf("zboss: body CRC16 mismatch: got 0x%04X, want 0x%04X", want, got)
	}

	f.HL.PacketType = hl[1]
	f.HL.CallID = binary.LittleEndian.Uint16(hl[2:4])
	pos := 4
	switch f.HL.PacketType {
	case hlRequest:
		if len(hl) < 5 {
			return nil, fmt.Errorf("zboss: request HL too short for TSN")
		}
		f.HL.TSN = hl[4]
		pos = 5
	case hlResponse:
		if len(hl) < 7 {
			return nil, fmt.Errorf("zboss: response HL too short")
		}
		f.HL.TSN = hl[4]
		f.HL.StatusCat = hl[5]
		f.HL.StatusCode = hl[6]
		pos = 7
	case hlIndication:
	default:
		return nil, fmt.Errorf("zboss: unknown HL packet type: 0x%02X", f.HL.PacketType)
	}
	if pos < len(hl) {
		f.Payload = append([]byte(nil), hl[pos:]...)
	}
	return f, nil
}

// readRawFrame reads one frame from r, skipping bytes until the
// signature. Garbage between frames is discarded.
func readRawFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != sig0 {
			continue
		}
		next, err := r.Peek(1)
		if err != nil {
			return nil, err
		}
		if next[0] != sig1 {
			continue
		}
		_, _ = r.ReadByte()

		var hdr [2]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		size := int(binary.LittleEndian.Uint16(hdr[:]))
		if size < 5 || size > maxFrameSize {
			continue
		}
		buf := make([]byte, 2+size)
		buf[0], buf[1] = sig0, sig1
		copy(buf[2:4], hdr[:])
		if _, err := io.ReadFull(r, buf[4:]); err != nil {
			return nil, err
		}
		return buf, nil
	}
}
