package ncp

import (
	"bufio"
	"bytes"
	"testing"
)

func TestCRC8(t *testing.T) {
	data := []byte{0x03, 0x00, 0x06, 0xC0}
	if crc8(data) != crc8(data) {
		t.Fatal("CRC8 not deterministic")
	}
	// init=0xFF, xorout=0xFF
	if got := crc8(nil); got != 0x00 {
		t.Errorf("crc8(nil) = 0x%02X, want 0x00", got)
	}
	if crc8([]byte{0x01}) == crc8([]byte{0x02}) {
		t.Error("crc8 does not distinguish single-byte inputs")
	}
}

func TestCRC16(t *testing.T) {
	// CRC-16/KERMIT check value.
	if got := crc16([]byte("123456789")); got != 0x2189 {
		t.Errorf("crc16(check) = 0x%04X, want 0x2189", got)
	}
	if got := crc16(nil); got != 0 {
		t.Errorf("crc16(nil) = 0x%04X, want 0", got)
	}
}

func TestEncodeDecodeRequest(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	raw := encodeRequest(callAPSDEDataReq, 42, 1, payload)
	if raw[0] != sig0 || raw[1] != sig1 {
		t.Fatalf("bad signature: 0x%02X%02X", raw[0], raw[1])
	}

	f, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if f.isACK() {
		t.Error("request decoded as ACK")
	}
	if f.HL.PacketType != hlRequest {
		t.Errorf("PacketType = %d, want %d", f.HL.PacketType, hlRequest)
	}
	if f.HL.CallID != callAPSDEDataReq {
		t.Errorf("CallID = 0x%04X, want 0x%04X", f.HL.CallID, callAPSDEDataReq)
	}
	if f.HL.TSN != 42 {
		t.Errorf("TSN = %d, want 42", f.HL.TSN)
	}
	if f.pktSeq() != 1 {
		t.Errorf("pktSeq = %d, want 1", f.pktSeq())
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("Payload = %X, want %X", f.Payload, payload)
	}
}

func TestEncodeDecodeResponse(t *testing.T) {
	raw := encodeResponse(callGetChannel, 7, 2, statusNWK, 0x11, []byte{0x00, 0x0F})
	f, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if f.HL.PacketType != hlResponse || f.HL.TSN != 7 {
		t.Errorf("header = %+v, want response tsn 7", f.HL)
	}
	if f.ok() {
		t.Error("ok() = true for NWK status")
	}
	if got := statusName(f.HL.StatusCat, f.HL.StatusCode); got != "NWK/17(0x11)" {
		t.Errorf("statusName = %q", got)
	}
	if !bytes.Equal(f.Payload, []byte{0x00, 0x0F}) {
		t.Errorf("Payload = %X", f.Payload)
	}
}

func TestEncodeDecodeIndication(t *testing.T) {
	raw := encodeIndication(callNCPResetInd, 3, []byte{0x02})
	f, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if f.HL.PacketType != hlIndication || f.HL.CallID != callNCPResetInd {
		t.Errorf("header = %+v", f.HL)
	}
	if f.pktSeq() != 3 {
		t.Errorf("pktSeq = %d, want 3", f.pktSeq())
	}
	if !bytes.Equal(f.Payload, []byte{0x02}) {
		t.Errorf("Payload = %X, want 02", f.Payload)
	}
}

func TestEncodeDecodeACK(t *testing.T) {
	raw := encodeACK(2)
	if len(raw) != llHeaderSize {
		t.Fatalf("ACK length = %d, want %d", len(raw), llHeaderSize)
	}
	f, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !f.isACK() {
		t.Error("isACK() = false")
	}
	if f.ackSeq() != 2 {
		t.Errorf("ackSeq = %d, want 2", f.ackSeq())
	}
}

func TestEncodeEmptyPayloadRequest(t *testing.T) {
	f, err := decodeFrame(encodeRequest(callGetModuleVersion, 1, 1, nil))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(f.Payload) != 0 {
		t.Errorf("Payload = %X, want empty", f.Payload)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	good := encodeRequest(callGetPanID, 1, 1, []byte{0x01})

	badSig := append([]byte(nil), good...)
	badSig[0] = 0x00

	badCRC8 := append([]byte(nil), good...)
	badCRC8[6] ^= 0xFF

	badCRC16 := append([]byte(nil), good...)
	badCRC16[len(badCRC16)-1] ^= 0xFF

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{sig0, sig1, 0x05}},
		{"bad signature", badSig},
		{"bad crc8", badCRC8},
		{"bad crc16", badCRC16},
		{"truncated", good[:len(good)-2]},
	}
	for _, tt := range tests {
		if _, err := decodeFrame(tt.data); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestReadRawFrameSkipsGarbage(t *testing.T) {
	first := encodeRequest(callGetChannel, 5, 1, []byte{0x01, 0x02})
	second := encodeACK(1)

	var stream []byte
	stream = append(stream, 0x00, sig0, 0x13, 0xFF)
	stream = append(stream, first...)
	stream = append(stream, 0x42)
	stream = append(stream, second...)

	r := bufio.NewReader(bytes.NewReader(stream))
	got, err := readRawFrame(r)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if !bytes.Equal(got, first) {
		t.Errorf("first frame = %X, want %X", got, first)
	}
	got, err = readRawFrame(r)
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Errorf("second frame = %X, want %X", got, second)
	}
	if _, err := readRawFrame(r); err == nil {
		t.Error("expected EOF after last frame")
	}
}

func TestCallName(t *testing.T) {
	if got := callName(callGPDataInd); got != "GP_DATA_IND" {
		t.Errorf("callName = %q, want GP_DATA_IND", got)
	}
	if got := callName(0x0F0F); got != "0x0F0F" {
		t.Errorf("callName(unknown) = %q, want 0x0F0F", got)
	}
}
