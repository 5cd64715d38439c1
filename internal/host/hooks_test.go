package host

import (
	"testing"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/zcl"
)

func TestCommandDataDecodesReport(t *testing.T) {
	payload := zcl.EncodeReportAttributes([]zcl.Attribute{
		{ID: 0x0000, DataType: zcl.TypeInt16, Value: []byte{0x34, 0x08}},
		{ID: 0x0001, DataType: zcl.TypeBool, Value: []byte{0x01}},
	})
	data := commandData(gp.Command{
		ID:        gp.SrcID(0x42),
		Cluster:   0x0402,
		CommandID: zcl.FoundationReportAttributes,
		Global:    true,
		Payload:   payload,
	})

	attrs, ok := data["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes missing: %v", data)
	}
	if got := attrs["0x0000"]; got != 2100 {
		t.Errorf("0x0000 = %v (%T), want 2100", got, got)
	}
	if got := attrs["0x0001"]; got != true {
		t.Errorf("0x0001 = %v, want true", got)
	}
	if data["cluster"] != 0x0402 || data["gpd"] != "0x00000042" {
		t.Errorf("data = %v", data)
	}
}

func TestCommandDataClusterSpecific(t *testing.T) {
	data := commandData(gp.Command{ID: gp.SrcID(1), Cluster: 0x0006, CommandID: 0x0A, Payload: []byte{0x01}})
	if _, ok := data["attributes"]; ok {
		t.Error("cluster-specific command decoded as a report")
	}
	if data["payload"] != "01" {
		t.Errorf("payload = %v", data["payload"])
	}
}

func TestPlainValue(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{uint8(7), 7},
		{int16(-5), -5},
		{uint32(70000), 70000},
		{float32(1.5), 1.5},
		{[]byte{0xAB, 0x01}, "AB01"},
		{[8]byte{0x04, 0x03, 0x02, 0x01, 0x00, 0x4B, 0x12, 0x00}, "00124B0001020304"},
		{"text", "text"},
	}
	for _, tt := range tests {
		if got := plainValue(tt.in); got != tt.want {
			t.Errorf("plainValue(%v) = %v (%T), want %v", tt.in, got, got, tt.want)
		}
	}
}
