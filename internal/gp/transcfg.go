package gp

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ZCL clusters and commands the default device classes translate to.
const (
	ClusterOnOff        uint16 = 0x0006
	ClusterLevelControl uint16 = 0x0008
	ClusterTemperature  uint16 = 0x0402

	zclOff           uint8 = 0x00
	zclOn            uint8 = 0x01
	zclToggle        uint8 = 0x02
	zclMove          uint8 = 0x01
	zclStep          uint8 = 0x02
	zclStop          uint8 = 0x03
	zclMoveWithOnOff uint8 = 0x05
	zclStepWithOnOff uint8 = 0x06
	zclStopWithOnOff uint8 = 0x07
)

// DeviceClassRow maps one GPD command of a device class to a ZCL command.
type DeviceClassRow struct {
	DeviceID   uint8   `yaml:"device_id"`
	GpdCommand uint8   `yaml:"gpd_command"`
	Cluster    uint16  `yaml:"cluster"`
	ZbCommand  uint8   `yaml:"zb_command"`
	Payload    []byte  `yaml:"payload,omitempty"`
	FromGPD    bool    `yaml:"from_gpd,omitempty"`
	Comment    *string `yaml:"comment,omitempty"`
}

func (r DeviceClassRow) payloadLen() uint8 {
	if r.FromGPD {
		return PayloadFromGPD
	}
	return uint8(len(r.Payload))
}

// accepts reports whether the row serves a command a GPD listed in its
// commissioning frame.
func (r DeviceClassRow) accepts(deviceID uint8, cluster uint16, cmd uint8) bool {
	if r.DeviceID != deviceID && deviceID != DevNotSpecific {
		return false
	}
	if r.Cluster != cluster && cluster != 0xFFFF {
		return false
	}
	return r.GpdCommand == cmd ||
		(r.GpdCommand == CmdAnySensorReport && cmd >= CmdAttrReport && cmd <= CmdManuMultiClusterRpt)
}

// DefaultDeviceClasses returns the built-in translation rows.
func DefaultDeviceClasses() []DeviceClassRow {
	return []DeviceClassRow{
		{DeviceID: DevTemperatureSensor, GpdCommand: CmdZCLTunneling, Cluster: ClusterTemperature, ZbCommand: zclCmdNone, FromGPD: true},
		{DeviceID: DevTemperatureSensor, GpdCommand: CmdAnySensorReport, Cluster: ClusterTemperature, ZbCommand: zclCmdReportAttr, FromGPD: true},

		{DeviceID: DevOnOffSwitch, GpdCommand: CmdOff, Cluster: ClusterOnOff, ZbCommand: zclOff},
		{DeviceID: DevOnOffSwitch, GpdCommand: CmdOn, Cluster: ClusterOnOff, ZbCommand: zclOn},
		{DeviceID: DevOnOffSwitch, GpdCommand: CmdToggle, Cluster: ClusterOnOff, ZbCommand: zclToggle},

		{DeviceID: DevLevelSwitch, GpdCommand: CmdMoveUp, Cluster: ClusterLevelControl, ZbCommand: zclMove, Payload: []byte{0x00, 0x14}},
		{DeviceID: DevLevelSwitch, GpdCommand: CmdMoveDown, Cluster: ClusterLevelControl, ZbCommand: zclMove, Payload: []byte{0x01, 0x14}},
		{DeviceID: DevLevelSwitch, GpdCommand: CmdStepUp, Cluster: ClusterLevelControl, ZbCommand: zclStep, Payload: []byte{0x00, 0x14, 0xFF, 0xFF}},
		{DeviceID: DevLevelSwitch, GpdCommand: CmdStepDown, Cluster: ClusterLevelControl, ZbCommand: zclStep, Payload: []byte{0x01, 0x14, 0xFF, 0xFF}},
		{DeviceID: DevLevelSwitch, GpdCommand: CmdLevelStop, Cluster: ClusterLevelControl, ZbCommand: zclStop},
		{DeviceID: DevLevelSwitch, GpdCommand: CmdMoveUpWithOnOff, Cluster: ClusterLevelControl, ZbCommand: zclMoveWithOnOff, Payload: []byte{0x00, 0x14}},
		{DeviceID: DevLevelSwitch, GpdCommand: CmdMoveDownWithOnOff, Cluster: ClusterLevelControl, ZbCommand: zclMoveWithOnOff, Payload: []byte{0x01, 0x14}},
		{DeviceID: DevLevelSwitch, GpdCommand: CmdStepUpWithOnOff, Cluster: ClusterLevelControl, ZbCommand: zclStepWithOnOff, Payload: []byte{0x00, 0x14, 0xFF, 0xFF}},
		{DeviceID: DevLevelSwitch, GpdCommand: CmdStepDownWithOnOff, Cluster: ClusterLevelControl, ZbCommand: zclStepWithOnOff, Payload: []byte{0x01, 0x14, 0xFF, 0xFF}},
	}
}

// deviceClassFile is the on-disk form of a device class override file:
//
//	replace: false
//	classes:
//	  - device_id: 0x02
//	    gpd_command: 0x22
//	    cluster: 0x0006
//	    zb_command: 0x02
type deviceClassFile struct {
	Replace bool             `yaml:"replace"`
	Classes []DeviceClassRow `yaml:"classes"`
}

// LoadDeviceClasses reads device class rows from YAML. Unless the file sets
// replace, its rows take precedence over the built-in ones and the
// built-in rows follow.
func LoadDeviceClasses(r io.Reader) ([]DeviceClassRow, error) {
	var f deviceClassFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse device classes: %w", err)
	}
	for i, row := range f.Classes {
		if len(row.Payload) > MaxTransPayload {
			return nil, fmt.Errorf("device class %d (device 0x%02X cmd 0x%02X): payload longer than %d bytes: %w",
				i, row.DeviceID, row.GpdCommand, MaxTransPayload, ErrInvalidField)
		}
	}
	if f.Replace {
		return f.Classes, nil
	}
	return append(f.Classes, DefaultDeviceClasses()...), nil
}
