// Package clusters defines the ZCL clusters a Green Power proxy and sink
// host exposes or translates GPD commands to.
package clusters

import "zigbee-go-gp/internal/zcl"

const rw = zcl.AccessRead | zcl.AccessWrite
const rr = zcl.AccessRead | zcl.AccessReport

var Basic = zcl.ClusterDef{
	ID:   0x0000,
	Name: "Basic",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "ZCLVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0001, Name: "ApplicationVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "HWVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0004, Name: "ManufacturerName", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0005, Name: "ModelIdentifier", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0007, Name: "PowerSource", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
	},
}

var Identify = zcl.ClusterDef{
	ID:   0x0003,
	Name: "Identify",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "IdentifyTime", Type: zcl.TypeUint16, Access: rw},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "Identify", Direction: zcl.DirectionToServer},
		{ID: 0x01, Name: "IdentifyQuery", Direction: zcl.DirectionToServer},
	},
}

// Groups is implemented by endpoints that join the groups GP translations
// and derived-group pairings are addressed to.
var Groups = zcl.ClusterDef{
	ID:   0x0004,
	Name: "Groups",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "NameSupport", Type: zcl.TypeBitmap8, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "AddGroup", Direction: zcl.DirectionToServer},
		{ID: 0x02, Name: "GetGroupMembership", Direction: zcl.DirectionToServer},
		{ID: 0x03, Name: "RemoveGroup", Direction: zcl.DirectionToServer},
		{ID: 0x04, Name: "RemoveAllGroups", Direction: zcl.DirectionToServer},
	},
}

var OnOff = zcl.ClusterDef{
	ID:   0x0006,
	Name: "On/Off",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "OnOff", Type: zcl.TypeBool, Access: rr},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "Off", Direction: zcl.DirectionToServer},
		{ID: 0x01, Name: "On", Direction: zcl.DirectionToServer},
		{ID: 0x02, Name: "Toggle", Direction: zcl.DirectionToServer},
	},
}

var LevelControl = zcl.ClusterDef{
	ID:   0x0008,
	Name: "Level Control",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "CurrentLevel", Type: zcl.TypeUint8, Access: rr},
		{ID: 0x0001, Name: "RemainingTime", Type: zcl.TypeUint16, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "MoveToLevel", Direction: zcl.DirectionToServer},
		{ID: 0x01, Name: "Move", Direction: zcl.DirectionToServer},
		{ID: 0x02, Name: "Step", Direction: zcl.DirectionToServer},
		{ID: 0x03, Name: "Stop", Direction: zcl.DirectionToServer},
		{ID: 0x04, Name: "MoveToLevelWithOnOff", Direction: zcl.DirectionToServer},
		{ID: 0x05, Name: "MoveWithOnOff", Direction: zcl.DirectionToServer},
		{ID: 0x06, Name: "StepWithOnOff", Direction: zcl.DirectionToServer},
		{ID: 0x07, Name: "StopWithOnOff", Direction: zcl.DirectionToServer},
	},
}

// Measurement clusters share the MeasuredValue/Min/Max layout.
func measurement(id uint16, name string, valueType uint8) zcl.ClusterDef {
	return zcl.ClusterDef{
		ID:   id,
		Name: name,
		Attributes: []zcl.AttributeDef{
			{ID: 0x0000, Name: "MeasuredValue", Type: valueType, Access: rr},
			{ID: 0x0001, Name: "MinMeasuredValue", Type: valueType, Access: zcl.AccessRead},
			{ID: 0x0002, Name: "MaxMeasuredValue", Type: valueType, Access: zcl.AccessRead},
		},
	}
}

var (
	Illuminance = measurement(0x0400, "Illuminance Measurement", zcl.TypeUint16)
	Temperature = measurement(0x0402, "Temperature Measurement", zcl.TypeInt16)
	Pressure    = measurement(0x0403, "Pressure Measurement", zcl.TypeInt16)
	Humidity    = measurement(0x0405, "Relative Humidity", zcl.TypeUint16)
)

var Occupancy = zcl.ClusterDef{
	ID:   0x0406,
	Name: "Occupancy Sensing",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "Occupancy", Type: zcl.TypeBitmap8, Access: rr},
		{ID: 0x0001, Name: "OccupancySensorType", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
	},
}

var GreenPower = zcl.ClusterDef{
	ID:   0x0021,
	Name: "Green Power",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "gpsMaxSinkTableEntries", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0001, Name: "SinkTable", Type: zcl.TypeOctetStr16, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "gpsCommunicationMode", Type: zcl.TypeBitmap8, Access: rw},
		{ID: 0x0003, Name: "gpsCommissioningExitMode", Type: zcl.TypeBitmap8, Access: rw},
		{ID: 0x0004, Name: "gpsCommissioningWindow", Type: zcl.TypeUint16, Access: rw},
		{ID: 0x0005, Name: "gpsSecurityLevel", Type: zcl.TypeBitmap8, Access: rw},
		{ID: 0x0006, Name: "gpsFunctionality", Type: zcl.TypeBitmap24, Access: zcl.AccessRead},
		{ID: 0x0007, Name: "gpsActiveFunctionality", Type: zcl.TypeBitmap24, Access: zcl.AccessRead},
		{ID: 0x0010, Name: "gppMaxProxyTableEntries", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0011, Name: "ProxyTable", Type: zcl.TypeOctetStr16, Access: zcl.AccessRead},
		{ID: 0x0016, Name: "gppFunctionality", Type: zcl.TypeBitmap24, Access: zcl.AccessRead},
		{ID: 0x0017, Name: "gppActiveFunctionality", Type: zcl.TypeBitmap24, Access: zcl.AccessRead},
		{ID: 0x0020, Name: "gpSharedSecurityKeyType", Type: zcl.TypeBitmap8, Access: rw},
		{ID: 0x0021, Name: "gpSharedSecurityKey", Type: zcl.TypeKey128, Access: rw},
		{ID: 0x0022, Name: "gpLinkKey", Type: zcl.TypeKey128, Access: rw},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "GpNotification", Direction: zcl.DirectionToServer},
		{ID: 0x01, Name: "GpPairingSearch", Direction: zcl.DirectionToServer},
		{ID: 0x03, Name: "GpTunnelingStop", Direction: zcl.DirectionToServer},
		{ID: 0x04, Name: "GpCommissioningNotification", Direction: zcl.DirectionToServer},
		{ID: 0x05, Name: "GpSinkCommissioningMode", Direction: zcl.DirectionToServer},
		{ID: 0x07, Name: "GpTranslationTableUpdate", Direction: zcl.DirectionToServer},
		{ID: 0x08, Name: "GpTranslationTableRequest", Direction: zcl.DirectionToServer},
		{ID: 0x09, Name: "GpPairingConfiguration", Direction: zcl.DirectionToServer},
		{ID: 0x0A, Name: "GpSinkTableRequest", Direction: zcl.DirectionToServer},
		{ID: 0x0B, Name: "GpProxyTableResponse", Direction: zcl.DirectionToServer},
		{ID: 0x00, Name: "GpNotificationResponse", Direction: zcl.DirectionToClient},
		{ID: 0x01, Name: "GpPairing", Direction: zcl.DirectionToClient},
		{ID: 0x02, Name: "GpProxyCommissioningMode", Direction: zcl.DirectionToClient},
		{ID: 0x06, Name: "GpResponse", Direction: zcl.DirectionToClient},
		{ID: 0x08, Name: "GpTranslationTableResponse", Direction: zcl.DirectionToClient},
		{ID: 0x0A, Name: "GpSinkTableResponse", Direction: zcl.DirectionToClient},
		{ID: 0x0B, Name: "GpProxyTableRequest", Direction: zcl.DirectionToClient},
	},
}

// All lists every cluster defined here.
func All() []zcl.ClusterDef {
	return []zcl.ClusterDef{
		Basic, Identify, Groups, OnOff, LevelControl,
		Illuminance, Temperature, Pressure, Humidity, Occupancy,
		GreenPower,
	}
}

// Register adds every cluster defined here to r.
func Register(r *zcl.Registry) {
	for _, c := range All() {
		r.Register(c)
	}
}
