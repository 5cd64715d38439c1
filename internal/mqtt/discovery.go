//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"zigbee-go-gp/internal/gp"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/gpd_0000abcd/action/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	Topic             string   `json:"topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EventTypes        []string `json:"event_types,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// gpdTopicName turns a GPD id such as "0x0000ABCD" into a topic segment.
func gpdTopicName(gpd string) string {
	s := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(gpd, "0x"), "0X"))
	return "gpd_" + s
}

// deviceModel names a GPD device id.
func deviceModel(devID uint8) string {
	switch devID {
	case gp.DevSimple1StateSwitch:
		return "Simple Generic 1-state Switch"
	case gp.DevSimple2StateSwitch:
		return "Simple Generic 2-state Switch"
	case gp.DevOnOffSwitch:
		return "On/Off Switch"
	case gp.DevLevelSwitch:
		return "Level Control Switch"
	case gp.DevGeneric8Contact:
		return "Generic 8-contact Switch"
	case gp.DevTemperatureSensor:
		return "Temperature Sensor"
	case gp.DevNotSpecific:
		return "Manufacturer Specific"
	}
	return fmt.Sprintf("GPD 0x%02X", devID)
}

// isSwitch reports whether the device id belongs to the switch range.
func isSwitch(devID uint8) bool {
	return devID <= 0x0F
}

// switchActions lists the actions HA offers as event types for a switch.
func switchActions(devID uint8) []string {
	switch devID {
	case gp.DevOnOffSwitch:
		return []string{"on", "off", "toggle"}
	case gp.DevLevelSwitch:
		return []string{"on", "off", "toggle", "brightness_move_up", "brightness_move_down",
			"brightness_step_up", "brightness_step_down", "brightness_stop"}
	case gp.DevGeneric8Contact:
		return []string{"press", "release"}
	}
	return []string{"on", "off", "toggle", "press", "release"}
}

// buildDiscovery generates HA discovery messages for a commissioned GPD.
func buildDiscovery(gpd string, devID uint8, prefix string) []discoveryMsg {
	if gpd == "" {
		return nil
	}
	node := gpdTopicName(gpd)
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/gp/device/" + node
	dev := haDevice{
		Identifiers:  []string{"zigbee_gp_" + node},
		Manufacturer: "Green Power",
		Model:        deviceModel(devID),
		Name:         "GPD " + gpd,
		ViaDevice:    "zigbee_gp_bridge",
	}

	var msgs []discoveryMsg
	if isSwitch(devID) {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/event/%s/action/config", node),
			Payload: mustJSON(haDiscovery{
				Name:              dev.Name + " Action",
				UniqueID:          node + "_event",
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     `{ "event_type": "{{ value_json.action }}" }`,
				EventTypes:        switchActions(devID),
				Device:            dev,
			}),
		})
	}
	msgs = append(msgs, discoveryMsg{
		Topic: fmt.Sprintf("homeassistant/sensor/%s/action/config", node),
		Payload: mustJSON(haDiscovery{
			Name:              dev.Name + " Last Action",
			UniqueID:          node + "_action",
			StateTopic:        stateTopic,
			AvailabilityTopic: avail,
			ValueTemplate:     "{{ value_json.action }}",
			Icon:              "mdi:gesture-double-tap",
			Device:            dev,
		}),
	})
	msgs = append(msgs, discoveryMsg{
		Topic: fmt.Sprintf("homeassistant/sensor/%s/last_seen/config", node),
		Payload: mustJSON(haDiscovery{
			Name:              dev.Name + " Last Seen",
			UniqueID:          node + "_last_seen",
			StateTopic:        stateTopic,
			AvailabilityTopic: avail,
			ValueTemplate:     "{{ value_json.last_seen }}",
			DeviceClass:       "timestamp",
			Device:            dev,
		}),
	})
	return msgs
}

// buildRemoveDiscovery generates empty retained messages to remove a GPD from HA.
func buildRemoveDiscovery(gpd string) []discoveryMsg {
	node := gpdTopicName(gpd)
	components := []struct{ comp, obj string }{
		{"event", "action"},
		{"sensor", "action"},
		{"sensor", "last_seen"},
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, node, c.obj),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
