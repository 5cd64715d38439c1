package host

import (
	"encoding/binary"
	"fmt"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/zcl"
)

// The methods below implement gp.AppHooks. They are called on the core's
// event loop, so events are queued rather than emitted inline.

func (r *Runtime) AllowChannelRequest(id gp.GpdID) bool {
	if !r.cfg.AllowChannelRequest {
		r.logger.Info("channel request refused", "gpd", id.String())
	}
	return r.cfg.AllowChannelRequest
}

func (r *Runtime) CommissioningModeChanged(role gp.Role, active bool) {
	r.emit(EventCommissioningMode, map[string]any{"role": string(role), "active": active})
}

func (r *Runtime) DeviceCommissioned(e gp.SinkEntry) {
	groups := make([]any, 0, len(e.Groups))
	for _, g := range e.Groups {
		groups = append(groups, int(g.GroupID))
	}
	r.logger.Info("gpd commissioned", "gpd", e.ID.String(), "device", fmt.Sprintf("0x%02X", e.DeviceID), "mode", e.Options.CommMode.String())
	r.emit(EventDeviceCommissioned, map[string]any{
		"gpd":       e.ID.String(),
		"app_id":    int(e.ID.App),
		"endpoint":  int(e.Endpoint),
		"device_id": int(e.DeviceID),
		"comm_mode": e.Options.CommMode.String(),
		"sec_level": int(e.SecLevel),
		"key_type":  int(e.KeyType),
		"groups":    groups,
	})
}

func (r *Runtime) DeviceRemoved(id gp.GpdID) {
	r.emit(EventDeviceRemoved, map[string]any{"gpd": id.String(), "app_id": int(id.App)})
}

func (r *Runtime) Translated(cmd gp.Command) {
	r.emit(EventCommand, commandData(cmd))
}

func (r *Runtime) TableChanged(item string) {
	r.emit(EventTableChanged, map[string]any{"item": item})
}

func commandData(cmd gp.Command) map[string]any {
	data := map[string]any{
		"gpd":          cmd.ID.String(),
		"app_id":       int(cmd.ID.App),
		"gpd_endpoint": int(cmd.GpdEndpoint),
		"gpd_command":  int(cmd.GpdCommand),
		"group":        int(cmd.Group),
		"endpoint":     int(cmd.Endpoint),
		"profile":      int(cmd.Profile),
		"cluster":      int(cmd.Cluster),
		"command":      int(cmd.CommandID),
		"global":       cmd.Global,
		"payload":      fmt.Sprintf("%X", cmd.Payload),
	}
	if cmd.Global && cmd.CommandID == zcl.FoundationReportAttributes {
		if attrs := reportValues(cmd.Payload); len(attrs) > 0 {
			data["attributes"] = attrs
		}
	}
	return data
}

// reportValues decodes a Report Attributes payload into plain values
// keyed by attribute id ("0x0000"). Records that fail to decode are
// skipped.
func reportValues(payload []byte) map[string]any {
	recs, _ := zcl.ParseReportAttributes(payload)
	out := make(map[string]any, len(recs))
	for _, rec := range recs {
		v, _, err := zcl.DecodeValue(rec.DataType, rec.Value)
		if err != nil {
			continue
		}
		out[fmt.Sprintf("0x%04X", rec.ID)] = plainValue(v)
	}
	return out
}

// plainValue narrows decoded ZCL values to int, float64, string and bool
// so event consumers see one numeric type.
func plainValue(v any) any {
	switch x := v.(type) {
	case uint8:
		return int(x)
	case uint16:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	case int8:
		return int(x)
	case int16:
		return int(x)
	case int32:
		return int(x)
	case float32:
		return float64(x)
	case [8]byte:
		return fmt.Sprintf("%016X", binary.LittleEndian.Uint64(x[:]))
	case []byte:
		return fmt.Sprintf("%X", x)
	}
	return v
}
