//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/host"
)

type published struct {
	Topic    string
	Payload  []byte
	Retained bool
}

type fakeController struct {
	events *host.EventBus

	mu       sync.Mutex
	commSets []bool
	toggles  int
	removed  []gp.GpdID
	eps      []uint8
	state    gp.State
	tables   host.Tables
}

func (f *fakeController) Events() *host.EventBus { return f.events }

func (f *fakeController) SetCommissioning(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commSets = append(f.commSets, on)
	f.state.SinkCommissioning = on
	return nil
}

func (f *fakeController) ToggleCommissioning(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	f.state.SinkCommissioning = !f.state.SinkCommissioning
	return f.state.SinkCommissioning, nil
}

func (f *fakeController) RemoveGPD(_ context.Context, id gp.GpdID, ep uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	f.eps = append(f.eps, ep)
	return nil
}

func (f *fakeController) State(context.Context) (gp.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeController) Tables(context.Context) (*host.Tables, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables
	return &t, nil
}

func newTestBridge(t *testing.T, discovery bool) (*Bridge, *fakeController, chan published) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := &fakeController{events: host.NewEventBus(logger)}
	b := newBridge(ctrl, Config{TopicPrefix: "zigbee-gp", Discovery: discovery}, logger)
	out := make(chan published, 64)
	b.pub = func(topic string, payload []byte, retained bool) {
		out <- published{Topic: topic, Payload: payload, Retained: retained}
	}
	return b, ctrl, out
}

func waitTopic(t *testing.T, out chan published, topic string) published {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-out:
			if p.Topic == topic {
				return p
			}
		case <-deadline:
			t.Fatalf("nothing published on %s", topic)
			return published{}
		}
	}
}

func TestEventPublished(t *testing.T) {
	b, _, out := newTestBridge(t, false)
	b.handleEvent(host.Event{ID: "e1", Type: host.EventNotification, Data: map[string]any{"gpd": "0x12345678"}})

	p := waitTopic(t, out, "zigbee-gp/gp/event/gp_notification")
	if p.Retained {
		t.Error("event published retained")
	}
	var ev host.Event
	if err := json.Unmarshal(p.Payload, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.ID != "e1" || ev.Data["gpd"] != "0x12345678" {
		t.Errorf("event = %+v", ev)
	}
}

func TestCommandUpdatesDeviceState(t *testing.T) {
	b, _, out := newTestBridge(t, false)
	b.handleEvent(host.Event{
		Type: host.EventCommand,
		Time: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Data: map[string]any{"gpd": "0x12345678", "gpd_command": 0x21, "cluster": 6, "command": 1},
	})

	p := waitTopic(t, out, "zigbee-gp/gp/device/gpd_12345678")
	if !p.Retained {
		t.Error("device state not retained")
	}
	var state map[string]any
	if err := json.Unmarshal(p.Payload, &state); err != nil {
		t.Fatal(err)
	}
	if state["action"] != "on" {
		t.Errorf("action = %v, want on", state["action"])
	}
	if state["last_seen"] != "2024-05-01T10:00:00Z" {
		t.Errorf("last_seen = %v", state["last_seen"])
	}
}

func TestStateRefreshedOnCommissioningEvent(t *testing.T) {
	b, ctrl, out := newTestBridge(t, false)
	b.Start()
	defer b.Stop()

	ctrl.mu.Lock()
	ctrl.state = gp.State{SinkCommissioning: true, SinkEntries: 2}
	ctrl.mu.Unlock()
	ctrl.events.Emit(host.Event{Type: host.EventCommissioningMode, Data: map[string]any{"role": "sink", "active": true}})

	p := waitTopic(t, out, "zigbee-gp/gp/state")
	var st gp.State
	if err := json.Unmarshal(p.Payload, &st); err != nil {
		t.Fatal(err)
	}
	if !st.SinkCommissioning || st.SinkEntries != 2 {
		t.Errorf("state = %+v", st)
	}
}

func TestDiscoveryOnCommissionAndRemove(t *testing.T) {
	b, _, out := newTestBridge(t, true)
	b.handleEvent(host.Event{Type: host.EventDeviceCommissioned, Data: map[string]any{"gpd": "0x0000ABCD", "device_id": 2}})
	p := waitTopic(t, out, "homeassistant/event/gpd_0000abcd/action/config")
	if len(p.Payload) == 0 || !p.Retained {
		t.Errorf("discovery = %+v", p)
	}

	b.handleEvent(host.Event{Type: host.EventDeviceRemoved, Data: map[string]any{"gpd": "0x0000ABCD"}})
	p = waitTopic(t, out, "homeassistant/event/gpd_0000abcd/action/config")
	if p.Payload != nil {
		t.Errorf("removal payload = %q, want nil", p.Payload)
	}
	p = waitTopic(t, out, "zigbee-gp/gp/device/gpd_0000abcd")
	if p.Payload != nil || !p.Retained {
		t.Errorf("device state not cleared: %+v", p)
	}
}

func TestParseCommissioning(t *testing.T) {
	tests := []struct {
		payload    string
		on, toggle bool
		wantErr    bool
	}{
		{"ON", true, false, false},
		{"off", false, false, false},
		{"TOGGLE", false, true, false},
		{"true", true, false, false},
		{`{"action":true}`, true, false, false},
		{`{"action":false}`, false, false, false},
		{`{}`, false, false, true},
		{"maybe", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			on, toggle, err := parseCommissioning([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if on != tt.on || toggle != tt.toggle {
				t.Errorf("parseCommissioning(%q) = %v,%v want %v,%v", tt.payload, on, toggle, tt.on, tt.toggle)
			}
		})
	}
}

func TestCommissioningSet(t *testing.T) {
	b, ctrl, _ := newTestBridge(t, false)
	b.handleCommissioningSet([]byte(`{"action":true}`))
	b.handleCommissioningSet([]byte("TOGGLE"))
	b.handleCommissioningSet([]byte("garbage"))

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.commSets) != 1 || !ctrl.commSets[0] {
		t.Errorf("commSets = %v, want [true]", ctrl.commSets)
	}
	if ctrl.toggles != 1 {
		t.Errorf("toggles = %d, want 1", ctrl.toggles)
	}
}

func TestParseRemove(t *testing.T) {
	id, ep, err := parseRemove([]byte("0x12345678"))
	if err != nil {
		t.Fatal(err)
	}
	if id != gp.SrcID(0x12345678) || ep != 0xFF {
		t.Errorf("got %s ep %d", id, ep)
	}

	id, ep, err = parseRemove([]byte(`{"gpd":"00124B0001020304","endpoint":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if id != gp.IEEE(0x00124B0001020304) || ep != 3 {
		t.Errorf("got %s ep %d", id, ep)
	}

	if _, _, err := parseRemove([]byte(`{"gpd":"1","endpoint":300}`)); err == nil {
		t.Error("expected error for endpoint 300")
	}
	if _, _, err := parseRemove([]byte("xyz")); err == nil {
		t.Error("expected error for bad id")
	}
}

func TestRemoveCommand(t *testing.T) {
	b, ctrl, _ := newTestBridge(t, false)
	b.handleRemove([]byte("ABCD"))

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.removed) != 1 || ctrl.removed[0] != gp.SrcID(0xABCD) {
		t.Errorf("removed = %v", ctrl.removed)
	}
}

func TestTablesGet(t *testing.T) {
	b, ctrl, out := newTestBridge(t, false)
	ctrl.tables = host.Tables{Sink: []gp.SinkEntry{{ID: gp.SrcID(1), DeviceID: gp.DevOnOffSwitch, Complete: true}}}
	b.handleTablesGet()

	p := waitTopic(t, out, "zigbee-gp/tables")
	var got struct {
		Sink []map[string]any `json:"sink"`
	}
	if err := json.Unmarshal(p.Payload, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Sink) != 1 {
		t.Errorf("sink entries = %d, want 1", len(got.Sink))
	}
}

func TestActionName(t *testing.T) {
	tests := []struct {
		cmd  uint8
		want string
	}{
		{0x00, "identify"},
		{0x10, "recall_scene_0"},
		{0x1A, "store_scene_2"},
		{gp.CmdOff, "off"},
		{gp.CmdOn, "on"},
		{gp.CmdToggle, "toggle"},
		{gp.CmdMoveUpWithOnOff, "brightness_move_up"},
		{gp.CmdLevelStop, "brightness_stop"},
		{gp.CmdVectorPress, "press"},
		{gp.CmdCompactAttrReport, "report"},
		{0x7F, "cmd_0x7f"},
	}
	for _, tt := range tests {
		if got := actionName(tt.cmd); got != tt.want {
			t.Errorf("actionName(0x%02X) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}
