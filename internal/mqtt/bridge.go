//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/host"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
	Discovery   bool
}

// Controller is the part of the host runtime the bridge drives.
type Controller interface {
	Events() *host.EventBus
	SetCommissioning(ctx context.Context, on bool) error
	ToggleCommissioning(ctx context.Context) (bool, error)
	RemoveGPD(ctx context.Context, id gp.GpdID, ep uint8) error
	State(ctx context.Context) (gp.State, error)
	Tables(ctx context.Context) (*host.Tables, error)
}

// Bridge publishes GP events to MQTT and accepts commissioning and table
// commands.
type Bridge struct {
	client pahomqtt.Client
	ctrl   Controller
	prefix string
	cfg    Config
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	// pub is the publish path; tests replace it.
	pub func(topic string, payload []byte, retained bool)

	// stateKick coalesces gp/state refreshes.
	stateKick chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	devices map[string]map[string]any // gpd -> last state
}

func newBridge(ctrl Controller, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "zigbee-gp"
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		ctrl:      ctrl,
		prefix:    cfg.TopicPrefix,
		cfg:       cfg,
		logger:    logger.With("component", "mqtt"),
		ctx:       ctx,
		cancel:    cancel,
		stateKick: make(chan struct{}, 1),
		devices:   make(map[string]map[string]any),
	}
	b.pub = b.publish
	return b
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(ctrl Controller, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(ctrl, cfg, logger)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "zigbee-go-gp"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.topic("bridge/state"), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.pub(b.topic("bridge/state"), []byte("online"), true)
			b.subscribeCommands()
			b.kickState()
			if b.cfg.Discovery {
				go b.publishAllDiscovery()
			}
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to host events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.ctrl.Events().OnAll(b.handleEvent)
	b.wg.Add(1)
	go b.stateLoop()
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.wg.Wait()
	if b.client != nil {
		b.pub(b.topic("bridge/state"), []byte("offline"), true)
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) topic(suffix string) string {
	return b.prefix + "/" + suffix
}

// handleEvent runs on the host's event goroutine and must not wait on the
// GP core.
func (b *Bridge) handleEvent(event host.Event) {
	b.pub(b.topic("gp/event/"+event.Type), mustJSON(event), false)

	switch event.Type {
	case host.EventCommissioningMode, host.EventTableChanged:
		b.kickState()
	case host.EventCommand:
		b.handleCommand(event)
	case host.EventDeviceCommissioned:
		if b.cfg.Discovery {
			gpd, _ := event.Data["gpd"].(string)
			devID, _ := event.Data["device_id"].(int)
			for _, msg := range buildDiscovery(gpd, uint8(devID), b.prefix) {
				b.pub(msg.Topic, msg.Payload, true)
			}
		}
	case host.EventDeviceRemoved:
		gpd, _ := event.Data["gpd"].(string)
		if gpd == "" {
			return
		}
		if b.cfg.Discovery {
			for _, msg := range buildRemoveDiscovery(gpd) {
				b.pub(msg.Topic, msg.Payload, true)
			}
		}
		b.mu.Lock()
		delete(b.devices, gpd)
		b.mu.Unlock()
		b.pub(b.topic("gp/device/"+gpdTopicName(gpd)), nil, true)
	}
}

// handleCommand publishes the retained per-GPD state after a translated
// command.
func (b *Bridge) handleCommand(event host.Event) {
	gpd, _ := event.Data["gpd"].(string)
	if gpd == "" {
		return
	}
	cmd, _ := event.Data["gpd_command"].(int)

	b.mu.Lock()
	state, ok := b.devices[gpd]
	if !ok {
		state = make(map[string]any)
		b.devices[gpd] = state
	}
	state["action"] = actionName(uint8(cmd))
	state["gpd_command"] = cmd
	state["cluster"] = event.Data["cluster"]
	state["command"] = event.Data["command"]
	state["last_seen"] = event.Time.Format(time.RFC3339)
	payload := mustJSON(state)
	b.mu.Unlock()

	b.pub(b.topic("gp/device/"+gpdTopicName(gpd)), payload, true)
}

func (b *Bridge) kickState() {
	select {
	case b.stateKick <- struct{}{}:
	default:
	}
}

func (b *Bridge) stateLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.stateKick:
			b.publishState()
		}
	}
}

func (b *Bridge) publishState() {
	ctx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer cancel()
	st, err := b.ctrl.State(ctx)
	if err != nil {
		b.logger.Warn("read gp state", "err", err)
		return
	}
	b.pub(b.topic("gp/state"), mustJSON(st), true)
}

func (b *Bridge) publishAllDiscovery() {
	ctx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer cancel()
	tables, err := b.ctrl.Tables(ctx)
	if err != nil {
		b.logger.Error("list gpds for discovery", "err", err)
		return
	}
	for _, e := range tables.Sink {
		if !e.Complete {
			continue
		}
		for _, msg := range buildDiscovery(e.ID.String(), e.DeviceID, b.prefix) {
			b.pub(msg.Topic, msg.Payload, true)
		}
	}
}

func (b *Bridge) subscribeCommands() {
	b.client.Subscribe(b.topic("gp/commissioning/set"), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommissioningSet(msg.Payload())
	})
	b.client.Subscribe(b.topic("gp/remove"), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleRemove(msg.Payload())
	})
	b.client.Subscribe(b.topic("tables/get"), 1, func(_ pahomqtt.Client, _ pahomqtt.Message) {
		b.handleTablesGet()
	})
}

// commissioningRequest is the JSON form of a gp/commissioning/set payload.
type commissioningRequest struct {
	Action *bool `json:"action"`
}

// parseCommissioning reads ON, OFF, TOGGLE, true, false or
// {"action": bool}. toggle is set for TOGGLE.
func parseCommissioning(payload []byte) (on, toggle bool, err error) {
	s := strings.TrimSpace(string(payload))
	switch strings.ToUpper(s) {
	case "ON", "TRUE", "1":
		return true, false, nil
	case "OFF", "FALSE", "0":
		return false, false, nil
	case "TOGGLE":
		return false, true, nil
	}
	var req commissioningRequest
	if err := json.Unmarshal([]byte(s), &req); err != nil {
		return false, false, fmt.Errorf("invalid commissioning payload %q", s)
	}
	if req.Action == nil {
		return false, false, fmt.Errorf("commissioning payload has no action")
	}
	return *req.Action, false, nil
}

func (b *Bridge) handleCommissioningSet(payload []byte) {
	on, toggle, err := parseCommissioning(payload)
	if err != nil {
		b.logger.Warn("commissioning command", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	if toggle {
		_, err = b.ctrl.ToggleCommissioning(ctx)
	} else {
		err = b.ctrl.SetCommissioning(ctx, on)
	}
	if err != nil {
		b.logger.Warn("commissioning command failed", "err", err)
	}
}

// removeRequest is the JSON form of a gp/remove payload. A bare GPD id
// string is accepted too.
type removeRequest struct {
	GPD      string `json:"gpd"`
	Endpoint *int   `json:"endpoint"`
}

func parseRemove(payload []byte) (gp.GpdID, uint8, error) {
	s := strings.TrimSpace(string(payload))
	req := removeRequest{GPD: s}
	if strings.HasPrefix(s, "{") {
		if err := json.Unmarshal([]byte(s), &req); err != nil {
			return gp.GpdID{}, 0, fmt.Errorf("invalid remove payload: %w", err)
		}
	}
	id, err := host.ParseAnyGpdID(req.GPD)
	if err != nil {
		return gp.GpdID{}, 0, err
	}
	ep := uint8(0xFF)
	if req.Endpoint != nil {
		if *req.Endpoint < 0 || *req.Endpoint > 0xFF {
			return gp.GpdID{}, 0, fmt.Errorf("endpoint %d out of range", *req.Endpoint)
		}
		ep = uint8(*req.Endpoint)
	}
	return id, ep, nil
}

func (b *Bridge) handleRemove(payload []byte) {
	id, ep, err := parseRemove(payload)
	if err != nil {
		b.logger.Warn("remove command", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	if err := b.ctrl.RemoveGPD(ctx, id, ep); err != nil {
		b.logger.Warn("remove command failed", "gpd", id.String(), "err", err)
	}
}

func (b *Bridge) handleTablesGet() {
	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	tables, err := b.ctrl.Tables(ctx)
	if err != nil {
		b.logger.Warn("read gp tables", "err", err)
		return
	}
	b.pub(b.topic("tables"), mustJSON(tables), false)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// actionName names a GPD command for the per-device state topic.
func actionName(cmd uint8) string {
	switch {
	case cmd == 0x00:
		return "identify"
	case cmd >= 0x10 && cmd <= 0x17:
		return "recall_scene_" + strconv.Itoa(int(cmd-0x10))
	case cmd >= 0x18 && cmd <= 0x1F:
		return "store_scene_" + strconv.Itoa(int(cmd-0x18))
	}
	switch cmd {
	case gp.CmdOff:
		return "off"
	case gp.CmdOn:
		return "on"
	case gp.CmdToggle:
		return "toggle"
	case gp.CmdMoveUp, gp.CmdMoveUpWithOnOff:
		return "brightness_move_up"
	case gp.CmdMoveDown, gp.CmdMoveDownWithOnOff:
		return "brightness_move_down"
	case gp.CmdStepUp, gp.CmdStepUpWithOnOff:
		return "brightness_step_up"
	case gp.CmdStepDown, gp.CmdStepDownWithOnOff:
		return "brightness_step_down"
	case gp.CmdLevelStop:
		return "brightness_stop"
	case gp.CmdVectorPress:
		return "press"
	case gp.CmdVectorRelease:
		return "release"
	case gp.CmdAttrReport, gp.CmdManuAttrReport, gp.CmdMultiClusterReport, gp.CmdManuMultiClusterRpt, gp.CmdCompactAttrReport:
		return "report"
	}
	return fmt.Sprintf("cmd_0x%02x", cmd)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
