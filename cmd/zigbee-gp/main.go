package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"zigbee-go-gp/internal/console"
	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/host"
	"zigbee-go-gp/internal/ncp"
	"zigbee-go-gp/internal/store"
	"zigbee-go-gp/internal/web"
	"zigbee-go-gp/internal/zcl"
	"zigbee-go-gp/internal/zcl/clusters"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Serial struct {
		Type string `yaml:"type"` // "nrf52840"
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"serial"`
	Network struct {
		Channel      uint8  `yaml:"channel"`
		IEEE         string `yaml:"ieee"`
		ResetOnStart bool   `yaml:"reset_on_start"`
	} `yaml:"network"`
	GP        GPConfig           `yaml:"gp"`
	Endpoints map[uint8][]uint16 `yaml:"endpoints"`
	Web       struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
		Discovery   bool   `yaml:"discovery"`
	} `yaml:"mqtt"`
	Automation struct {
		ScriptsDir  string        `yaml:"scripts_dir"`
		CallTimeout time.Duration `yaml:"call_timeout"`
	} `yaml:"automation"`
	Console struct {
		Enabled     bool   `yaml:"enabled"`
		HistoryFile string `yaml:"history_file"`
	} `yaml:"console"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Database struct {
		Path      string `yaml:"path"`
		History   bool   `yaml:"history"`
		MaxEvents int    `yaml:"max_events"`
	} `yaml:"database"`
}

// GPConfig is the gp section: the GP attribute values, table sizes and
// security material.
type GPConfig struct {
	AppEndpoint         uint8         `yaml:"app_endpoint"`
	Proxy               bool          `yaml:"proxy"`
	Sink                bool          `yaml:"sink"`
	CommWindow          uint16        `yaml:"comm_window"`
	ExitMode            []string      `yaml:"exit_mode"`
	CommMode            string        `yaml:"comm_mode"`
	SecurityLevel       uint8         `yaml:"security_level"`
	ProtectWithLinkKey  bool          `yaml:"protect_with_link_key"`
	InvolveTC           bool          `yaml:"involve_tc"`
	SharedKeyType       string        `yaml:"shared_key_type"`
	SharedKey           string        `yaml:"shared_key"`
	LinkKey             string        `yaml:"link_key"`
	DuplicateTimeout    time.Duration `yaml:"duplicate_timeout"`
	MultiSensorTimeout  time.Duration `yaml:"multi_sensor_timeout"`
	MaxProxyEntries     int           `yaml:"max_proxy_entries"`
	MaxSinkEntries      int           `yaml:"max_sink_entries"`
	MaxTransEntries     int           `yaml:"max_trans_entries"`
	TranslationGroup    uint16        `yaml:"translation_group"`
	DeviceClasses       string        `yaml:"device_classes"`
	InvolveProxies      bool          `yaml:"involve_proxies"`
	AllowChannelRequest bool          `yaml:"allow_channel_request"`
}

var commModes = map[string]gp.CommMode{
	"full-unicast":          gp.CommModeFullUnicast,
	"derived-group":         gp.CommModeDerivedGroup,
	"precommissioned-group": gp.CommModePrecommGroup,
	"lightweight-unicast":   gp.CommModeLightweightUni,
}

var keyTypes = map[string]gp.KeyType{
	"none":               gp.KeyTypeNone,
	"nwk":                gp.KeyTypeNwk,
	"gpd-group":          gp.KeyTypeGpdGroup,
	"nwk-derived-group":  gp.KeyTypeNwkDerivedGroup,
	"out-of-box":         gp.KeyTypeOutOfBox,
	"derived-individual": gp.KeyTypeDerivedIndividual,
}

var exitModes = map[string]uint8{
	"window":         gp.ExitOnWindowExpiration,
	"first_pairing":  gp.ExitOnFirstPairing,
	"proxy_comm_off": gp.ExitOnProxyCommModeExit,
}

func (c *Config) validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if c.Network.Channel != 0 && (c.Network.Channel < 11 || c.Network.Channel > 26) {
		return fmt.Errorf("network.channel must be 11-26, got %d", c.Network.Channel)
	}
	if c.Network.IEEE != "" {
		if _, err := host.ParseIEEE(c.Network.IEEE); err != nil {
			return fmt.Errorf("network.ieee: %w", err)
		}
	}
	if !c.GP.Proxy && !c.GP.Sink {
		return fmt.Errorf("gp: at least one of proxy and sink must be enabled")
	}
	if c.GP.AppEndpoint == 0 || c.GP.AppEndpoint >= 0xF0 {
		return fmt.Errorf("gp.app_endpoint must be 1-239, got %d", c.GP.AppEndpoint)
	}
	if _, ok := commModes[c.GP.CommMode]; !ok {
		return fmt.Errorf("gp.comm_mode: unknown mode %q", c.GP.CommMode)
	}
	if _, ok := keyTypes[c.GP.SharedKeyType]; !ok {
		return fmt.Errorf("gp.shared_key_type: unknown key type %q", c.GP.SharedKeyType)
	}
	for _, m := range c.GP.ExitMode {
		if _, ok := exitModes[m]; !ok {
			return fmt.Errorf("gp.exit_mode: unknown flag %q", m)
		}
	}
	if c.GP.SecurityLevel > uint8(gp.SecLevelEncMIC) || c.GP.SecurityLevel == uint8(gp.SecLevelReserved) {
		return fmt.Errorf("gp.security_level must be 0, 2 or 3, got %d", c.GP.SecurityLevel)
	}
	if _, err := parseKey(c.GP.SharedKey); err != nil {
		return fmt.Errorf("gp.shared_key: %w", err)
	}
	if _, err := parseKey(c.GP.LinkKey); err != nil {
		return fmt.Errorf("gp.link_key: %w", err)
	}
	for _, n := range []int{c.GP.MaxProxyEntries, c.GP.MaxSinkEntries, c.GP.MaxTransEntries} {
		if n <= 0 || n > gp.MaxTableEntries {
			return fmt.Errorf("gp: table sizes must be 1-%d, got %d", gp.MaxTableEntries, n)
		}
	}
	for ep := range c.Endpoints {
		if ep == 0 || ep == gp.Endpoint || ep >= 0xF0 {
			return fmt.Errorf("endpoints: endpoint %d is reserved", ep)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// gpConfig converts the gp section. It assumes validate has passed.
func (c *Config) gpConfig() (gp.Config, error) {
	g := c.GP
	out := gp.DefaultConfig()
	out.AppEndpoint = g.AppEndpoint
	out.ProxyEnabled = g.Proxy
	out.SinkEnabled = g.Sink
	out.CommWindow = g.CommWindow
	out.CommMode = commModes[g.CommMode]
	out.SharedKeyType = keyTypes[g.SharedKeyType]
	out.MaxProxyEntries = g.MaxProxyEntries
	out.MaxSinkEntries = g.MaxSinkEntries
	out.MaxTransEntries = g.MaxTransEntries
	out.DuplicateTimeout = g.DuplicateTimeout
	out.MultiSensorTimeout = g.MultiSensorTimeout
	out.TranslationGroup = g.TranslationGroup

	out.ExitMode = 0
	for _, m := range g.ExitMode {
		out.ExitMode |= exitModes[m]
	}
	out.SecLevel = g.SecurityLevel
	if g.ProtectWithLinkKey {
		out.SecLevel |= gp.SecProtectWithLinkKey
	}
	if g.InvolveTC {
		out.SecLevel |= gp.SecInvolveTC
	}

	var err error
	if out.SharedKey, err = parseKey(g.SharedKey); err != nil {
		return out, fmt.Errorf("shared key: %w", err)
	}
	if out.LinkKey, err = parseKey(g.LinkKey); err != nil {
		return out, fmt.Errorf("link key: %w", err)
	}

	if g.DeviceClasses != "" {
		f, err := os.Open(g.DeviceClasses)
		if err != nil {
			return out, fmt.Errorf("open device classes: %w", err)
		}
		defer f.Close()
		if out.DeviceClasses, err = gp.LoadDeviceClasses(f); err != nil {
			return out, err
		}
	}
	return out, nil
}

// parseKey parses 32 hex digits, optionally separated by colons. An empty
// string yields the zero key.
func parseKey(s string) (gp.Key, error) {
	var k gp.Key
	s = strings.TrimPrefix(strings.ReplaceAll(s, ":", ""), "0x")
	if s == "" {
		return k, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("parse key: %w", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("parse key: want %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Log output moves to the console's writer once it is up.
	logOut := &logWriter{w: os.Stdout}
	logger := newLogger(cfg, logOut)
	slog.SetDefault(logger)
	logger.Info("zigbee-gp starting", "version", version)

	gpCfg, err := cfg.gpConfig()
	if err != nil {
		logger.Error("gp config", "err", err)
		os.Exit(1)
	}
	var ieee uint64
	if cfg.Network.IEEE != "" {
		ieee, _ = host.ParseIEEE(cfg.Network.IEEE)
	}

	// Initialize ZCL registry and the application endpoints the GP core
	// translates to.
	registry := zcl.NewRegistry(logger)
	clusters.Register(registry)
	for ep, servers := range cfg.Endpoints {
		registry.AddEndpoint(ep, servers)
	}
	logger.Info("ZCL registry initialized", "clusters", len(registry.All()), "endpoints", len(cfg.Endpoints))

	// Open store
	db, err := store.NewBoltStore(cfg.Database.Path, logger)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxEvents(cfg.Database.MaxEvents)

	backend, err := createNCP(cfg, logger)
	if err != nil {
		logger.Error("create NCP backend", "err", err)
		os.Exit(1)
	}
	defer backend.Close()

	events := host.NewEventBus(logger)
	rt, err := host.New(backend, db, registry, events, host.Config{
		GP:                  gpCfg,
		Channel:             cfg.Network.Channel,
		IEEE:                ieee,
		ResetOnStart:        cfg.Network.ResetOnStart,
		InvolveProxies:      cfg.GP.InvolveProxies,
		AllowChannelRequest: cfg.GP.AllowChannelRequest,
		History:             cfg.Database.History,
	}, host.NCPConfig{
		Type: cfg.Serial.Type,
		Port: cfg.Serial.Port,
		Baud: cfg.Serial.Baud,
	}, logger)
	if err != nil {
		logger.Error("create runtime", "err", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := rt.Start(startCtx); err != nil {
		logger.Error("start runtime", "err", err)
		cancel()
		backend.Close()
		os.Exit(1)
	}
	cancel()

	runCtx, stopRun := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := rt.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("gp runtime", "err", err)
		}
	}()

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(rt, cfg, logger)

	// Start web server
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(rt, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(rt, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var consoleDone chan struct{}
	if cfg.Console.Enabled {
		con, err := console.New(rt, console.Config{HistoryFile: cfg.Console.HistoryFile}, logger)
		if err != nil {
			logger.Error("console", "err", err)
		} else {
			logOut.set(con.Stdout())
			consoleDone = make(chan struct{})
			go func() {
				defer close(consoleDone)
				con.Run(ctx, stop)
			}()
		}
	}

	<-ctx.Done()
	stop()
	if consoleDone != nil {
		<-consoleDone
		logOut.set(os.Stdout)
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	stopRun()
	<-runDone

	logger.Info("goodbye")
}

func createNCP(cfg *Config, logger *slog.Logger) (*ncp.Serial, error) {
	switch cfg.Serial.Type {
	case "nrf52840", "":
		logger.Info("using nRF52840 NCP (ZBOSS)", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud)
		return ncp.Open(cfg.Serial.Port, cfg.Serial.Baud, logger)
	default:
		return nil, fmt.Errorf("unknown NCP type: %q (supported: nrf52840)", cfg.Serial.Type)
	}
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Serial.Baud = 460800
	cfg.Web.Listen = "127.0.0.1:8080"
	cfg.MQTT.TopicPrefix = "zigbee-gp"
	cfg.MQTT.ClientID = "zigbee-gp"
	cfg.MQTT.Discovery = true
	cfg.Automation.ScriptsDir = "scripts"
	cfg.Automation.CallTimeout = 5 * time.Second
	cfg.Console.HistoryFile = ".zigbee-gp_history"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Database.Path = "zigbee-gp.db"
	cfg.Database.History = true
	cfg.Database.MaxEvents = store.DefaultMaxEvents

	d := gp.DefaultConfig()
	cfg.GP = GPConfig{
		AppEndpoint:        d.AppEndpoint,
		Proxy:              d.ProxyEnabled,
		Sink:               d.SinkEnabled,
		CommWindow:         d.CommWindow,
		ExitMode:           []string{"window", "first_pairing"},
		CommMode:           d.CommMode.String(),
		SecurityLevel:      d.SecLevel,
		SharedKeyType:      "gpd-group",
		SharedKey:          hex.EncodeToString(d.SharedKey[:]),
		LinkKey:            hex.EncodeToString(d.LinkKey[:]),
		DuplicateTimeout:   d.DuplicateTimeout,
		MultiSensorTimeout: d.MultiSensorTimeout,
		MaxProxyEntries:    d.MaxProxyEntries,
		MaxSinkEntries:     d.MaxSinkEntries,
		MaxTransEntries:    d.MaxTransEntries,
		TranslationGroup:   d.TranslationGroup,
		InvolveProxies:     true,
	}
	return &cfg
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// logWriter lets the log destination change after the logger is built.
type logWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *logWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (l *logWriter) set(w io.Writer) {
	l.mu.Lock()
	l.w = w
	l.mu.Unlock()
}
