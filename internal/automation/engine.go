//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/host"

	lua "github.com/yuin/gopher-lua"
)

const (
	defaultCallTimeout = 5 * time.Second
	commandQueueLen    = 64
)

// Controller is the part of the host runtime scripts can drive.
type Controller interface {
	Events() *host.EventBus
	SetCommissioning(ctx context.Context, on bool) error
	ToggleCommissioning(ctx context.Context) (bool, error)
	RemoveGPD(ctx context.Context, id gp.GpdID, ep uint8) error
	State(ctx context.Context) (gp.State, error)
}

// Config tunes the engine.
type Config struct {
	// CallTimeout bounds each handler invocation and each call into the
	// runtime.
	CallTimeout time.Duration
}

// RunResult is the outcome of a one-shot script run.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Handlers int      `json:"handlers"`
	Duration string   `json:"duration"`
}

type luaHandler struct {
	eventType string
	gpd       string
	command   int // -1 matches any
	fn        *lua.LFunction
}

// scriptVM is one sandboxed Lua state. All access to state goes through
// the commands channel, drained by a single goroutine.
type scriptVM struct {
	id       string
	state    *lua.LState
	commands chan func(*lua.LState)
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	handlers []luaHandler

	// logf replaces logging for one-shot runs.
	logf func(level, msg string)
}

// Engine runs enabled scripts and feeds them host events.
type Engine struct {
	ctrl    Controller
	manager *Manager
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

// NewEngine creates an engine over the scripts of mgr.
func NewEngine(ctrl Controller, mgr *Manager, logger *slog.Logger, cfg Config) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Engine{
		ctrl:    ctrl,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		cfg:     cfg,
		now:     time.Now,
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to the event bus and starts every enabled script.
func (e *Engine) Start() {
	e.unsub = e.ctrl.Events().OnAll(e.dispatch)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}
	e.logger.Info("automation engine started", "scripts", e.Running())
}

// Stop stops all scripts and unsubscribes from the bus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// Running returns the number of running scripts.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.vms)
}

// ReloadScript restarts a script from disk. A disabled script is only
// stopped.
func (e *Engine) ReloadScript(id string) error {
	e.StopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return err
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script.
func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

// RunScript runs a stored script once; see Run.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Duration: "0s"}
	}
	return e.Run(s.Code)
}

// Run executes code in a throwaway VM, then calls every handler it
// registered once with a synthetic event built from the handler's filter.
// Log output is captured into the result.
func (e *Engine) Run(code string) *RunResult {
	start := e.now()
	res := &RunResult{Logs: []string{}}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
	defer cancel()

	var logMu sync.Mutex
	vm, err := e.newVM(ctx, cancel, "_run")
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer vm.state.Close()
	vm.logf = func(level, msg string) {
		logMu.Lock()
		defer logMu.Unlock()
		if level != "" && level != "info" {
			msg = "[" + level + "] " + msg
		}
		res.Logs = append(res.Logs, msg)
	}

	vm.state.SetContext(ctx)
	if err := vm.state.DoString(code); err != nil {
		res.Error = luaErrorString(err)
		res.Duration = e.now().Sub(start).String()
		return res
	}

	vm.mu.Lock()
	handlers := append([]luaHandler(nil), vm.handlers...)
	vm.mu.Unlock()
	res.Handlers = len(handlers)

	for _, h := range handlers {
		ev := host.Event{Type: h.eventType, Time: e.now(), Data: map[string]any{}}
		if h.gpd != "" {
			ev.Data["gpd"] = h.gpd
		}
		if h.command >= 0 {
			ev.Data["gpd_command"] = h.command
		}
		if err := vm.state.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, eventTable(vm.state, ev)); err != nil {
			res.Error = luaErrorString(err)
			break
		}
	}

	res.OK = res.Error == ""
	res.Duration = e.now().Sub(start).String()
	return res
}

// newVM builds a sandboxed state with the gp and system modules.
func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc, id string) (*scriptVM, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	if err := openSafeLibs(L); err != nil {
		L.Close()
		return nil, err
	}
	vm := &scriptVM{
		id:       id,
		state:    L,
		commands: make(chan func(*lua.LState), commandQueueLen),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerGPModule(L, vm, e)
	registerSystemModule(L, vm, e)
	return vm, nil
}

// openSafeLibs opens the base, table, string and math libraries and
// removes every way of loading code from outside the script.
func openSafeLibs(L *lua.LState) error {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("open %s: %w", lib.name, err)
		}
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm, err := e.newVM(ctx, cancel, s.ID)
	if err != nil {
		cancel()
		return err
	}

	loadCtx, loadCancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	vm.state.SetContext(loadCtx)
	err = vm.state.DoString(s.Code)
	vm.state.RemoveContext()
	loadCancel()
	if err != nil {
		cancel()
		vm.state.Close()
		return fmt.Errorf("execute script %s: %s", s.ID, luaErrorString(err))
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go vm.loop()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name, "handlers", vm.handlerCount())
	return nil
}

func (vm *scriptVM) loop() {
	defer vm.state.Close()
	for {
		select {
		case <-vm.ctx.Done():
			return
		case fn := <-vm.commands:
			fn(vm.state)
		}
	}
}

func (vm *scriptVM) handlerCount() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.handlers)
}

// submit queues fn on the VM without blocking.
func (vm *scriptVM) submit(fn func(*lua.LState)) bool {
	if vm.ctx.Err() != nil {
		return false
	}
	select {
	case vm.commands <- fn:
		return true
	default:
		return false
	}
}

// dispatch runs on the event bus goroutine and only queues work.
func (e *Engine) dispatch(ev host.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := append([]luaHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !h.matches(ev) {
				continue
			}
			fn := h.fn
			if !vm.submit(func(L *lua.LState) { e.call(vm, L, fn, ev) }) {
				e.logger.Warn("script queue full, event dropped", "id", vm.id, "type", ev.Type)
			}
		}
	}
}

func (h luaHandler) matches(ev host.Event) bool {
	if h.eventType != "*" && h.eventType != ev.Type {
		return false
	}
	if h.gpd != "" {
		gpd, _ := ev.Data["gpd"].(string)
		if !strings.EqualFold(normalizeGPD(gpd), normalizeGPD(h.gpd)) {
			return false
		}
	}
	if h.command >= 0 {
		cmd, ok := ev.Data["gpd_command"].(int)
		if !ok || cmd != h.command {
			return false
		}
	}
	return true
}

func normalizeGPD(s string) string {
	return strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
}

func (e *Engine) call(vm *scriptVM, L *lua.LState, fn *lua.LFunction, ev host.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "id", vm.id, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(vm.ctx, e.cfg.CallTimeout)
	defer cancel()
	L.SetContext(ctx)
	defer L.RemoveContext()

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, eventTable(L, ev)); err != nil {
		e.logger.Error("lua handler error", "id", vm.id, "type", ev.Type, "err", luaErrorString(err))
	}
}

// eventTable converts an event to {id, type, time, <data fields>}.
func eventTable(L *lua.LState, ev host.Event) *lua.LTable {
	t := L.NewTable()
	for k, v := range ev.Data {
		t.RawSetString(k, goToLua(L, v))
	}
	t.RawSetString("type", lua.LString(ev.Type))
	if ev.ID != "" {
		t.RawSetString("id", lua.LString(ev.ID))
	}
	if !ev.Time.IsZero() {
		t.RawSetString("time", lua.LNumber(ev.Time.Unix()))
	}
	return t
}

func luaErrorString(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "context deadline exceeded") {
		return "timeout"
	}
	return err.Error()
}

// goToLua converts event data to Lua values.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}
