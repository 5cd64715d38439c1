//go:build !no_automation

package automation

import (
	"context"
	"time"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/host"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// registerGPModule installs the `gp` global table.
func registerGPModule(L *lua.LState, vm *scriptVM, e *Engine) {
	L.SetGlobal("gp", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"on":                   func(L *lua.LState) int { return gpOn(L, vm) },
		"commissioning":        func(L *lua.LState) int { return gpCommissioning(L, vm, e) },
		"toggle_commissioning": func(L *lua.LState) int { return gpToggleCommissioning(L, vm, e) },
		"remove":               func(L *lua.LState) int { return gpRemove(L, vm, e) },
		"state":                func(L *lua.LState) int { return gpState(L, vm, e) },
		"after":                func(L *lua.LState) int { return gpAfter(L, vm, e) },
		"log":                  func(L *lua.LState) int { return gpLog(L, vm, e) },
	}))
}

// gp.on(type, [filter], fn). type "*" matches every event; filter may
// hold gpd (string) and command (number).
func gpOn(L *lua.LState, vm *scriptVM) int {
	h := luaHandler{eventType: L.CheckString(1), command: -1}

	switch L.GetTop() {
	case 2:
		h.fn = L.CheckFunction(2)
	default:
		filter := L.CheckTable(2)
		h.fn = L.CheckFunction(3)
		if v := filter.RawGetString("gpd"); v != lua.LNil {
			h.gpd = v.String()
		}
		if v, ok := filter.RawGetString("command").(lua.LNumber); ok {
			h.command = int(v)
		}
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

func (e *Engine) callContext(vm *scriptVM) (context.Context, context.CancelFunc) {
	return context.WithTimeout(vm.ctx, e.cfg.CallTimeout)
}

// pushResult pushes true, or false plus the error message.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// gp.commissioning(on) -> ok, err
func gpCommissioning(L *lua.LState, vm *scriptVM, e *Engine) int {
	on := L.CheckBool(1)
	ctx, cancel := e.callContext(vm)
	defer cancel()
	return pushResult(L, e.ctrl.SetCommissioning(ctx, on))
}

// gp.toggle_commissioning() -> active, err
func gpToggleCommissioning(L *lua.LState, vm *scriptVM, e *Engine) int {
	ctx, cancel := e.callContext(vm)
	defer cancel()
	on, err := e.ctrl.ToggleCommissioning(ctx)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LBool(on))
	return 1
}

// gp.remove(id, [endpoint]) -> ok, err. A number is a SrcID; a string is
// parsed as a SrcID or a 16-digit IEEE address.
func gpRemove(L *lua.LState, vm *scriptVM, e *Engine) int {
	var id gp.GpdID
	switch v := L.CheckAny(1).(type) {
	case lua.LNumber:
		if v < 0 || v > 0xFFFFFFFF {
			L.ArgError(1, "src id out of range")
			return 0
		}
		id = gp.SrcID(uint32(v))
	case lua.LString:
		parsed, err := host.ParseAnyGpdID(string(v))
		if err != nil {
			L.ArgError(1, err.Error())
			return 0
		}
		id = parsed
	default:
		L.ArgError(1, "number or string expected")
		return 0
	}

	ep := L.OptInt(2, 0xFF)
	if ep < 0 || ep > 0xFF {
		L.ArgError(2, "endpoint must be 0-255")
		return 0
	}

	ctx, cancel := e.callContext(vm)
	defer cancel()
	return pushResult(L, e.ctrl.RemoveGPD(ctx, id, uint8(ep)))
}

// gp.state() -> table
func gpState(L *lua.LState, vm *scriptVM, e *Engine) int {
	ctx, cancel := e.callContext(vm)
	defer cancel()
	st, err := e.ctrl.State(ctx)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	t := L.NewTable()
	t.RawSetString("sink_commissioning", lua.LBool(st.SinkCommissioning))
	t.RawSetString("proxy_commissioning", lua.LBool(st.ProxyCommissioning))
	t.RawSetString("commissioner", lua.LNumber(st.Commissioner))
	t.RawSetString("proxy_entries", lua.LNumber(st.ProxyEntries))
	t.RawSetString("sink_entries", lua.LNumber(st.SinkEntries))
	t.RawSetString("trans_entries", lua.LNumber(st.TransEntries))
	L.Push(t)
	return 1
}

// gp.after(seconds, fn) runs fn later on the script's goroutine.
func gpAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	d := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		ok := vm.submit(func(L *lua.LState) {
			ctx, cancel := e.callContext(vm)
			defer cancel()
			L.SetContext(ctx)
			defer L.RemoveContext()
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "id", vm.id, "err", luaErrorString(err))
			}
		})
		if !ok {
			e.logger.Warn("after: script queue full", "id", vm.id)
		}
	}()
	return 0
}

// gp.log(msg)
func gpLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.logf != nil {
		vm.logf("info", msg)
		return 0
	}
	e.logger.Info("script log", "id", vm.id, "msg", msg)
	return 0
}
