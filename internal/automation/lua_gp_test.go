//go:build !no_automation

package automation

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"zigbee-go-gp/internal/gp"
)

func TestGPState(t *testing.T) {
	e, _, ctrl := newTestEngine(t, Config{})
	ctrl.state = gp.State{SinkCommissioning: true, ProxyEntries: 2, SinkEntries: 1, TransEntries: 4, Commissioner: 0x1234}

	res := e.Run(`
local s = gp.state()
gp.log(tostring(s.sink_commissioning) .. " " .. s.proxy_entries .. " " .. s.sink_entries .. " " .. s.trans_entries .. " " .. s.commissioner)
`)
	if !res.OK {
		t.Fatal(res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "true 2 1 4 4660" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestGPToggleCommissioning(t *testing.T) {
	e, _, ctrl := newTestEngine(t, Config{})
	res := e.Run(`gp.log(tostring(gp.toggle_commissioning()))`)
	if !res.OK {
		t.Fatal(res.Error)
	}
	if res.Logs[0] != "true" {
		t.Errorf("toggle returned %q, want true", res.Logs[0])
	}
	if c := waitCall(t, ctrl.calls); c.op != "toggle" {
		t.Errorf("call = %+v", c)
	}
}

func TestGPRemove(t *testing.T) {
	e, _, ctrl := newTestEngine(t, Config{})

	res := e.Run(`gp.remove(0x12345678)`)
	if !res.OK {
		t.Fatal(res.Error)
	}
	c := waitCall(t, ctrl.calls)
	if c.id != gp.SrcID(0x12345678) || c.ep != 0xFF {
		t.Errorf("call = %+v, want src 0x12345678 ep 0xFF", c)
	}

	res = e.Run(`gp.remove("00124B0001020304", 1)`)
	if !res.OK {
		t.Fatal(res.Error)
	}
	c = waitCall(t, ctrl.calls)
	if c.id != gp.IEEE(0x00124B0001020304) || c.ep != 1 {
		t.Errorf("call = %+v", c)
	}

	for _, code := range []string{`gp.remove(-1)`, `gp.remove("zz")`, `gp.remove({})`, `gp.remove(1, 300)`} {
		if res := e.Run(code); res.OK {
			t.Errorf("Run(%q) succeeded", code)
		}
	}
}

func TestGPRemoveReportsError(t *testing.T) {
	e, _, ctrl := newTestEngine(t, Config{})
	ctrl.remErr = fmt.Errorf("remove: %w", errors.New("not found"))

	res := e.Run(`
local ok, err = gp.remove(1)
gp.log(tostring(ok) .. ":" .. err)
`)
	if !res.OK {
		t.Fatal(res.Error)
	}
	if res.Logs[0] != "false:remove: not found" {
		t.Errorf("log = %q", res.Logs[0])
	}
}

func TestGPOnArguments(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})

	if res := e.Run(`gp.on("gp_command", function(ev) end)`); !res.OK || res.Handlers != 1 {
		t.Errorf("two-arg form: %+v", res)
	}
	if res := e.Run(`gp.on("gp_command", {}, function(ev) end)`); !res.OK || res.Handlers != 1 {
		t.Errorf("three-arg form: %+v", res)
	}
	if res := e.Run(`gp.on("gp_command", "nope", function() end)`); res.OK {
		t.Error("expected error for non-table filter")
	}

	res := e.Run(`for i = 1, 101 do gp.on("x", function() end) end`)
	if res.OK || !strings.Contains(res.Error, "too many handlers") {
		t.Errorf("result = %+v, want too many handlers", res)
	}
}
