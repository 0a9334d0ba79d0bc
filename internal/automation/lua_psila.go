//go:build !no_automation

package automation

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"psila-go/internal/capture"
)

const (
	maxHandlersPerScript = 100

	deviceTimeout = 5 * time.Second
)

// registerPsilaModule registers the `psila` global table in a Lua state.
func registerPsilaModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"on":          func(L *lua.LState) int { return psilaOn(L, vm) },
		"log":         func(L *lua.LState) int { return psilaLog(L, vm, e) },
		"alert":       func(L *lua.LState) int { return psilaAlert(L, vm, e) },
		"after":       func(L *lua.LState) int { return psilaAfter(L, vm, e) },
		"stats":       func(L *lua.LState) int { return psilaStats(L, e) },
		"energy_scan": func(L *lua.LState) int { return psilaEnergyScan(L, vm, e) },
		"set_channel": func(L *lua.LState) int { return psilaSetChannel(L, vm, e) },
		"send":        func(L *lua.LState) int { return psilaSend(L, vm, e) },
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("psila", mod)
}

// psila.on(kind, [filter], callback)
//
// filter may hold layer, min_lqi and channel.
func psilaOn(L *lua.LState, vm *scriptVM) int {
	kind := L.CheckString(1)
	var filter *lua.LTable
	var fn *lua.LFunction
	if L.GetTop() >= 3 {
		filter = L.CheckTable(2)
		fn = L.CheckFunction(3)
	} else {
		fn = L.CheckFunction(2)
	}

	h := luaEventHandler{kind: kind, fn: fn}
	if filter != nil {
		if v := filter.RawGetString("layer"); v != lua.LNil {
			h.layer = v.String()
		}
		if n, ok := filter.RawGetString("min_lqi").(lua.LNumber); ok {
			h.minLQI = int(n)
		}
		if n, ok := filter.RawGetString("channel").(lua.LNumber); ok {
			h.channel = int(n)
		}
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()
	return 0
}

// psila.log(msg)
func psilaLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	e.logger.Info("script log", "id", vm.id, "msg", L.CheckString(1))
	return 0
}

// psila.alert(msg) publishes an alert event.
func psilaAlert(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Warn("script alert", "id", vm.id, "msg", msg)
	if e.source != nil {
		e.source.Bus().Publish(capture.Event{
			Kind: capture.EventAlert,
			Data: capture.Alert{Source: vm.id, Message: msg},
		})
	}
	return 0
}

// psila.after(seconds, callback)
func psilaAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "id", vm.id, "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full", "id", vm.id)
		}
	}()
	return 0
}

// psila.stats() returns the capture counters as a table.
func psilaStats(L *lua.LState, e *Engine) int {
	if e.source == nil {
		L.Push(L.NewTable())
		return 1
	}
	var fields map[string]any
	raw, _ := json.Marshal(e.source.Stats())
	_ = json.Unmarshal(raw, &fields)
	L.Push(goToLua(L, fields))
	return 1
}

// deviceCall runs a device request and pushes whether it succeeded.
func deviceCall(L *lua.LState, vm *scriptVM, e *Engine, what string, call func(ctx context.Context) error) int {
	if e.source == nil {
		L.Push(lua.LFalse)
		return 1
	}
	ctx, cancel := context.WithTimeout(vm.ctx, deviceTimeout)
	defer cancel()
	if err := call(ctx); err != nil {
		e.logger.Warn("script device request failed", "id", vm.id, "request", what, "err", err)
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

// psila.energy_scan()
func psilaEnergyScan(L *lua.LState, vm *scriptVM, e *Engine) int {
	return deviceCall(L, vm, e, "energy_scan", func(ctx context.Context) error {
		return e.source.RequestEnergyScan(ctx)
	})
}

// psila.set_channel(channel)
func psilaSetChannel(L *lua.LState, vm *scriptVM, e *Engine) int {
	ch := L.CheckInt(1)
	if ch < 0 || ch > 255 {
		L.ArgError(1, "channel must be 11-26")
		return 0
	}
	return deviceCall(L, vm, e, "set_channel", func(ctx context.Context) error {
		return e.source.SetChannel(ctx, uint8(ch))
	})
}

// psila.send(hex_frame)
func psilaSend(L *lua.LState, vm *scriptVM, e *Engine) int {
	arg := strings.ReplaceAll(L.CheckString(1), " ", "")
	frame, err := hex.DecodeString(arg)
	if err != nil || len(frame) == 0 {
		L.ArgError(1, "frame must be hex")
		return 0
	}
	return deviceCall(L, vm, e, "send", func(ctx context.Context) error {
		return e.source.Transmit(ctx, frame)
	})
}
