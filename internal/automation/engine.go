//go:build !no_automation

package automation

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"psila-go/internal/capture"
)

// runTimeout bounds a one-shot script run.
const runTimeout = 5 * time.Second

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Source is the capture a script observes and drives.
type Source interface {
	Bus() *capture.Bus
	Stats() capture.Stats
	RequestEnergyScan(ctx context.Context) error
	SetChannel(ctx context.Context, channel uint8) error
	Transmit(ctx context.Context, frame []byte) error
}

// luaEventHandler is a callback registered with psila.on.
type luaEventHandler struct {
	kind    string
	layer   string // only frames decoded to this layer (empty = any)
	minLQI  int    // only frames at or above this LQI
	channel int    // only energy reports for this channel (0 = any)
	fn      *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	id       string
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
}

// Engine runs frame filter scripts against capture events.
type Engine struct {
	source  Source
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

// NewEngine creates an automation engine.
func NewEngine(source Source, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		source:  source,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to capture events and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.source.Bus().On("", e.dispatchEvent)

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

	e.mu.Lock()
	running := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", running)
}

// Stop cancels all VMs and unsubscribes from capture events.
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

// Running lists the ids of the scripts with a live VM.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	return ids
}

// ReloadScript stops the old VM (if any) and starts the saved version.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("automation: get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript runs a saved script once in a throwaway VM.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: "script not found: " + err.Error(), Duration: time.Since(start).String()}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode runs code in a throwaway VM, then calls every handler it
// registered once with a synthetic event. Log output is collected.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	vm := &scriptVM{
		id:       "run",
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}

	var logs []string
	var logMu sync.Mutex
	collect := func(line string) {
		logMu.Lock()
		logs = append(logs, line)
		logMu.Unlock()
	}

	registerPsilaModule(L, vm, e)
	registerSystemModule(L, e)
	overrideLog(L, "psila", func(L *lua.LState) int {
		collect(L.CheckString(1))
		return 0
	})
	overrideLog(L, "system", func(L *lua.LState) int {
		collect("[" + L.CheckString(1) + "] " + L.CheckString(2))
		return 0
	})

	fail := func(err error) *RunResult {
		msg := err.Error()
		if strings.Contains(msg, "context deadline exceeded") {
			msg = "timeout (5s)"
		}
		e.logger.Warn("script run failed", "err", msg)
		return &RunResult{OK: false, Error: msg, Logs: logs, Duration: time.Since(start).String()}
	}

	if err := L.DoString(code); err != nil {
		return fail(err)
	}

	vm.mu.Lock()
	handlers := append([]luaEventHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for _, h := range handlers {
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, goToLua(L, syntheticEvent(h))); err != nil {
			return fail(err)
		}
	}

	dur := time.Since(start)
	e.logger.Debug("script run complete", "handlers", len(handlers), "logs", len(logs), "duration", dur)
	return &RunResult{OK: true, Logs: logs, Duration: dur.String()}
}

// syntheticEvent is the event a handler receives on a trial run.
func syntheticEvent(h luaEventHandler) map[string]any {
	ev := map[string]any{"type": h.kind}
	switch capture.Kind(h.kind) {
	case capture.EventPacket, capture.EventDecodeError:
		layer := h.layer
		if layer == "" {
			layer = "mac"
		}
		ev["layer"] = layer
		ev["lqi"] = 255
		ev["seq"] = 0
		ev["frame"] = ""
	case capture.EventEnergy:
		ch := h.channel
		if ch == 0 {
			ch = 11
		}
		ev["channel"] = ch
		ev["level"] = 0
	}
	return ev
}

func overrideLog(L *lua.LState, module string, fn lua.LGFunction) {
	if tbl, ok := L.GetGlobal(module).(*lua.LTable); ok {
		tbl.RawSetString("log", L.NewFunction(fn))
	}
}

// newSandbox creates a Lua state without file, process or loader access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	L := newSandbox()

	vm := &scriptVM{
		id:       s.ID,
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerPsilaModule(L, vm, e)
	registerSystemModule(L, e)

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("automation: execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues ev on every VM with a matching handler.
func (e *Engine) dispatchEvent(ev capture.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	var fields map[string]any
	for _, vm := range vms {
		vm.mu.Lock()
		handlers := append([]luaEventHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, ev) {
				continue
			}
			if fields == nil {
				fields = eventFields(ev)
			}
			fn, data := h.fn, fields
			select {
			case <-vm.ctx.Done():
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, vm.id, fn, data) }:
			default:
				e.logger.Warn("script command channel full, dropping event", "id", vm.id, "type", ev.Kind)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, ev capture.Event) bool {
	if h.kind != string(ev.Kind) {
		return false
	}
	switch data := ev.Data.(type) {
	case *capture.Record:
		if h.layer != "" && data.Layer != h.layer {
			return false
		}
		if int(data.LQI) < h.minLQI {
			return false
		}
	case capture.Energy:
		if h.channel != 0 && int(data.Channel) != h.channel {
			return false
		}
	}
	return true
}

// eventFields flattens an event into the table handed to Lua. Frames are
// given as upper-case hex.
func eventFields(ev capture.Event) map[string]any {
	fields := make(map[string]any)
	if raw, err := json.Marshal(ev.Data); err == nil {
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil {
			fields = m
		}
	}
	if rec, ok := ev.Data.(*capture.Record); ok {
		fields["frame"] = strings.ToUpper(hex.EncodeToString(rec.Frame))
	}
	fields["type"] = string(ev.Kind)
	return fields
}

func (e *Engine) callHandler(L *lua.LState, id string, fn *lua.LFunction, fields map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "id", id, "err", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, goToLua(L, fields)); err != nil {
		e.logger.Error("lua handler error", "id", id, "err", err)
	}
}

// goToLua converts a Go value to a Lua value.
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
	case float64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
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
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
