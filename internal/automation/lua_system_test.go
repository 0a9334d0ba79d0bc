//go:build !no_automation

package automation

import (
	"log/slog"
	"os"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newSystemState(t *testing.T, at time.Time) *lua.LState {
	t.Helper()
	now = func() time.Time { return at }
	t.Cleanup(func() { now = time.Now })

	L := lua.NewState()
	t.Cleanup(L.Close)
	registerSystemModule(L, &Engine{logger: testLogger()})
	return L
}

func TestSystemDatetime(t *testing.T) {
	L := newSystemState(t, time.Date(2026, time.March, 14, 22, 5, 9, 0, time.Local))

	tests := []struct {
		component string
		want      lua.LValue
	}{
		{"hour", lua.LNumber(22)},
		{"minute", lua.LNumber(5)},
		{"second", lua.LNumber(9)},
		{"weekday", lua.LNumber(time.Saturday)},
		{"day", lua.LNumber(14)},
		{"month", lua.LNumber(3)},
		{"year", lua.LNumber(2026)},
		{"time_str", lua.LString("22:05:09")},
		{"date_str", lua.LString("2026-03-14")},
	}
	for _, tt := range tests {
		t.Run(tt.component, func(t *testing.T) {
			L.SetGlobal("_comp", lua.LString(tt.component))
			if err := L.DoString(`_result = system.datetime(_comp)`); err != nil {
				t.Fatalf("system.datetime(%q) error: %v", tt.component, err)
			}
			if got := L.GetGlobal("_result"); got != tt.want {
				t.Errorf("system.datetime(%q) = %v, want %v", tt.component, got, tt.want)
			}
		})
	}
}

func TestSystemDatetimeUnknown(t *testing.T) {
	L := newSystemState(t, time.Now())
	if err := L.DoString(`system.datetime("fortnight")`); err == nil {
		t.Error("expected error for unknown component")
	}
}

func TestHourInRange(t *testing.T) {
	tests := []struct {
		hour, from, to int
		want           bool
	}{
		{10, 8, 22, true},
		{8, 8, 22, true},
		{22, 8, 22, false},
		{3, 8, 22, false},
		{23, 22, 6, true},
		{2, 22, 6, true},
		{6, 22, 6, false},
		{12, 22, 6, false},
	}
	for _, tt := range tests {
		if got := hourInRange(tt.hour, tt.from, tt.to); got != tt.want {
			t.Errorf("hourInRange(%d, %d, %d) = %v, want %v", tt.hour, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSystemTimeBetween(t *testing.T) {
	L := newSystemState(t, time.Date(2026, time.March, 14, 23, 0, 0, 0, time.Local))

	if err := L.DoString(`_night = system.time_between(22, 6); _day = system.time_between(8, 22)`); err != nil {
		t.Fatal(err)
	}
	if L.GetGlobal("_night") != lua.LTrue {
		t.Error("time_between(22, 6) at 23:00 = false, want true")
	}
	if L.GetGlobal("_day") != lua.LFalse {
		t.Error("time_between(8, 22) at 23:00 = true, want false")
	}
}

func TestSystemLog(t *testing.T) {
	L := newSystemState(t, time.Now())
	for _, level := range []string{"debug", "info", "warn", "error", "verbose"} {
		if err := L.DoString(`system.log("` + level + `", "message")`); err != nil {
			t.Errorf("system.log(%q) error: %v", level, err)
		}
	}
}
