package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

func TestVersion(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestNewContext(t *testing.T) {
	globals := &Globals{JSON: true, LogLevel: "info"}

	ctx := NewContext(globals)
	if ctx.Printer == nil {
		t.Fatal("Printer should not be nil")
	}
	if !ctx.Printer.JSON {
		t.Error("Printer.JSON should be true")
	}
	if ctx.Logger == nil {
		t.Error("Logger should not be nil")
	}
	if ctx.Globals != globals {
		t.Error("Globals not set correctly")
	}
}

func TestLevelOption(t *testing.T) {
	tests := []struct {
		lvl        string
		debugSeen  bool
		warnSeen   bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
		{"bogus", false, true},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := level.NewFilter(log.NewLogfmtLogger(&buf), levelOption(tt.lvl))

		level.Debug(logger).Log("msg", "dbg-probe")
		level.Warn(logger).Log("msg", "warn-probe")

		out := buf.String()
		if got := strings.Contains(out, "dbg-probe"); got != tt.debugSeen {
			t.Errorf("level %q: debug emitted = %v, want %v", tt.lvl, got, tt.debugSeen)
		}
		if got := strings.Contains(out, "warn-probe"); got != tt.warnSeen {
			t.Errorf("level %q: warn emitted = %v, want %v", tt.lvl, got, tt.warnSeen)
		}
	}
}
