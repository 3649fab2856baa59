package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetGlobal(t *testing.T) {
	orig := Global()
	defer SetGlobal(orig)

	var buf bytes.Buffer
	SetGlobal(New(Config{Level: LevelInfo, Format: FormatText, Output: &buf}))

	Infof("global info", map[string]any{"k": "v"})
	Warnf("global warn", nil)
	Errorf("global error", nil)

	out := buf.String()
	for _, want := range []string{"global info", "k=v", "[warn]", "[error]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestConfigure(t *testing.T) {
	orig := Global()
	defer SetGlobal(orig)

	tests := []struct {
		level  string
		format string
		want   Level
	}{
		{"debug", "text", LevelDebug},
		{"warn", "json", LevelWarn},
		{"bogus", "json", LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			l := Configure(tc.level, tc.format)
			if Global() != l {
				t.Error("Configure should install the returned logger globally")
			}
			if l.GetLevel() != tc.want {
				t.Errorf("level = %v, want %v", l.GetLevel(), tc.want)
			}
		})
	}
}

func TestSetGlobalIgnoresNil(t *testing.T) {
	orig := Global()
	SetGlobal(nil)
	if Global() != orig {
		t.Error("SetGlobal(nil) should keep the current logger")
	}
}
