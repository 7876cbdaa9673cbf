package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/openrfx/sdrhal/sdr"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", Debug, true},
		{"", Info, true},
		{"warning", Warn, true},
		{"critical", Critical, true},
		{"loud", 0, false},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if (err == nil) != c.ok || (c.ok && got != c.want) {
			t.Errorf("ParseLevel(%q) = %v, %v", c.in, got, err)
		}
	}
}

func TestTextFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Warn, Text, &buf)
	l.Info("dropped")
	l.Warn("kept", Field{Key: "module", Value: 0})

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("level filter passed a lower entry")
	}
	if !strings.Contains(out, "[WARN] kept module=0") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Debug, JSON, &buf).With(Field{Key: "device", Value: "sim"})
	l.Error("link down", Field{Key: "module", Value: 1})

	line := strings.TrimSpace(buf.String())
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("output not JSON: %q: %v", line, err)
	}
	if payload["level"] != "ERROR" || payload["msg"] != "link down" ||
		payload["device"] != "sim" || payload["module"] != float64(1) {
		t.Errorf("payload: %v", payload)
	}
}

func TestDeviceCallbackBridge(t *testing.T) {
	var buf bytes.Buffer
	cb := Callback(New(Debug, Text, &buf))

	cb(sdr.LevelWarning, "stream already running")
	cb(sdr.LevelCritical, "link lost")

	out := buf.String()
	if !strings.Contains(out, "[WARN] stream already running") {
		t.Errorf("warning not bridged: %q", out)
	}
	if !strings.Contains(out, "[ERROR] link lost") {
		t.Errorf("critical not bridged to error: %q", out)
	}
}
