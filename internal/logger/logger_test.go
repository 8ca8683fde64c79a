package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewJSONFields(t *testing.T) {
	t.Setenv("INSTANCE_NAME", "node-a")
	var buf bytes.Buffer

	log := New(&buf, "debug", "json")
	log.Info().Str("candidate", "ana").Msg("Session started")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	want := map[string]string{
		"service":   "exstem-evaluation",
		"instance":  "node-a",
		"candidate": "ana",
		"message":   "Session started",
		"level":     "info",
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("%s = %v, want %q", k, line[k], v)
		}
	}
}

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			New(&bytes.Buffer{}, tt.level, "json")
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("GlobalLevel = %s, want %s", got, tt.want)
			}
		})
	}
}
