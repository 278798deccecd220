package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{" WARN ", zerolog.WarnLevel, false},
		{"loud", zerolog.NoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentTagsJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(Config{Level: "debug", Format: "json"}, &buf); err != nil {
		t.Fatalf("InitWithWriter: %v", err)
	}
	defer func() { _ = InitWithWriter(Config{}, &bytes.Buffer{}) }()

	logger := Component("runner")
	logger.Info().Str("macro", "hello").Msg("started")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["component"] != "runner" {
		t.Errorf("component = %v, want runner", line["component"])
	}
	if line["macro"] != "hello" {
		t.Errorf("macro = %v, want hello", line["macro"])
	}
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	if err := InitWithWriter(Config{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
