package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestSlogLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, JSONFormat, false)

	l.Debug("hidden")
	assert.Zero(t, buf.Len(), "debug must be filtered at info level")

	l.With("instrument", "XN-550").Info("astm: message complete", "size", 42)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "astm: message complete", rec["msg"])
	assert.Equal(t, "XN-550", rec["instrument"])
	assert.EqualValues(t, 42, rec["size"])
	assert.Contains(t, rec, "ts")
}

func TestSlogLogger_SetLevelSharedWithChildren(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, JSONFormat, false)
	child := l.With("conn", "tcp")

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, child.Level())

	child.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologWriter(&buf, WarnLevel, JSONFormat)

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.With("instrument", "cobas").Warn("delivery: dead letter", "attempts", 5, "error", errors.New("boom"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "cobas", rec["instrument"])
	assert.EqualValues(t, 5, rec["attempts"])
	assert.Equal(t, "boom", rec["error"])

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())
}

func TestSetLogger(t *testing.T) {
	orig := GetLogger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(NewZerologWriter(&buf, InfoLevel, JSONFormat))
	Info("replaced")
	assert.Contains(t, buf.String(), "replaced")

	SetLogger(nil)
	assert.NotNil(t, GetLogger())
}
