package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/coursebridge/coursebridge/internal/config"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "verbose"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Format: "xml"})
	require.Error(t, err)
}

func TestNewEmitsComponentAttr(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "coursebridge", record["component"])
	require.Equal(t, "hello", record["msg"])
}

func TestNewHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	require.Zero(t, buf.Len())

	logger.Error("kept")
	require.Contains(t, buf.String(), "kept")
}
