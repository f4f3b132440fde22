package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "predictor", "debug", "json")

	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	log.WithField("class_index", 3).Info("model loaded")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "model loaded", entry["msg"])
	assert.Equal(t, "predictor", entry["service"])
	assert.Equal(t, float64(3), entry["class_index"])
	assert.Contains(t, entry, "time")
}

func TestNewWithOutput_UnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "classifier", "chatty", "text")

	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	log.Debug("hidden")
	assert.Empty(t, buf.String())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "service=classifier")
}
