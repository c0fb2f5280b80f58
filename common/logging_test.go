package common

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := SetupLogger(&LoggingOpts{JSON: true, Service: "attestctl", Version: "v1.2.3", Output: &buf})

	log.Debug("hidden")
	log.Info("hello", "kind", "vtpm")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "attestctl", entry["service"])
	assert.Equal(t, "v1.2.3", entry["version"])
	assert.Equal(t, "vtpm", entry["kind"])
}

func TestSetupLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	log := SetupLogger(&LoggingOpts{Debug: true, Output: &buf})

	log.Debug("probe")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "msg=probe")
	assert.NotContains(t, buf.String(), "service=")
}
