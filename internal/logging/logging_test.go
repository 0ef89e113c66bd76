package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToInfo(t *testing.T) {
	logger := NewWithOutput("verbose", "json", &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	logger = NewWithOutput("debug", "text", &bytes.Buffer{})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestLogErrorWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("info", "json", &buf)

	LogError(logger, "service", "RecordSale", "record sale", map[string]int64{"productId": 7}, errors.New("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["msg"])
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "service", entry["module"])
	assert.Equal(t, "RecordSale", entry["funcName"])
	assert.NotNil(t, entry["data"])
}
