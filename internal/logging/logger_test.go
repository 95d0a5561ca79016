package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resistance-prophet-server/internal/domain"
)

func TestNew_JSONFormat(t *testing.T) {
	logger, err := New(domain.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.WithFields(logrus.Fields{"component": "kinetics"}).Info("fit complete")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fit complete", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "kinetics", line["component"])
	assert.Contains(t, line, "timestamp")
}

func TestNew_TextFormat(t *testing.T) {
	logger, err := New(domain.LoggingConfig{Level: "warn", Format: "text"})
	require.NoError(t, err)
	_, ok := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(domain.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = New(domain.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)

	_, err = New(domain.LoggingConfig{Level: "info", Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	logger, err := New(domain.LoggingConfig{Level: "info", Output: path})
	require.NoError(t, err)
	logger.Info("to file")
	assert.FileExists(t, path)
}

func TestRedactHook(t *testing.T) {
	logger, err := New(domain.LoggingConfig{Level: "info", Redact: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.WithFields(logrus.Fields{
		"patient_id": "p-123",
		"auth_token": "abc",
		"level_name": "HIGH",
		"payload":    strings.Repeat("x", 1200),
	}).Info("assessment stored")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, Redacted, line["patient_id"])
	assert.Equal(t, Redacted, line["auth_token"])
	assert.Equal(t, "HIGH", line["level_name"])
	assert.True(t, strings.HasSuffix(line["payload"].(string), "[TRUNCATED]"))
}
