package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerRejectsBadInput(t *testing.T) {
	err := InitLogger("shouting", "json", "stdout", "")
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeValidation))

	err = InitLogger("info", "json", "file", "")
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeValidation))
}

func TestInitLoggerWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	require.NoError(t, InitLogger("debug", "json", "file", path))

	Logger.WithField("component", "test").Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "test", entry["component"])
}

func TestGetLoggerDefaults(t *testing.T) {
	Logger = nil
	l := GetLogger()
	require.NotNil(t, l)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}
