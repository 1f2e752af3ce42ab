package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"algohub/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_FileHookRoutesByType(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.LogConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: filepath.Join(dir, "algohub.log"),
		MaxSize:  1,
	}
	_, err := InitLogger(cfg)
	require.NoError(t, err)
	defer func() { LoggerInstance = nil }()

	LogSystemEvent("registry", "startup", "loaded", InfoLevel, nil)
	LogBusinessOperation("register", "EKF", "127.0.0.1", "success", "成功注册算法 EKF", nil)
	LogError(errors.New("boom"), "store", nil)
	Infof("plain message")

	for _, name := range []string{"system.log", "business.log", "error.log", "algohub.log"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.NotEmpty(t, data, name)
	}

	business, _ := os.ReadFile(filepath.Join(dir, "business.log"))
	assert.Contains(t, string(business), "成功注册算法 EKF")
}

func TestInitLogger_RejectsUnknownFormat(t *testing.T) {
	_, err := InitLogger(&config.LogConfig{Level: "info", Format: "xml", Output: "stdout"})
	assert.Error(t, err)
	_, err = InitLogger(nil)
	assert.Error(t, err)
}

func TestUpdateConfig_ChangesLevel(t *testing.T) {
	lm, err := InitLogger(&config.LogConfig{Level: "info", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	defer func() { LoggerInstance = nil }()

	require.NoError(t, lm.UpdateConfig(&config.LogConfig{Level: "debug", Format: "text", Output: "stdout"}))
	assert.Equal(t, DebugLevel, lm.GetLogger().GetLevel())

	assert.Error(t, lm.UpdateConfig(&config.LogConfig{Level: "loud", Format: "text"}))
}
