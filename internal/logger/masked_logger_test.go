package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nerdneilsfield/dreamforge/internal/config"
)

func TestMaskSensitiveInfo(t *testing.T) {
	assert.Equal(t, "", MaskSensitiveInfo("", APIKey))
	assert.Equal(t, "****", MaskSensitiveInfo("short", Token))
	assert.Equal(t, "hf_a****wxyz", MaskSensitiveInfo("hf_a1234wxyz", APIKey))
	assert.Equal(t, "****", MaskSensitiveInfo("hunter2-long-password", Password))
	assert.Equal(t, "plain", MaskSensitiveInfo("plain", ""))
}

func TestMaskedLoggerMasksFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewMaskedLogger(zap.New(core))

	log.Info("calling upstream",
		zap.String("api_key", "hf_1234567890abcd"),
		zap.String("session_token", "tok_abcdefghijkl"),
		zap.String("password", "supersecret"),
		zap.String("prompt", "a cat"),
	)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "hf_1*********abcd", fields["api_key"])
	assert.Equal(t, "tok_********ijkl", fields["session_token"])
	assert.Equal(t, "****", fields["password"])
	assert.Equal(t, "a cat", fields["prompt"])
}

func TestMaskedLoggerMasksWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewMaskedLogger(zap.New(core)).With(zap.String("apiKey", "abcdefghijklmnop"))

	log.Info("hello")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "abcd********mnop", logs.All()[0].ContextMap()["apiKey"])
}

func TestGetLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, GetLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, GetLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, GetLevel("nonsense"))
}

func TestInitLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	log, err := InitLogger(config.LogConfig{Level: "debug", Format: "json", File: path}, "v1.2.3")
	require.NoError(t, err)

	log.Debug("hello", zap.String("api_key", "hf_1234567890abcd"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"version":"v1.2.3"`)
	assert.NotContains(t, out, "hf_1234567890abcd")
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel("WARN"))
	assert.False(t, ValidLevel("verbose"))
}
