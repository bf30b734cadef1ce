package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("en", zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestLanguages(t *testing.T) {
	m := newManager(t)
	assert.Equal(t, []string{"en", "zh"}, m.Languages())
	assert.True(t, m.Supported("zh"))
	assert.False(t, m.Supported("fr"))
}

func TestMatch(t *testing.T) {
	m := newManager(t)
	assert.Equal(t, "zh", m.Match("zh-CN,zh;q=0.9,en;q=0.8"))
	assert.Equal(t, "en", m.Match("en-GB"))
	assert.Equal(t, "en", m.Match("fr-FR"))
	assert.Equal(t, "zh", m.Match("", "zh"))
	assert.Equal(t, "en", m.Match())
}

func TestTranslate(t *testing.T) {
	m := newManager(t)
	assert.Equal(t, "Not enough credits: 4 required, 1 available",
		m.T("en", "ErrInsufficientCredits", "Required", 4, "Available", 1))
	assert.Equal(t, "积分不足：需要 4，当前 1",
		m.T("zh", "ErrInsufficientCredits", "Required", 4, "Available", 1))
	assert.Equal(t, "Logged in", m.T("fr", "LoggedIn"))
	assert.Equal(t, "NoSuchKey", m.T("en", "NoSuchKey"))
}
