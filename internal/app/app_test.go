package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"PaperSieve/internal/config"
	"PaperSieve/internal/domain"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "papers.db")
	cfg.Storage.Capacity = 10
	cfg.Filter.Provider = "keyword"
	cfg.Filter.Keywords = []string{"agent"}
	return cfg
}

func TestNewOpensEmptyStore(t *testing.T) {
	ctx := context.Background()
	application, err := New(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer application.Close()

	stats, err := application.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheStats{Capacity: 10}, stats)

	recent, err := application.Recent(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Filter.Provider = "oracle"

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestNotifiersFromConfig(t *testing.T) {
	cfg := config.Default().Notifications
	assert.Empty(t, notifiers(cfg, zap.NewNop()))

	cfg.Telegram.BotToken = "token"
	cfg.Telegram.ChatID = "42"
	cfg.Email.Host = "smtp.example.org"
	cfg.Email.To = []string{"reader@example.org"}
	cfg.Email.From = "sieve@example.org"

	got := notifiers(cfg, zap.NewNop())
	require.Len(t, got, 2)
	assert.Equal(t, "telegram", got[0].Name())
	assert.Equal(t, "email", got[1].Name())
}
