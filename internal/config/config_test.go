package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestGetConfigDefaults(t *testing.T) {
	for _, key := range []string{"SERVER_ADDRESS", "DATABASE_URI", "RECONCILE_INTERVAL", "GRACE_WINDOW", "AUDIT_EVERY", "MIN_TOPUP"} {
		t.Setenv(key, "")
	}

	cfg := GetConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.Equal(t, ":8080", cfg.Handler.ServerAddr)
	require.Empty(t, cfg.Store.DBDsn)
	require.Equal(t, 30*time.Minute, cfg.Store.OrderTTL)
	require.Equal(t, 10*time.Second, cfg.Reconciler.Interval)
	require.Equal(t, 6*time.Hour, cfg.Reconciler.GraceWindow)
	require.Equal(t, 6*time.Hour, cfg.Store.GraceWindow)
	require.Equal(t, 5*time.Minute, cfg.Reconciler.ReminderLead)
	require.Equal(t, 360, cfg.Reconciler.AuditEvery)
	require.True(t, cfg.Service.MinTopUp.Equal(decimal.NewFromInt(50)))
	require.True(t, cfg.Service.ResellerDiscount.Equal(decimal.RequireFromString("0.2")))
}

func TestGetConfigEnv(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", "localhost:9090")
	t.Setenv("RECONCILE_INTERVAL", "30s")
	t.Setenv("AUDIT_EVERY", "not-a-number")
	t.Setenv("OPERATOR_CHAT_ID", "-1001234567890")
	t.Setenv("MIN_TOPUP", "75.5")

	cfg := GetConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.Equal(t, "localhost:9090", cfg.Handler.ServerAddr)
	require.Equal(t, 30*time.Second, cfg.Reconciler.Interval)
	require.Equal(t, 360, cfg.Reconciler.AuditEvery)
	require.Equal(t, int64(-1001234567890), cfg.Notify.OperatorChatID)
	require.True(t, cfg.Service.MinTopUp.Equal(decimal.RequireFromString("75.5")))
}

func TestGetConfigEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "keyvend.env")
	content := "GRACE_WINDOW=2h\nKEY_SEAL_SECRET=from-file\nSERVER_ADDRESS=from-file:1\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("GRACE_WINDOW")
		os.Unsetenv("KEY_SEAL_SECRET")
	})

	// переменные окружения важнее файла
	t.Setenv("SERVER_ADDRESS", "localhost:9090")

	cfg := GetConfig(envFile)
	require.Equal(t, 2*time.Hour, cfg.Reconciler.GraceWindow)
	require.Equal(t, 2*time.Hour, cfg.Store.GraceWindow)
	require.Equal(t, "from-file", cfg.Inventory.SealSecret)
	require.Equal(t, "localhost:9090", cfg.Handler.ServerAddr)
}
