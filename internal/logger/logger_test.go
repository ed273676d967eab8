package logger

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iurnickita/keyvend/internal/logger/config"
)

func TestNewZapLog(t *testing.T) {
	zaplog, err := NewZapLog(config.Config{LogLevel: "warn"})
	require.NoError(t, err)
	require.False(t, zaplog.Core().Enabled(zapcore.InfoLevel))
	require.True(t, zaplog.Core().Enabled(zapcore.WarnLevel))

	zaplog, err = NewZapLog(config.Config{})
	require.NoError(t, err)
	require.True(t, zaplog.Core().Enabled(zapcore.InfoLevel))

	_, err = NewZapLog(config.Config{LogLevel: "loud"})
	require.Error(t, err)
}

func TestRequestLogMdlw(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestLogMdlw(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1}`))
	}, zap.New(core))

	r := httptest.NewRequest(http.MethodPost, "/api/admin/keys/Pro", strings.NewReader("SECRET-KEY"))
	w := httptest.NewRecorder()
	handler(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "/api/admin/keys/Pro", fields["path"])
	require.Equal(t, int64(http.StatusCreated), fields["code"])
	require.Equal(t, int64(8), fields["length"])
	// тело запроса в лог не попадает
	for _, v := range fields {
		require.NotContains(t, fmt.Sprint(v), "SECRET-KEY")
	}
}
