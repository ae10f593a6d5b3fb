package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLoggerEmitsCloudLoggingFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "migrate", Level: "info", Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Warn("table skipped", zap.String("table", "grades"))
	require.NoError(t, logger.Sync())

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	require.Equal(t, "WARNING", lines[0]["severity"])
	require.Equal(t, "table skipped", lines[0]["message"])
	require.Equal(t, "migrate", lines[0]["component"])
	require.Equal(t, "grades", lines[0]["table"])
	require.Equal(t, ServiceName, lines[0]["service"])
	require.Contains(t, lines[0], "timestamp")
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "chatty"})
	require.Error(t, err)
}

func TestCtxFallsBackToNop(t *testing.T) {
	require.NotNil(t, Ctx(context.Background()))

	var buf bytes.Buffer
	logger, err := NewLogger(Config{Output: &buf})
	require.NoError(t, err)

	ctx := WithTenant(WithLogger(context.Background(), logger), 7, "school_acme")
	Ctx(ctx).Info("scoped")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	require.EqualValues(t, 7, lines[0]["tenant_id"])
	require.Equal(t, "school_acme", lines[0]["schema"])
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Output: &buf})
	require.NoError(t, err)

	handler := middleware.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := FromContext(r.Context())
		require.True(t, ok)
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/students", nil))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	require.Equal(t, "request rejected", lines[0]["message"])
	require.Equal(t, "WARNING", lines[0]["severity"])
	require.EqualValues(t, http.StatusTeapot, lines[0]["status"])
	require.Equal(t, "/students", lines[0]["path"])
	require.NotEmpty(t, lines[0]["request_id"])
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "provision", Format: FormatConsole, Output: &buf})
	require.NoError(t, err)

	logger.Info("namespace ready", zap.String("schema", "school_acme"))
	require.NoError(t, logger.Sync())
	require.Contains(t, buf.String(), "namespace ready")
	require.Contains(t, buf.String(), "school_acme")

	_, err = NewLogger(Config{Format: "xml"})
	require.Error(t, err)
}
