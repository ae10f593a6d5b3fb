package jobmetrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRunMetrics(t *testing.T) {
	m := NewRunMetrics()
	m.ObserveRows("students", 3)
	m.ObserveRows("students", 2)
	m.ObserveRows("grades", 0)
	m.ObserveOutcome("table", "copied")
	m.ObserveOutcome("table", "warning")
	m.ObserveOutcome("table", "copied")
	m.ObserveRun("committed", true, 1500*time.Millisecond, time.Unix(1700000000, 0))

	require.InDelta(t, 5, testutil.ToFloat64(m.rowsCopied.WithLabelValues("students")), 0.001)
	require.InDelta(t, 2, testutil.ToFloat64(m.outcomes.WithLabelValues("table", "copied")), 0.001)
	require.InDelta(t, 1.5, testutil.ToFloat64(m.duration), 0.001)
	require.InDelta(t, 1700000000, testutil.ToFloat64(m.lastSuccess), 0.001)
	require.Equal(t, 1, testutil.CollectAndCount(m.rowsCopied))

	var nilMetrics *RunMetrics
	require.NotPanics(t, func() { nilMetrics.ObserveRows("students", 1) })
}

func TestPushgatewayPusher(t *testing.T) {
	var (
		mu     sync.Mutex
		path   string
		method string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, method, body = r.URL.Path, r.Method, string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewRunMetrics()
	m.ObserveRows("students", 4)

	p := NewPushgatewayPusher(srv.URL, "schoolspace-migrate", map[string]string{"environment": "test", "": "skipped"})
	require.NoError(t, p.Push(context.Background(), m.Registry))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, http.MethodPut, method)
	require.True(t, strings.HasPrefix(path, "/metrics/job/schoolspace-migrate"))
	require.Contains(t, path, "/environment/test")
	require.NotEmpty(t, body)
}

func TestPushgatewayPusherValidation(t *testing.T) {
	m := NewRunMetrics()
	require.Error(t, NewPushgatewayPusher("", "job", nil).Push(context.Background(), m.Registry))
	require.Error(t, NewPushgatewayPusher("http://localhost:9091", " ", nil).Push(context.Background(), m.Registry))

	var nilPusher *PushgatewayPusher
	require.NoError(t, nilPusher.Push(context.Background(), m.Registry))
}
