package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerAuditSink(t *testing.T) {
	var out, audit bytes.Buffer
	l := New(&out, &audit, zerolog.InfoLevel)

	l.Debug().Msg("hidden")
	l.Info().Msg("routine")
	l.Warn().Msg("suspicious")
	l.Audit("vault_initialized", map[string]interface{}{"vault": "abc"})

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "routine")
	assert.Contains(t, out.String(), "suspicious")

	lines := strings.Split(strings.TrimSpace(audit.String()), "\n")
	require.Len(t, lines, 2, "audit sink gets warn+ entries and audit events")
	assert.Contains(t, lines[0], "suspicious")

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &event))
	assert.Equal(t, "vault_initialized", event["audit"])
	assert.Equal(t, "abc", event["vault"])
	assert.NotEmpty(t, event["event_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordTransition("mint")
	m.RecordTransition("mint")
	m.RecordRejection("burn", "insufficient shares")
	m.SetTotalShares("v1", 42)
	m.RecordHistogram("latency", 1, nil)
	m.RecordHistogram("latency", 3, nil)

	assert.Equal(t, int64(2), m.Counter(MetricTransitions, map[string]string{"op": "mint"}))
	assert.Equal(t, int64(1), m.Counter(MetricRejections, map[string]string{"kind": "insufficient shares", "op": "burn"}))
	assert.Equal(t, float64(42), m.GetMetric(MetricTotalShares, map[string]string{"vault": "v1"}).Value)

	s := m.Summary()
	assert.Equal(t, HistogramSummary{Count: 2, Min: 1, Max: 3, Sum: 4, Avg: 2}, s.Histograms["latency"])
	assert.Contains(t, s.Counters, "vault_rejections{kind=insufficient shares,op=burn}")

	m.Reset()
	assert.Empty(t, m.Summary().Counters)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransition("mint")
	m.SetTotalShares("v", 1)
	assert.Nil(t, m.GetMetric("x", nil))
	assert.Empty(t, m.Summary().Counters)
}

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterComponent("store", func(context.Context) error { return nil })
	assert.Equal(t, Healthy, hc.CheckHealth(context.Background()).OverallStatus)

	hc.UpdateComponent("tokens", Degraded, "slow")
	assert.Equal(t, Degraded, hc.GetHealth().OverallStatus)

	hc.RegisterComponent("audit", func(context.Context) error { return errors.New("violation") })
	health := hc.CheckHealth(context.Background())
	assert.Equal(t, Unhealthy, health.OverallStatus)
	require.Len(t, health.Components, 3)
	assert.Equal(t, "audit", health.Components[0].Name)
	assert.Equal(t, "violation", health.Components[0].Message)

	resp := CreateHealthResponse(health)
	assert.Equal(t, "error", resp.Status)
}
