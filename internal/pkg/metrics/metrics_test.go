package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordHeartbeat("udp")
	m.RecordHeartbeat("udp")
	m.RecordHeartbeat("http")
	m.RecordDecodeError("udp")
	m.RecordSweep(time.Millisecond, 2, map[string]int{"idle": 3, "offline": 2})
	m.RecordTerminate("success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HeartbeatsTotal.WithLabelValues("udp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HeartbeatsTotal.WithLabelValues("http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrorsTotal.WithLabelValues("udp")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OfflineTransitions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AlgorithmsByStatus.WithLabelValues("idle")))

	// 再次扫描时状态分布整体替换
	m.RecordSweep(time.Millisecond, 0, map[string]int{"offline": 5})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.AlgorithmsByStatus.WithLabelValues("idle")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.AlgorithmsByStatus.WithLabelValues("offline")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHeartbeat("udp")
		m.RecordSweep(time.Second, 1, nil)
		m.RecordTerminate("ignored")
		m.WSConnected()
		m.SetInstancesRunning(3)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordHeartbeat("udp")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `algohub_heartbeats_total{transport="udp"} 1`)

	// 独立 Registry，多次创建不会冲突
	assert.NotPanics(t, func() { NewMetrics() })
}
