// Package metrics Prometheus 指标导出
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "algohub"

// Metrics 包含注册中心与终止服务的所有指标
// 方法允许 nil 接收者，未启用指标时直接传 nil
type Metrics struct {
	registry *prometheus.Registry

	// 心跳接入
	HeartbeatsTotal    *prometheus.CounterVec
	DecodeErrorsTotal  *prometheus.CounterVec
	RegistrationsTotal prometheus.Counter

	// 离线检测
	SweepsTotal        prometheus.Counter
	SweepDuration      prometheus.Histogram
	OfflineTransitions prometheus.Counter
	AlgorithmsByStatus *prometheus.GaugeVec

	// 终止请求
	TerminateRequests *prometheus.CounterVec

	// HTTP / WebSocket
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	WSConnectionsActive prometheus.Gauge

	// 容器实例
	InstancesRunning prometheus.Gauge
}

// NewMetrics 创建指标实例，每个实例使用独立的 Registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HeartbeatsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "heartbeats_total",
				Help:      "Total status messages accepted",
			},
			[]string{"transport"},
		),
		DecodeErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "decode_errors_total",
				Help:      "Total malformed status payloads dropped",
			},
			[]string{"transport"},
		),
		RegistrationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "registrations_total",
			Help:      "Total first-time algorithm registrations",
		}),
		SweepsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sweeps_total",
			Help:      "Total liveness sweeps",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Liveness sweep duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		OfflineTransitions: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "offline_transitions_total",
			Help:      "Total records marked offline by the liveness sweep",
		}),
		AlgorithmsByStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "algorithms",
				Help:      "Number of registered algorithms by status",
			},
			[]string{"status"},
		),
		TerminateRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "terminate_requests_total",
				Help:      "Total terminate requests by result",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		WSConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ws_connections_active",
			Help:      "Active websocket connections",
		}),
		InstancesRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "instances_running",
			Help:      "Algorithm containers started by the launcher",
		}),
	}
}

// Registry 底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordHeartbeat(transport string) {
	if m == nil {
		return
	}
	m.HeartbeatsTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) RecordDecodeError(transport string) {
	if m == nil {
		return
	}
	m.DecodeErrorsTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) RecordRegistration() {
	if m == nil {
		return
	}
	m.RegistrationsTotal.Inc()
}

// RecordSweep 记录一次离线扫描，counts 为扫描后各状态的记录数
func (m *Metrics) RecordSweep(duration time.Duration, flipped int, counts map[string]int) {
	if m == nil {
		return
	}
	m.SweepsTotal.Inc()
	m.SweepDuration.Observe(duration.Seconds())
	m.OfflineTransitions.Add(float64(flipped))
	m.AlgorithmsByStatus.Reset()
	for status, n := range counts {
		m.AlgorithmsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) RecordTerminate(result string) {
	if m == nil {
		return
	}
	m.TerminateRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.WSConnectionsActive.Inc()
}

func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.WSConnectionsActive.Dec()
}

func (m *Metrics) SetInstancesRunning(n int) {
	if m == nil {
		return
	}
	m.InstancesRunning.Set(float64(n))
}
