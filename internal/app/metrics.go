package app

import (
	client_prometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tonkeeper/wsbridge/internal"
)

var (
	TokenUsageMetric = promauto.NewCounterVec(client_prometheus.CounterOpts{
		Name: "wsbridge_token_usage",
		Help: "Requests that bypassed rate limits, by token",
	}, []string{"token"})

	HealthMetric = client_prometheus.NewGauge(client_prometheus.GaugeOpts{
		Name: "wsbridge_health_status",
		Help: "Health status of the transport (1 = healthy, 0 = unhealthy)",
	})

	ReadyMetric = client_prometheus.NewGauge(client_prometheus.GaugeOpts{
		Name: "wsbridge_ready_status",
		Help: "Ready status of the bridge (1 = ready, 0 = not ready)",
	})

	InfoMetric = client_prometheus.NewGaugeVec(client_prometheus.GaugeOpts{
		Name: "wsbridge_info",
		Help: "Version and transport of the running bridge",
	}, []string{"version", "ports"})
)

// InitMetrics registers the process level gauges.
func InitMetrics(portsKind string) {
	client_prometheus.MustRegister(HealthMetric, ReadyMetric, InfoMetric)
	InfoMetric.WithLabelValues(internal.VersionRevision, portsKind).Set(1)
}
