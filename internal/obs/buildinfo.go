package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// buildInfo: gauge со статич. значением 1 и метками версии/коммита.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "evalflow build information.",
		},
		[]string{"version", "commit"},
	)

	readyOnce  sync.Once
	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "readiness",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// InitBuildInfo регистрирует метрику build_info (однократно) и устанавливает значение.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// SetReady records the outcome of the latest readiness check.
func SetReady(ok bool) {
	readyOnce.Do(func() {
		_ = prometheus.Register(readyGauge)
	})
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}
