package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A constant metric with labels for version, commit, prompt version and Go runtime.",
	},
	[]string{"version", "commit", "prompt_version", "goversion"},
)

func SetBuildInfo(version, commit, promptVersion string) {
	buildInfo.WithLabelValues(version, commit, promptVersion, runtime.Version()).Set(1)
}
