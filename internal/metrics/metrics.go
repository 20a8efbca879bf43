// Package metrics holds the Prometheus collectors of a modforge process.
//
// The collectors live in a private registry; the CLI writes it to a textfile
// (for node_exporter's textfile collector) at the end of a run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every modforge collector.
var Registry = prometheus.NewRegistry()

var (
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modforge_resolutions_total",
			Help: "Number of dependency resolutions by mode and result.",
		},
		[]string{"mode", "result"},
	)

	ResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modforge_resolution_duration_seconds",
			Help:    "Time taken to resolve the dependency closure of a module.",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modforge_installs_total",
			Help: "Number of module installs by result.",
		},
		[]string{"result"},
	)

	UnpackFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modforge_unpack_failures_total",
			Help: "Total number of archives that could not be retrieved or unpacked.",
		},
	)
)

func init() {
	Registry.MustRegister(
		ResolutionsTotal,
		ResolutionDuration,
		InstallsTotal,
		UnpackFailuresTotal,
	)
}

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// WriteTextfile writes the registry in the text exposition format to path.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
