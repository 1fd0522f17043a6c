// Package metrics holds the Prometheus collectors for downloads.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidgrab",
		Name:      "downloads_total",
		Help:      "Total downloads by platform and result.",
	}, []string{"platform", "result"})

	DownloadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vidgrab",
		Name:      "download_duration_seconds",
		Help:      "End-to-end download duration in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"platform"})

	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vidgrab",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each pipeline stage in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"stage"})

	SegmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidgrab",
		Name:      "segments_total",
		Help:      "Total segment fetches by track kind and result.",
	}, []string{"track", "result"})

	SegmentBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidgrab",
		Name:      "segment_bytes_total",
		Help:      "Total bytes of fetched segments by track kind.",
	}, []string{"track"})

	SegmentFetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vidgrab",
		Name:      "segment_fetch_duration_seconds",
		Help:      "Duration of single segment fetches in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	MuxDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vidgrab",
		Name:      "mux_duration_seconds",
		Help:      "Duration of muxer runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	ActiveDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vidgrab",
		Name:      "active_downloads",
		Help:      "Number of downloads currently running.",
	})

	FailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidgrab",
		Name:      "failures_total",
		Help:      "Total failed downloads by error kind.",
	}, []string{"kind"})
)

// Registry is the registry the collectors are registered with by Register.
var Registry = prometheus.NewRegistry()

func init() {
	Register(Registry)
}

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		DownloadsTotal,
		DownloadDuration,
		StageDuration,
		SegmentsTotal,
		SegmentBytes,
		SegmentFetchDuration,
		MuxDuration,
		ActiveDownloads,
		FailuresTotal,
	)
}

// WriteTextfile dumps the current values in the text exposition format,
// for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
