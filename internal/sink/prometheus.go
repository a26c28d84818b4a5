package sink

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gpuprof/gpuprof/internal/model"
)

// PrometheusSink is a vendorapi.MetricSink that maintains running
// counters and gauges over the attributed activity stream, grounded on
// affinode-gpu-idle-exporter's internal/exporter/prometheus.go GaugeVec
// idiom. Unlike that exporter's poll-and-set collector loop, this sink
// is driven push-style, directly from Attribute, since activities arrive
// as an event stream rather than a periodic snapshot.
type PrometheusSink struct {
	activitiesTotal *prometheus.CounterVec
	kernelOccupancy prometheus.Histogram
	bytesTotal      *prometheus.CounterVec
	dropped         atomic.Uint64
}

// NewPrometheusSink creates a PrometheusSink and registers its metrics
// with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		activitiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuprof_activities_total",
			Help: "Number of activity records attributed to a calling context, by kind.",
		}, []string{"kind"}),
		kernelOccupancy: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpuprof_kernel_occupancy_ratio",
			Help:    "Theoretical occupancy (active/max active warps per SM) of translated kernel-launch activities.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuprof_transfer_bytes_total",
			Help: "Bytes moved or allocated by memcpy/memset/memory activities, by kind.",
		}, []string{"kind"}),
	}
	droppedTotal := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gpuprof_dropped_records_total",
		Help: "Cumulative count of activity records the vendor reported as dropped.",
	}, func() float64 { return float64(s.dropped.Load()) })
	reg.MustRegister(s.activitiesTotal, s.kernelOccupancy, s.bytesTotal, droppedTotal)
	return s
}

// Attribute implements vendorapi.MetricSink.
func (s *PrometheusSink) Attribute(act model.Activity, _ model.CCTNode) {
	kind := model.Kind(act)
	s.activitiesTotal.WithLabelValues(kind).Inc()

	switch a := act.(type) {
	case model.Kernel:
		s.kernelOccupancy.Observe(a.Occupancy())
	case model.Memcpy:
		s.bytesTotal.WithLabelValues("memcpy").Add(float64(a.Bytes))
	case model.Memset:
		s.bytesTotal.WithLabelValues("memset").Add(float64(a.Bytes))
	case model.Memory:
		s.bytesTotal.WithLabelValues("memory").Add(float64(a.Bytes))
	}
}

// SetDropped sets the dropped-records gauge to the pipeline's current
// cumulative total (typically polled from pipeline.Pipeline.DroppedRecords,
// which is itself monotonically nondecreasing).
func (s *PrometheusSink) SetDropped(total uint64) {
	s.dropped.Store(total)
}
