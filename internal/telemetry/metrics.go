package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mymoto/fleetsync/internal/models"
)

// Metrics 遥测质量指标
type Metrics struct {
	positionsByMethod   *prometheus.CounterVec
	confidenceHistogram prometheus.Histogram
	ambiguousSignals    prometheus.Counter
	ingestCycles        *prometheus.CounterVec
	tripsCreated        prometheus.Counter
	tripsDuplicate      prometheus.Counter
}

// NewMetrics 创建并注册指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		positionsByMethod: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetsync",
			Name:      "positions_normalized_total",
			Help:      "Normalized positions by ignition detection method.",
		}, []string{"method"}),
		confidenceHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fleetsync",
			Name:      "ignition_confidence",
			Help:      "Distribution of ignition detection confidence.",
			Buckets:   []float64{0, 0.1, 0.3, 0.5, 0.7, 0.9, 1.0},
		}),
		ambiguousSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetsync",
			Name:      "ignition_ambiguous_total",
			Help:      "Status words with nonzero signals that stayed below the decision threshold.",
		}),
		ingestCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetsync",
			Name:      "ingest_devices_total",
			Help:      "Per-device ingest outcomes.",
		}, []string{"outcome"}),
		tripsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetsync",
			Name:      "trips_created_total",
			Help:      "Trips written by the segmentation engine.",
		}),
		tripsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetsync",
			Name:      "trips_duplicate_total",
			Help:      "Trip insertions skipped as duplicates.",
		}),
	}

	// 预建方法维度的序列，仪表盘不用等首条数据
	for _, method := range DetectionMethodLabels {
		m.positionsByMethod.WithLabelValues(string(method))
	}

	reg.MustRegister(
		m.positionsByMethod,
		m.confidenceHistogram,
		m.ambiguousSignals,
		m.ingestCycles,
		m.tripsCreated,
		m.tripsDuplicate,
	)
	return m
}

// ObserveDetection 记录一次点火判定
func (m *Metrics) ObserveDetection(d Detection) {
	m.positionsByMethod.WithLabelValues(string(d.Method)).Inc()
	m.confidenceHistogram.Observe(d.Confidence)
	if d.Ambiguous {
		m.ambiguousSignals.Inc()
	}
}

// ObserveIngest 记录单设备采集结果
func (m *Metrics) ObserveIngest(outcome string) {
	m.ingestCycles.WithLabelValues(outcome).Inc()
}

// ObserveTripCreated 记录新建行程
func (m *Metrics) ObserveTripCreated() {
	m.tripsCreated.Inc()
}

// ObserveTripDuplicate 记录重复行程跳过
func (m *Metrics) ObserveTripDuplicate() {
	m.tripsDuplicate.Inc()
}

// DetectionMethodLabels 全部方法标签，便于仪表盘预建序列
var DetectionMethodLabels = []models.DetectionMethod{
	models.DetectionStatusBit,
	models.DetectionStringParse,
	models.DetectionSpeedInference,
	models.DetectionMultiSignal,
	models.DetectionUnknown,
}
