package llmws

import "github.com/zeromicro/go-zero/core/metric"

const metricNamespace = "callbridge"

var (
	metricSessions = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "llm_websocket",
		Name:      "sessions_total",
		Help:      "call sessions by close reason",
		Labels:    []string{"reason"},
	})

	metricFrames = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "llm_websocket",
		Name:      "inbound_frames_total",
		Help:      "inbound frames by interaction type",
		Labels:    []string{"kind"},
	})

	metricResponses = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "llm_websocket",
		Name:      "responses_total",
		Help:      "response cycles by outcome",
		Labels:    []string{"provider", "outcome"},
	})

	metricFirstFragment = metric.NewHistogramVec(&metric.HistogramVecOpts{
		Namespace: metricNamespace,
		Subsystem: "llm_websocket",
		Name:      "first_fragment_duration_ms",
		Help:      "time from request to first streamed fragment",
		Labels:    []string{"provider"},
		Buckets:   []float64{50, 100, 250, 500, 750, 1000, 1500, 2500, 5000},
	})
)

// 生成结果
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)
