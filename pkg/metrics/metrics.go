package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Claim  ClaimMetrics
	Stream StreamMetrics
	Kafka  KafkaMetrics
	API    APIMetrics
	Go     GoMetrics
}

type ClaimMetrics struct {
	DurationSeconds *prometheus.HistogramVec
	ClaimedTotal    *prometheus.CounterVec
	LiveInstances   prometheus.Gauge
}

type StreamMetrics struct {
	ActiveStreams prometheus.Gauge
	ItemDuration  *prometheus.HistogramVec
}

type KafkaMetrics struct {
	// Producer
	ProducerAttemptLatencySeconds *prometheus.HistogramVec
	ProducerOperationsTotal       *prometheus.CounterVec
	ProducerSuccessAttempts       *prometheus.HistogramVec

	// Consumer
	ConsumerMessagesTotal   *prometheus.CounterVec
	ConsumerProcessDuration *prometheus.HistogramVec
	ConsumerRebalancesTotal *prometheus.CounterVec
	ConsumerInFlight        *prometheus.GaugeVec
}

type APIMetrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

type GoMetrics struct {
	InternalGoroutines *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Claim: ClaimMetrics{
			DurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "coordinator",
				Subsystem: "claim",
				Name:      "duration_seconds",
				Help:      "ClaimWorkBatch transaction duration.",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"result"}), // ok|error

			ClaimedTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "claim",
				Name:      "claimed_total",
				Help:      "Total messages returned as claimed work by direction.",
			}, []string{"direction"}),

			LiveInstances: f.NewGauge(prometheus.GaugeOpts{
				Namespace: "coordinator",
				Subsystem: "claim",
				Name:      "live_instances",
				Help:      "Live service instances seen on the last claim call.",
			}),
		},

		Stream: StreamMetrics{
			ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
				Namespace: "coordinator",
				Subsystem: "stream",
				Name:      "active_streams",
				Help:      "Streams currently being processed sequentially.",
			}),

			ItemDuration: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "coordinator",
				Subsystem: "stream",
				Name:      "item_duration_seconds",
				Help:      "Processing callback duration per claimed item.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"direction", "result"}), // ok|error
		},

		Kafka: KafkaMetrics{
			ProducerAttemptLatencySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "coordinator",
				Subsystem: "kafka",
				Name:      "producer_attempt_latency_seconds",
				Help:      "Latency per single produce attempt.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"topic", "result"}), // ok|error

			ProducerOperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "kafka",
				Name:      "producer_operations_total",
				Help:      "Total produce operations (one call) by result.",
			}, []string{"topic", "result"}), // success|failed|permanent|canceled

			ProducerSuccessAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "coordinator",
				Subsystem: "kafka",
				Name:      "producer_success_attempts",
				Help:      "Attempt number on which produce operation succeeded.",
				Buckets:   []float64{1, 2, 3, 4, 5},
			}, []string{"topic"}),

			ConsumerMessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "kafka",
				Name:      "consumer_messages_total",
				Help:      "Total consumed Kafka messages by topic.",
			}, []string{"topic"}),

			ConsumerProcessDuration: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "coordinator",
				Subsystem: "kafka",
				Name:      "consumer_process_duration_seconds",
				Help:      "Kafka message processing duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"topic"}),

			ConsumerRebalancesTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "kafka",
				Name:      "consumer_rebalances_total",
				Help:      "Consumer rebalance lifecycle events.",
			}, []string{"event"}),

			ConsumerInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "coordinator",
				Subsystem: "kafka",
				Name:      "consumer_inflight_messages",
				Help:      "Messages currently being processed.",
			}, []string{"topic"}),
		},

		API: APIMetrics{
			HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by method, path and status.",
			}, []string{"method", "path", "status"}),

			HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "coordinator",
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"method", "path", "status"}),
		},

		Go: GoMetrics{
			InternalGoroutines: f.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "coordinator",
				Subsystem: "go",
				Name:      "internal_goroutines",
				Help:      "Number of running internal goroutines by name.",
			}, []string{"name"}),
		},
	}
}
