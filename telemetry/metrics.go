package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// SampleBuckets for source polls (in-process counters up to detector commands)
	SampleBuckets = []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// PublishBuckets for broker round trips
	PublishBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5}

	// RenderBuckets for announcements (speech takes seconds)
	RenderBuckets = []float64{0.01, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}
)

// Publisher Metrics
var (
	// SamplesTotal counts source polls by result (ok, error)
	SamplesTotal CounterVec = noopCounterVec{}

	// SampleDurationSeconds measures source poll latency
	SampleDurationSeconds Histogram = NoopStat{}

	// PublishesTotal counts observed values by result (published, unchanged, failed)
	PublishesTotal CounterVec = noopCounterVec{}

	// PublishDurationSeconds measures broker publish latency
	PublishDurationSeconds Histogram = NoopStat{}

	// LastEmittedValue is the last value successfully published
	LastEmittedValue Gauge = NoopStat{}
)

// Subscriber Metrics
var (
	// MessagesReceivedTotal counts deliveries by result
	// (changed, duplicate, malformed, stale, filtered)
	MessagesReceivedTotal CounterVec = noopCounterVec{}

	// LastObservedValue is the last accepted value per topic
	LastObservedValue GaugeVec = noopGaugeVec{}
)

// Announcer Metrics
var (
	// AnnouncementsTotal counts announcements by result (rendered, failed, superseded)
	AnnouncementsTotal CounterVec = noopCounterVec{}

	// AnnouncementDurationSeconds measures render time per backend
	AnnouncementDurationSeconds HistogramVec = noopHistogramVec{}

	// AnnouncerBusy is 1 while a render is in progress
	AnnouncerBusy Gauge = NoopStat{}

	// AnnouncerPending is 1 while an announcement waits in the slot
	AnnouncerPending Gauge = NoopStat{}
)

// Broker Metrics
var (
	// BrokerErrorsTotal counts transport failures by operation (publish, subscribe)
	BrokerErrorsTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Publisher Metrics
	SamplesTotal = NewCounterVec(
		"samples_total",
		"Total source polls by result",
		[]string{"result"},
	)
	SampleDurationSeconds = NewHistogramWithBuckets(
		"sample_duration_seconds",
		"Source poll latency",
		SampleBuckets,
	)
	PublishesTotal = NewCounterVec(
		"publishes_total",
		"Total observed values by publish result",
		[]string{"result"},
	)
	PublishDurationSeconds = NewHistogramWithBuckets(
		"publish_duration_seconds",
		"Broker publish latency",
		PublishBuckets,
	)
	LastEmittedValue = NewGauge(
		"last_emitted_value",
		"Last value published to the broker",
	)

	// Subscriber Metrics
	MessagesReceivedTotal = NewCounterVec(
		"messages_received_total",
		"Total messages received by result",
		[]string{"result"},
	)
	LastObservedValue = NewGaugeVec(
		"last_observed_value",
		"Last accepted value per topic",
		[]string{"topic"},
	)

	// Announcer Metrics
	AnnouncementsTotal = NewCounterVec(
		"announcements_total",
		"Total announcements by result",
		[]string{"result"},
	)
	AnnouncementDurationSeconds = NewHistogramVec(
		"announcement_duration_seconds",
		"Announcement render time by backend",
		[]string{"backend"},
		RenderBuckets,
	)
	AnnouncerBusy = NewGauge(
		"announcer_busy",
		"Whether an announcement is being rendered (1=yes, 0=no)",
	)
	AnnouncerPending = NewGauge(
		"announcer_pending",
		"Whether an announcement is waiting to be rendered (1=yes, 0=no)",
	)

	// Broker Metrics
	BrokerErrorsTotal = NewCounterVec(
		"broker_errors_total",
		"Total broker failures by operation",
		[]string{"op"},
	)
}

// boolGauge converts a flag to the 0/1 gauge convention
func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
