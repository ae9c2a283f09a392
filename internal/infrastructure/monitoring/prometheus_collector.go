package monitoring

import (
	"net/http"
	"time"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaylink"

// PrometheusCollector implements the session and media metric sinks.
type PrometheusCollector struct {
	registry *prometheus.Registry

	// Streams
	streamsOpen     *prometheus.GaugeVec
	streamsOpened   *prometheus.CounterVec
	workflowFailure *prometheus.CounterVec

	// Candidates
	candidatesQueued  prometheus.Counter
	candidatesDrained prometheus.Counter
	candidatesApplied *prometheus.CounterVec

	// Signaling
	signalingDuration *prometheus.HistogramVec
	signalingErrors   *prometheus.CounterVec

	// Audio
	audioLevelChanges *prometheus.CounterVec

	// Media transport
	rtpPackets   *prometheus.CounterVec
	rtpBytes     *prometheus.CounterVec
	keyframes    *prometheus.CounterVec
	fractionLost *prometheus.HistogramVec
	jitter       *prometheus.GaugeVec
}

var (
	_ ports.SessionMetrics = (*PrometheusCollector)(nil)
	_ ports.MediaMetrics   = (*PrometheusCollector)(nil)
)

// NewPrometheusCollector registers every metric on a private registry so
// several collectors can coexist in one process.
func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &PrometheusCollector{
		registry: registry,

		streamsOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_open",
			Help:      "Number of open streams by direction and media kind",
		}, []string{"direction", "media_kind"}),

		streamsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_opened_total",
			Help:      "Total number of streams that reached the active state",
		}, []string{"direction", "media_kind"}),

		workflowFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_failures_total",
			Help:      "Failed publish and subscribe workflows by reason",
		}, []string{"workflow", "reason"}),

		candidatesQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ice_candidates_queued_total",
			Help:      "Remote candidates buffered before their stream was active",
		}),

		candidatesDrained: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ice_candidates_drained_total",
			Help:      "Buffered candidates handed over on activation",
		}),

		candidatesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ice_candidates_applied_total",
			Help:      "Remote candidates applied to a peer connection",
		}, []string{"direction"}),

		signalingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signaling_call_duration_seconds",
			Help:      "Duration of signaling calls",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}, []string{"method"}),

		signalingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_call_errors_total",
			Help:      "Failed signaling calls",
		}, []string{"method"}),

		audioLevelChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_level_changes_total",
			Help:      "Emitted audio level changes by level",
		}, []string{"level"}),

		rtpPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rtp_packets_received_total",
			Help:      "RTP packets received on subscribed tracks",
		}, []string{"kind"}),

		rtpBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rtp_bytes_received_total",
			Help:      "RTP bytes received on subscribed tracks",
		}, []string{"kind"}),

		keyframes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rtp_keyframes_received_total",
			Help:      "Key frames received on subscribed video tracks",
		}, []string{"kind"}),

		fractionLost: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rtcp_fraction_lost",
			Help:      "Fraction of packets lost per RTCP reception report",
			Buckets:   []float64{0, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1},
		}, []string{"kind"}),

		jitter: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rtcp_jitter",
			Help:      "Interarrival jitter from the latest RTCP reception report, in timestamp units",
		}, []string{"kind"}),
	}
}

// Registry exposes the private registry, mainly for tests.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *PrometheusCollector) RecordStreamOpened(direction domain.Direction, kind domain.MediaKind) {
	p.streamsOpen.WithLabelValues(string(direction), string(kind)).Inc()
	p.streamsOpened.WithLabelValues(string(direction), string(kind)).Inc()
}

func (p *PrometheusCollector) RecordStreamClosed(direction domain.Direction, kind domain.MediaKind) {
	p.streamsOpen.WithLabelValues(string(direction), string(kind)).Dec()
}

func (p *PrometheusCollector) RecordCandidateQueued() {
	p.candidatesQueued.Inc()
}

func (p *PrometheusCollector) RecordCandidatesDrained(n int) {
	p.candidatesDrained.Add(float64(n))
}

func (p *PrometheusCollector) RecordCandidateApplied(direction domain.Direction) {
	p.candidatesApplied.WithLabelValues(string(direction)).Inc()
}

func (p *PrometheusCollector) RecordWorkflowFailure(workflow string, reason string) {
	p.workflowFailure.WithLabelValues(workflow, reason).Inc()
}

func (p *PrometheusCollector) RecordSignalingCall(method string, duration time.Duration, err error) {
	p.signalingDuration.WithLabelValues(method).Observe(duration.Seconds())
	if err != nil {
		p.signalingErrors.WithLabelValues(method).Inc()
	}
}

func (p *PrometheusCollector) RecordAudioLevelChange(level domain.AudioLevel) {
	p.audioLevelChanges.WithLabelValues(string(level)).Inc()
}

func (p *PrometheusCollector) RecordRTPPacket(kind domain.TrackKind, size int) {
	p.rtpPackets.WithLabelValues(string(kind)).Inc()
	p.rtpBytes.WithLabelValues(string(kind)).Add(float64(size))
}

func (p *PrometheusCollector) RecordKeyframe(kind domain.TrackKind) {
	p.keyframes.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordReceptionReport(kind domain.TrackKind, fractionLost float64, jitter uint32) {
	p.fractionLost.WithLabelValues(string(kind)).Observe(fractionLost)
	p.jitter.WithLabelValues(string(kind)).Set(float64(jitter))
}
