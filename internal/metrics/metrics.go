// Package metrics holds the Prometheus collectors for the capture pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"netfeed/internal/models"
)

// Metrics holds all pipeline Prometheus metrics
type Metrics struct {
	// Capture loop
	Frames          prometheus.Counter
	FramesFiltered  prometheus.Counter
	FrameErrors     prometheus.Counter
	Packets         *prometheus.CounterVec
	Anomalies       *prometheus.CounterVec
	CaptureRunning  prometheus.Gauge
	CaptureFailures prometheus.Counter

	// Delivery
	BatchesDelivered prometheus.Counter
	BatchesDropped   prometheus.Counter
	MessagesSent     *prometheus.CounterVec
	SendErrors       prometheus.Counter
	Subscribers      prometheus.Gauge
}

// New creates unregistered collectors. Call Register to expose them.
func New() *Metrics {
	return &Metrics{
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netfeed_frames_total",
			Help: "Total number of frames read from the capture facility",
		}),
		FramesFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netfeed_frames_filtered_total",
			Help: "Frames dropped by the active protocol filter",
		}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netfeed_frame_errors_total",
			Help: "Frames skipped because classification or detection failed",
		}),
		Packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netfeed_packets_total",
			Help: "Classified packets by protocol label",
		}, []string{"protocol"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netfeed_anomalies_total",
			Help: "Anomaly findings by kind and severity",
		}, []string{"kind", "severity"}),
		CaptureRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netfeed_capture_running",
			Help: "Whether a capture session is running (1) or not (0)",
		}),
		CaptureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netfeed_capture_failures_total",
			Help: "Capture sessions terminated by an open or read failure",
		}),
		BatchesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netfeed_batches_delivered_total",
			Help: "Batches fanned out to subscribers",
		}),
		BatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netfeed_batches_dropped_total",
			Help: "Batches dropped because the delivery queue was full",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netfeed_messages_sent_total",
			Help: "Messages written to subscribers by type",
		}, []string{"type"}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netfeed_send_errors_total",
			Help: "Subscriber writes that failed and disconnected the subscriber",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netfeed_subscribers",
			Help: "Number of connected subscribers",
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.Frames,
		m.FramesFiltered,
		m.FrameErrors,
		m.Packets,
		m.Anomalies,
		m.CaptureRunning,
		m.CaptureFailures,
		m.BatchesDelivered,
		m.BatchesDropped,
		m.MessagesSent,
		m.SendErrors,
		m.Subscribers,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRecord counts one classified record and its findings.
func (m *Metrics) ObserveRecord(rec models.PacketRecord) {
	m.Packets.WithLabelValues(string(rec.Protocol)).Inc()
	for _, f := range rec.Anomalies {
		m.Anomalies.WithLabelValues(string(f.Kind), string(f.Severity)).Inc()
	}
}
