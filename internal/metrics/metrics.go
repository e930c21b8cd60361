// Package metrics exposes the Sink interface pg-cdc's dispatch pool and
// replication session report progress through, plus a Prometheus-backed
// implementation. Callers that don't care about metrics use NoopSink, the
// default, so no component ever needs a nil check.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sink receives point-in-time counters and gauges from the decoder,
// session and dispatch pool. All methods must be safe for concurrent use.
type Sink interface {
	// FrameDecoded is called once per frame the decoder successfully
	// processed (event emitted or not).
	FrameDecoded()
	// EventDispatched is called once per event whose handler returned
	// without error.
	EventDispatched()
	// HandlerError is called once per handler invocation that returned an
	// error or panicked.
	HandlerError()
	// SoftDecodeError is called once per recovered decode-level failure
	// (unknown_relation, column_count_mismatch, protocol_violation).
	SoftDecodeError(kind string)
	// QueueDepth reports the current number of events buffered in the
	// dispatch queue.
	QueueDepth(n int)
	// AcknowledgedLSN reports the position most recently sent to the
	// server as feedback.
	AcknowledgedLSN(lsn uint64)
}

// NoopSink discards everything. It is the default Sink for components that
// are not given one explicitly.
type NoopSink struct{}

func (NoopSink) FrameDecoded()            {}
func (NoopSink) EventDispatched()         {}
func (NoopSink) HandlerError()            {}
func (NoopSink) SoftDecodeError(string)   {}
func (NoopSink) QueueDepth(int)           {}
func (NoopSink) AcknowledgedLSN(uint64)   {}

// PrometheusSink is a Sink backed by github.com/prometheus/client_golang.
type PrometheusSink struct {
	framesDecoded    prometheus.Counter
	eventsDispatched prometheus.Counter
	handlerErrors    prometheus.Counter
	softDecodeErrors *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	acknowledgedLSN  prometheus.Gauge
}

// NewPrometheusSink creates and registers pg-cdc's metrics against
// registerer. If registerer is nil, prometheus.DefaultRegisterer is used.
func NewPrometheusSink(registerer prometheus.Registerer) *PrometheusSink {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgcdc_frames_decoded_total",
			Help: "Total replication frames successfully processed by the decoder.",
		}),
		eventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgcdc_events_dispatched_total",
			Help: "Total change events whose handler returned without error.",
		}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgcdc_handler_errors_total",
			Help: "Total application handler invocations that returned an error or panicked.",
		}),
		softDecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pgcdc_soft_decode_errors_total",
			Help: "Total recovered decode-level failures by kind.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgcdc_queue_depth",
			Help: "Current number of events buffered in the dispatch queue.",
		}),
		acknowledgedLSN: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgcdc_acknowledged_lsn",
			Help: "Most recent log position acknowledged to the server.",
		}),
	}
	registerer.MustRegister(
		s.framesDecoded,
		s.eventsDispatched,
		s.handlerErrors,
		s.softDecodeErrors,
		s.queueDepth,
		s.acknowledgedLSN,
	)
	return s
}

func (s *PrometheusSink) FrameDecoded()    { s.framesDecoded.Inc() }
func (s *PrometheusSink) EventDispatched() { s.eventsDispatched.Inc() }
func (s *PrometheusSink) HandlerError()    { s.handlerErrors.Inc() }

func (s *PrometheusSink) SoftDecodeError(kind string) {
	s.softDecodeErrors.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) QueueDepth(n int) {
	s.queueDepth.Set(float64(n))
}

func (s *PrometheusSink) AcknowledgedLSN(lsn uint64) {
	s.acknowledgedLSN.Set(float64(lsn))
}
