// Package metric holds the prometheus metrics exported by the frame loop and
// the light transports.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains every metric glimmer exports.
type Metrics struct {
	FramesRendered    prometheus.Counter
	RenderErrors      *prometheus.CounterVec
	RenderDuration    prometheus.Histogram
	AnimationSwitches *prometheus.CounterVec
	TransportSends    *prometheus.CounterVec
	EndpointStatus    *prometheus.GaugeVec
}

// New creates the metrics and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "glimmer",
			Subsystem: "controller",
			Name:      "frames_rendered_total",
			Help:      "Total number of frames rendered by the active animation",
		}),
		RenderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "glimmer",
				Subsystem: "controller",
				Name:      "render_errors_total",
				Help:      "Plugin call failures in the frame loop",
			},
			[]string{"kind"},
		),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "glimmer",
			Subsystem: "controller",
			Name:      "render_duration_seconds",
			Help:      "Time spent in update plus render for one frame",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		AnimationSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "glimmer",
				Subsystem: "controller",
				Name:      "animation_switches_total",
				Help:      "Animation switches by resulting animation id",
			},
			[]string{"animation"},
		),
		TransportSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "glimmer",
				Subsystem: "transport",
				Name:      "sends_total",
				Help:      "Frame sends per endpoint by result (ok, skipped, failed, fatal)",
			},
			[]string{"endpoint", "result"},
		),
		EndpointStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "glimmer",
				Subsystem: "transport",
				Name:      "endpoint_status",
				Help:      "Endpoint health (0=healthy, 1=intermittent, 2=prolonged, 3=dead)",
			},
			[]string{"endpoint"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesRendered,
			m.RenderErrors,
			m.RenderDuration,
			m.AnimationSwitches,
			m.TransportSends,
			m.EndpointStatus,
		)
	}
	return m
}
