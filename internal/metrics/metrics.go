// Package metrics exports mission, phase, gate, repair and agent metrics to
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/missionctl/internal/gate"
	"github.com/ShayCichocki/missionctl/internal/mission"
	"github.com/ShayCichocki/missionctl/internal/runtime"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

const namespace = "missionctl"

// Metrics implements mission.Observer on a Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	missionsStarted  *prometheus.CounterVec
	missionsFinished *prometheus.CounterVec
	missionsActive   prometheus.Gauge
	missionDuration  prometheus.Histogram
	phaseDuration    *prometheus.HistogramVec
	gateDecisions    *prometheus.CounterVec
	repairs          *prometheus.CounterVec
	agentCalls       *prometheus.CounterVec
	agentDuration    *prometheus.HistogramVec
	agentSteps       *prometheus.CounterVec
}

var _ mission.Observer = (*Metrics)(nil)

// New registers the mission metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		missionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mission",
			Name:      "started_total",
			Help:      "Missions started or resumed.",
		}, []string{"resumed"}),
		missionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mission",
			Name:      "finished_total",
			Help:      "Missions that reached a terminal phase.",
		}, []string{"phase"}),
		missionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mission",
			Name:      "active",
			Help:      "Missions currently running in this process.",
		}),
		missionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mission",
			Name:      "duration_seconds",
			Help:      "Wall time from mission start to a terminal phase.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "duration_seconds",
			Help:      "Time spent in one attempt at a phase.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"phase", "success"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Gate decisions by phase and status.",
		}, []string{"phase", "status"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repair",
			Name:      "attempts_total",
			Help:      "Repair attempts by the phase under repair.",
		}, []string{"phase"}),
		agentCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "invocations_total",
			Help:      "Agent invocations by agent and outcome.",
		}, []string{"agent", "success"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "duration_seconds",
			Help:      "Agent invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"}),
		agentSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "steps_total",
			Help:      "Steps recorded by agent invocations.",
		}, []string{"agent"}),
	}
	m.registry.MustRegister(
		m.missionsStarted, m.missionsFinished, m.missionsActive, m.missionDuration,
		m.phaseDuration, m.gateDecisions, m.repairs,
		m.agentCalls, m.agentDuration, m.agentSteps,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) MissionStarted(_ string, resumed bool) {
	m.missionsStarted.WithLabelValues(strconv.FormatBool(resumed)).Inc()
	m.missionsActive.Inc()
}

func (m *Metrics) MissionFinished(result *models.MissionResult) {
	m.missionsActive.Dec()
	if result == nil {
		return
	}
	m.missionsFinished.WithLabelValues(string(result.Phase)).Inc()
	m.missionDuration.Observe(result.Stats.Duration.Seconds())
}

func (m *Metrics) PhaseFinished(_ string, phase models.Phase, d time.Duration, err error) {
	m.phaseDuration.WithLabelValues(string(phase), strconv.FormatBool(err == nil)).Observe(d.Seconds())
}

func (m *Metrics) GateEvaluated(_ string, phase models.Phase, decision gate.Decision) {
	m.gateDecisions.WithLabelValues(string(phase), string(decision.Status)).Inc()
}

func (m *Metrics) RepairAttempted(_ string, phase models.Phase, _ int) {
	m.repairs.WithLabelValues(string(phase)).Inc()
}

func (m *Metrics) AgentInvoked(_ string, r runtime.Result) {
	m.agentCalls.WithLabelValues(r.AgentID, strconv.FormatBool(r.Success)).Inc()
	m.agentDuration.WithLabelValues(r.AgentID).Observe(r.Duration.Seconds())
	m.agentSteps.WithLabelValues(r.AgentID).Add(float64(r.Steps))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
