// Package metrics exposes the governor's own Prometheus metrics on a
// private registry.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wattwatch/thermal-governor/internal/thermal"
)

// Metrics holds every Prometheus series the daemon publishes, registered on
// a private registry so they never collide with anything using the global
// default.
type Metrics struct {
	Registry *prometheus.Registry

	CapKHz            *prometheus.GaugeVec
	TempCelsius       *prometheus.GaugeVec
	FanRPM            *prometheus.GaugeVec
	TunerAdjustments  *prometheus.CounterVec
	ActuatorFailures  *prometheus.CounterVec
	ActiveProfile     *prometheus.GaugeVec
}

// New creates a Metrics instance with every series registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		CapKHz: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermal_governor_cap_khz",
			Help: "Current scaling_max_freq cap applied, in kHz.",
		}, []string{"profile"}),
		TempCelsius: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermal_governor_temp_celsius",
			Help: "Most recently observed package temperature.",
		}, []string{"profile"}),
		FanRPM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermal_governor_fan_rpm",
			Help: "Most recently observed fan speed.",
		}, []string{"profile"}),
		TunerAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thermal_governor_tuner_adjustments_total",
			Help: "Total number of auto-tuner runs, by profile and outcome summary.",
		}, []string{"profile", "outcome"}),
		ActuatorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thermal_governor_actuator_failures_total",
			Help: "Total number of failed actuator applies.",
		}, []string{"profile"}),
		ActiveProfile: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermal_governor_active_profile",
			Help: "1 for the currently active profile, 0 for the others.",
		}, []string{"profile"}),
	}

	reg.MustRegister(
		m.CapKHz,
		m.TempCelsius,
		m.FanRPM,
		m.TunerAdjustments,
		m.ActuatorFailures,
		m.ActiveProfile,
	)

	return m
}

// ObserveTick implements controller.Metrics.
func (m *Metrics) ObserveTick(profile thermal.Profile, temp int32, fanRPM uint32, capKHz uint32) {
	label := profile.String()
	m.CapKHz.WithLabelValues(label).Set(float64(capKHz))
	m.TempCelsius.WithLabelValues(label).Set(float64(temp))
	m.FanRPM.WithLabelValues(label).Set(float64(fanRPM))
}

// ObserveTune implements controller.Metrics.
func (m *Metrics) ObserveTune(profile thermal.Profile, summary string) {
	m.TunerAdjustments.WithLabelValues(profile.String(), summary).Inc()
}

// SetActiveProfile zeroes every profile's gauge except active, which is set
// to 1.
func (m *Metrics) SetActiveProfile(active thermal.Profile) {
	for _, p := range thermal.Profiles {
		v := 0.0
		if p == active {
			v = 1.0
		}
		m.ActiveProfile.WithLabelValues(p.String()).Set(v)
	}
}

// Server serves /metrics over plain HTTP.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a metrics HTTP server bound to addr (e.g. "127.0.0.1:9280").
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics: listen: %w", err)
	}
	s.listener = ln
	go func() {
		_ = s.httpServer.Serve(ln)
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
