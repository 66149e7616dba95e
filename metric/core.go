package metric

import "github.com/prometheus/client_golang/prometheus"

const namespace = "scada_supervisor"

// Core contains the platform-level supervisor metrics.
type Core struct {
	PacketsReceived *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec

	SessionsActive      *prometheus.GaugeVec
	SessionsEstablished *prometheus.CounterVec
	WatchdogTimeouts    *prometheus.CounterVec

	ControlMode   prometheus.Gauge
	CommandedBurn prometheus.Gauge
	AutoScrams    *prometheus.CounterVec

	BrokerConnected prometheus.Gauge
	BrokerRTT       prometheus.Gauge
}

// NewCore creates the supervisor core metrics.
func NewCore() *Core {
	return &Core{
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "comms", Name: "packets_received_total",
			Help: "Inbound frames accepted, by protocol family",
		}, []string{"protocol"}),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "comms", Name: "packets_sent_total",
			Help: "Outbound frames transmitted, by protocol family",
		}, []string{"protocol"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "comms", Name: "packets_dropped_total",
			Help: "Inbound frames dropped, by reason",
		}, []string{"reason"}),

		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "active",
			Help: "Live sessions by peer kind",
		}, []string{"kind"}),
		SessionsEstablished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "established_total",
			Help: "Sessions established by peer kind",
		}, []string{"kind"}),
		WatchdogTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "watchdog_timeouts_total",
			Help: "Sessions closed by watchdog expiry, by peer kind",
		}, []string{"kind"}),

		ControlMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "facility", Name: "control_mode",
			Help: "Facility process mode (0=inactive .. 5=gen_rate_fault_idle)",
		}),
		CommandedBurn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "facility", Name: "commanded_burn_mbt",
			Help: "Total commanded burn rate in mB/t",
		}),
		AutoScrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "facility", Name: "auto_scrams_total",
			Help: "Auto-SCRAM trips by reason",
		}, []string{"reason"}),

		BrokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "broker", Name: "connected",
			Help: "Message broker connection state (1=connected)",
		}),
		BrokerRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "broker", Name: "rtt_seconds",
			Help: "Message broker round-trip time",
		}),
	}
}

func (c *Core) register(reg *prometheus.Registry) {
	reg.MustRegister(
		c.PacketsReceived, c.PacketsSent, c.PacketsDropped,
		c.SessionsActive, c.SessionsEstablished, c.WatchdogTimeouts,
		c.ControlMode, c.CommandedBurn, c.AutoScrams,
		c.BrokerConnected, c.BrokerRTT,
	)
}
