package metrics

import "github.com/prometheus/client_golang/prometheus"

// MonitorMetrics covers polling and classification.
type MonitorMetrics struct {
	Polls        *prometheus.CounterVec
	Events       *prometheus.CounterVec
	SampleErrors *prometheus.CounterVec
	LastTotal    prometheus.Gauge
	PersistFails prometheus.Counter
}

func NewMonitorMetrics(reg prometheus.Registerer) *MonitorMetrics {
	m := &MonitorMetrics{
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "polls_total",
			Help:      "Donation page polls by result (valid, invalid).",
		}, []string{"result"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "events_total",
			Help:      "Donation events detected by class and source.",
		}, []string{"class", "source"}),
		SampleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "sample_errors_total",
			Help:      "Discarded samples by reason (malformed, decreased).",
		}, []string{"reason"}),
		LastTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "last_total",
			Help:      "Last distributed donation total.",
		}),
		PersistFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "persist_failures_total",
			Help:      "Failed writes of the last distributed total.",
		}),
	}

	reg.MustRegister(m.Polls, m.Events, m.SampleErrors, m.LastTotal, m.PersistFails)
	return m
}

// HubMetrics covers fan-out.
type HubMetrics struct {
	Consumers prometheus.Gauge
	Published prometheus.Counter
	Dropped   prometheus.Counter
}

func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		Consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "consumers",
			Help:      "Number of registered consumer handles.",
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "published_total",
			Help:      "Events published to the hub.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_total",
			Help:      "Events evicted from full consumer queues.",
		}),
	}

	reg.MustRegister(m.Consumers, m.Published, m.Dropped)
	return m
}

// ForwarderMetrics covers every consumer adapter, labelled by adapter name.
type ForwarderMetrics struct {
	Deliveries *prometheus.CounterVec
	State      *prometheus.GaugeVec
	Reconnects *prometheus.CounterVec
}

func NewForwarderMetrics(reg prometheus.Registerer) *ForwarderMetrics {
	m := &ForwarderMetrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by adapter and result (ok, error).",
		}, []string{"adapter", "result"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "state",
			Help:      "Current adapter state (0=disconnected 1=connecting 2=connected 3=delivering 4=stopped).",
		}, []string{"adapter"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "connect_failures_total",
			Help:      "Failed connection attempts by adapter.",
		}, []string{"adapter"}),
	}

	reg.MustRegister(m.Deliveries, m.State, m.Reconnects)
	return m
}

// OverlayMetrics holds metrics for overlay stream clients.
type OverlayMetrics struct {
	Clients *prometheus.GaugeVec
	Pushed  prometheus.Counter
	Evicted prometheus.Counter
}

func NewOverlayMetrics(reg prometheus.Registerer) *OverlayMetrics {
	m := &OverlayMetrics{
		Clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "clients",
			Help:      "Connected overlay clients by transport (sse, websocket).",
		}, []string{"transport"}),
		Pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "messages_pushed_total",
			Help:      "Overlay messages queued to clients.",
		}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "slow_clients_evicted_total",
			Help:      "Overlay clients disconnected because their buffer was full.",
		}),
	}

	reg.MustRegister(m.Clients, m.Pushed, m.Evicted)
	return m
}
