package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "castbox_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	InboundEnqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "castbox_inbound_enqueue_total", Help: "Inbound event SQS enqueue results"},
		[]string{"result"},
	)
	ChannelSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "channel_send_total", Help: "Channel send outcomes"},
		[]string{"channel", "result"},
	)
	ChannelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "channel_send_latency_seconds", Help: "Channel send latency including retries"},
		[]string{"channel"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "twilio_webhook_events_total", Help: "Webhook events"},
		[]string{"status"},
	)
	Firings = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_firings_total", Help: "Scheduled message firings by final status"},
		[]string{"status"},
	)
	RecurrenceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_recurrence_failures_total", Help: "Follow-up occurrences that could not be scheduled"},
	)
	StatusWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_status_write_failures_total", Help: "Firings whose final status could not be stored"},
	)
	LiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_live_jobs", Help: "Timers currently armed in the job registry"},
	)
	RestartRecovery = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_restart_recovered_total", Help: "Pending schedules handled at boot"},
		[]string{"outcome"},
	)
	ActionExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "action_executions_total", Help: "Action rule executions"},
		[]string{"trigger", "status"},
	)
	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "event_bus_dropped_total", Help: "Events dropped because a subscriber buffer was full"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		APIRequests, InboundEnqueues, ChannelSend, ChannelLatency, WebhookEvents,
		Firings, RecurrenceFailures, StatusWriteFailures, LiveJobs, RestartRecovery, ActionExecutions, EventsDropped,
	)
}
