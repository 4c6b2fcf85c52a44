package irc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters a Session updates. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	LinesReceived prometheus.Counter
	LinesSent     prometheus.Counter
	ParseMisses   prometheus.Counter
	LinesDropped  prometheus.Counter
	Pings         prometheus.Counter
	CTCPReplies   prometheus.Counter
	DialAttempts  prometheus.Counter
	DialFailures  prometheus.Counter
	State         prometheus.Gauge
}

// NewMetrics creates the session metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LinesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircbot_lines_received_total",
			Help: "Total number of lines read from the IRC server",
		}),
		LinesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircbot_lines_sent_total",
			Help: "Total number of lines written to the IRC server",
		}),
		ParseMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircbot_parse_misses_total",
			Help: "Lines that did not match the client grammar",
		}),
		LinesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircbot_lines_dropped_total",
			Help: "Inbound lines skipped for exceeding the maximum line length",
		}),
		Pings: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircbot_pings_total",
			Help: "PING challenges answered with PONG",
		}),
		CTCPReplies: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircbot_ctcp_replies_total",
			Help: "CTCP VERSION queries answered",
		}),
		DialAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircbot_dial_attempts_total",
			Help: "Connection attempts made to the IRC server",
		}),
		DialFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircbot_dial_failures_total",
			Help: "Connection attempts that failed before the session became ready",
		}),
		State: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ircbot_session_state",
			Help: "Current session state (0 unconnected, 1 connecting, 2 handshaking, 3 ready)",
		}),
	}
}

func (m *Metrics) count(pick func(*Metrics) prometheus.Counter) {
	if m != nil {
		pick(m).Inc()
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.State.Set(float64(s))
	}
}

func linesReceived(m *Metrics) prometheus.Counter { return m.LinesReceived }
func linesSent(m *Metrics) prometheus.Counter     { return m.LinesSent }
func parseMisses(m *Metrics) prometheus.Counter   { return m.ParseMisses }
func linesDropped(m *Metrics) prometheus.Counter  { return m.LinesDropped }
func pings(m *Metrics) prometheus.Counter         { return m.Pings }
func ctcpReplies(m *Metrics) prometheus.Counter   { return m.CTCPReplies }
func dialAttempts(m *Metrics) prometheus.Counter  { return m.DialAttempts }
func dialFailures(m *Metrics) prometheus.Counter  { return m.DialFailures }
