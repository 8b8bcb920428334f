package relay

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrNotConnected   = errors.New("no live connection for wallet")
	ErrUnknownSession = errors.New("unknown session")
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total",
		Help: "Total websocket connections accepted by the relay",
	})
	QueueJoins = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_queue_joins_total",
		Help: "Total queue join requests accepted",
	})
	MatchesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_matches_started_total",
		Help: "Total sessions paired",
	})
	MatchesFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_matches_finished_total",
		Help: "Total sessions that reported a game end",
	})
	MatchesSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_matches_settled_total",
		Help: "Total sessions that confirmed settlement",
	})
	MatchesDisputed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_matches_disputed_total",
		Help: "Total sessions that raised a dispute",
	})
	EnvelopesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_envelopes_relayed_total",
		Help: "Envelopes forwarded between session peers, by type",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		QueueJoins,
		MatchesStarted,
		MatchesFinished,
		MatchesSettled,
		MatchesDisputed,
		EnvelopesRelayed,
	)
}
