package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	gamesStarted   prometheus.Counter
	gamesConfirmed prometheus.Counter
	pulls          *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	settleLatency  prometheus.Histogram
	payouts        prometheus.Counter
	wagered        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roulette",
			Name:      "games_started_total",
			Help:      "Sessions created by /game/start.",
		}),
		gamesConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roulette",
			Name:      "games_confirmed_total",
			Help:      "Sessions promoted to started after the on-chain commit was verified.",
		}),
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roulette",
			Name:      "pulls_total",
			Help:      "Trigger pulls by result.",
		}, []string{"result"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roulette",
			Name:      "settlements_total",
			Help:      "Settlement attempts by outcome.",
		}, []string{"outcome"}),
		settleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "roulette",
			Name:      "settlement_duration_seconds",
			Help:      "Time from settlement request to recorded outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		payouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roulette",
			Name:      "payout_lamports_total",
			Help:      "Lamports paid out on won games.",
		}),
		wagered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roulette",
			Name:      "wagered_lamports_total",
			Help:      "Lamports wagered on settled games.",
		}),
	}

	reg.MustRegister(
		m.gamesStarted,
		m.gamesConfirmed,
		m.pulls,
		m.settlements,
		m.settleLatency,
		m.payouts,
		m.wagered,
	)

	return m
}

func (m *Metrics) GameStarted() {
	if m != nil {
		m.gamesStarted.Inc()
	}
}

func (m *Metrics) GameConfirmed() {
	if m != nil {
		m.gamesConfirmed.Inc()
	}
}

func (m *Metrics) Pull(result string) {
	if m != nil {
		m.pulls.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Settled(outcome string, bet, payout uint64, started time.Time) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.settleLatency.Observe(time.Since(started).Seconds())
	m.wagered.Add(float64(bet))
	m.payouts.Add(float64(payout))
}

func (m *Metrics) SettleFailed() {
	if m != nil {
		m.settlements.WithLabelValues("failed").Inc()
	}
}
