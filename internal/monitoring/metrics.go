package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keiba_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	WagersConfirmed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keiba_wagers_confirmed_total",
			Help: "Wagers accepted and debited",
		},
	)

	WagersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keiba_wagers_rejected_total",
			Help: "Wager confirmations rejected, by notice code",
		},
		[]string{"reason"},
	)

	RacesResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keiba_races_resolved_total",
			Help: "Races resolved, by result (ok or error)",
		},
		[]string{"result"},
	)

	SessionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keiba_session_outcomes_total",
			Help: "Sessions that reached the terminal state, by outcome",
		},
		[]string{"outcome"},
	)

	ActiveTables = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keiba_active_tables",
			Help: "Live sessions held in memory",
		},
	)
)

var once sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(HttpRequests)
		prometheus.MustRegister(WagersConfirmed)
		prometheus.MustRegister(WagersRejected)
		prometheus.MustRegister(RacesResolved)
		prometheus.MustRegister(SessionOutcomes)
		prometheus.MustRegister(ActiveTables)
	})
}
