// Package breaker implements the per-dependency circuit breaker (CLOSED /
// OPEN / HALF_OPEN) used to guard every outbound call the core makes:
// reasoning providers, execution back-ends, and the storage layer.
//
// It wraps github.com/sony/gobreaker, which natively trips on a failure
// ratio over a rolling window. That is more than this design wants: the
// contract here trips on N *consecutive* failures and admits exactly one
// probe in HALF_OPEN, so ReadyToTrip and MaxRequests are configured to
// force gobreaker's richer machinery down to those exact semantics.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/quantloop/tradecore/internal/core/errs"
)

// Config configures one breaker instance.
type Config struct {
	FailureThreshold uint32        // consecutive failures before OPEN (default 3)
	RecoveryTimeout  time.Duration // time in OPEN before a HALF_OPEN probe is admitted (default 60s)
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, RecoveryTimeout: 60 * time.Second}
}

var (
	metricsOnce       sync.Once
	stateGauge        *prometheus.GaugeVec
	tripsCounter      *prometheus.CounterVec
	shortCircuitCount *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state per dependency (0=closed,1=half_open,2=open)",
		}, []string{"dependency"})
		tripsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of times a circuit breaker opened",
		}, []string{"dependency"})
		shortCircuitCount = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_short_circuited_total",
			Help: "Total number of calls rejected without invoking the dependency",
		}, []string{"dependency"})
	})
}

// Breaker is one dependency's circuit breaker. Safe for concurrent use.
type Breaker struct {
	dependency string
	cb         *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// New constructs a Breaker for dependency, named so its metrics and logs
// are attributable (e.g. "exchange:binance", "provider:gpt4o").
func New(dependency string, cfg Config, log zerolog.Logger) *Breaker {
	initMetrics()
	if cfg.FailureThreshold == 0 {
		cfg = DefaultConfig()
	}

	b := &Breaker{
		dependency: dependency,
		log:        log.With().Str("breaker", dependency).Logger(),
	}

	settings := gobreaker.Settings{
		Name:        dependency,
		MaxRequests: 1, // exactly one probe admitted in half-open
		Interval:    0, // never reset CLOSED counts on a rolling interval; only consecutive failures matter
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			stateGauge.WithLabelValues(name).Set(float64(stateOrdinal(to)))
			if to == gobreaker.StateOpen {
				tripsCounter.WithLabelValues(name).Inc()
			}
			b.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)
	stateGauge.WithLabelValues(dependency).Set(float64(stateOrdinal(gobreaker.StateClosed)))
	return b
}

func stateOrdinal(s gobreaker.State) int {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Call executes fn if the breaker is not OPEN, recording the outcome. It
// returns *errs.CircuitOpen without invoking fn when short-circuiting.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		shortCircuitCount.WithLabelValues(b.dependency).Inc()
		return nil, &errs.CircuitOpen{Dependency: b.dependency}
	}
	return result, err
}

// State returns a human string for the current state, useful for status
// reporting ("CLOSED", "OPEN", "HALF_OPEN").
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return "CLOSED"
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "OPEN"
	}
}

// Manager owns one Breaker per distinct outbound dependency, created
// lazily on first use, mirroring the reference platform's
// CircuitBreakerManager but keyed by an arbitrary dependency name instead
// of a fixed exchange/llm/database triple.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	log      zerolog.Logger
	breakers map[string]*Breaker
}

// NewManager constructs an empty Manager.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, log: log, breakers: make(map[string]*Breaker)}
}

// For returns the Breaker for dependency, creating it on first access.
func (m *Manager) For(dependency string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[dependency]; ok {
		return b
	}
	b := New(dependency, m.cfg, m.log)
	m.breakers[dependency] = b
	return b
}

// Snapshot returns the current state of every breaker created so far, for
// status reporting.
func (m *Manager) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.breakers))
	for dep, b := range m.breakers {
		out[dep] = b.State()
	}
	return out
}
