// Package memory implements Learning Memory: the append-only, content-keyed
// store of Trade Outcomes that closes the loop between the Trade Monitor and
// the next cycle's REASONING phase. Provider- and regime-keyed rollups are
// maintained in memory and mirrored to disk through the injected
// ports.StorageSink; on every restart the canonical rebuild path is a full
// rescan of outcomes, never a trust-the-rollup-file shortcut — the
// persisted rollup blobs are a write-path convenience for external readers,
// gated by a schema_version field so a format change degrades to "rebuild",
// never a partial read of a shape this binary no longer understands.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/ports"
)

// Config controls eviction and the persisted rollup format version.
type Config struct {
	MaxMemorySize int    // default 1000
	SchemaVersion string // e.g. "1.0.0"
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{MaxMemorySize: 1000, SchemaVersion: "1.0.0"}
}

// ProviderPerformance is one provider's rolled-up track record.
type ProviderPerformance struct {
	WinRate    float64 `json:"win_rate"`
	TradeCount int     `json:"trade_count"`
	AvgPnL     float64 `json:"avg_pnl"`
	Sharpe     float64 `json:"sharpe"`
}

// RegimePerformance is one market regime's rolled-up track record.
type RegimePerformance struct {
	WinRate     float64 `json:"win_rate"`
	TradeCount  int     `json:"trade_count"`
	AvgPnL      float64 `json:"avg_pnl"`
}

// Momentum classifies the trend of realized performance within a window.
type Momentum string

const (
	MomentumImproving Momentum = "improving"
	MomentumDeclining Momentum = "declining"
	MomentumStable    Momentum = "stable"
)

// Stats is long_term_performance's return shape.
type Stats struct {
	RealizedPnL  float64
	WinRate      float64
	ProfitFactor float64
	Sharpe       float64
	BestTrade    float64
	WorstTrade   float64
	Momentum     Momentum
	TradeCount   int
}

type rollupFile struct {
	SchemaVersion string                         `json:"schema_version"`
	Providers     map[string]ProviderPerformance `json:"providers,omitempty"`
	Regimes       map[model.MarketRegime]RegimePerformance `json:"regimes,omitempty"`
}

// Handle is an opaque snapshot returned by Snapshot and consumed by Restore.
type Handle struct {
	outcomes     []model.TradeOutcome
	providerPerf map[string]ProviderPerformance
	regimePerf   map[model.MarketRegime]RegimePerformance
}

// Memory is the Learning Memory component. One instance per process; safe
// for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	cfg      Config
	sink     ports.StorageSink
	log      zerolog.Logger
	readonly bool

	outcomes     []model.TradeOutcome // ascending by ExitTimestamp
	providerPerf map[string]ProviderPerformance
	regimePerf   map[model.MarketRegime]RegimePerformance
}

// New constructs a Memory backed by sink. Call Bootstrap before first use
// in a long-running process to rebuild aggregates from prior runs.
func New(sink ports.StorageSink, cfg Config, log zerolog.Logger) *Memory {
	return &Memory{
		cfg:          cfg,
		sink:         sink,
		log:          log,
		providerPerf: make(map[string]ProviderPerformance),
		regimePerf:   make(map[model.MarketRegime]RegimePerformance),
	}
}

// Bootstrap scans the backing store and rebuilds every in-memory aggregate
// in one pass. It also opportunistically checks the persisted rollup's
// schema_version purely to log a format-drift warning; the rebuild below
// never depends on that file being present or valid.
func (m *Memory) Bootstrap(ctx context.Context) error {
	outcomes, err := m.sink.List(ctx)
	if err != nil {
		return fmt.Errorf("memory: bootstrap list: %w", err)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].ExitTimestamp.Before(outcomes[j].ExitTimestamp) })

	m.checkPersistedSchema(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = outcomes
	m.evictLocked()
	m.rebuildRollupsLocked()
	return nil
}

func (m *Memory) checkPersistedSchema(ctx context.Context) {
	data, found, err := m.sink.LoadRollup(ctx, "provider_performance")
	if err != nil || !found {
		return
	}
	var file rollupFile
	if err := json.Unmarshal(data, &file); err != nil {
		m.log.Warn().Err(err).Msg("learning memory: persisted rollup is unparseable, rebuilding from outcomes")
		return
	}
	want, err := semver.NewConstraint("^" + m.cfg.SchemaVersion)
	if err != nil {
		return
	}
	got, err := semver.NewVersion(file.SchemaVersion)
	if err != nil || !want.Check(got) {
		m.log.Warn().Str("persisted_version", file.SchemaVersion).Str("expected", m.cfg.SchemaVersion).
			Msg("learning memory: persisted rollup schema version mismatch, rebuilding from outcomes")
	}
}

// Record appends outcome, updates rollups, evicts if over capacity, and
// mirrors the updated rollups to the backing store. A readonly Memory
// (set via SetReadonly, used by replay harnesses during out-of-sample test
// windows) silently drops the write.
func (m *Memory) Record(ctx context.Context, outcome model.TradeOutcome) error {
	m.mu.Lock()
	if m.readonly {
		m.mu.Unlock()
		m.log.Debug().Str("decision_id", outcome.DecisionID).Msg("learning memory: readonly, dropping write")
		return nil
	}
	m.mu.Unlock()

	outcome.SchemaVersion = m.cfg.SchemaVersion
	if err := m.sink.Append(ctx, outcome); err != nil {
		return fmt.Errorf("memory: append outcome: %w", err)
	}

	m.mu.Lock()
	m.insertSortedLocked(outcome)
	m.evictLocked()
	m.rebuildRollupsLocked()
	m.mu.Unlock()

	m.persistRollups(ctx)
	return nil
}

func (m *Memory) insertSortedLocked(outcome model.TradeOutcome) {
	idx := sort.Search(len(m.outcomes), func(i int) bool {
		return m.outcomes[i].ExitTimestamp.After(outcome.ExitTimestamp)
	})
	m.outcomes = append(m.outcomes, model.TradeOutcome{})
	copy(m.outcomes[idx+1:], m.outcomes[idx:])
	m.outcomes[idx] = outcome
}

// evictLocked drops the oldest outcomes once count exceeds MaxMemorySize.
func (m *Memory) evictLocked() {
	if m.cfg.MaxMemorySize <= 0 || len(m.outcomes) <= m.cfg.MaxMemorySize {
		return
	}
	drop := len(m.outcomes) - m.cfg.MaxMemorySize
	m.outcomes = m.outcomes[drop:]
}

func (m *Memory) rebuildRollupsLocked() {
	providerAgg := map[string]*providerAccumulator{}
	regimeAgg := map[model.MarketRegime]*regimeAccumulator{}

	for _, o := range m.outcomes {
		for _, provider := range providerLineage(o) {
			acc := providerAgg[provider]
			if acc == nil {
				acc = &providerAccumulator{}
				providerAgg[provider] = acc
			}
			acc.add(o)
		}

		regime := o.MarketRegimeAtEntry
		if regime == "" {
			regime = model.RegimeUnknown
		}
		racc := regimeAgg[regime]
		if racc == nil {
			racc = &regimeAccumulator{}
			regimeAgg[regime] = racc
		}
		racc.add(o)
	}

	providerPerf := make(map[string]ProviderPerformance, len(providerAgg))
	for id, acc := range providerAgg {
		providerPerf[id] = acc.finalize()
	}
	regimePerf := make(map[model.MarketRegime]RegimePerformance, len(regimeAgg))
	for regime, acc := range regimeAgg {
		regimePerf[regime] = acc.finalizeRegime()
	}

	m.providerPerf = providerPerf
	m.regimePerf = regimePerf
}

func providerLineage(o model.TradeOutcome) []string {
	if len(o.EnsembleProviders) > 0 {
		return o.EnsembleProviders
	}
	if o.AIProvider != "" {
		return []string{o.AIProvider}
	}
	return nil
}

type providerAccumulator struct {
	wins, trades int
	totalPnL     float64
	pnls         []float64
}

func (a *providerAccumulator) add(o model.TradeOutcome) {
	a.trades++
	a.totalPnL += o.RealizedPnL
	a.pnls = append(a.pnls, o.RealizedPnL)
	if o.RealizedPnL > 0 {
		a.wins++
	}
}

func (a *providerAccumulator) finalize() ProviderPerformance {
	if a.trades == 0 {
		return ProviderPerformance{}
	}
	return ProviderPerformance{
		WinRate:    float64(a.wins) / float64(a.trades),
		TradeCount: a.trades,
		AvgPnL:     a.totalPnL / float64(a.trades),
		Sharpe:     sharpe(a.pnls),
	}
}

type regimeAccumulator struct {
	wins, trades int
	totalPnL     float64
}

func (a *regimeAccumulator) add(o model.TradeOutcome) {
	a.trades++
	a.totalPnL += o.RealizedPnL
	if o.RealizedPnL > 0 {
		a.wins++
	}
}

func (a *regimeAccumulator) finalizeRegime() RegimePerformance {
	if a.trades == 0 {
		return RegimePerformance{}
	}
	return RegimePerformance{
		WinRate:    float64(a.wins) / float64(a.trades),
		TradeCount: a.trades,
		AvgPnL:     a.totalPnL / float64(a.trades),
	}
}

func sharpe(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return mean / stddev
}

func (m *Memory) persistRollups(ctx context.Context) {
	m.mu.RLock()
	providers := m.providerPerf
	regimes := m.regimePerf
	m.mu.RUnlock()

	providerData, err := json.Marshal(rollupFile{SchemaVersion: m.cfg.SchemaVersion, Providers: providers})
	if err == nil {
		if err := m.sink.SaveRollup(ctx, "provider_performance", providerData); err != nil {
			m.log.Warn().Err(err).Msg("learning memory: failed to persist provider_performance rollup")
		}
	}

	regimeData, err := json.Marshal(rollupFile{SchemaVersion: m.cfg.SchemaVersion, Regimes: regimes})
	if err == nil {
		if err := m.sink.SaveRollup(ctx, "regime_performance", regimeData); err != nil {
			m.log.Warn().Err(err).Msg("learning memory: failed to persist regime_performance rollup")
		}
	}
}

// ProviderPerformanceSnapshot returns a copy of the current provider
// performance map.
func (m *Memory) ProviderPerformanceSnapshot() map[string]ProviderPerformance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ProviderPerformance, len(m.providerPerf))
	for k, v := range m.providerPerf {
		out[k] = v
	}
	return out
}

// LongTermPerformance computes realized stats over the trailing windowDays,
// optionally filtered to one instrument.
func (m *Memory) LongTermPerformance(windowDays int, instrument string) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().AddDate(0, 0, -windowDays)
	var windowed []model.TradeOutcome
	for _, o := range m.outcomes {
		if o.ExitTimestamp.Before(cutoff) {
			continue
		}
		if instrument != "" && o.Instrument != instrument {
			continue
		}
		windowed = append(windowed, o)
	}
	if len(windowed) == 0 {
		return Stats{Momentum: MomentumStable}
	}

	var realized, grossProfit, grossLoss float64
	var wins int
	best, worst := windowed[0].RealizedPnL, windowed[0].RealizedPnL
	pnls := make([]float64, 0, len(windowed))
	for _, o := range windowed {
		realized += o.RealizedPnL
		pnls = append(pnls, o.RealizedPnL)
		if o.RealizedPnL > 0 {
			wins++
			grossProfit += o.RealizedPnL
		} else {
			grossLoss += -o.RealizedPnL
		}
		if o.RealizedPnL > best {
			best = o.RealizedPnL
		}
		if o.RealizedPnL < worst {
			worst = o.RealizedPnL
		}
	}

	profitFactor := 0.0
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		profitFactor = math.Inf(1)
	}

	return Stats{
		RealizedPnL:  realized,
		WinRate:      float64(wins) / float64(len(windowed)),
		ProfitFactor: profitFactor,
		Sharpe:       sharpe(pnls),
		BestTrade:    best,
		WorstTrade:   worst,
		Momentum:     momentumOf(pnls),
		TradeCount:   len(windowed),
	}
}

// momentumOf compares the mean of the first half of values against the
// second half to classify the window's trend.
func momentumOf(pnls []float64) Momentum {
	if len(pnls) < 4 {
		return MomentumStable
	}
	mid := len(pnls) / 2
	firstMean := mean(pnls[:mid])
	secondMean := mean(pnls[mid:])

	const epsilon = 1e-9
	switch {
	case secondMean > firstMean+epsilon:
		return MomentumImproving
	case secondMean < firstMean-epsilon:
		return MomentumDeclining
	default:
		return MomentumStable
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// ContextFor formats a recent-performance summary for prompt injection.
func (m *Memory) ContextFor(instrument string, windowDays int) string {
	stats := m.LongTermPerformance(windowDays, instrument)
	if stats.TradeCount == 0 {
		return fmt.Sprintf("No recorded trades for %s in the last %d days.", instrument, windowDays)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s, last %d days (%d trades): realized PnL %.2f, win rate %.1f%%, profit factor %.2f, momentum %s.",
		instrument, windowDays, stats.TradeCount, stats.RealizedPnL, stats.WinRate*100, stats.ProfitFactor, stats.Momentum)
	return b.String()
}

// Snapshot returns an opaque handle capturing the current state, for replay
// harnesses to restore after an out-of-sample test window.
func (m *Memory) Snapshot() Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := Handle{
		outcomes:     append([]model.TradeOutcome(nil), m.outcomes...),
		providerPerf: make(map[string]ProviderPerformance, len(m.providerPerf)),
		regimePerf:   make(map[model.MarketRegime]RegimePerformance, len(m.regimePerf)),
	}
	for k, v := range m.providerPerf {
		h.providerPerf[k] = v
	}
	for k, v := range m.regimePerf {
		h.regimePerf[k] = v
	}
	return h
}

// Restore replaces the in-memory state with handle's contents. It does not
// touch the backing store — a restored Memory differs from disk until the
// next Record.
func (m *Memory) Restore(handle Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append([]model.TradeOutcome(nil), handle.outcomes...)
	m.providerPerf = make(map[string]ProviderPerformance, len(handle.providerPerf))
	for k, v := range handle.providerPerf {
		m.providerPerf[k] = v
	}
	m.regimePerf = make(map[model.MarketRegime]RegimePerformance, len(handle.regimePerf))
	for k, v := range handle.regimePerf {
		m.regimePerf[k] = v
	}
}

// SetReadonly toggles write-through: true prevents Record from persisting or
// mutating state, used by replay harnesses during out-of-sample windows.
func (m *Memory) SetReadonly(readonly bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readonly = readonly
}
