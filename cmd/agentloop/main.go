// Command agentloop runs the Agent Loop end to end: a PerceptionPort backed
// by CoinGecko market data and the technical indicator Service, a roster of
// ReasoningPort providers backed by the LLM gateway, and an ExecutionPort
// backed by the exchange package's mock or Binance client, tied together by
// the Ensemble Decision Aggregator, Risk Gatekeeper, Circuit Breaker
// Manager, Trade Monitor, and fsstorage-backed Learning Memory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/quantloop/tradecore/internal/config"
	"github.com/quantloop/tradecore/internal/core/agentloop"
	"github.com/quantloop/tradecore/internal/core/breaker"
	"github.com/quantloop/tradecore/internal/core/ensemble"
	"github.com/quantloop/tradecore/internal/core/memory"
	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/monitor"
	"github.com/quantloop/tradecore/internal/core/ports"
	"github.com/quantloop/tradecore/internal/core/risk"
	"github.com/quantloop/tradecore/internal/db"
	"github.com/quantloop/tradecore/internal/exchange"
	"github.com/quantloop/tradecore/internal/indicators"
	"github.com/quantloop/tradecore/internal/llm"
	"github.com/quantloop/tradecore/internal/market"
	knowledge "github.com/quantloop/tradecore/internal/memory"
	"github.com/quantloop/tradecore/internal/storage/fsstorage"
)

func main() {
	cfg, err := config.Load("configs/agentloop.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentloop: load config: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, "console")
	logger := config.NewLogger("agentloop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to database")
	}

	ex, pm := buildExchange(cfg, database)
	execution := exchange.NewCoreExecutionPort(ex, pm, cfg.Trading.InitialCapital)

	chart, err := market.NewCoinGeckoClient(viper.GetString("mcp.external.coingecko.api_key"))
	if err != nil {
		logger.Fatal().Err(err).Msg("create coingecko client")
	}
	perception := market.NewCorePerceptionPort(chart, indicators.NewService(), nil)

	providers := buildReasoningProviders(cfg)

	sink, err := fsstorage.New("data/agentloop")
	if err != nil {
		logger.Fatal().Err(err).Msg("create storage sink")
	}

	loopCfg := agentloop.DefaultConfig()
	loopCfg.Instruments = cfg.Trading.Symbols
	loopCfg.Timeframes = []model.Timeframe{model.Timeframe15m, model.Timeframe1h}
	loopCfg.KillSwitchLoss = -cfg.Trading.InitialCapital * cfg.Risk.MaxDailyLoss

	loop := agentloop.New(
		loopCfg,
		perception,
		execution,
		sink,
		providers,
		ensemble.New(ensemble.DefaultConfig()),
		risk.New(risk.DefaultConfig()),
		monitor.New(execution, ports.SystemClock{}, monitor.DefaultConfig(), logger),
		memory.New(sink, memory.DefaultConfig(), logger),
		breaker.NewManager(breaker.DefaultConfig(), logger),
		ports.SystemClock{},
		logger,
	)

	go runKnowledgeExtraction(ctx, database, logger)

	logger.Info().Strs("instruments", loopCfg.Instruments).Msg("starting agent loop")
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("agent loop exited")
	}
}

// runKnowledgeExtraction periodically mines recently recorded LLM decisions
// and trading results into semantic KnowledgeItems, so the Ensemble
// Aggregator's prompt context accumulates lessons from the running session
// instead of only from outcomes recorded via pgstorage.recordKnowledge.
func runKnowledgeExtraction(ctx context.Context, database *db.DB, logger zerolog.Logger) {
	extractor := knowledge.NewKnowledgeExtractorFromDB(database, knowledge.DefaultExtractionConfig())
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	since := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := extractor.ExtractFromTradingResults(ctx, "agentloop", since)
			if err != nil {
				logger.Warn().Err(err).Msg("extract knowledge from trading results")
			} else if n > 0 {
				logger.Info().Int("items", n).Msg("extracted knowledge from trading results")
			}
			since = now
		}
	}
}

func buildExchange(cfg *config.Config, database *db.DB) (exchange.Exchange, *exchange.PositionManager) {
	if cfg.Trading.Mode == "live" {
		binCfg, ok := cfg.Exchanges[cfg.Trading.Exchange]
		if !ok {
			log.Fatal().Str("exchange", cfg.Trading.Exchange).Msg("no exchange config for live trading mode")
		}
		bin, err := exchange.NewBinanceExchange(exchange.BinanceConfig{
			APIKey:    binCfg.APIKey,
			SecretKey: binCfg.SecretKey,
			Testnet:   binCfg.Testnet,
		}, database)
		if err != nil {
			log.Fatal().Err(err).Msg("create binance exchange")
		}
		return bin, exchange.NewPositionManagerWithFees(database, binCfg.Fees.Taker)
	}

	mock := exchange.NewMockExchange(database)
	return mock, exchange.NewPositionManager(database)
}

// buildReasoningProviders builds one CoreReasoningPort per configured agent
// type, all sharing the gateway endpoint from LLMConfig but each prompted
// with its own agent-type system prompt, mirroring the NATS deployment's
// one-agent-per-strategy topology without the message bus.
func buildReasoningProviders(cfg *config.Config) []ensemble.ProviderSpec {
	agentTypes := []llm.AgentType{
		llm.AgentTypeTechnical,
		llm.AgentTypeTrend,
		llm.AgentTypeReversion,
		llm.AgentTypeOrderbook,
		llm.AgentTypeSentiment,
	}

	primary := llm.ClientConfig{
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.PrimaryModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.GetTimeout(),
	}
	secondary := primary
	secondary.Model = cfg.LLM.FallbackModel

	fallback := llm.NewFallbackClient(llm.FallbackConfig{
		PrimaryConfig:        primary,
		PrimaryName:          cfg.LLM.PrimaryModel,
		FallbackConfigs:      []llm.ClientConfig{secondary},
		FallbackNames:        []string{cfg.LLM.FallbackModel},
		CircuitBreakerConfig: llm.DefaultCircuitBreakerConfig(),
	})

	specs := make([]ensemble.ProviderSpec, 0, len(agentTypes))
	for _, at := range agentTypes {
		port := llm.NewCoreReasoningPort(fallback, string(at), true, at)
		specs = append(specs, ensemble.ProviderSpec{Port: port, Weight: defaultWeight(at)})
	}
	return specs
}

func defaultWeight(at llm.AgentType) float64 {
	switch at {
	case llm.AgentTypeTrend:
		return 0.30
	case llm.AgentTypeTechnical, llm.AgentTypeReversion:
		return 0.25
	case llm.AgentTypeOrderbook:
		return 0.20
	case llm.AgentTypeSentiment:
		return 0.15
	default:
		return 0.20
	}
}
