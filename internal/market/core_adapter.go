package market

import (
	"context"
	"fmt"

	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/ports"
	"github.com/quantloop/tradecore/internal/indicators"
)

// chartSource is the subset of CoinGeckoClient (and CachedCoinGeckoClient)
// CorePerceptionPort needs: both satisfy it unmodified.
type chartSource interface {
	GetMarketChart(ctx context.Context, symbol string, days int) (*MarketChart, error)
}

// CorePerceptionPort adapts the CoinGecko market-data client and the
// technical indicator Service into the Agent Loop's ports.PerceptionPort:
// one FetchFrame call pulls OHLCV history per requested timeframe and
// layers RSI/MACD/Bollinger/ADX on top of it.
type CorePerceptionPort struct {
	chart      chartSource
	indicators *indicators.Service
	daysFor    map[model.Timeframe]int
}

// NewCorePerceptionPort wires chart and an indicator Service into a
// ports.PerceptionPort. daysFor controls how much CoinGecko history is
// pulled per requested timeframe; DefaultLookback supplies sane defaults.
func NewCorePerceptionPort(chart chartSource, svc *indicators.Service, daysFor map[model.Timeframe]int) *CorePerceptionPort {
	if daysFor == nil {
		daysFor = DefaultLookback()
	}
	return &CorePerceptionPort{chart: chart, indicators: svc, daysFor: daysFor}
}

// DefaultLookback returns the number of days of CoinGecko history fetched
// for each supported timeframe, wide enough to seed a 26-period MACD.
func DefaultLookback() map[model.Timeframe]int {
	return map[model.Timeframe]int{
		model.Timeframe1m:  1,
		model.Timeframe5m:  1,
		model.Timeframe15m: 2,
		model.Timeframe1h:  7,
		model.Timeframe4h:  30,
		model.Timeframe1d:  90,
	}
}

func (a *CorePerceptionPort) FetchFrame(ctx context.Context, instrument string, timeframes []model.Timeframe) (model.MarketFrame, error) {
	frame := model.MarketFrame{
		Instrument: instrument,
		AssetClass: model.AssetClassCrypto,
		OHLCV:      make(map[model.Timeframe][]model.Candle, len(timeframes)),
		Indicators: make(map[model.Timeframe]model.Indicators, len(timeframes)),
	}

	for _, tf := range timeframes {
		days, ok := a.daysFor[tf]
		if !ok {
			days = 7
		}
		chart, err := a.chart.GetMarketChart(ctx, instrument, days)
		if err != nil {
			return model.MarketFrame{}, fmt.Errorf("market: fetch chart for %s/%s: %w", instrument, tf, err)
		}
		if len(chart.Prices) == 0 {
			continue
		}

		candles := chart.ToCandlesticks(intervalMinutesFor(tf))
		frame.OHLCV[tf] = toCoreCandles(candles)
		frame.Timestamp = frame.OHLCV[tf][len(frame.OHLCV[tf])-1].Timestamp

		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
		frame.Indicators[tf] = a.computeIndicators(closes, candles)
	}

	return frame, nil
}

func (a *CorePerceptionPort) computeIndicators(closes []float64, candles []Candlestick) model.Indicators {
	var out model.Indicators

	if res, err := a.indicators.CalculateRSI(argsWithPrices(closes, nil)); err == nil {
		if rsi, ok := res.(*indicators.RSIResult); ok {
			out.RSI = rsi.Value
		}
	}
	if res, err := a.indicators.CalculateMACD(argsWithPrices(closes, nil)); err == nil {
		if macd, ok := res.(*indicators.MACDResult); ok {
			out.MACD = macd.MACD
			out.MACDSignal = macd.Signal
		}
	}
	if res, err := a.indicators.CalculateBollingerBands(argsWithPrices(closes, nil)); err == nil {
		if bb, ok := res.(*indicators.BollingerBandsResult); ok && bb.Upper != bb.Lower {
			out.BollingerPctB = (closes[len(closes)-1] - bb.Lower) / (bb.Upper - bb.Lower)
		}
	}
	if len(candles) > 0 {
		high, low, close := splitHLC(candles)
		args := map[string]interface{}{"high": toInterfaceSlice(high), "low": toInterfaceSlice(low), "close": toInterfaceSlice(close)}
		if res, err := a.indicators.CalculateADX(args); err == nil {
			if adx, ok := res.(*indicators.ADXResult); ok {
				out.ADX = adx.Value
			}
		}
	}

	out.SignalStrength = compositeSignalStrength(out)
	return out
}

func compositeSignalStrength(ind model.Indicators) float64 {
	// A momentum/trend composite: RSI distance from neutral (50), ADX trend
	// strength, and MACD-above-signal all point the same direction when the
	// market is in a clean trend; this blends them into one 0-100 score.
	rsiComponent := abs(ind.RSI-50) * 2
	adxComponent := ind.ADX
	score := (rsiComponent + adxComponent) / 2
	if score > 100 {
		score = 100
	}
	return score
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func argsWithPrices(prices []float64, extra map[string]interface{}) map[string]interface{} {
	args := map[string]interface{}{"prices": toInterfaceSlice(prices)}
	for k, v := range extra {
		args[k] = v
	}
	return args
}

func toInterfaceSlice(prices []float64) []interface{} {
	out := make([]interface{}, len(prices))
	for i, p := range prices {
		out[i] = p
	}
	return out
}

func splitHLC(candles []Candlestick) (high, low, close []float64) {
	high = make([]float64, len(candles))
	low = make([]float64, len(candles))
	close = make([]float64, len(candles))
	for i, c := range candles {
		high[i], low[i], close[i] = c.High, c.Low, c.Close
	}
	return
}

func toCoreCandles(candles []Candlestick) []model.Candle {
	out := make([]model.Candle, len(candles))
	for i, c := range candles {
		out[i] = model.Candle{Timestamp: c.Timestamp, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	}
	return out
}

var _ ports.PerceptionPort = (*CorePerceptionPort)(nil)

func intervalMinutesFor(tf model.Timeframe) int {
	switch tf {
	case model.Timeframe1m:
		return 1
	case model.Timeframe5m:
		return 5
	case model.Timeframe15m:
		return 15
	case model.Timeframe1h:
		return 60
	case model.Timeframe4h:
		return 240
	case model.Timeframe1d:
		return 1440
	default:
		return 60
	}
}
