package model

import "testing"

func TestCanonicalInstrumentIdempotent(t *testing.T) {
	cases := []string{"BTC/USD", "btc-usd", "BTCUSD", "  eth_usd ", ""}
	for _, raw := range cases {
		once := CanonicalInstrument(raw)
		twice := CanonicalInstrument(once)
		if once != twice {
			t.Fatalf("canon(canon(%q)) = %q, want %q", raw, twice, once)
		}
	}
	if got := CanonicalInstrument("btc-usd"); got != "BTCUSD" {
		t.Fatalf("CanonicalInstrument(btc-usd) = %q, want BTCUSD", got)
	}
	if got := CanonicalInstrument("BTC/USD"); got != "BTCUSD" {
		t.Fatalf("CanonicalInstrument(BTC/USD) = %q, want BTCUSD", got)
	}
}

func TestCanonicalAssetClassNeverEscapesSet(t *testing.T) {
	inputs := []string{"crypto", "FX", "Equities", "garbage", ""}
	for _, raw := range inputs {
		class := CanonicalAssetClass(raw)
		if !IsCanonicalAssetClass(class) {
			t.Fatalf("CanonicalAssetClass(%q) = %q, escaped canonical set", raw, class)
		}
	}
	if got := CanonicalAssetClass("nonsense"); got != AssetClassCrypto {
		t.Fatalf("unrecognized asset class should default to crypto, got %q", got)
	}
}

func TestTradeDecisionSignalOnlyInvariant(t *testing.T) {
	signalOnly := TradeDecision{SignalOnly: true, RiskParameters: nil}
	if err := signalOnly.Validate(); err != nil {
		t.Fatalf("expected valid signal-only decision, got %v", err)
	}

	sized := TradeDecision{SignalOnly: false, RiskParameters: &RiskParameters{RecommendedSize: 1}}
	if err := sized.Validate(); err != nil {
		t.Fatalf("expected valid sized decision, got %v", err)
	}

	inconsistentA := TradeDecision{SignalOnly: true, RiskParameters: &RiskParameters{}}
	if err := inconsistentA.Validate(); err == nil {
		t.Fatal("expected error for signal_only decision carrying risk parameters")
	}

	inconsistentB := TradeDecision{SignalOnly: false, RiskParameters: nil}
	if err := inconsistentB.Validate(); err == nil {
		t.Fatal("expected error for sized decision missing risk parameters")
	}
}

func TestPositionUnrealizedPnLIsSideAware(t *testing.T) {
	long := Position{Side: SideLong, Size: 2, EntryPrice: 100}
	if got := long.UnrealizedPnL(110); got != 20 {
		t.Fatalf("long PnL = %v, want 20", got)
	}

	short := Position{Side: SideShort, Size: 2, EntryPrice: 100}
	if got := short.UnrealizedPnL(90); got != 20 {
		t.Fatalf("short PnL = %v, want 20", got)
	}
}
