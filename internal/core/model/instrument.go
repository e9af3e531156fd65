// Package model defines the data types shared by every core component:
// instruments, market frames, decisions, positions, and outcomes.
package model

import "strings"

// AssetClass is the closed set of instrument classes the core reasons about.
type AssetClass string

const (
	AssetClassCrypto AssetClass = "crypto"
	AssetClassForex  AssetClass = "forex"
	AssetClassEquity AssetClass = "equity"
)

// knownAssetClassAliases maps loosely-spelled inputs onto the canonical set.
var knownAssetClassAliases = map[string]AssetClass{
	"crypto":       AssetClassCrypto,
	"cryptocurrency": AssetClassCrypto,
	"spot":         AssetClassCrypto,
	"forex":        AssetClassForex,
	"fx":           AssetClassForex,
	"equity":       AssetClassEquity,
	"equities":     AssetClassEquity,
	"stock":        AssetClassEquity,
	"stocks":       AssetClassEquity,
}

// CanonicalAssetClass normalizes raw into the closed set. Anything
// unrecognized defaults to crypto; callers are expected to log the
// degradation — this function never returns a value outside the set.
func CanonicalAssetClass(raw string) AssetClass {
	key := strings.ToLower(strings.TrimSpace(raw))
	if class, ok := knownAssetClassAliases[key]; ok {
		return class
	}
	return AssetClassCrypto
}

// IsCanonicalAssetClass reports whether class is a member of the closed set.
func IsCanonicalAssetClass(class AssetClass) bool {
	switch class {
	case AssetClassCrypto, AssetClassForex, AssetClassEquity:
		return true
	default:
		return false
	}
}

var instrumentSeparators = strings.NewReplacer("/", "", "-", "", "_", "", " ", "")

// CanonicalInstrument normalizes an instrument identifier: uppercase,
// separators stripped. Idempotent and total — canon(canon(x)) == canon(x)
// for every input, including the empty string.
func CanonicalInstrument(raw string) string {
	return strings.ToUpper(instrumentSeparators.Replace(strings.TrimSpace(raw)))
}
