package exchange

import (
	"strings"

	"github.com/ybangaru/fundingarb/internal/domain"
)

// canonicalAssets is the partial venue_symbol -> CanonicalAsset map every
// adapter consults at ingest. Bases outside this set are dropped silently
// rather than surfaced as errors, per the Rate Collector's normalization
// contract.
var canonicalAssets = map[string]domain.CanonicalAsset{
	"BTC":   "BTC",
	"ETH":   "ETH",
	"SOL":   "SOL",
	"BNB":   "BNB",
	"AVAX":  "AVAX",
	"MATIC": "MATIC",
	"DOGE":  "DOGE",
	"LTC":   "LTC",
	"LINK":  "LINK",
	"DOT":   "DOT",
	"ADA":   "ADA",
	"XRP":   "XRP",
	"ATOM":  "ATOM",
	"NEAR":  "NEAR",
	"APT":   "APT",
}

// CanonicalAssetFor resolves a bare base-ticker string to its
// CanonicalAsset, reporting ok=false for anything outside the map.
func CanonicalAssetFor(base string) (domain.CanonicalAsset, bool) {
	asset, ok := canonicalAssets[strings.ToUpper(base)]
	return asset, ok
}
