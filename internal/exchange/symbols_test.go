package exchange

import "testing"

func TestCanonicalAssetForKnownBase(t *testing.T) {
	asset, ok := CanonicalAssetFor("btc")
	if !ok || asset != "BTC" {
		t.Errorf("CanonicalAssetFor(\"btc\") = (%v, %v), want (BTC, true)", asset, ok)
	}
}

func TestCanonicalAssetForUnknownBase(t *testing.T) {
	_, ok := CanonicalAssetFor("SHIBONK9000")
	if ok {
		t.Error("expected ok=false for an unlisted base ticker")
	}
}
