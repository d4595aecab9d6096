package venue

import "testing"

func TestVenueString(t *testing.T) {
	cases := map[Venue]string{
		Binance: "binance",
		Bybit:   "bybit",
		Okex:    "okex",
		FTX:     "ftx",
		Venue(99): "unknown",
	}
	for v, want := range cases {
		if got := v.String(); got != want {
			t.Errorf("Venue(%d).String() = %q, want %q", v, got, want)
		}
	}
}

func TestAllOrderIsDeterministicTieBreak(t *testing.T) {
	got := All()
	want := []Venue{Binance, Bybit, Okex, FTX}
	if len(got) != len(want) {
		t.Fatalf("All() length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("All()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFeeRoundTripConvention(t *testing.T) {
	cases := []struct {
		v          Venue
		ft         FillType
		wantPct    float64
	}{
		{Binance, Maker, 0.036},
		{Binance, Taker, 0.072},
		{Bybit, Maker, 0.05},
		{Bybit, Taker, 0.14},
		{Okex, Maker, 0.04},
		{Okex, Taker, 0.10},
		{FTX, Maker, 0.04},
		{FTX, Taker, 0.14},
	}
	for _, c := range cases {
		got := c.v.Fee(c.ft)
		if got != c.wantPct {
			t.Errorf("%s.Fee(%v) = %v, want %v", c.v, c.ft, got, c.wantPct)
		}
	}
}

func TestContinuousFundingOnlyFTX(t *testing.T) {
	for _, v := range All() {
		want := v == FTX
		if got := v.ContinuousFunding(); got != want {
			t.Errorf("%s.ContinuousFunding() = %v, want %v", v, got, want)
		}
	}
}

func TestContractCountOnlyOkex(t *testing.T) {
	for _, v := range All() {
		want := v == Okex
		if got := v.ContractCount(); got != want {
			t.Errorf("%s.ContractCount() = %v, want %v", v, got, want)
		}
	}
}

func TestParseVenue(t *testing.T) {
	for _, v := range All() {
		got, err := ParseVenue(v.String())
		if err != nil {
			t.Fatalf("ParseVenue(%q) returned error: %v", v.String(), err)
		}
		if got != v {
			t.Errorf("ParseVenue(%q) = %v, want %v", v.String(), got, v)
		}
	}

	if _, err := ParseVenue("deribit"); err == nil {
		t.Error("ParseVenue(\"deribit\") expected error, got nil")
	}
}
