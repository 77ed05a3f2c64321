package engine

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBaseUnitConversion(t *testing.T) {
	tests := []struct {
		name     string
		human    string
		decimals int32
		base     string
	}{
		{"one cbBTC", "1", 8, "100000000"},
		{"usdc cents", "0.01", 6, "10000"},
		{"eighteen decimals", "1.5", 18, "1500000000000000000"},
		{"zero", "0", 6, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToBaseUnits(dec(tt.human), tt.decimals)
			if got.String() != tt.base {
				t.Errorf("ToBaseUnits(%s, %d) = %s, want %s", tt.human, tt.decimals, got, tt.base)
			}
			back := FromBaseUnits(got, tt.decimals)
			if !back.Equal(dec(tt.human)) {
				t.Errorf("FromBaseUnits round trip = %s, want %s", back, tt.human)
			}
		})
	}
}

func TestToBaseUnitsTruncates(t *testing.T) {
	// Sub-base-unit dust is dropped, never rounded up into a larger spend.
	got := ToBaseUnits(dec("0.0000019"), 6)
	if got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("ToBaseUnits(0.0000019, 6) = %s, want 1", got)
	}
}

func TestFromBaseUnitsNil(t *testing.T) {
	if !FromBaseUnits(nil, 8).IsZero() {
		t.Error("nil base units must convert to zero")
	}
}

func TestTokensForUSD(t *testing.T) {
	got := TokensForUSD(dec("32000"), dec("64000"))
	if !got.Equal(dec("0.5")) {
		t.Errorf("TokensForUSD = %s, want 0.5", got)
	}
	if !TokensForUSD(dec("100"), decimal.Zero).IsZero() {
		t.Error("TokensForUSD with zero price must return 0")
	}
}
