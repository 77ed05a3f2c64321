package assets

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseRoundTrip(t *testing.T) {
	for _, a := range All() {
		parsed, err := Parse(a.String())
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", a.String(), err)
		}
		if parsed != a {
			t.Errorf("Parse(%q) = %v, want %v", a.String(), parsed, a)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	if _, err := Parse("DOGE"); err == nil {
		t.Error("expected error for unsupported symbol")
	}
	if _, err := Parse("cbbtc"); err == nil {
		t.Error("matching must be exact, lowercase symbol should fail")
	}
}

func TestDecimals(t *testing.T) {
	tests := []struct {
		asset Asset
		want  int32
	}{
		{CbBTC, 8},
		{CbETH, 18},
		{WETH, 18},
	}
	for _, tt := range tests {
		if got := tt.asset.Decimals(); got != tt.want {
			t.Errorf("%s.Decimals() = %d, want %d", tt.asset, got, tt.want)
		}
	}
}

func TestAddresses(t *testing.T) {
	for _, a := range All() {
		for _, chain := range []uint64{ChainBase, ChainBaseSepolia} {
			addr, err := a.Address(chain)
			if err != nil {
				t.Fatalf("%s.Address(%d) failed: %v", a, chain, err)
			}
			if addr == (common.Address{}) {
				t.Errorf("%s.Address(%d) is zero", a, chain)
			}
		}
		if _, err := a.Address(1); err == nil {
			t.Errorf("%s.Address(1) should fail, mainnet unsupported", a)
		}
	}
}

func TestUSDCDiffersByChain(t *testing.T) {
	base, err := USDC(ChainBase)
	if err != nil {
		t.Fatal(err)
	}
	sepolia, err := USDC(ChainBaseSepolia)
	if err != nil {
		t.Fatal(err)
	}
	if base == sepolia {
		t.Error("USDC address should differ between Base and Base Sepolia")
	}
}
