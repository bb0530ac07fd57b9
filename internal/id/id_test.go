package id

import "testing"

func TestParseChainVariants(t *testing.T) {
	chain, err := ParseChain("avalanche")
	if err != nil {
		t.Fatalf("ParseChain(avalanche) failed: %v", err)
	}
	if chain.CAIP2 != "eip155:43114" {
		t.Fatalf("unexpected CAIP2: %s", chain.CAIP2)
	}

	chain, err = ParseChain("43113")
	if err != nil {
		t.Fatalf("ParseChain(43113) failed: %v", err)
	}
	if chain.Slug != "avalanche-fuji" || !chain.Testnet {
		t.Fatalf("unexpected chain: %+v", chain)
	}

	chain, err = ParseChain("fuji")
	if err != nil || chain.EVMChainID != 43113 {
		t.Fatalf("alias lookup failed: %+v %v", chain, err)
	}

	chain, err = ParseChain("eip155:999999")
	if err != nil {
		t.Fatalf("ParseChain(eip155:999999) failed: %v", err)
	}
	if chain.EVMChainID != 999999 {
		t.Fatalf("unexpected chain ID: %d", chain.EVMChainID)
	}

	chain, err = ParseChain("bip122:000000000019d6689c085ae165831e93")
	if err != nil {
		t.Fatalf("ParseChain(bitcoin caip2) failed: %v", err)
	}
	if !chain.IsBitcoin() || chain.Native.Decimals != 8 {
		t.Fatalf("unexpected bitcoin chain: %+v", chain)
	}

	if _, err := ParseChain("bip122:00000000000000000000000000000000"); err == nil {
		t.Fatal("expected unknown bitcoin network error")
	}
	if _, err := ParseChain("moon"); err == nil {
		t.Fatal("expected unsupported chain error")
	}
}

func TestParseTokenSymbolAddressAndNative(t *testing.T) {
	chain, _ := ParseChain("avalanche")

	token, err := ParseToken("usdc", chain)
	if err != nil {
		t.Fatalf("ParseToken(USDC) failed: %v", err)
	}
	if token.Symbol != "USDC" || token.Decimals != 6 || token.IsNative() {
		t.Fatalf("unexpected token: %+v", token)
	}

	token, err = ParseToken("0x152B9D0FDC40C096757F570A51E494BD4B943E50", chain)
	if err != nil {
		t.Fatalf("ParseToken(address) failed: %v", err)
	}
	if token.Symbol != "BTC.B" {
		t.Fatalf("expected BTC.B, got %s", token.Symbol)
	}

	token, err = ParseToken("AVAX", chain)
	if err != nil || !token.IsNative() || token.Decimals != 18 {
		t.Fatalf("unexpected native token: %+v %v", token, err)
	}
}

func TestParseTokenBitcoinOnlyNative(t *testing.T) {
	chain, _ := ParseChain("bitcoin")
	if _, err := ParseToken("USDC", chain); err == nil {
		t.Fatal("expected error for non-native bitcoin token")
	}
	token, err := ParseToken("native", chain)
	if err != nil || token.Symbol != "BTC" {
		t.Fatalf("unexpected bitcoin native: %+v %v", token, err)
	}
}

func TestChainsSorted(t *testing.T) {
	chains := Chains()
	for i := 1; i < len(chains); i++ {
		if chains[i-1].Slug > chains[i].Slug {
			t.Fatalf("chains not sorted: %s before %s", chains[i-1].Slug, chains[i].Slug)
		}
	}
	if _, ok := LookupCAIP2("EIP155:43114"); !ok {
		t.Fatal("expected case-insensitive CAIP-2 lookup")
	}
}
