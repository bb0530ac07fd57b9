// Package id resolves user-facing chain and token inputs to the wallet's
// CAIP-2 networks and known tokens.
package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	bip122ChainPattern = regexp.MustCompile(`^bip122:[0-9a-f]{32}$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

const (
	bitcoinMainnetCAIP2 = "bip122:000000000019d6689c085ae165831e93"
	bitcoinTestnetCAIP2 = "bip122:000000000933ea01ad0ee984209779ba"
)

type NativeToken struct {
	Name     string
	Symbol   string
	Decimals int
}

type Chain struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
	Native     NativeToken
	Testnet    bool
}

func (c Chain) Namespace() string {
	return chainNamespace(c.CAIP2)
}

func (c Chain) IsEVM() bool {
	return c.Namespace() == "eip155"
}

func (c Chain) IsBitcoin() bool {
	return c.Namespace() == "bip122"
}

// Token is a catalog entry. Address is empty for the chain's native token.
type Token struct {
	Symbol   string
	Name     string
	Address  string
	Decimals int
}

func (t Token) IsNative() bool { return t.Address == "" }

var (
	avax = NativeToken{Name: "Avalanche", Symbol: "AVAX", Decimals: 18}
	eth  = NativeToken{Name: "Ether", Symbol: "ETH", Decimals: 18}
	btc  = NativeToken{Name: "Bitcoin", Symbol: "BTC", Decimals: 8}
)

var chainBySlug = map[string]Chain{
	"avalanche":       {Name: "Avalanche C-Chain", Slug: "avalanche", CAIP2: "eip155:43114", EVMChainID: 43114, Native: avax},
	"avalanche-fuji":  {Name: "Avalanche Fuji", Slug: "avalanche-fuji", CAIP2: "eip155:43113", EVMChainID: 43113, Native: avax, Testnet: true},
	"ethereum":        {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, Native: eth},
	"sepolia":         {Name: "Sepolia", Slug: "sepolia", CAIP2: "eip155:11155111", EVMChainID: 11155111, Native: eth, Testnet: true},
	"bitcoin":         {Name: "Bitcoin", Slug: "bitcoin", CAIP2: bitcoinMainnetCAIP2, Native: btc},
	"bitcoin-testnet": {Name: "Bitcoin Testnet", Slug: "bitcoin-testnet", CAIP2: bitcoinTestnetCAIP2, Native: btc, Testnet: true},
}

var chainAliases = map[string]string{
	"avax":    "avalanche",
	"c-chain": "avalanche",
	"fuji":    "avalanche-fuji",
	"mainnet": "ethereum",
	"btc":     "bitcoin",
}

var chainByID = func() map[int64]Chain {
	out := map[int64]Chain{}
	for _, chain := range chainBySlug {
		if chain.EVMChainID != 0 {
			out[chain.EVMChainID] = chain
		}
	}
	return out
}()

var chainByCAIP2 = func() map[string]Chain {
	out := make(map[string]Chain, len(chainBySlug))
	for _, chain := range chainBySlug {
		out[chain.CAIP2] = chain
	}
	return out
}()

// Tokens the engine routes between; native tokens come from the chain.
var tokenRegistry = map[string][]Token{
	"eip155:43114": {
		{Symbol: "USDC", Name: "USD Coin", Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
		{Symbol: "USDT", Name: "TetherToken", Address: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7", Decimals: 6},
		{Symbol: "WAVAX", Name: "Wrapped AVAX", Address: "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7", Decimals: 18},
		{Symbol: "BTC.B", Name: "Bitcoin", Address: "0x152b9d0FdC40C096757F570A51E494bd4b943E50", Decimals: 8},
		{Symbol: "WETH.E", Name: "Wrapped Ether", Address: "0x49D5c2BdFfac6CE2BFdB6640F4F80f226bc10bAB", Decimals: 18},
	},
	"eip155:43113": {
		{Symbol: "USDC", Name: "USD Coin", Address: "0x5425890298aed601595a70AB815c96711a31Bc65", Decimals: 6},
		{Symbol: "WAVAX", Name: "Wrapped AVAX", Address: "0xd00ae08403B9bbb9124bB305C09058E32C39A48c", Decimals: 18},
	},
	"eip155:1": {
		{Symbol: "USDC", Name: "USD Coin", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "USDT", Name: "Tether USD", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Symbol: "WETH", Name: "Wrapped Ether", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	},
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)
	if alias, ok := chainAliases[norm]; ok {
		norm = alias
	}

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}
	if chain, ok := chainByCAIP2[norm]; ok {
		return chain, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		_, ref, _ := strings.Cut(norm, ":")
		id, _ := strconv.ParseInt(ref, 10, 64)
		return unknownEVMChain(id), nil
	}
	if bip122ChainPattern.MatchString(norm) {
		return Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unknown bitcoin network: %s", input))
	}

	if id, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if chain, ok := chainByID[id]; ok {
			return chain, nil
		}
		return unknownEVMChain(id), nil
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

func unknownEVMChain(id int64) Chain {
	if known, ok := chainByID[id]; ok {
		return known
	}
	return Chain{
		Name:       fmt.Sprintf("EVM-%d", id),
		Slug:       fmt.Sprintf("evm-%d", id),
		CAIP2:      fmt.Sprintf("eip155:%d", id),
		EVMChainID: id,
		Native:     eth,
	}
}

// ParseToken resolves a symbol or contract address on chain. The chain's
// native symbol and the literal "native" both select the native token.
func ParseToken(input string, chain Chain) (Token, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Token{}, clierr.New(clierr.CodeUsage, "token is required")
	}
	if strings.EqualFold(raw, "native") || strings.EqualFold(raw, chain.Native.Symbol) {
		return Token{Symbol: chain.Native.Symbol, Name: chain.Native.Name, Decimals: chain.Native.Decimals}, nil
	}
	if chain.IsBitcoin() {
		return Token{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s only carries its native token", chain.Name))
	}

	if evmAddressPattern.MatchString(raw) {
		if token, ok := findTokenByAddress(chain.CAIP2, raw); ok {
			return token, nil
		}
		return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("token %s is unknown on %s, decimals cannot be resolved", raw, chain.CAIP2))
	}

	matches := findTokensBySymbol(chain.CAIP2, raw)
	if len(matches) == 0 {
		return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s not found in registry for chain %s", input, chain.CAIP2))
	}
	if len(matches) > 1 {
		addresses := make([]string, 0, len(matches))
		for _, m := range matches {
			addresses = append(addresses, m.Address)
		}
		sort.Strings(addresses)
		return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on chain %s, use an address (%s)", input, chain.CAIP2, strings.Join(addresses, ", ")))
	}
	return matches[0], nil
}

// Chains lists the catalog sorted by slug.
func Chains() []Chain {
	out := make([]Chain, 0, len(chainBySlug))
	for _, c := range chainBySlug {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// LookupCAIP2 returns the catalog entry for a CAIP-2 id.
func LookupCAIP2(caip2 string) (Chain, bool) {
	c, ok := chainByCAIP2[strings.ToLower(strings.TrimSpace(caip2))]
	return c, ok
}

func chainNamespace(caip2 string) string {
	ns, _, ok := strings.Cut(strings.TrimSpace(caip2), ":")
	if !ok {
		return ""
	}
	return strings.ToLower(ns)
}

func findTokenByAddress(chainID, address string) (Token, bool) {
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Address, strings.TrimSpace(address)) {
			return canonicalToken(t), true
		}
	}
	return Token{}, false
}

func findTokensBySymbol(chainID, symbol string) []Token {
	matches := []Token{}
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Symbol, symbol) {
			matches = append(matches, canonicalToken(t))
		}
	}
	return matches
}

func canonicalToken(t Token) Token {
	t.Symbol = strings.ToUpper(t.Symbol)
	t.Address = strings.ToLower(t.Address)
	return t
}
