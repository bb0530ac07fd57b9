// Package quote turns the user's swap selection into engine quote requests
// and keeps a single live quote subscription for it.
package quote

import (
	"fmt"
	"strings"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
)

// TokenType is the wallet's token classification, wider than what the
// engine can swap.
type TokenType string

const (
	TokenNative  TokenType = "NATIVE"
	TokenERC20   TokenType = "ERC20"
	TokenSPL     TokenType = "SPL"
	TokenERC721  TokenType = "ERC721"
	TokenERC1155 TokenType = "ERC1155"
)

// Token is a wallet token. Decimals is nil when the catalog did not report it.
type Token struct {
	Type       TokenType `json:"type"`
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Decimals   *int      `json:"decimals,omitempty"`
	Address    string    `json:"address,omitempty"`
	InternalID string    `json:"internalId,omitempty"`
	LogoURI    string    `json:"logoUri,omitempty"`
}

type NetworkToken struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Network is a wallet network entry.
type Network struct {
	ChainName    string       `json:"chainName"`
	CAIP2ChainID string       `json:"caip2ChainId"`
	RPCURL       string       `json:"rpcUrl,omitempty"`
	NetworkToken NetworkToken `json:"networkToken"`
	Multicall    string       `json:"multicall,omitempty"`
}

// Namespace returns the CAIP-2 namespace, e.g. "eip155".
func (n Network) Namespace() string {
	ns, _, _ := strings.Cut(n.CAIP2ChainID, ":")
	return ns
}

// ToSwappableAsset converts a wallet token to an engine asset.
func ToSwappableAsset(t Token) (engine.Asset, error) {
	if t.Decimals == nil {
		return engine.Asset{}, clierr.New(clierr.CodeUnsupported, "Token must have decimals for swaps")
	}
	asset := engine.Asset{Symbol: t.Symbol, Name: t.Name, Decimals: *t.Decimals}
	switch t.Type {
	case TokenNative:
		asset.Type = engine.TokenNative
	case TokenERC20, TokenSPL:
		if strings.TrimSpace(t.Address) == "" {
			return engine.Asset{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s token must have an address", t.Type))
		}
		asset.Address = t.Address
		asset.Type = engine.TokenERC20
		if t.Type == TokenSPL {
			asset.Type = engine.TokenSPL
		}
	case TokenERC721, TokenERC1155:
		return engine.Asset{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s tokens are not supported for swaps", t.Type))
	default:
		return engine.Asset{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unknown token type %q", t.Type))
	}
	return asset, nil
}

// ToChain converts a wallet network to an engine chain.
func ToChain(n Network) (engine.Chain, error) {
	if strings.TrimSpace(n.CAIP2ChainID) == "" {
		return engine.Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("Network %s is missing caip2Id", n.ChainName))
	}
	chain := engine.Chain{
		ChainID:   n.CAIP2ChainID,
		ChainName: n.ChainName,
		RPCURL:    n.RPCURL,
		NetworkToken: engine.Asset{
			Type:     engine.TokenNative,
			Name:     n.NetworkToken.Name,
			Symbol:   n.NetworkToken.Symbol,
			Decimals: n.NetworkToken.Decimals,
		},
	}
	if strings.TrimSpace(n.Multicall) != "" {
		chain.UtilityAddresses = &engine.UtilityAddresses{Multicall: n.Multicall}
	}
	return chain, nil
}

// LocalTokenID is the wallet-side token key: NATIVE-<SYMBOL> for native
// tokens, the lowercased address otherwise.
func LocalTokenID(t Token) string {
	if t.Type == TokenNative {
		return "NATIVE-" + t.Symbol
	}
	return strings.ToLower(t.Address)
}
