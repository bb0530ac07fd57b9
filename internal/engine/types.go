// Package engine describes the contract of the external cross-chain transfer
// engine: how it is constructed, how it quotes, executes and tracks transfers.
package engine

import (
	"math/big"
	"strings"
	"time"
)

type Environment string

const (
	EnvironmentTest Environment = "TEST"
	EnvironmentProd Environment = "PROD"
)

// EnvironmentFor maps the developer-mode toggle to an engine environment.
func EnvironmentFor(developerMode bool) Environment {
	if developerMode {
		return EnvironmentTest
	}
	return EnvironmentProd
}

type ServiceType string

const (
	ServiceMarkr            ServiceType = "MARKR"
	ServiceAvalancheEVM     ServiceType = "AVALANCHE_EVM"
	ServiceLombardBTCToBTCB ServiceType = "LOMBARD_BTC_TO_BTCB"
	ServiceLombardBTCBToBTC ServiceType = "LOMBARD_BTCB_TO_BTC"
	ServiceWrapUnwrap       ServiceType = "WRAP_UNWRAP"
)

type TokenType string

const (
	TokenNative TokenType = "NATIVE"
	TokenERC20  TokenType = "ERC20"
	TokenSPL    TokenType = "SPL"
)

// Asset is a token the engine can route. Address is empty for native assets.
type Asset struct {
	Type     TokenType `json:"type"`
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name"`
	Decimals int       `json:"decimals"`
	Address  string    `json:"address,omitempty"`
}

func (a Asset) Equal(b Asset) bool {
	return a.Type == b.Type &&
		a.Symbol == b.Symbol &&
		a.Name == b.Name &&
		a.Decimals == b.Decimals &&
		strings.EqualFold(a.Address, b.Address)
}

type UtilityAddresses struct {
	Multicall string `json:"multicall"`
}

// Chain is a network in the engine's vocabulary, keyed by its CAIP-2 id.
type Chain struct {
	ChainID          string            `json:"chainId"`
	ChainName        string            `json:"chainName"`
	RPCURL           string            `json:"rpcUrl,omitempty"`
	NetworkToken     Asset             `json:"networkToken"`
	UtilityAddresses *UtilityAddresses `json:"utilityAddresses,omitempty"`
}

func (c Chain) Equal(o Chain) bool {
	if c.ChainID != o.ChainID || c.ChainName != o.ChainName || c.RPCURL != o.RPCURL || !c.NetworkToken.Equal(o.NetworkToken) {
		return false
	}
	if (c.UtilityAddresses == nil) != (o.UtilityAddresses == nil) {
		return false
	}
	return c.UtilityAddresses == nil || *c.UtilityAddresses == *o.UtilityAddresses
}

// QuoteRequest is the fully resolved descriptor of a desired quote.
type QuoteRequest struct {
	FromAsset   Asset    `json:"fromAsset"`
	ToAsset     Asset    `json:"toAsset"`
	FromChain   Chain    `json:"fromChain"`
	ToChain     Chain    `json:"toChain"`
	FromAddress string   `json:"fromAddress"`
	ToAddress   string   `json:"toAddress"`
	Amount      *big.Int `json:"amount"`
	SlippageBps int      `json:"slippageBps"`
}

// Valid reports whether every field is populated and the amount is positive.
func (r QuoteRequest) Valid() bool {
	return r.FromChain.ChainID != "" &&
		r.ToChain.ChainID != "" &&
		r.FromAsset.Symbol != "" &&
		r.ToAsset.Symbol != "" &&
		strings.TrimSpace(r.FromAddress) != "" &&
		strings.TrimSpace(r.ToAddress) != "" &&
		r.Amount != nil && r.Amount.Sign() > 0
}

func (r QuoteRequest) Equal(o QuoteRequest) bool {
	if (r.Amount == nil) != (o.Amount == nil) {
		return false
	}
	if r.Amount != nil && r.Amount.Cmp(o.Amount) != 0 {
		return false
	}
	return r.FromAsset.Equal(o.FromAsset) &&
		r.ToAsset.Equal(o.ToAsset) &&
		r.FromChain.Equal(o.FromChain) &&
		r.ToChain.Equal(o.ToChain) &&
		strings.EqualFold(r.FromAddress, o.FromAddress) &&
		strings.EqualFold(r.ToAddress, o.ToAddress) &&
		r.SlippageBps == o.SlippageBps
}

type Aggregator struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logoUrl,omitempty"`
}

// Quote is a priced route returned by the engine.
type Quote struct {
	ID                     string      `json:"id"`
	ServiceType            ServiceType `json:"serviceType"`
	Aggregator             Aggregator  `json:"aggregator"`
	FromChainID            string      `json:"fromChainId"`
	ToChainID              string      `json:"toChainId"`
	AmountIn               string      `json:"amountIn"`
	AmountOut              string      `json:"amountOut"`
	MinAmountOut           string      `json:"minAmountOut,omitempty"`
	FeeUSD                 float64     `json:"feeUsd,omitempty"`
	RecommendedSlippageBps int         `json:"recommendedSlippageBps,omitempty"`
	EstimatedDurationSec   int64       `json:"estimatedDurationSec,omitempty"`
	ExpiresAt              *time.Time  `json:"expiresAt,omitempty"`
}

// QuoteRef is the part of a quote a transfer keeps for display and audit.
type QuoteRef struct {
	ID          string      `json:"id"`
	ServiceType ServiceType `json:"serviceType"`
	Aggregator  string      `json:"aggregator,omitempty"`
	FromChainID string      `json:"fromChainId,omitempty"`
	ToChainID   string      `json:"toChainId,omitempty"`
	AmountIn    string      `json:"amountIn,omitempty"`
	AmountOut   string      `json:"amountOut,omitempty"`
}

func (q Quote) Ref() QuoteRef {
	return QuoteRef{
		ID:          q.ID,
		ServiceType: q.ServiceType,
		Aggregator:  q.Aggregator.Name,
		FromChainID: q.FromChainID,
		ToChainID:   q.ToChainID,
		AmountIn:    q.AmountIn,
		AmountOut:   q.AmountOut,
	}
}

type QuoteEventKind string

const (
	QuoteEventQuote QuoteEventKind = "quote"
	QuoteEventError QuoteEventKind = "error"
)

// QuoteEvent is one push from a quote subscription: either a fresh quote set
// or an error. Best is nil when the engine found no route.
type QuoteEvent struct {
	Kind  QuoteEventKind
	Best  *Quote
	All   []Quote
	Error error
}

type TransferStatus string

const (
	StatusSourcePending   TransferStatus = "source-pending"
	StatusSourceCompleted TransferStatus = "source-completed"
	StatusTargetPending   TransferStatus = "target-pending"
	StatusCompleted       TransferStatus = "completed"
	StatusFailed          TransferStatus = "failed"
)

// PendingStatuses lists the non-terminal statuses in progression order.
var PendingStatuses = []TransferStatus{StatusSourcePending, StatusSourceCompleted, StatusTargetPending}

func (s TransferStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TransferStatus) IsPending() bool {
	for _, p := range PendingStatuses {
		if s == p {
			return true
		}
	}
	return false
}

type Transfer struct {
	ID           string         `json:"id"`
	Status       TransferStatus `json:"status"`
	Quote        QuoteRef       `json:"quote"`
	SourceTxHash string         `json:"sourceTxHash,omitempty"`
	TargetTxHash string         `json:"targetTxHash,omitempty"`
	ErrorReason  string         `json:"errorReason,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt,omitempty"`
}

// ChainRoute lists the destination chains reachable from one source chain.
type ChainRoute struct {
	Source       string   `json:"source"`
	Destinations []string `json:"destinations"`
}

type SupportedChains []ChainRoute

// ChainIDs returns every chain id mentioned, sources first, without duplicates.
func (s SupportedChains) ChainIDs() []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, route := range s {
		add(route.Source)
	}
	for _, route := range s {
		for _, dst := range route.Destinations {
			add(dst)
		}
	}
	return out
}

// Destinations returns the destinations reachable from source.
func (s SupportedChains) Destinations(source string) []string {
	for _, route := range s {
		if route.Source == source {
			return route.Destinations
		}
	}
	return nil
}
