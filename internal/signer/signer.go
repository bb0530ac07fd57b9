// Package signer is the boundary between the transfer engine and the host
// wallet's approval pipeline.
package signer

import (
	"context"
	"math/big"
)

// EVMTransaction is an unsigned EVM call the engine wants submitted.
type EVMTransaction struct {
	ChainID int64    `json:"chainId"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	Data    string   `json:"data"`
	Value   *big.Int `json:"value,omitempty"`
	Gas     uint64   `json:"gas,omitempty"`
}

type SignMessageRequest struct {
	Message string `json:"message"`
	Address string `json:"address"`
	ChainID int64  `json:"chainId"`
}

// EVMSigner signs and submits EVM transactions, returning the tx hash, and
// produces personal-message signatures.
type EVMSigner interface {
	Sign(ctx context.Context, tx EVMTransaction) (string, error)
	SignMessage(ctx context.Context, req SignMessageRequest) (string, error)
}

type BTCInput struct {
	TxHash string `json:"txHash"`
	Index  uint32 `json:"index"`
	Value  int64  `json:"value"`
	Script string `json:"script"`
}

type BTCOutput struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
}

// BTCSigningContext tells the signer which of several required signatures
// is being requested.
type BTCSigningContext struct {
	RequiredSignatures int `json:"requiredSignatures"`
	CurrentSignature   int `json:"currentSignature"`
}

type BTCSigner interface {
	Sign(ctx context.Context, inputs []BTCInput, outputs []BTCOutput, sc BTCSigningContext) (string, error)
}

// BitcoinFunctions exposes the read-only bitcoin provider calls the BTC
// bridging services need.
type BitcoinFunctions interface {
	GetUTXOs(ctx context.Context, address string) ([]BTCInput, error)
	GetFeeRate(ctx context.Context) (int64, error)
}
