package httpengine

import (
	"github.com/ggonzalez94/xfer-core/internal/engine"
	"github.com/ggonzalez94/xfer-core/internal/signer"
)

type servicesResponse struct {
	Services []string `json:"services"`
}

type chainsResponse struct {
	Chains []engine.ChainRoute `json:"chains"`
}

type quoteRequestBody struct {
	Request  engine.QuoteRequest  `json:"request"`
	Services []engine.ServiceType `json:"services"`
	MarkrAPI string               `json:"markrApi,omitempty"`
	AppID    string               `json:"appId,omitempty"`
}

// quotesResponse lists quotes best first.
type quotesResponse struct {
	Quotes []engine.Quote `json:"quotes"`
}

type prepareRequestBody struct {
	QuoteID    string `json:"quoteId"`
	BTCFeeRate int64  `json:"btcFeeRate,omitempty"`
}

const (
	stepEVMTransaction = "evm_transaction"
	stepEVMMessage     = "evm_message"
	stepBTCTransaction = "btc_transaction"
)

type preparedStep struct {
	Kind               string                     `json:"kind"`
	Transaction        *signer.EVMTransaction     `json:"transaction,omitempty"`
	Message            *signer.SignMessageRequest `json:"message,omitempty"`
	BTCAddress         string                     `json:"btcAddress,omitempty"`
	Inputs             []signer.BTCInput          `json:"inputs,omitempty"`
	Outputs            []signer.BTCOutput         `json:"outputs,omitempty"`
	RequiredSignatures int                        `json:"requiredSignatures,omitempty"`
}

type prepareResponse struct {
	TransferID string         `json:"transferId"`
	Steps      []preparedStep `json:"steps"`
}

type stepResult struct {
	Kind       string   `json:"kind"`
	TxHash     string   `json:"txHash,omitempty"`
	Signatures []string `json:"signatures,omitempty"`
}

type submitRequestBody struct {
	QuoteID string       `json:"quoteId"`
	Results []stepResult `json:"results"`
}

type gasResponse struct {
	Gas string `json:"gas"`
}
