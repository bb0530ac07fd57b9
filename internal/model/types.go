package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID   string    `json:"request_id"`
	Timestamp   time.Time `json:"timestamp"`
	Command     string    `json:"command"`
	Environment string    `json:"environment,omitempty"`
	LatencyMS   int64     `json:"latency_ms"`
}

type ChainInfo struct {
	ChainID      string   `json:"chain_id"`
	Name         string   `json:"name,omitempty"`
	Destinations []string `json:"destinations,omitempty"`
}

type QuoteSummary struct {
	QuoteID         string  `json:"quote_id"`
	ServiceType     string  `json:"service_type"`
	Aggregator      string  `json:"aggregator,omitempty"`
	FromChainID     string  `json:"from_chain_id"`
	ToChainID       string  `json:"to_chain_id"`
	AmountIn        string  `json:"amount_in"`
	AmountInDecimal string  `json:"amount_in_decimal,omitempty"`
	AmountOut       string  `json:"amount_out"`
	AmountOutDec    string  `json:"amount_out_decimal,omitempty"`
	FeeUSD          float64 `json:"fee_usd,omitempty"`
	EstimatedSec    int64   `json:"estimated_duration_sec,omitempty"`
	Best            bool    `json:"best"`
}

type TransferSummary struct {
	TransferID   string    `json:"transfer_id"`
	Status       string    `json:"status"`
	QuoteID      string    `json:"quote_id,omitempty"`
	ServiceType  string    `json:"service_type,omitempty"`
	FromChainID  string    `json:"from_chain_id,omitempty"`
	ToChainID    string    `json:"to_chain_id,omitempty"`
	FromToken    string    `json:"from_token,omitempty"`
	ToToken      string    `json:"to_token,omitempty"`
	SourceTxHash string    `json:"source_tx_hash,omitempty"`
	TargetTxHash string    `json:"target_tx_hash,omitempty"`
	ErrorReason  string    `json:"error_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type RemoveResult struct {
	TransferID string `json:"transfer_id"`
	Removed    bool   `json:"removed"`
}

type ClearResult struct {
	Namespace string `json:"namespace"`
	Removed   int    `json:"removed"`
}

type ServiceStatus struct {
	State       string `json:"state"`
	Environment string `json:"environment"`
	Tracked     int    `json:"tracked"`
	Resumed     int    `json:"resumed,omitempty"`
}
