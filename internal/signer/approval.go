package signer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
)

const (
	MethodEthSendTransaction = "eth_sendTransaction"
	MethodPersonalSign       = "personal_sign"
	MethodBitcoinSignTx      = "bitcoin_signTransaction"
)

// Request is an in-app signing request handed to the approval pipeline.
type Request struct {
	Method  string `json:"method"`
	ChainID string `json:"chainId"`
	Params  any    `json:"params"`
}

// Approver is the host wallet's approval pipeline. It returns the raw result
// of the approved request (tx hash or signature).
type Approver interface {
	Approve(ctx context.Context, req Request) (string, error)
}

type ApproverFunc func(ctx context.Context, req Request) (string, error)

func (f ApproverFunc) Approve(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

type approvalEVMSigner struct {
	approver Approver
}

// NewEVMSigner adapts an approval pipeline to EVMSigner.
func NewEVMSigner(approver Approver) EVMSigner {
	return &approvalEVMSigner{approver: approver}
}

func (s *approvalEVMSigner) Sign(ctx context.Context, tx EVMTransaction) (string, error) {
	if strings.TrimSpace(tx.From) == "" {
		return "", clierr.New(clierr.CodeSigner, "transaction is missing a sender")
	}
	params := map[string]any{
		"from": tx.From,
		"to":   tx.To,
		"data": tx.Data,
	}
	if tx.Value != nil {
		params["value"] = "0x" + tx.Value.Text(16)
	}
	if tx.Gas > 0 {
		params["gas"] = "0x" + strconv.FormatUint(tx.Gas, 16)
	}
	hash, err := s.approver.Approve(ctx, Request{
		Method:  MethodEthSendTransaction,
		ChainID: evmCAIP2(tx.ChainID),
		Params:  []any{params},
	})
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "approve evm transaction", err)
	}
	return hash, nil
}

func (s *approvalEVMSigner) SignMessage(ctx context.Context, req SignMessageRequest) (string, error) {
	sig, err := s.approver.Approve(ctx, Request{
		Method:  MethodPersonalSign,
		ChainID: evmCAIP2(req.ChainID),
		Params:  []any{req.Message, req.Address},
	})
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "approve message signature", err)
	}
	return sig, nil
}

type approvalBTCSigner struct {
	approver Approver
	chainID  string
}

// NewBTCSigner adapts an approval pipeline to BTCSigner. chainID is the
// CAIP-2 id of the bitcoin network in use.
func NewBTCSigner(approver Approver, chainID string) BTCSigner {
	return &approvalBTCSigner{approver: approver, chainID: chainID}
}

func (s *approvalBTCSigner) Sign(ctx context.Context, inputs []BTCInput, outputs []BTCOutput, sc BTCSigningContext) (string, error) {
	if len(inputs) == 0 || len(outputs) == 0 {
		return "", clierr.New(clierr.CodeSigner, "bitcoin transaction needs inputs and outputs")
	}
	if sc.CurrentSignature < 1 || sc.CurrentSignature > sc.RequiredSignatures {
		return "", clierr.New(clierr.CodeSigner, fmt.Sprintf("invalid signature index %d of %d", sc.CurrentSignature, sc.RequiredSignatures))
	}
	sig, err := s.approver.Approve(ctx, Request{
		Method:  MethodBitcoinSignTx,
		ChainID: s.chainID,
		Params: map[string]any{
			"inputs":  inputs,
			"outputs": outputs,
			"context": sc,
		},
	})
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "approve bitcoin transaction", err)
	}
	return sig, nil
}

// RejectingApprover refuses every request; used where no approval pipeline
// exists for a chain family.
func RejectingApprover(reason string) Approver {
	return ApproverFunc(func(context.Context, Request) (string, error) {
		return "", clierr.New(clierr.CodeSigner, reason)
	})
}

func evmCAIP2(chainID int64) string {
	return "eip155:" + strconv.FormatInt(chainID, 10)
}
