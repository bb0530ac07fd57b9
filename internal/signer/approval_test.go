package signer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
)

type recordingApprover struct {
	requests []Request
	result   string
	err      error
}

func (r *recordingApprover) Approve(_ context.Context, req Request) (string, error) {
	r.requests = append(r.requests, req)
	return r.result, r.err
}

func TestEVMSignerRoutesThroughApprover(t *testing.T) {
	approver := &recordingApprover{result: "0xhash"}
	s := NewEVMSigner(approver)

	hash, err := s.Sign(context.Background(), EVMTransaction{
		ChainID: 43114,
		From:    "0xabc",
		To:      "0xdef",
		Data:    "0x",
		Value:   big.NewInt(255),
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if hash != "0xhash" {
		t.Fatalf("unexpected hash %q", hash)
	}
	if len(approver.requests) != 1 {
		t.Fatalf("expected one approval request, got %d", len(approver.requests))
	}
	req := approver.requests[0]
	if req.Method != MethodEthSendTransaction || req.ChainID != "eip155:43114" {
		t.Fatalf("unexpected request %+v", req)
	}
	params := req.Params.([]any)[0].(map[string]any)
	if params["value"] != "0xff" {
		t.Fatalf("expected hex value, got %v", params["value"])
	}
}

func TestEVMSignerRequiresSender(t *testing.T) {
	approver := &recordingApprover{}
	_, err := NewEVMSigner(approver).Sign(context.Background(), EVMTransaction{ChainID: 1, To: "0xdef"})
	if !clierr.HasCode(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
	if len(approver.requests) != 0 {
		t.Fatal("approver must not be called without a sender")
	}
}

func TestEVMSignerWrapsRejection(t *testing.T) {
	approver := &recordingApprover{err: errors.New("User rejected the request")}
	_, err := NewEVMSigner(approver).SignMessage(context.Background(), SignMessageRequest{Message: "hi", Address: "0xabc", ChainID: 1})
	if !clierr.IsUserRejection(err) {
		t.Fatalf("expected user rejection to survive wrapping, got %v", err)
	}
}

func TestBTCSignerValidatesSignatureIndex(t *testing.T) {
	approver := &recordingApprover{result: "sig"}
	s := NewBTCSigner(approver, "bip122:000000000019d6689c085ae165831e93")
	inputs := []BTCInput{{TxHash: "aa", Index: 0, Value: 1000}}
	outputs := []BTCOutput{{Address: "bc1q", Value: 900}}

	if _, err := s.Sign(context.Background(), inputs, outputs, BTCSigningContext{RequiredSignatures: 1, CurrentSignature: 2}); err == nil {
		t.Fatal("expected out of range signature index to fail")
	}
	if _, err := s.Sign(context.Background(), nil, outputs, BTCSigningContext{RequiredSignatures: 1, CurrentSignature: 1}); err == nil {
		t.Fatal("expected empty inputs to fail")
	}
	sig, err := s.Sign(context.Background(), inputs, outputs, BTCSigningContext{RequiredSignatures: 1, CurrentSignature: 1})
	if err != nil || sig != "sig" {
		t.Fatalf("expected signature, got %q err=%v", sig, err)
	}
	if approver.requests[0].Method != MethodBitcoinSignTx {
		t.Fatalf("unexpected method %q", approver.requests[0].Method)
	}
}

func TestRejectingApprover(t *testing.T) {
	_, err := NewEVMSigner(RejectingApprover("no wallet")).SignMessage(context.Background(), SignMessageRequest{Message: "x"})
	if !clierr.HasCode(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}
