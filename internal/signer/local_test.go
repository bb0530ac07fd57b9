package signer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func testSigner(t *testing.T) *LocalSigner {
	t.Helper()
	pk, err := parseHexKey(testPrivateKey)
	if err != nil {
		t.Fatalf("parse test key: %v", err)
	}
	return NewLocalSigner(pk)
}

func TestNewLocalSignerFromEnvSignsTx(t *testing.T) {
	t.Setenv(EnvPrivateKey, testPrivateKey)
	s, err := NewLocalSignerFromEnv(KeySourceEnv)
	if err != nil {
		t.Fatalf("NewLocalSignerFromEnv failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
	to := common.HexToAddress("0x0000000000000000000000000000000000000001")
	tx := types.NewTx(&types.LegacyTx{To: &to, Value: big.NewInt(0), Gas: 21_000, GasPrice: big.NewInt(1)})
	if _, err := s.SignTx(common.Big1, tx); err != nil {
		t.Fatalf("SignTx failed: %v", err)
	}
}

func TestSignMessageRecoversSignerAddress(t *testing.T) {
	s := testSigner(t)
	sigHex, err := s.SignMessage(context.Background(), SignMessageRequest{Message: "hello", Address: s.Address().Hex(), ChainID: 1})
	if err != nil {
		t.Fatalf("SignMessage failed: %v", err)
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if len(sig) != 65 || sig[64] < 27 {
		t.Fatalf("unexpected signature shape: %x", sig)
	}
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte("hello")), sig)
	if err != nil {
		t.Fatalf("recover public key: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != s.Address() {
		t.Fatalf("recovered %s, expected %s", crypto.PubkeyToAddress(*pub).Hex(), s.Address().Hex())
	}
}

func TestSignMessageRejectsForeignAddress(t *testing.T) {
	s := testSigner(t)
	_, err := s.SignMessage(context.Background(), SignMessageRequest{Message: "hello", Address: "0x0000000000000000000000000000000000000002"})
	if !clierr.HasCode(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestSignRejectsInvalidTarget(t *testing.T) {
	s := testSigner(t)
	_, err := s.Sign(context.Background(), EVMTransaction{ChainID: 1, To: "not-an-address"})
	if !clierr.HasCode(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestParseGwei(t *testing.T) {
	got, err := parseGwei("1.5")
	if err != nil {
		t.Fatalf("parseGwei failed: %v", err)
	}
	if got.String() != "1500000000" {
		t.Fatalf("unexpected wei value %s", got)
	}
	if _, err := parseGwei("-1"); err == nil {
		t.Fatal("expected negative value to fail")
	}
	if _, err := parseGwei("0.0000000001"); err == nil {
		t.Fatal("expected sub-wei value to fail")
	}
}

func TestResolveFeeCap(t *testing.T) {
	got, err := resolveFeeCap(big.NewInt(10), big.NewInt(3), "")
	if err != nil {
		t.Fatalf("resolveFeeCap failed: %v", err)
	}
	if got.Int64() != 23 {
		t.Fatalf("expected 2*base+tip=23, got %s", got)
	}
	if _, err := resolveFeeCap(big.NewInt(10), big.NewInt(5_000_000_000), "1"); err == nil {
		t.Fatal("expected fee cap below tip cap to fail")
	}
}

func TestResolveRPCURL(t *testing.T) {
	if got, err := ResolveRPCURL(" https://custom ", 1); err != nil || got != "https://custom" {
		t.Fatalf("expected override, got %q err=%v", got, err)
	}
	if _, err := ResolveRPCURL("", 43114); err != nil {
		t.Fatalf("expected default avalanche rpc: %v", err)
	}
	if _, err := ResolveRPCURL("", 999999); err == nil {
		t.Fatal("expected unknown chain to fail")
	}
}
