package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
)

// LocalSigner holds a private key in process and submits transactions
// directly to an RPC endpoint. It stands in for the approval pipeline when
// running headless.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	rpcURL     func(chainID int64) (string, error)
	fees       FeeOptions
}

// FeeOptions overrides gas pricing; empty values use the node's suggestions.
type FeeOptions struct {
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

// WithRPC sets how the signer finds an RPC endpoint for a chain.
func (s *LocalSigner) WithRPC(resolve func(chainID int64) (string, error)) *LocalSigner {
	s.rpcURL = resolve
	return s
}

func (s *LocalSigner) WithFees(fees FeeOptions) *LocalSigner {
	s.fees = fees
	return s
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, s.privateKey)
}

// Sign builds a dynamic-fee transaction for tx, signs it and broadcasts it.
func (s *LocalSigner) Sign(ctx context.Context, tx EVMTransaction) (string, error) {
	if s == nil || s.privateKey == nil {
		return "", clierr.New(clierr.CodeSigner, "local signer is not initialized")
	}
	if tx.From != "" && !strings.EqualFold(tx.From, s.address.Hex()) {
		return "", clierr.New(clierr.CodeSigner, "transaction sender does not match signer address")
	}
	if !common.IsHexAddress(tx.To) {
		return "", clierr.New(clierr.CodeSigner, "transaction target is not a valid address")
	}
	resolve := s.rpcURL
	if resolve == nil {
		resolve = func(chainID int64) (string, error) { return ResolveRPCURL("", chainID) }
	}
	rpcURL, err := resolve(tx.ChainID)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	signed, err := s.buildAndSign(ctx, client, tx)
	if err != nil {
		return "", err
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	return signed.Hash().Hex(), nil
}

func (s *LocalSigner) buildAndSign(ctx context.Context, client *ethclient.Client, tx EVMTransaction) (*types.Transaction, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if tx.ChainID != 0 && chainID.Int64() != tx.ChainID {
		return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("rpc chain mismatch: expected %d, got %d", tx.ChainID, chainID.Int64()))
	}
	target := common.HexToAddress(tx.To)
	data, err := hexutil.Decode(normalizeHexData(tx.Data))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "decode transaction calldata", err)
	}
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}

	gasLimit := tx.Gas
	if gasLimit == 0 {
		msg := ethereum.CallMsg{From: s.address, To: &target, Value: value, Data: data}
		estimated, err := client.EstimateGas(ctx, msg)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, "gas estimation failed", err)
		}
		multiplier := s.fees.GasMultiplier
		if multiplier <= 1 {
			multiplier = 1.2
		}
		gasLimit = uint64(float64(estimated) * multiplier)
	}

	tipCap, err := resolveTipCap(ctx, client, s.fees.MaxPriorityFeeGwei)
	if err != nil {
		return nil, err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, s.fees.MaxFeeGwei)
	if err != nil {
		return nil, err
	}
	nonce, err := client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := s.SignTx(chainID, unsigned)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	return signed, nil
}

// SignMessage produces an EIP-191 personal signature. Hex-encoded messages
// are signed as raw bytes.
func (s *LocalSigner) SignMessage(_ context.Context, req SignMessageRequest) (string, error) {
	if s == nil || s.privateKey == nil {
		return "", clierr.New(clierr.CodeSigner, "local signer is not initialized")
	}
	if req.Address != "" && !strings.EqualFold(req.Address, s.address.Hex()) {
		return "", clierr.New(clierr.CodeSigner, "message address does not match signer address")
	}
	payload := []byte(req.Message)
	if decoded, err := hexutil.Decode(req.Message); err == nil {
		payload = decoded
	}
	sig, err := crypto.Sign(accounts.TextHash(payload), s.privateKey)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign message", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// NewLocalSignerFromEnv loads the key for source from the process
// environment.
func NewLocalSignerFromEnv(source string) (*LocalSigner, error) {
	pk, err := LoadKey(source, os.Getenv)
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(pk), nil
}

func NewLocalSigner(pk *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}
}

func normalizeHexData(v string) string {
	clean := strings.TrimPrefix(strings.TrimSpace(v), "0x")
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	return "0x" + clean
}
