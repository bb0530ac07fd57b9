package app

import (
	"errors"
	"strings"

	"github.com/ggonzalez94/xfer-core/internal/config"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/httpx"
	"github.com/ggonzalez94/xfer-core/internal/id"
	"github.com/ggonzalez94/xfer-core/internal/service"
	"github.com/ggonzalez94/xfer-core/internal/signer"
)

// walletSigners is what the CLI can sign with, plus the addresses quotes
// are requested for.
type walletSigners struct {
	service.Signers
	EVMAddress string
}

func loadWalletSigners(settings config.Settings) (walletSigners, error) {
	btcNetwork, _ := id.ParseChain("bitcoin")
	btcAPI := signer.DefaultBitcoinAPIURL
	if settings.DeveloperMode {
		btcNetwork, _ = id.ParseChain("bitcoin-testnet")
		btcAPI = signer.DefaultBitcoinTestnetAPIURL
	}
	if strings.TrimSpace(settings.SignerBTCAPIURL) != "" {
		btcAPI = settings.SignerBTCAPIURL
	}
	btc := signer.NewBTCSigner(signer.RejectingApprover("bitcoin signing needs the wallet approval pipeline"), btcNetwork.CAIP2)
	btcFns := signer.NewEsploraBitcoin(httpx.New(settings.Timeout, settings.Retries), btcAPI)

	local, err := signer.NewLocalSignerFromEnv(settings.SignerKeySource)
	if err != nil {
		if errors.Is(err, signer.ErrNoKey) {
			// Quoting works without a key; signing fails when attempted.
			evm := signer.NewEVMSigner(signer.RejectingApprover("no signing key configured, set " + signer.EnvPrivateKey))
			return walletSigners{Signers: service.Signers{EVM: evm, BTC: btc, BTCFunctions: btcFns}}, nil
		}
		return walletSigners{}, clierr.Wrap(clierr.CodeSigner, "load signing key", err)
	}
	overrides := settings.SignerRPCURLs
	local = local.WithRPC(func(chainID int64) (string, error) {
		return signer.ResolveRPCURL(overrides[chainID], chainID)
	}).WithFees(signer.FeeOptions{GasMultiplier: settings.SignerGasMultiplier})

	return walletSigners{
		Signers:    service.Signers{EVM: local, BTC: btc, BTCFunctions: btcFns},
		EVMAddress: local.Address().Hex(),
	}, nil
}
