package service

import (
	"github.com/ggonzalez94/xfer-core/internal/engine"
	"github.com/ggonzalez94/xfer-core/internal/signer"
)

// Feature flag names. FlagEnabled is the master switch; the others each turn
// on one optional engine service.
const (
	FlagEnabled          = "enabled"
	FlagMarkr            = "markr"
	FlagAvalancheEVM     = "avalanche_evm"
	FlagLombardBTCToBTCB = "lombard_btc_to_btcb"
	FlagLombardBTCBToBTC = "lombard_btcb_to_btc"
)

// FeatureFlags is a named-boolean flag map. Missing names read as false.
type FeatureFlags map[string]bool

var serviceFlags = []struct {
	flag    string
	service engine.ServiceType
}{
	{FlagMarkr, engine.ServiceMarkr},
	{FlagAvalancheEVM, engine.ServiceAvalancheEVM},
	{FlagLombardBTCToBTCB, engine.ServiceLombardBTCToBTCB},
	{FlagLombardBTCBToBTC, engine.ServiceLombardBTCBToBTC},
}

// WatchedFlags lists the flag names whose change forces a reinitialization.
func WatchedFlags() []string {
	out := []string{FlagEnabled}
	for _, sf := range serviceFlags {
		out = append(out, sf.flag)
	}
	return out
}

func (f FeatureFlags) Clone() FeatureFlags {
	out := make(FeatureFlags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// EnabledServices maps flags to the optional services they turn on, in a
// fixed order. The master switch is not consulted here.
func EnabledServices(flags FeatureFlags) []engine.ServiceType {
	var out []engine.ServiceType
	for _, sf := range serviceFlags {
		if flags[sf.flag] {
			out = append(out, sf.service)
		}
	}
	return out
}

// Signers bundles the signing collaborators handed to the engine services.
type Signers struct {
	EVM          signer.EVMSigner
	BTC          signer.BTCSigner
	BTCFunctions signer.BitcoinFunctions
}

type MarkrSettings struct {
	APIURL string
	AppID  string
}

// BuildInitializers returns one initializer per requested service followed by
// the wrap/unwrap initializer, which is always present and always last.
func BuildInitializers(services []engine.ServiceType, signers Signers, markr MarkrSettings) []engine.ServiceInitializer {
	out := make([]engine.ServiceInitializer, 0, len(services)+1)
	seen := map[engine.ServiceType]bool{}
	for _, svc := range services {
		if seen[svc] || svc == engine.ServiceWrapUnwrap {
			continue
		}
		seen[svc] = true
		switch svc {
		case engine.ServiceMarkr:
			out = append(out, engine.MarkrInitializer{EVMSigner: signers.EVM, MarkrAPI: markr.APIURL, MarkrAppID: markr.AppID})
		case engine.ServiceAvalancheEVM:
			out = append(out, engine.EVMInitializer{EVMSigner: signers.EVM})
		case engine.ServiceLombardBTCToBTCB, engine.ServiceLombardBTCBToBTC:
			out = append(out, engine.LombardInitializer{
				Direction:    svc,
				EVMSigner:    signers.EVM,
				BTCSigner:    signers.BTC,
				BTCFunctions: signers.BTCFunctions,
			})
		}
	}
	return append(out, engine.WrapUnwrapInitializer{EVMSigner: signers.EVM})
}
