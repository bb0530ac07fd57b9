package engine

import "github.com/ggonzalez94/xfer-core/internal/signer"

// ServiceInitializer is a tagged descriptor telling the engine how to build
// one of its sub-services.
type ServiceInitializer interface {
	ServiceType() ServiceType
}

type MarkrInitializer struct {
	EVMSigner  signer.EVMSigner
	MarkrAPI   string
	MarkrAppID string
}

func (MarkrInitializer) ServiceType() ServiceType { return ServiceMarkr }

type EVMInitializer struct {
	EVMSigner signer.EVMSigner
}

func (EVMInitializer) ServiceType() ServiceType { return ServiceAvalancheEVM }

// LombardInitializer serves both bridging directions of the BTC/BTC.b pair.
type LombardInitializer struct {
	Direction    ServiceType
	EVMSigner    signer.EVMSigner
	BTCSigner    signer.BTCSigner
	BTCFunctions signer.BitcoinFunctions
}

func (l LombardInitializer) ServiceType() ServiceType { return l.Direction }

type WrapUnwrapInitializer struct {
	EVMSigner signer.EVMSigner
}

func (WrapUnwrapInitializer) ServiceType() ServiceType { return ServiceWrapUnwrap }
