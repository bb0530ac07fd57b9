package engine

import (
	"context"
	"math/big"
)

// Engine constructs a Handle from a non-empty, ordered initializer list.
type Engine interface {
	Init(ctx context.Context, env Environment, initializers []ServiceInitializer) (Handle, error)
}

// Handle is a fully initialized engine instance.
type Handle interface {
	GetQuoter(req QuoteRequest) (Quoter, error)
	GetSupportedChains(ctx context.Context) (SupportedChains, error)
	TransferAsset(ctx context.Context, quote Quote) (Transfer, error)
	TrackTransfer(transfer Transfer, onUpdate func(Transfer)) (TrackingHandle, error)
	EstimateGas(ctx context.Context, quote Quote) (*big.Int, error)
}

// Quoter is a subscribable quote stream. Subscribe starts background work
// which stops when unsubscribe is called or ctx is done; the events channel
// is closed once that work has stopped.
type Quoter interface {
	Subscribe(ctx context.Context) (events <-chan QuoteEvent, unsubscribe func())
}

type TrackResult struct {
	Transfer Transfer
	Err      error
}

// TrackingHandle follows one transfer until it reaches a terminal status.
// Result delivers exactly one value unless the handle is cancelled first.
type TrackingHandle interface {
	Cancel()
	Result() <-chan TrackResult
}
