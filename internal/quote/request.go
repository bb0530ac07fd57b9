package quote

import (
	"math/big"
	"strings"

	"github.com/ggonzalez94/xfer-core/internal/engine"
)

// AddressResolver returns the active account's address on a network.
type AddressResolver interface {
	AddressFor(n Network) (string, bool)
}

// Account holds the active account's address per chain family.
type Account struct {
	EVM string
	BTC string
	SVM string
}

func (a Account) AddressFor(n Network) (string, bool) {
	var addr string
	switch n.Namespace() {
	case "eip155":
		addr = a.EVM
	case "bip122":
		addr = a.BTC
	case "solana":
		addr = a.SVM
	}
	addr = strings.TrimSpace(addr)
	return addr, addr != ""
}

// Selection is the user's current swap input.
type Selection struct {
	FromToken   *Token
	ToToken     *Token
	FromNetwork *Network
	ToNetwork   *Network
	Account     AddressResolver
	Amount      *big.Int
	SlippageBps int
	// ServiceReady is true while the transfer service is initialized.
	ServiceReady bool
}

// BuildRequest derives the quote request for sel. It returns nil without an
// error while the selection is incomplete, and an error when a selected
// token or network cannot be expressed to the engine.
func BuildRequest(sel Selection) (*engine.QuoteRequest, error) {
	if !sel.ServiceReady || sel.FromToken == nil || sel.ToToken == nil || sel.FromNetwork == nil || sel.ToNetwork == nil || sel.Account == nil {
		return nil, nil
	}
	if sel.Amount == nil || sel.Amount.Sign() <= 0 {
		return nil, nil
	}
	fromAddress, ok := sel.Account.AddressFor(*sel.FromNetwork)
	if !ok {
		return nil, nil
	}
	toAddress, ok := sel.Account.AddressFor(*sel.ToNetwork)
	if !ok {
		return nil, nil
	}

	fromAsset, err := ToSwappableAsset(*sel.FromToken)
	if err != nil {
		return nil, err
	}
	toAsset, err := ToSwappableAsset(*sel.ToToken)
	if err != nil {
		return nil, err
	}
	fromChain, err := ToChain(*sel.FromNetwork)
	if err != nil {
		return nil, err
	}
	toChain, err := ToChain(*sel.ToNetwork)
	if err != nil {
		return nil, err
	}
	return &engine.QuoteRequest{
		FromAsset:   fromAsset,
		ToAsset:     toAsset,
		FromChain:   fromChain,
		ToChain:     toChain,
		FromAddress: fromAddress,
		ToAddress:   toAddress,
		Amount:      new(big.Int).Set(sel.Amount),
		SlippageBps: sel.SlippageBps,
	}, nil
}
