package quote

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuoter struct {
	events       chan engine.QuoteEvent
	subscribes   atomic.Int32
	unsubscribes atomic.Int32
	closeOnce    sync.Once
}

func newFakeQuoter() *fakeQuoter {
	return &fakeQuoter{events: make(chan engine.QuoteEvent, 8)}
}

func (q *fakeQuoter) Subscribe(context.Context) (<-chan engine.QuoteEvent, func()) {
	q.subscribes.Add(1)
	return q.events, func() {
		q.unsubscribes.Add(1)
		q.closeOnce.Do(func() { close(q.events) })
	}
}

type fakeSource struct {
	mu      sync.Mutex
	reqs    []engine.QuoteRequest
	quoters []*fakeQuoter
	err     error
}

func (s *fakeSource) GetQuoter(req engine.QuoteRequest) (engine.Quoter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	q := newFakeQuoter()
	s.quoters = append(s.quoters, q)
	return q, nil
}

func (s *fakeSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func (s *fakeSource) quoter(i int) *fakeQuoter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quoters[i]
}

var (
	avalanche = Network{ChainName: "Avalanche C-Chain", CAIP2ChainID: "eip155:43114", NetworkToken: NetworkToken{Name: "Avalanche", Symbol: "AVAX", Decimals: 18}}
	bitcoin   = Network{ChainName: "Bitcoin", CAIP2ChainID: "bip122:000000000019d6689c085ae165831e93", NetworkToken: NetworkToken{Name: "Bitcoin", Symbol: "BTC", Decimals: 8}}
	avaxToken = Token{Type: TokenNative, Symbol: "AVAX", Name: "Avalanche", Decimals: intPtr(18)}
	usdcToken = Token{Type: TokenERC20, Symbol: "USDC", Name: "USD Coin", Decimals: intPtr(6), Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"}
)

func validSelection() Selection {
	return Selection{
		FromToken:    &avaxToken,
		ToToken:      &usdcToken,
		FromNetwork:  &avalanche,
		ToNetwork:    &avalanche,
		Account:      Account{EVM: "0x1111111111111111111111111111111111111111"},
		Amount:       big.NewInt(1_000_000),
		SlippageBps:  50,
		ServiceReady: true,
	}
}

func quoteEvent(ids ...string) engine.QuoteEvent {
	all := make([]engine.Quote, 0, len(ids))
	for _, id := range ids {
		all = append(all, engine.Quote{ID: id})
	}
	best := all[0]
	return engine.QuoteEvent{Kind: engine.QuoteEventQuote, Best: &best, All: all}
}

func TestBuildRequestIncompleteSelection(t *testing.T) {
	cases := map[string]func(*Selection){
		"service not ready":  func(s *Selection) { s.ServiceReady = false },
		"missing from token": func(s *Selection) { s.FromToken = nil },
		"zero amount":        func(s *Selection) { s.Amount = big.NewInt(0) },
		"nil amount":         func(s *Selection) { s.Amount = nil },
		"missing from address": func(s *Selection) {
			s.Account = Account{}
		},
		"no address on destination network": func(s *Selection) { s.ToNetwork = &bitcoin },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sel := validSelection()
			mutate(&sel)
			req, err := BuildRequest(sel)
			require.NoError(t, err)
			assert.Nil(t, req)
		})
	}
}

func TestBuildRequestConversionError(t *testing.T) {
	sel := validSelection()
	nft := Token{Type: TokenERC721, Symbol: "NFT", Decimals: intPtr(0)}
	sel.ToToken = &nft
	req, err := BuildRequest(sel)
	require.EqualError(t, err, "ERC721 tokens are not supported for swaps")
	assert.Nil(t, req)
}

func TestBuildRequestResolvesAddressesPerNetwork(t *testing.T) {
	sel := validSelection()
	btc := Token{Type: TokenNative, Symbol: "BTC", Decimals: intPtr(8)}
	sel.ToToken = &btc
	sel.ToNetwork = &bitcoin
	sel.Account = Account{EVM: "0xabc", BTC: "bc1qxyz"}

	req, err := BuildRequest(sel)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "0xabc", req.FromAddress)
	assert.Equal(t, "bc1qxyz", req.ToAddress)
	assert.True(t, req.Valid())
}

func TestSubscriberMissingAddressNeverQuotes(t *testing.T) {
	src := &fakeSource{}
	sub := NewSubscriber(src)
	sel := validSelection()
	sel.Account = Account{}

	st := sub.Update(sel)
	assert.Equal(t, 0, src.calls())
	assert.Nil(t, st.BestQuote)
	assert.Empty(t, st.AllQuotes)
	assert.False(t, st.Loading)
}

func TestSubscriberPublishesQuotesAndKeepsThemOnError(t *testing.T) {
	src := &fakeSource{}
	sub := NewSubscriber(src)

	st := sub.Update(validSelection())
	assert.True(t, st.Loading)
	q := src.quoter(0)

	q.events <- quoteEvent("best", "other")
	require.Eventually(t, func() bool { return sub.State().BestQuote != nil }, time.Second, 5*time.Millisecond)
	st = sub.State()
	assert.False(t, st.Loading)
	assert.Len(t, st.AllQuotes, 2)

	q.events <- engine.QuoteEvent{Kind: engine.QuoteEventError, Error: errors.New("rate limited")}
	require.Eventually(t, func() bool { return sub.State().Err != nil }, time.Second, 5*time.Millisecond)
	st = sub.State()
	require.NotNil(t, st.BestQuote)
	assert.Equal(t, "best", st.BestQuote.ID)
	assert.Len(t, st.AllQuotes, 2)
	assert.False(t, st.Loading)
}

func TestSubscriberSameRequestKeepsSubscription(t *testing.T) {
	src := &fakeSource{}
	sub := NewSubscriber(src)

	sub.Update(validSelection())
	sub.Update(validSelection())
	assert.Equal(t, 1, src.calls())
	assert.Equal(t, int32(0), src.quoter(0).unsubscribes.Load())
}

func TestSubscriberNewRequestUnsubscribesExactlyOnce(t *testing.T) {
	src := &fakeSource{}
	sub := NewSubscriber(src)

	sub.Update(validSelection())
	changed := validSelection()
	changed.Amount = big.NewInt(2_000_000)
	sub.Update(changed)

	first := src.quoter(0)
	assert.Equal(t, int32(1), first.subscribes.Load())
	assert.Equal(t, int32(1), first.unsubscribes.Load())
	assert.Equal(t, 2, src.calls())

	sub.Close()
	assert.Equal(t, int32(1), first.unsubscribes.Load())
	assert.Equal(t, int32(1), src.quoter(1).unsubscribes.Load())
	sub.Close()
	assert.Equal(t, int32(1), src.quoter(1).unsubscribes.Load())
}

func TestSubscriberInvalidationResets(t *testing.T) {
	src := &fakeSource{}
	sub := NewSubscriber(src)

	sub.Update(validSelection())
	q := src.quoter(0)
	q.events <- quoteEvent("best")
	require.Eventually(t, func() bool { return sub.State().BestQuote != nil }, time.Second, 5*time.Millisecond)

	sel := validSelection()
	sel.Amount = nil
	st := sub.Update(sel)
	assert.Nil(t, st.BestQuote)
	assert.Empty(t, st.AllQuotes)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Request)
	assert.Equal(t, int32(1), q.unsubscribes.Load())
}

func TestSubscriberConstructionFailureClearsQuotes(t *testing.T) {
	src := &fakeSource{}
	sub := NewSubscriber(src)
	sub.Update(validSelection())
	src.quoter(0).events <- quoteEvent("best")
	require.Eventually(t, func() bool { return sub.State().BestQuote != nil }, time.Second, 5*time.Millisecond)

	src.mu.Lock()
	src.err = errors.New("not initialized")
	src.mu.Unlock()
	changed := validSelection()
	changed.SlippageBps = 100
	st := sub.Update(changed)

	require.Error(t, st.Err)
	assert.Nil(t, st.BestQuote)
	assert.Empty(t, st.AllQuotes)
}

func TestSubscriberBuildErrorSurfaces(t *testing.T) {
	src := &fakeSource{}
	sub := NewSubscriber(src)
	sel := validSelection()
	nft := Token{Type: TokenERC1155, Symbol: "MULTI", Decimals: intPtr(0)}
	sel.FromToken = &nft

	st := sub.Update(sel)
	require.EqualError(t, st.Err, "ERC1155 tokens are not supported for swaps")
	assert.Equal(t, 0, src.calls())
}

func TestSubscriberQuotePinning(t *testing.T) {
	src := &fakeSource{}
	var mu sync.Mutex
	var published []State
	sub := NewSubscriber(src, WithOnChange(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, st)
	}))

	sub.Update(validSelection())
	src.quoter(0).events <- quoteEvent("best", "alt")
	require.Eventually(t, func() bool { return sub.State().BestQuote != nil }, time.Second, 5*time.Millisecond)

	st := sub.SelectQuote("alt")
	assert.Equal(t, "alt", st.ActiveQuote().ID)

	st = sub.SelectQuote("gone")
	assert.Equal(t, "best", st.ActiveQuote().ID)

	st = sub.SelectQuote("")
	assert.Equal(t, "best", st.ActiveQuote().ID)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(published), 4)
}
