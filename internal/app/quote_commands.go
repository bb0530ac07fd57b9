package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/id"
	"github.com/ggonzalez94/xfer-core/internal/model"
	"github.com/ggonzalez94/xfer-core/internal/quote"
	"github.com/spf13/cobra"
)

type selectionArgs struct {
	from          string
	to            string
	fromToken     string
	toToken       string
	amountBase    string
	amountDecimal string
	fromAddress   string
	btcAddress    string
	slippageBps   int
}

func (a *selectionArgs) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.from, "from", "", "Source chain")
	cmd.Flags().StringVar(&a.to, "to", "", "Destination chain (defaults to --from)")
	cmd.Flags().StringVar(&a.fromToken, "from-token", "", "Token to send (symbol, address or native)")
	cmd.Flags().StringVar(&a.toToken, "to-token", "", "Token to receive")
	cmd.Flags().StringVar(&a.amountBase, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&a.amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().StringVar(&a.fromAddress, "from-address", "", "EVM account address (defaults to the signing key)")
	cmd.Flags().StringVar(&a.btcAddress, "btc-address", "", "Bitcoin account address")
	cmd.Flags().IntVar(&a.slippageBps, "slippage-bps", 50, "Max slippage in basis points")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("from-token")
	_ = cmd.MarkFlagRequired("to-token")
}

// resolvedSelection keeps the catalog entries next to the quote selection
// so results can be rendered in decimal units.
type resolvedSelection struct {
	selection quote.Selection
	fromToken id.Token
	toToken   id.Token
	fromQuote quote.Token
	toQuote   quote.Token
}

func (s *runtimeState) resolveSelection(a selectionArgs) (resolvedSelection, error) {
	fromChain, err := id.ParseChain(a.from)
	if err != nil {
		return resolvedSelection{}, err
	}
	toArg := a.to
	if strings.TrimSpace(toArg) == "" {
		toArg = a.from
	}
	toChain, err := id.ParseChain(toArg)
	if err != nil {
		return resolvedSelection{}, err
	}
	if fromChain.Testnet != s.settings.DeveloperMode || toChain.Testnet != s.settings.DeveloperMode {
		return resolvedSelection{}, clierr.New(clierr.CodeUsage, "testnet chains need --developer-mode and mainnet chains need it off")
	}
	fromToken, err := id.ParseToken(a.fromToken, fromChain)
	if err != nil {
		return resolvedSelection{}, err
	}
	toToken, err := id.ParseToken(a.toToken, toChain)
	if err != nil {
		return resolvedSelection{}, clierr.Wrap(clierr.CodeUsage, "resolve destination token", err)
	}
	amount, err := id.ParseAmount(a.amountBase, a.amountDecimal, fromToken.Decimals)
	if err != nil {
		return resolvedSelection{}, err
	}

	wallet, err := s.walletSigners()
	if err != nil {
		return resolvedSelection{}, err
	}
	account := quote.Account{EVM: wallet.EVMAddress, BTC: strings.TrimSpace(a.btcAddress)}
	if strings.TrimSpace(a.fromAddress) != "" {
		account.EVM = strings.TrimSpace(a.fromAddress)
	}
	fromNetwork := toQuoteNetwork(fromChain)
	toNetwork := toQuoteNetwork(toChain)
	for _, n := range []quote.Network{fromNetwork, toNetwork} {
		if _, ok := account.AddressFor(n); !ok {
			return resolvedSelection{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("no account address for %s, pass --from-address or --btc-address", n.ChainName))
		}
	}

	fq := toQuoteToken(fromToken)
	tq := toQuoteToken(toToken)
	return resolvedSelection{
		selection: quote.Selection{
			FromToken:    &fq,
			ToToken:      &tq,
			FromNetwork:  &fromNetwork,
			ToNetwork:    &toNetwork,
			Account:      account,
			Amount:       amount,
			SlippageBps:  a.slippageBps,
			ServiceReady: s.manager.IsInitialized(),
		},
		fromToken: fromToken,
		toToken:   toToken,
		fromQuote: fq,
		toQuote:   tq,
	}, nil
}

func toQuoteNetwork(c id.Chain) quote.Network {
	return quote.Network{
		ChainName:    c.Name,
		CAIP2ChainID: c.CAIP2,
		NetworkToken: quote.NetworkToken{Name: c.Native.Name, Symbol: c.Native.Symbol, Decimals: c.Native.Decimals},
	}
}

func toQuoteToken(t id.Token) quote.Token {
	decimals := t.Decimals
	qt := quote.Token{Symbol: t.Symbol, Name: t.Name, Decimals: &decimals, Address: t.Address}
	if t.IsNative() {
		qt.Type = quote.TokenNative
	} else {
		qt.Type = quote.TokenERC20
	}
	return qt
}

// awaitQuotes subscribes for sel and returns the first settled state. The
// subscriber is returned still live so a caller can pin and use a quote.
func (s *runtimeState) awaitQuotes(ctx context.Context, sel quote.Selection) (*quote.Subscriber, quote.State, error) {
	changes := make(chan struct{}, 1)
	sub := quote.NewSubscriber(s.manager,
		quote.WithLogger(s.logger),
		quote.WithMetrics(s.recorder),
		quote.WithOnChange(func(quote.State) {
			select {
			case changes <- struct{}{}:
			default:
			}
		}),
	)
	st := sub.Update(sel)
	for {
		if st.Request == nil && st.Err == nil {
			sub.Close()
			return nil, st, clierr.New(clierr.CodeUsage, "quote selection is incomplete")
		}
		if !st.Loading {
			if st.Err != nil {
				sub.Close()
				return nil, st, st.Err
			}
			if st.BestQuote == nil {
				sub.Close()
				return nil, st, clierr.New(clierr.CodeUnsupported, "no route found for this transfer")
			}
			return sub, st, nil
		}
		select {
		case <-ctx.Done():
			sub.Close()
			return nil, st, clierr.Wrap(clierr.CodeUnavailable, "wait for quotes", ctx.Err())
		case <-changes:
			st = sub.State()
		}
	}
}

func summarizeQuotes(st quote.State, from, to id.Token) []model.QuoteSummary {
	out := make([]model.QuoteSummary, 0, len(st.AllQuotes))
	for _, q := range st.AllQuotes {
		out = append(out, summarizeQuote(q, from, to, st.BestQuote != nil && st.BestQuote.ID == q.ID))
	}
	return out
}

func summarizeQuote(q engine.Quote, from, to id.Token, best bool) model.QuoteSummary {
	return model.QuoteSummary{
		QuoteID:         q.ID,
		ServiceType:     string(q.ServiceType),
		Aggregator:      q.Aggregator.Name,
		FromChainID:     q.FromChainID,
		ToChainID:       q.ToChainID,
		AmountIn:        q.AmountIn,
		AmountInDecimal: id.FormatUnits(q.AmountIn, from.Decimals),
		AmountOut:       q.AmountOut,
		AmountOutDec:    id.FormatUnits(q.AmountOut, to.Decimals),
		FeeUSD:          q.FeeUSD,
		EstimatedSec:    q.EstimatedDurationSec,
		Best:            best,
	}
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var args selectionArgs
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Fetch live transfer quotes for a token pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), wait)
			defer cancel()
			if err := s.ensureReady(ctx, false); err != nil {
				return err
			}
			resolved, err := s.resolveSelection(args)
			if err != nil {
				return err
			}
			sub, st, err := s.awaitQuotes(ctx, resolved.selection)
			if err != nil {
				return err
			}
			sub.Close()
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), summarizeQuotes(st, resolved.fromToken, resolved.toToken), nil)
		},
	}
	args.bind(cmd)
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "How long to wait for the first quotes")
	return cmd
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chains",
		Short: "List chains the transfer service can route between",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := s.commandContext()
			defer cancel()
			if err := s.ensureReady(ctx, false); err != nil {
				return err
			}
			chains, err := s.manager.GetSupportedChains(ctx)
			if err != nil {
				return err
			}
			items := make([]model.ChainInfo, 0, len(chains))
			for _, chainID := range chains.ChainIDs() {
				info := model.ChainInfo{ChainID: chainID, Destinations: chains.Destinations(chainID)}
				if known, ok := id.LookupCAIP2(chainID); ok {
					info.Name = known.Name
				}
				items = append(items, info)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}
	return cmd
}
