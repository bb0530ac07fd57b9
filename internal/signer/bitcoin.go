package signer

import (
	"context"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/httpx"
)

const (
	DefaultBitcoinAPIURL        = "https://mempool.space/api"
	DefaultBitcoinTestnetAPIURL = "https://mempool.space/testnet4/api"

	// defaultFeeTarget is the confirmation target, in blocks, used to pick
	// a fee estimate.
	defaultFeeTarget = 6
)

// EsploraBitcoin serves BitcoinFunctions from an Esplora-compatible HTTP
// API such as mempool.space or blockstream.info.
type EsploraBitcoin struct {
	client *httpx.Client
	base   string
	target int
}

func NewEsploraBitcoin(client *httpx.Client, baseURL string) *EsploraBitcoin {
	return &EsploraBitcoin{
		client: client,
		base:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		target: defaultFeeTarget,
	}
}

type esploraUTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed bool `json:"confirmed"`
	} `json:"status"`
}

// GetUTXOs returns the confirmed outputs held by address.
func (b *EsploraBitcoin) GetUTXOs(ctx context.Context, address string) ([]BTCInput, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, clierr.New(clierr.CodeUsage, "bitcoin address is required")
	}
	var utxos []esploraUTXO
	if err := httpx.GetJSON(ctx, b.client, b.base+"/address/"+url.PathEscape(address)+"/utxo", nil, &utxos); err != nil {
		return nil, err
	}
	out := make([]BTCInput, 0, len(utxos))
	for _, u := range utxos {
		if !u.Status.Confirmed {
			continue
		}
		out = append(out, BTCInput{TxHash: u.TxID, Index: u.Vout, Value: u.Value})
	}
	return out, nil
}

// GetFeeRate returns a sat/vB rate for the configured confirmation target.
// When the API has no estimate for that target the next slower one is
// used, and failing that the slowest it has.
func (b *EsploraBitcoin) GetFeeRate(ctx context.Context) (int64, error) {
	var estimates map[string]float64
	if err := httpx.GetJSON(ctx, b.client, b.base+"/fee-estimates", nil, &estimates); err != nil {
		return 0, err
	}
	targets := make([]int, 0, len(estimates))
	for k := range estimates {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		targets = append(targets, n)
	}
	if len(targets) == 0 {
		return 0, clierr.New(clierr.CodeUnavailable, "bitcoin fee estimates are empty")
	}
	sort.Ints(targets)
	pick := targets[len(targets)-1]
	for _, n := range targets {
		if n >= b.target {
			pick = n
			break
		}
	}
	rate := int64(math.Ceil(estimates[strconv.Itoa(pick)]))
	if rate < 1 {
		rate = 1
	}
	return rate, nil
}
