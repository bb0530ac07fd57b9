package httpengine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/httpx"
	"github.com/ggonzalez94/xfer-core/internal/logging"
	"github.com/ggonzalez94/xfer-core/internal/signer"
	"github.com/google/uuid"
)

const headerIdempotencyKey = "Idempotency-Key"

// TransferAsset prepares the transfer, runs every signing step through the
// service's signers and submits the results.
func (h *handle) TransferAsset(ctx context.Context, quote engine.Quote) (engine.Transfer, error) {
	b, err := h.binding(quote.ServiceType)
	if err != nil {
		return engine.Transfer{}, err
	}

	prep := prepareRequestBody{QuoteID: quote.ID}
	if b.btcFns != nil {
		rate, err := b.btcFns.GetFeeRate(ctx)
		if err != nil {
			return engine.Transfer{}, clierr.Wrap(clierr.CodeUnavailable, "fetch bitcoin fee rate", err)
		}
		prep.BTCFeeRate = rate
	}
	var prepared prepareResponse
	if err := httpx.PostJSON(ctx, h.engine.client, h.base+"/v1/transfers/prepare", prep, nil, &prepared); err != nil {
		return engine.Transfer{}, err
	}
	if strings.TrimSpace(prepared.TransferID) == "" {
		return engine.Transfer{}, clierr.New(clierr.CodeEngine, "invalid response: missing transfer id")
	}

	results := make([]stepResult, 0, len(prepared.Steps))
	for i, step := range prepared.Steps {
		res, err := h.runStep(ctx, b, step)
		if err != nil {
			h.engine.logger.Warn("transfer step failed",
				logging.QuoteID(quote.ID),
				logging.TransferID(prepared.TransferID),
				logging.Error(err))
			return engine.Transfer{}, fmt.Errorf("step %d (%s): %w", i+1, step.Kind, err)
		}
		results = append(results, res)
	}

	var transfer engine.Transfer
	headers := map[string]string{headerIdempotencyKey: uuid.NewString()}
	endpoint := h.base + "/v1/transfers/" + url.PathEscape(prepared.TransferID) + "/submit"
	if err := httpx.PostJSON(ctx, h.engine.client, endpoint, submitRequestBody{QuoteID: quote.ID, Results: results}, headers, &transfer); err != nil {
		return engine.Transfer{}, err
	}
	if transfer.ID == "" {
		transfer.ID = prepared.TransferID
	}
	if transfer.Status == "" {
		transfer.Status = engine.StatusSourcePending
	}
	transfer.Quote = quote.Ref()
	return transfer, nil
}

func (h *handle) runStep(ctx context.Context, b binding, step preparedStep) (stepResult, error) {
	switch step.Kind {
	case stepEVMTransaction:
		if step.Transaction == nil || b.evm == nil {
			return stepResult{}, clierr.New(clierr.CodeEngine, "invalid response: evm step without transaction")
		}
		hash, err := b.evm.Sign(ctx, *step.Transaction)
		if err != nil {
			return stepResult{}, err
		}
		return stepResult{Kind: step.Kind, TxHash: hash}, nil
	case stepEVMMessage:
		if step.Message == nil || b.evm == nil {
			return stepResult{}, clierr.New(clierr.CodeEngine, "invalid response: message step without message")
		}
		sig, err := b.evm.SignMessage(ctx, *step.Message)
		if err != nil {
			return stepResult{}, err
		}
		return stepResult{Kind: step.Kind, Signatures: []string{sig}}, nil
	case stepBTCTransaction:
		if b.btc == nil {
			return stepResult{}, clierr.New(clierr.CodeSigner, "service has no bitcoin signer")
		}
		inputs := step.Inputs
		if len(inputs) == 0 && b.btcFns != nil && step.BTCAddress != "" {
			utxos, err := b.btcFns.GetUTXOs(ctx, step.BTCAddress)
			if err != nil {
				return stepResult{}, clierr.Wrap(clierr.CodeUnavailable, "fetch bitcoin utxos", err)
			}
			inputs = utxos
		}
		required := step.RequiredSignatures
		if required <= 0 {
			required = 1
		}
		sigs := make([]string, 0, required)
		for i := 1; i <= required; i++ {
			sig, err := b.btc.Sign(ctx, inputs, step.Outputs, signer.BTCSigningContext{RequiredSignatures: required, CurrentSignature: i})
			if err != nil {
				return stepResult{}, err
			}
			sigs = append(sigs, sig)
		}
		return stepResult{Kind: step.Kind, Signatures: sigs}, nil
	}
	return stepResult{}, clierr.New(clierr.CodeEngine, fmt.Sprintf("invalid response: unknown step kind %q", step.Kind))
}

type trackingHandle struct {
	cancel context.CancelFunc
	result chan engine.TrackResult
	once   sync.Once
}

func (t *trackingHandle) Cancel() { t.once.Do(t.cancel) }

func (t *trackingHandle) Result() <-chan engine.TrackResult { return t.result }

// TrackTransfer polls the transfer until it is completed or failed. Status
// changes are pushed to onUpdate; transient poll failures are retried on the
// next tick.
func (h *handle) TrackTransfer(transfer engine.Transfer, onUpdate func(engine.Transfer)) (engine.TrackingHandle, error) {
	if strings.TrimSpace(transfer.ID) == "" {
		return nil, clierr.New(clierr.CodeUsage, "transfer id is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	th := &trackingHandle{cancel: cancel, result: make(chan engine.TrackResult, 1)}
	endpoint := h.base + "/v1/transfers/" + url.PathEscape(transfer.ID)

	go func() {
		defer cancel()
		ticker := time.NewTicker(h.engine.cfg.PollInterval)
		defer ticker.Stop()
		last := transfer.Status
		for {
			var current engine.Transfer
			err := httpx.GetJSON(ctx, h.engine.client, endpoint, nil, &current)
			if ctx.Err() != nil {
				return
			}
			switch {
			case err == nil:
				if current.Quote.ID == "" {
					current.Quote = transfer.Quote
				}
				if current.Status.IsTerminal() {
					th.result <- engine.TrackResult{Transfer: current}
					return
				}
				if current.Status != last {
					last = current.Status
					if onUpdate != nil {
						onUpdate(current)
					}
				}
			case clierr.HasCode(err, clierr.CodeUnavailable), clierr.HasCode(err, clierr.CodeRateLimited):
				h.engine.logger.Debug("transfer poll failed", logging.TransferID(transfer.ID), logging.Error(err))
			default:
				th.result <- engine.TrackResult{Err: err}
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return th, nil
}
