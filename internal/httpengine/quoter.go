package httpengine

import (
	"context"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/httpx"
)

// quoter polls the quotes endpoint while subscribed.
type quoter struct {
	h   *handle
	req engine.QuoteRequest
}

func (h *handle) GetQuoter(req engine.QuoteRequest) (engine.Quoter, error) {
	if !req.Valid() {
		return nil, clierr.New(clierr.CodeUsage, "quote request is incomplete")
	}
	return &quoter{h: h, req: req}, nil
}

func (q *quoter) body() quoteRequestBody {
	body := quoteRequestBody{Request: q.req, Services: q.h.order}
	if b, ok := q.h.bindings[engine.ServiceMarkr]; ok {
		body.MarkrAPI = b.markrAPI
		body.AppID = b.appID
	}
	return body
}

func (q *quoter) fetch(ctx context.Context) engine.QuoteEvent {
	var resp quotesResponse
	if err := httpx.PostJSON(ctx, q.h.engine.client, q.h.base+"/v1/quotes", q.body(), nil, &resp); err != nil {
		return engine.QuoteEvent{Kind: engine.QuoteEventError, Error: err}
	}
	ev := engine.QuoteEvent{Kind: engine.QuoteEventQuote, All: resp.Quotes}
	if len(resp.Quotes) > 0 {
		best := resp.Quotes[0]
		ev.Best = &best
	}
	return ev
}

// Subscribe emits a quote set right away and then once per poll interval.
func (q *quoter) Subscribe(ctx context.Context) (<-chan engine.QuoteEvent, func()) {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan engine.QuoteEvent)
	go func() {
		defer close(events)
		ticker := time.NewTicker(q.h.engine.cfg.PollInterval)
		defer ticker.Stop()
		for {
			ev := q.fetch(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return events, cancel
}
