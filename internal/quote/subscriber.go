package quote

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	"github.com/ggonzalez94/xfer-core/internal/logging"
	"github.com/ggonzalez94/xfer-core/internal/metrics"
)

// Source creates quote streams; the transfer service Manager satisfies it.
type Source interface {
	GetQuoter(req engine.QuoteRequest) (engine.Quoter, error)
}

// State is the quote view published to the UI.
type State struct {
	Request         *engine.QuoteRequest
	BestQuote       *engine.Quote
	AllQuotes       []engine.Quote
	SelectedQuoteID string
	Loading         bool
	Err             error
}

// ActiveQuote is the pinned quote when it is still offered, else the best.
func (s State) ActiveQuote() *engine.Quote {
	if s.SelectedQuoteID != "" {
		for i := range s.AllQuotes {
			if s.AllQuotes[i].ID == s.SelectedQuoteID {
				q := s.AllQuotes[i]
				return &q
			}
		}
	}
	return s.BestQuote
}

type subscription struct {
	gen         uint64
	cancel      context.CancelFunc
	unsubscribe func()
	once        sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() {
		s.unsubscribe()
		s.cancel()
	})
}

// Subscriber owns at most one live quote subscription, derived from the
// latest selection.
type Subscriber struct {
	source   Source
	logger   *slog.Logger
	metrics  metrics.Recorder
	onChange func(State)

	mu      sync.Mutex
	state   State
	current *subscription
	gen     uint64
}

type Option func(*Subscriber)

func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) { s.logger = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Subscriber) { s.metrics = r }
}

// WithOnChange registers fn to receive every published state. fn is called
// with the subscriber locked and must not call back into it.
func WithOnChange(fn func(State)) Option {
	return func(s *Subscriber) { s.onChange = fn }
}

func NewSubscriber(source Source, opts ...Option) *Subscriber {
	s := &Subscriber{source: source}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)
	s.metrics = metrics.OrNoop(s.metrics)
	return s
}

func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Update recomputes the request from sel. An unchanged request keeps the
// live subscription; any other outcome first closes it.
func (s *Subscriber) Update(sel Selection) State {
	req, buildErr := BuildRequest(sel)

	s.mu.Lock()
	defer s.mu.Unlock()

	if buildErr == nil && req != nil && s.current != nil && s.state.Request != nil && s.state.Request.Equal(*req) {
		return s.snapshotLocked()
	}
	s.closeCurrentLocked()

	switch {
	case buildErr != nil:
		s.logger.Warn("cannot build quote request", logging.Error(buildErr))
		s.resetLocked()
		s.state.Err = buildErr
		return s.publishLocked()
	case req == nil:
		s.resetLocked()
		return s.publishLocked()
	}

	s.state.Request = req
	s.state.SelectedQuoteID = ""
	quoter, err := s.source.GetQuoter(*req)
	if err != nil {
		s.logger.Warn("cannot create quoter", logging.ChainID(req.FromChain.ChainID), logging.Error(err))
		s.state.BestQuote = nil
		s.state.AllQuotes = nil
		s.state.Loading = false
		s.state.Err = err
		return s.publishLocked()
	}

	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	events, unsubscribe := quoter.Subscribe(ctx)
	sub := &subscription{gen: s.gen, cancel: cancel, unsubscribe: unsubscribe}
	s.current = sub
	s.state.Loading = true
	s.state.Err = nil
	go s.consume(sub, events)
	return s.publishLocked()
}

// SelectQuote pins the quote with id as active; "" returns to the best quote.
func (s *Subscriber) SelectQuote(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SelectedQuoteID = id
	return s.publishLocked()
}

// Close stops the live subscription and clears the published quotes.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCurrentLocked()
	s.resetLocked()
	s.publishLocked()
}

func (s *Subscriber) consume(sub *subscription, events <-chan engine.QuoteEvent) {
	for ev := range events {
		s.apply(sub, ev)
	}
}

func (s *Subscriber) apply(sub *subscription, ev engine.QuoteEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != sub || sub.gen != s.gen {
		return
	}
	s.metrics.IncQuoteEvent(string(ev.Kind))
	switch ev.Kind {
	case engine.QuoteEventQuote:
		s.state.BestQuote = ev.Best
		s.state.AllQuotes = ev.All
		s.state.Loading = false
		s.state.Err = nil
	case engine.QuoteEventError:
		// Previously published quotes stay visible.
		s.state.Loading = false
		s.state.Err = ev.Error
	default:
		return
	}
	s.publishLocked()
}

func (s *Subscriber) closeCurrentLocked() {
	if s.current == nil {
		return
	}
	s.current.close()
	s.current = nil
}

func (s *Subscriber) resetLocked() {
	s.state = State{}
}

func (s *Subscriber) snapshotLocked() State {
	st := s.state
	if st.AllQuotes != nil {
		st.AllQuotes = append([]engine.Quote(nil), st.AllQuotes...)
	}
	return st
}

func (s *Subscriber) publishLocked() State {
	st := s.snapshotLocked()
	if s.onChange != nil {
		s.onChange(st)
	}
	return st
}
