package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/engine"
)

type initCall struct {
	env          engine.Environment
	initializers []engine.ServiceInitializer
}

type fakeEngine struct {
	mu      sync.Mutex
	calls   []initCall
	err     error
	handles []*fakeHandle
}

func (e *fakeEngine) Init(_ context.Context, env engine.Environment, initializers []engine.ServiceInitializer) (engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, initCall{env: env, initializers: initializers})
	if e.err != nil {
		return nil, e.err
	}
	h := &fakeHandle{}
	e.handles = append(e.handles, h)
	return h, nil
}

func (e *fakeEngine) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *fakeEngine) initCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEngine) lastCall() initCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

// slowEngine holds every Init for delay and records whether two ever ran
// at once.
type slowEngine struct {
	fakeEngine
	delay    time.Duration
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (e *slowEngine) Init(ctx context.Context, env engine.Environment, initializers []engine.ServiceInitializer) (engine.Handle, error) {
	if e.inFlight.Add(1) > 1 {
		e.overlap.Store(true)
	}
	defer e.inFlight.Add(-1)
	time.Sleep(e.delay)
	return e.fakeEngine.Init(ctx, env, initializers)
}

func (e *slowEngine) allHandles() []*fakeHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeHandle(nil), e.handles...)
}

type fakeHandle struct {
	mu         sync.Mutex
	quoterErr  error
	quoterReqs []engine.QuoteRequest
	trackers   []*fakeTracking
	trackErr   error
}

func (h *fakeHandle) GetQuoter(req engine.QuoteRequest) (engine.Quoter, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.quoterReqs = append(h.quoterReqs, req)
	if h.quoterErr != nil {
		return nil, h.quoterErr
	}
	return fakeQuoter{}, nil
}

func (h *fakeHandle) GetSupportedChains(context.Context) (engine.SupportedChains, error) {
	return engine.SupportedChains{{Source: "eip155:43114", Destinations: []string{"eip155:1"}}}, nil
}

func (h *fakeHandle) TransferAsset(_ context.Context, q engine.Quote) (engine.Transfer, error) {
	return engine.Transfer{ID: "T-" + q.ID, Status: engine.StatusSourcePending, Quote: q.Ref()}, nil
}

func (h *fakeHandle) TrackTransfer(t engine.Transfer, onUpdate func(engine.Transfer)) (engine.TrackingHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.trackErr != nil {
		return nil, h.trackErr
	}
	ft := &fakeTracking{transfer: t, onUpdate: onUpdate, result: make(chan engine.TrackResult, 1)}
	h.trackers = append(h.trackers, ft)
	return ft, nil
}

func (h *fakeHandle) EstimateGas(context.Context, engine.Quote) (*big.Int, error) {
	return big.NewInt(21000), nil
}

// liveTrackers counts trackers that were never cancelled.
func (h *fakeHandle) liveTrackers() (live, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ft := range h.trackers {
		if ft.cancels.Load() == 0 {
			live++
		}
	}
	return live, len(h.trackers)
}

func (h *fakeHandle) tracker(i int) *fakeTracking {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trackers[i]
}

type fakeTracking struct {
	transfer engine.Transfer
	onUpdate func(engine.Transfer)
	result   chan engine.TrackResult
	cancels  atomic.Int32
}

func (f *fakeTracking) Cancel()                           { f.cancels.Add(1) }
func (f *fakeTracking) Result() <-chan engine.TrackResult { return f.result }

func (f *fakeTracking) resolve(status engine.TransferStatus) {
	t := f.transfer
	t.Status = status
	f.result <- engine.TrackResult{Transfer: t}
}

func (f *fakeTracking) reject(msg string) {
	f.result <- engine.TrackResult{Err: errors.New(msg)}
}

type fakeQuoter struct{}

func (fakeQuoter) Subscribe(context.Context) (<-chan engine.QuoteEvent, func()) {
	ch := make(chan engine.QuoteEvent)
	close(ch)
	return ch, func() {}
}

// fakeLifecycle counts controller calls without an engine behind it.
type fakeLifecycle struct {
	mu       sync.Mutex
	inits    []FeatureFlags
	envs     []engine.Environment
	cleanups int
	err      error
}

func (f *fakeLifecycle) InitWithFeatureFlags(_ context.Context, env engine.Environment, flags FeatureFlags, _ Signers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits = append(f.inits, flags.Clone())
	f.envs = append(f.envs, env)
	return f.err
}

func (f *fakeLifecycle) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
}

func (f *fakeLifecycle) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeLifecycle) counts() (inits, cleanups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inits), f.cleanups
}

type fakeResumer struct {
	calls atomic.Int32
	err   error
}

func (r *fakeResumer) ResumePending(context.Context) (int, error) {
	r.calls.Add(1)
	return 0, r.err
}

func noSigners(context.Context) (Signers, error) { return Signers{}, nil }
