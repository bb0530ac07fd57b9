// Package service owns the transfer engine instance and decides when it is
// built, rebuilt and torn down.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/logging"
	"github.com/ggonzalez94/xfer-core/internal/metrics"
)

// ErrNotInitialized is returned by every engine-backed operation while no
// engine handle is active.
var ErrNotInitialized = clierr.New(clierr.CodeNotInitialized, "transfer service is not initialized")

// Manager holds at most one initialized engine handle. The handle is either
// absent or fully built; callers never observe a partial initialization.
type Manager struct {
	engine  engine.Engine
	logger  *slog.Logger
	metrics metrics.Recorder
	markr   MarkrSettings

	onTrackingFailure func(engine.Transfer, error)

	initMu  sync.Mutex
	mu      sync.Mutex
	handle  engine.Handle
	env     engine.Environment
	tracked map[uint64]*trackedTransfer
	nextID  uint64
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

func WithMarkr(s MarkrSettings) Option {
	return func(m *Manager) { m.markr = s }
}

// WithTrackingFailureHook is called when a tracked transfer's result is an
// error. Without a hook such failures are only logged.
func WithTrackingFailureHook(fn func(engine.Transfer, error)) Option {
	return func(m *Manager) { m.onTrackingFailure = fn }
}

func NewManager(e engine.Engine, opts ...Option) *Manager {
	m := &Manager{engine: e, tracked: map[uint64]*trackedTransfer{}}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrDefault(m.logger)
	m.metrics = metrics.OrNoop(m.metrics)
	return m
}

// Init builds a new engine handle for the given services. An existing handle
// is cleaned up only once the new one is ready.
func (m *Manager) Init(ctx context.Context, env engine.Environment, services []engine.ServiceType, signers Signers) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	initializers := BuildInitializers(services, signers, m.markr)
	names := make([]string, 0, len(initializers))
	for _, si := range initializers {
		names = append(names, string(si.ServiceType()))
	}
	m.logger.Info("initializing transfer service",
		logging.Environment(string(env)),
		slog.Any("services", names))

	handle, err := m.engine.Init(ctx, env, initializers)
	if err == nil && handle == nil {
		err = errors.New("transfer engine returned no handle")
	}
	if err != nil {
		// A failed init leaves no handle behind, not even the previous one.
		m.swap(nil, "")
		m.logger.Error("failed to initialize transfer service", logging.Environment(string(env)), logging.Error(err))
		return clierr.Wrap(clierr.CodeEngine, "initialize transfer service", err)
	}

	m.swap(handle, env)
	m.logger.Info("transfer service initialized", logging.Environment(string(env)))
	return nil
}

// swap installs handle and cancels every transfer tracked on the old one.
// It returns how many trackers were cancelled.
func (m *Manager) swap(handle engine.Handle, env engine.Environment) int {
	m.mu.Lock()
	stale := make([]*trackedTransfer, 0, len(m.tracked))
	for id, tt := range m.tracked {
		stale = append(stale, tt)
		delete(m.tracked, id)
	}
	m.handle = handle
	m.env = env
	m.mu.Unlock()

	for _, tt := range stale {
		tt.cancel()
	}
	m.metrics.SetTrackedTransfers(0)
	return len(stale)
}

// InitWithFeatureFlags resolves the enabled services from flags, then Init.
func (m *Manager) InitWithFeatureFlags(ctx context.Context, env engine.Environment, flags FeatureFlags, signers Signers) error {
	return m.Init(ctx, env, EnabledServices(flags), signers)
}

func (m *Manager) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

func (m *Manager) Environment() engine.Environment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.env
}

func (m *Manager) current() (engine.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil, ErrNotInitialized
	}
	return m.handle, nil
}

func (m *Manager) GetSupportedChains(ctx context.Context) (engine.SupportedChains, error) {
	h, err := m.current()
	if err != nil {
		return nil, err
	}
	chains, err := h.GetSupportedChains(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeEngine, "get supported chains", err)
	}
	return chains, nil
}

// GetQuoter returns the engine's quote stream for req. Construction errors
// are returned unchanged in the chain.
func (m *Manager) GetQuoter(req engine.QuoteRequest) (engine.Quoter, error) {
	h, err := m.current()
	if err != nil {
		return nil, err
	}
	q, err := h.GetQuoter(req)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeEngine, "create quoter", err)
	}
	return q, nil
}

func (m *Manager) TransferAsset(ctx context.Context, quote engine.Quote) (engine.Transfer, error) {
	h, err := m.current()
	if err != nil {
		return engine.Transfer{}, err
	}
	m.logger.Info("transferring asset",
		logging.QuoteID(quote.ID),
		logging.ServiceType(string(quote.ServiceType)),
		logging.ChainID(quote.FromChainID))
	transfer, err := h.TransferAsset(ctx, quote)
	if err != nil {
		m.logger.Error("transfer failed", logging.QuoteID(quote.ID), logging.Error(err))
		return engine.Transfer{}, clierr.Wrap(clierr.CodeEngine, "transfer asset", err)
	}
	m.logger.Info("transfer submitted",
		logging.TransferID(transfer.ID),
		logging.TransferStatus(string(transfer.Status)))
	return transfer, nil
}

func (m *Manager) EstimateGas(ctx context.Context, quote engine.Quote) (*big.Int, error) {
	h, err := m.current()
	if err != nil {
		return nil, err
	}
	gas, err := h.EstimateGas(ctx, quote)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeEngine, "estimate gas", err)
	}
	return gas, nil
}

type trackedTransfer struct {
	handle engine.TrackingHandle
	once   sync.Once
	done   chan struct{}

	// mu is read-held while a callback runs and write-held while
	// cancelling, so no callback starts or is still running once cancel
	// returns.
	mu        sync.RWMutex
	cancelled bool
}

// deliver runs fn unless the transfer was cancelled.
func (t *trackedTransfer) deliver(fn func()) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cancelled {
		return
	}
	fn()
}

func (t *trackedTransfer) cancel() {
	t.once.Do(func() {
		t.mu.Lock()
		t.cancelled = true
		t.mu.Unlock()
		close(t.done)
		t.handle.Cancel()
	})
}

// TrackTransfer follows transfer until it settles. onUpdate receives every
// intermediate status and, on success, the final transfer once more. A
// failed result is logged and never reaches onUpdate. After Cleanup no
// further calls to onUpdate are made.
func (m *Manager) TrackTransfer(transfer engine.Transfer, onUpdate func(engine.Transfer)) error {
	h, err := m.current()
	if err != nil {
		return err
	}
	tt := &trackedTransfer{done: make(chan struct{})}
	guarded := func(t engine.Transfer) {
		tt.deliver(func() { onUpdate(t) })
	}
	th, err := h.TrackTransfer(transfer, guarded)
	if err != nil {
		return clierr.Wrap(clierr.CodeTracking, "track transfer", err)
	}
	tt.handle = th

	m.mu.Lock()
	if m.handle != h {
		// Cleaned up or replaced while the engine was setting up tracking.
		m.mu.Unlock()
		tt.cancel()
		return ErrNotInitialized
	}
	m.nextID++
	id := m.nextID
	m.tracked[id] = tt
	count := len(m.tracked)
	m.mu.Unlock()
	m.metrics.SetTrackedTransfers(count)

	go m.await(id, tt, transfer, guarded)
	return nil
}

func (m *Manager) await(id uint64, tt *trackedTransfer, transfer engine.Transfer, onUpdate func(engine.Transfer)) {
	var res engine.TrackResult
	var ok bool
	select {
	case res, ok = <-tt.handle.Result():
	case <-tt.done:
		return
	}

	m.mu.Lock()
	delete(m.tracked, id)
	count := len(m.tracked)
	m.mu.Unlock()
	m.metrics.SetTrackedTransfers(count)

	if !ok {
		res.Err = clierr.New(clierr.CodeTracking, "tracking ended without a result")
	}
	if res.Err != nil {
		tt.deliver(func() {
			m.logger.Error("transfer tracking failed", logging.TransferID(transfer.ID), logging.Error(res.Err))
			if m.onTrackingFailure != nil {
				m.onTrackingFailure(transfer, res.Err)
			}
		})
		return
	}
	onUpdate(res.Transfer)
}

// Cleanup cancels every outstanding tracking handle before returning and
// drops the engine handle.
func (m *Manager) Cleanup() {
	n := m.swap(nil, "")
	m.logger.Info("transfer service cleaned up", slog.Int("cancelled_trackers", n))
}

// TrackedCount reports how many transfers are currently being tracked.
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}
