package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/logging"
	"github.com/ggonzalez94/xfer-core/internal/metrics"
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDisabled:
		return "disabled"
	}
	return "unknown"
}

// Configuration is the externally driven input of the controller. Only the
// master switch, the per-service flags and DeveloperMode are watched; other
// entries in Flags never cause a reinitialization.
type Configuration struct {
	Flags         FeatureFlags
	DeveloperMode bool
}

func (c Configuration) Enabled() bool { return c.Flags[FlagEnabled] }

func (c Configuration) Environment() engine.Environment {
	return engine.EnvironmentFor(c.DeveloperMode)
}

// Differs reports whether any watched field differs between c and o.
func (c Configuration) Differs(o Configuration) bool {
	if c.DeveloperMode != o.DeveloperMode {
		return true
	}
	for _, name := range WatchedFlags() {
		if c.Flags[name] != o.Flags[name] {
			return true
		}
	}
	return false
}

func (c Configuration) clone() Configuration {
	return Configuration{Flags: c.Flags.Clone(), DeveloperMode: c.DeveloperMode}
}

// Lifecycle is the part of Manager the controller drives.
type Lifecycle interface {
	InitWithFeatureFlags(ctx context.Context, env engine.Environment, flags FeatureFlags, signers Signers) error
	Cleanup()
}

// Resumer restarts tracking of unfinished transfers after the service
// becomes ready.
type Resumer interface {
	ResumePending(ctx context.Context) (int, error)
}

// SignersFunc supplies the signers for the active account at init time.
type SignersFunc func(ctx context.Context) (Signers, error)

// Controller runs the reinitialization state machine on top of a Lifecycle.
// Transitions are serialized: concurrent signals queue behind the one being
// processed.
type Controller struct {
	lifecycle Lifecycle
	signers   SignersFunc
	resumer   Resumer
	logger    *slog.Logger
	metrics   metrics.Recorder

	locked atomic.Bool

	mu          sync.Mutex
	state       State
	desired     *Configuration
	lastAttempt *Configuration
	listeners   []func(State)
}

type ControllerOption func(*Controller)

func WithResumer(r Resumer) ControllerOption {
	return func(c *Controller) { c.resumer = r }
}

func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

func WithControllerMetrics(r metrics.Recorder) ControllerOption {
	return func(c *Controller) { c.metrics = r }
}

func NewController(lc Lifecycle, signers SignersFunc, opts ...ControllerOption) *Controller {
	c := &Controller{lifecycle: lc, signers: signers}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger)
	c.metrics = metrics.OrNoop(c.metrics)
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn to run on every transition. fn runs while the
// controller is busy and must not call back into it.
func (c *Controller) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// HandleConfigChange applies cfg unless the app is locked. The returned
// error is the initialization failure, if any; the state is Disabled then.
func (c *Controller) HandleConfigChange(ctx context.Context, cfg Configuration) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	desired := cfg.clone()
	c.desired = &desired
	if c.locked.Load() {
		c.logger.Info("app is locked, skipping transfer service initialization")
		c.metrics.IncReinitialization(metrics.ReinitSkipped)
		return c.state, nil
	}
	return c.applyLocked(ctx, desired)
}

// HandleLock marks the app as locked. It never changes state.
func (c *Controller) HandleLock() {
	c.locked.Store(true)
}

// HandleUnlock clears the lock and applies the most recent configuration.
func (c *Controller) HandleUnlock(ctx context.Context) (State, error) {
	c.locked.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.desired == nil {
		return c.state, nil
	}
	return c.applyLocked(ctx, c.desired.clone())
}

// Teardown ends the session: the engine is cleaned up from any state.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifecycle.Cleanup()
	c.desired = nil
	c.lastAttempt = nil
	c.setStateLocked(StateUninitialized)
}

func (c *Controller) applyLocked(ctx context.Context, cfg Configuration) (State, error) {
	if c.lastAttempt != nil && !c.lastAttempt.Differs(cfg) {
		// A failed attempt is retried even when nothing changed.
		if c.state == StateReady || (c.state == StateDisabled && !cfg.Enabled()) {
			return c.state, nil
		}
	}
	if c.state == StateReady {
		c.lifecycle.Cleanup()
	}
	attempt := cfg.clone()
	c.lastAttempt = &attempt

	if !cfg.Enabled() {
		c.logger.Info("transfer service is disabled, skipping initialization")
		c.metrics.IncReinitialization(metrics.ReinitDisabled)
		c.setStateLocked(StateDisabled)
		return c.state, nil
	}

	c.setStateLocked(StateInitializing)
	signers, err := c.signers(ctx)
	if err != nil {
		err = clierr.Wrap(clierr.CodeSigner, "resolve signers", err)
		return c.failLocked(err)
	}
	if err := c.lifecycle.InitWithFeatureFlags(ctx, cfg.Environment(), cfg.Flags, signers); err != nil {
		return c.failLocked(err)
	}
	c.metrics.IncReinitialization(metrics.ReinitSuccess)
	c.setStateLocked(StateReady)

	if c.resumer != nil {
		n, err := c.resumer.ResumePending(ctx)
		if err != nil {
			c.logger.Error("failed to resume transfer tracking", logging.Error(err))
		} else if n > 0 {
			c.logger.Info("resumed transfer tracking", slog.Int("count", n))
		}
	}
	return c.state, nil
}

func (c *Controller) failLocked(err error) (State, error) {
	c.logger.Warn("transfer service disabled after initialization failure", logging.Error(err))
	c.metrics.IncReinitialization(metrics.ReinitFailed)
	c.setStateLocked(StateDisabled)
	return c.state, err
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.metrics.SetServiceState(int(s))
	c.logger.Debug("transfer service state changed", logging.State(s.String()))
	for _, fn := range c.listeners {
		fn(s)
	}
}
