package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enabledConfig(flags ...string) Configuration {
	f := FeatureFlags{FlagEnabled: true}
	for _, name := range flags {
		f[name] = true
	}
	return Configuration{Flags: f}
}

func TestConfigurationDiffersOnlyOnWatchedFields(t *testing.T) {
	base := enabledConfig(FlagMarkr)

	other := base.clone()
	other.Flags["some-ui-flag"] = true
	assert.False(t, base.Differs(other))

	other = base.clone()
	other.Flags[FlagLombardBTCToBTCB] = true
	assert.True(t, base.Differs(other))

	other = base.clone()
	other.DeveloperMode = true
	assert.True(t, base.Differs(other))

	other = base.clone()
	other.Flags[FlagEnabled] = false
	assert.True(t, base.Differs(other))
}

func TestControllerInitializesAndResumes(t *testing.T) {
	lc := &fakeLifecycle{}
	resumer := &fakeResumer{}
	c := NewController(lc, noSigners, WithResumer(resumer))

	var transitions []State
	c.OnStateChange(func(s State) { transitions = append(transitions, s) })

	state, err := c.HandleConfigChange(context.Background(), enabledConfig(FlagMarkr))
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)
	assert.Equal(t, []State{StateInitializing, StateReady}, transitions)
	assert.Equal(t, int32(1), resumer.calls.Load())
	assert.Equal(t, engine.EnvironmentProd, lc.envs[0])
}

func TestControllerIgnoresUnwatchedChanges(t *testing.T) {
	lc := &fakeLifecycle{}
	c := NewController(lc, noSigners)
	ctx := context.Background()

	cfg := enabledConfig(FlagMarkr)
	_, err := c.HandleConfigChange(ctx, cfg)
	require.NoError(t, err)

	cfg = cfg.clone()
	cfg.Flags["unrelated"] = true
	state, err := c.HandleConfigChange(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)

	inits, cleanups := lc.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 0, cleanups)
}

func TestControllerFlagFlipReinitializesOnce(t *testing.T) {
	lc := &fakeLifecycle{}
	c := NewController(lc, noSigners)
	ctx := context.Background()

	_, err := c.HandleConfigChange(ctx, enabledConfig(FlagMarkr))
	require.NoError(t, err)
	_, err = c.HandleConfigChange(ctx, enabledConfig(FlagMarkr, FlagAvalancheEVM))
	require.NoError(t, err)

	inits, cleanups := lc.counts()
	assert.Equal(t, 2, inits)
	assert.Equal(t, 1, cleanups)
	assert.True(t, lc.inits[1][FlagAvalancheEVM])
	assert.Equal(t, StateReady, c.State())
}

func TestControllerDisabledByMasterFlag(t *testing.T) {
	lc := &fakeLifecycle{}
	c := NewController(lc, noSigners)
	ctx := context.Background()

	_, err := c.HandleConfigChange(ctx, enabledConfig())
	require.NoError(t, err)

	state, err := c.HandleConfigChange(ctx, Configuration{Flags: FeatureFlags{FlagEnabled: false}})
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, state)

	inits, cleanups := lc.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, cleanups)
}

func TestControllerInitFailureDisables(t *testing.T) {
	lc := &fakeLifecycle{err: errors.New("engine down")}
	resumer := &fakeResumer{}
	c := NewController(lc, noSigners, WithResumer(resumer))

	state, err := c.HandleConfigChange(context.Background(), enabledConfig())
	require.Error(t, err)
	assert.Equal(t, StateDisabled, state)
	assert.Equal(t, int32(0), resumer.calls.Load())
}

func TestControllerRetriesUnchangedConfigAfterFailure(t *testing.T) {
	lc := &fakeLifecycle{err: errors.New("engine down")}
	c := NewController(lc, noSigners)
	ctx := context.Background()

	_, err := c.HandleConfigChange(ctx, enabledConfig(FlagMarkr))
	require.Error(t, err)

	lc.setErr(nil)
	state, err := c.HandleConfigChange(ctx, enabledConfig(FlagMarkr))
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)
	inits, _ := lc.counts()
	assert.Equal(t, 2, inits)
}

func TestControllerUnlockRetriesAfterFailure(t *testing.T) {
	lc := &fakeLifecycle{err: errors.New("engine down")}
	c := NewController(lc, noSigners)
	ctx := context.Background()

	_, err := c.HandleConfigChange(ctx, enabledConfig())
	require.Error(t, err)
	c.HandleLock()
	lc.setErr(nil)

	state, err := c.HandleUnlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)
	inits, _ := lc.counts()
	assert.Equal(t, 2, inits)
}

func TestControllerRepeatedDisableIsNoop(t *testing.T) {
	lc := &fakeLifecycle{}
	c := NewController(lc, noSigners)
	ctx := context.Background()
	off := Configuration{Flags: FeatureFlags{FlagEnabled: false}}

	var transitions []State
	c.OnStateChange(func(s State) { transitions = append(transitions, s) })

	_, err := c.HandleConfigChange(ctx, off)
	require.NoError(t, err)
	state, err := c.HandleConfigChange(ctx, off)
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, state)
	assert.Equal(t, []State{StateDisabled}, transitions)
	inits, cleanups := lc.counts()
	assert.Equal(t, 0, inits)
	assert.Equal(t, 0, cleanups)
}

func TestControllerSignerFailureDisables(t *testing.T) {
	lc := &fakeLifecycle{}
	c := NewController(lc, func(context.Context) (Signers, error) { return Signers{}, errors.New("no account") })

	state, err := c.HandleConfigChange(context.Background(), enabledConfig())
	require.Error(t, err)
	assert.Equal(t, StateDisabled, state)
	inits, _ := lc.counts()
	assert.Equal(t, 0, inits)
}

func TestControllerLockGuard(t *testing.T) {
	lc := &fakeLifecycle{}
	c := NewController(lc, noSigners)
	ctx := context.Background()

	c.HandleLock()
	state, err := c.HandleConfigChange(ctx, enabledConfig(FlagMarkr))
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, state)
	inits, _ := lc.counts()
	assert.Equal(t, 0, inits)

	state, err = c.HandleUnlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)
	inits, _ = lc.counts()
	assert.Equal(t, 1, inits)
}

func TestControllerUnlockWithoutChangeIsNoop(t *testing.T) {
	lc := &fakeLifecycle{}
	c := NewController(lc, noSigners)
	ctx := context.Background()

	_, err := c.HandleConfigChange(ctx, enabledConfig())
	require.NoError(t, err)
	c.HandleLock()
	_, err = c.HandleUnlock(ctx)
	require.NoError(t, err)

	inits, cleanups := lc.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 0, cleanups)
}

func TestControllerTeardown(t *testing.T) {
	lc := &fakeLifecycle{}
	c := NewController(lc, noSigners)
	ctx := context.Background()

	_, err := c.HandleConfigChange(ctx, enabledConfig())
	require.NoError(t, err)
	c.Teardown()
	assert.Equal(t, StateUninitialized, c.State())
	_, cleanups := lc.counts()
	assert.Equal(t, 1, cleanups)

	// The same configuration initializes again after a new session starts.
	state, err := c.HandleConfigChange(ctx, enabledConfig())
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)
	inits, _ := lc.counts()
	assert.Equal(t, 2, inits)
}

func TestControllerWithManagerCancelsTrackingOnReinit(t *testing.T) {
	eng := &fakeEngine{}
	m := NewManager(eng)
	c := NewController(m, noSigners)
	ctx := context.Background()

	_, err := c.HandleConfigChange(ctx, enabledConfig())
	require.NoError(t, err)
	require.NoError(t, m.TrackTransfer(engine.Transfer{ID: "T1"}, func(engine.Transfer) {}))
	ft := eng.handles[0].tracker(0)

	dev := enabledConfig()
	dev.DeveloperMode = true
	_, err = c.HandleConfigChange(ctx, dev)
	require.NoError(t, err)

	assert.Equal(t, int32(1), ft.cancels.Load())
	assert.Equal(t, 2, eng.initCount())
	assert.Equal(t, engine.EnvironmentTest, eng.lastCall().env)
	assert.Len(t, eng.lastCall().initializers, 1)
}

func TestControllerSerializesConcurrentSignals(t *testing.T) {
	eng := &slowEngine{delay: 5 * time.Millisecond}
	m := NewManager(eng)
	c := NewController(m, noSigners)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				cfg := enabledConfig()
				cfg.DeveloperMode = (i+j)%2 == 0
				state, err := c.HandleConfigChange(ctx, cfg)
				if err == nil && state == StateReady {
					_ = m.TrackTransfer(engine.Transfer{ID: "T"}, func(engine.Transfer) {})
				}
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 3; j++ {
			time.Sleep(7 * time.Millisecond)
			c.Teardown()
		}
	}()
	wg.Wait()

	state, err := c.HandleConfigChange(ctx, enabledConfig())
	require.NoError(t, err)
	require.Equal(t, StateReady, state)

	assert.False(t, eng.overlap.Load(), "engine Init calls overlapped")
	handles := eng.allHandles()
	require.NotEmpty(t, handles)
	for _, h := range handles[:len(handles)-1] {
		live, total := h.liveTrackers()
		assert.Zero(t, live, "replaced handle still has %d of %d trackers live", live, total)
	}
	live, _ := handles[len(handles)-1].liveTrackers()
	assert.Equal(t, m.TrackedCount(), live)
	assert.True(t, m.IsInitialized())
}
