package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/logging"
	"github.com/ggonzalez94/xfer-core/internal/metrics"
)

// DefaultInitialDelay is how long Start waits before the first tracking
// call, so the engine can see a just-submitted transfer.
const DefaultInitialDelay = 2 * time.Second

// Service is the tracking primitive of the transfer service.
type Service interface {
	TrackTransfer(transfer engine.Transfer, onUpdate func(engine.Transfer)) error
}

// Tracker keeps persisted transfers in step with the engine.
type Tracker struct {
	store        *Store
	service      Service
	logger       *slog.Logger
	metrics      metrics.Recorder
	initialDelay time.Duration
	markFailed   bool
}

type Option func(*Tracker)

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(t *Tracker) { t.metrics = r }
}

// WithInitialDelay overrides DefaultInitialDelay. Zero tracks immediately.
func WithInitialDelay(d time.Duration) Option {
	return func(t *Tracker) { t.initialDelay = d }
}

// WithMarkFailed makes HandleTrackingFailure persist a failed status.
func WithMarkFailed(enabled bool) Option {
	return func(t *Tracker) { t.markFailed = enabled }
}

func NewTracker(store *Store, svc Service, opts ...Option) *Tracker {
	t := &Tracker{store: store, service: svc, initialDelay: DefaultInitialDelay}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.OrDefault(t.logger)
	t.metrics = metrics.OrNoop(t.metrics)
	return t
}

// Update writes an engine status push into the store. Errors are logged,
// never returned, since it runs as a tracking callback.
func (t *Tracker) Update(transfer engine.Transfer) {
	ok, err := t.store.Update(context.Background(), transfer)
	if err != nil {
		t.logger.Error("failed to update transfer", logging.TransferID(transfer.ID), logging.Error(err))
		return
	}
	if !ok {
		t.logger.Debug("ignoring update for unknown transfer", logging.TransferID(transfer.ID))
		return
	}
	t.metrics.IncTransferUpdate(string(transfer.Status))
	t.logger.Debug("transfer updated",
		logging.TransferID(transfer.ID),
		logging.TransferStatus(string(transfer.Status)))
}

// ResumePending starts tracking every unfinished transfer. A failure for one
// transfer is logged and the rest are still resumed.
func (t *Tracker) ResumePending(ctx context.Context) (int, error) {
	pending, err := t.store.Pending(ctx)
	if err != nil {
		t.logger.Error("failed to resume transfer tracking", logging.Error(err))
		return 0, clierr.Wrap(clierr.CodeTracking, "load pending transfers", err)
	}
	resumed := 0
	for _, rec := range pending {
		if err := t.service.TrackTransfer(rec.Transfer, t.Update); err != nil {
			t.logger.Error("failed to resume transfer tracking",
				logging.TransferID(rec.Transfer.ID),
				logging.Error(err))
			continue
		}
		resumed++
	}
	return resumed, nil
}

// Start persists a new transfer and begins tracking it after the initial
// delay. The returned channel receives the result of the tracking call and
// is then closed; cancelling ctx during the delay abandons tracking.
func (t *Tracker) Start(ctx context.Context, rec Record) (<-chan error, error) {
	if err := t.store.Add(ctx, rec); err != nil {
		return nil, clierr.Wrap(clierr.CodeTracking, "persist transfer", err)
	}
	t.logger.Info("tracking new transfer",
		logging.TransferID(rec.Transfer.ID),
		slog.Duration("delay", t.initialDelay))

	done := make(chan error, 1)
	go func() {
		defer close(done)
		if t.initialDelay > 0 {
			timer := time.NewTimer(t.initialDelay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				done <- ctx.Err()
				return
			case <-timer.C:
			}
		}
		err := t.service.TrackTransfer(rec.Transfer, t.Update)
		if err != nil {
			t.logger.Error("failed to start transfer tracking", logging.TransferID(rec.Transfer.ID), logging.Error(err))
		}
		done <- err
	}()
	return done, nil
}

// MarkFailed records a terminal failed status with reason on transfer id.
func (t *Tracker) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	rec, ok, err := t.store.Get(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	transfer := rec.Transfer
	transfer.Status = engine.StatusFailed
	transfer.ErrorReason = reason
	transfer.UpdatedAt = time.Now().UTC()
	return t.store.Update(ctx, transfer)
}

// HandleTrackingFailure is the failure hook for the transfer service. It
// only changes the store when mark-failed is enabled.
func (t *Tracker) HandleTrackingFailure(transfer engine.Transfer, cause error) {
	if !t.markFailed {
		return
	}
	if _, err := t.MarkFailed(context.Background(), transfer.ID, clierr.UserMessage(cause)); err != nil {
		t.logger.Error("failed to mark transfer failed", logging.TransferID(transfer.ID), logging.Error(err))
		return
	}
	t.metrics.IncTransferUpdate(string(engine.StatusFailed))
}

func (t *Tracker) Get(ctx context.Context, id string) (Record, bool, error) {
	return t.store.Get(ctx, id)
}

func (t *Tracker) List(ctx context.Context) ([]Record, error) {
	return t.store.List(ctx)
}

func (t *Tracker) Pending(ctx context.Context) ([]Record, error) {
	return t.store.Pending(ctx)
}

func (t *Tracker) Remove(ctx context.Context, id string) (bool, error) {
	return t.store.Remove(ctx, id)
}

func (t *Tracker) ClearCompleted(ctx context.Context) (int, error) {
	return t.store.ClearCompleted(ctx)
}

func (t *Tracker) ClearAll(ctx context.Context) (int, error) {
	return t.store.ClearAll(ctx)
}
