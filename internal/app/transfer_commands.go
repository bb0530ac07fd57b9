package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/model"
	"github.com/ggonzalez94/xfer-core/internal/quote"
	"github.com/ggonzalez94/xfer-core/internal/tracking"
	"github.com/spf13/cobra"
)

const settlePollInterval = 250 * time.Millisecond

func (s *runtimeState) newTransferCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "transfer",
		Short: "Execute cross-chain transfers",
	}

	var args selectionArgs
	var quoteID string
	var wait bool
	var quoteWait time.Duration
	var waitTimeout time.Duration
	run := &cobra.Command{
		Use:   "run",
		Short: "Quote, sign and submit a transfer, then track it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			quoteCtx, quoteCancel := context.WithTimeout(ctx, quoteWait)
			defer quoteCancel()
			if err := s.ensureReady(quoteCtx, true); err != nil {
				return err
			}
			resolved, err := s.resolveSelection(args)
			if err != nil {
				return err
			}
			sub, st, err := s.awaitQuotes(quoteCtx, resolved.selection)
			if err != nil {
				return err
			}
			if id := strings.TrimSpace(quoteID); id != "" {
				st = sub.SelectQuote(id)
			}
			active := st.ActiveQuote()
			sub.Close()
			if active == nil {
				return clierr.New(clierr.CodeUnsupported, "no quote available for this transfer")
			}
			if id := strings.TrimSpace(quoteID); id != "" && active.ID != id {
				return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("quote %s is no longer offered", id))
			}

			execCtx, execCancel := s.commandContext()
			defer execCancel()
			transfer, err := s.manager.TransferAsset(execCtx, *active)
			if err != nil {
				return err
			}

			rec := tracking.Record{
				Transfer:  transfer,
				FromToken: tokenMeta(resolved.fromQuote),
				ToToken:   tokenMeta(resolved.toQuote),
				Timestamp: s.runner.now().UnixMilli(),
			}
			done, err := s.tracker.Start(ctx, rec)
			if err != nil {
				return err
			}
			if !wait {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), summarizeTransfer(rec), []string{
					"transfer is persisted as pending, run `xfer serve` to keep tracking it",
				})
			}

			waitCtx, waitCancel := context.WithTimeout(ctx, waitTimeout)
			defer waitCancel()
			settled, err := s.awaitSettled(waitCtx, done, transfer.ID)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), summarizeTransfer(settled), nil)
		},
	}
	args.bind(run)
	run.Flags().StringVar(&quoteID, "quote-id", "", "Use this quote instead of the best one")
	run.Flags().BoolVar(&wait, "wait", false, "Wait for the transfer to settle")
	run.Flags().DurationVar(&quoteWait, "quote-wait", 30*time.Second, "How long to wait for quotes")
	run.Flags().DurationVar(&waitTimeout, "wait-timeout", 30*time.Minute, "How long --wait waits for settlement")

	root.AddCommand(run)
	return root
}

// awaitSettled blocks until the stored transfer reaches a terminal status.
// Tracking that stops without a terminal status is reported as an error.
func (s *runtimeState) awaitSettled(ctx context.Context, started <-chan error, transferID string) (tracking.Record, error) {
	select {
	case err := <-started:
		if err != nil {
			return tracking.Record{}, clierr.Wrap(clierr.CodeTracking, "start tracking", err)
		}
	case <-ctx.Done():
		return tracking.Record{}, clierr.Wrap(clierr.CodeTracking, "wait for transfer", ctx.Err())
	}

	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()
	idle := 0
	for {
		rec, ok, err := s.tracker.Get(ctx, transferID)
		if err != nil {
			return tracking.Record{}, clierr.Wrap(clierr.CodeTracking, "read transfer", err)
		}
		if !ok {
			return tracking.Record{}, clierr.New(clierr.CodeTracking, "transfer was removed while waiting")
		}
		if rec.Transfer.Status.IsTerminal() {
			return rec, nil
		}
		// The last update lands right after the tracker is released, so
		// give it one more tick before giving up.
		if s.manager.TrackedCount() == 0 {
			idle++
			if idle > 1 {
				return rec, clierr.New(clierr.CodeTracking, "tracking stopped before the transfer settled")
			}
		} else {
			idle = 0
		}
		select {
		case <-ctx.Done():
			return rec, clierr.Wrap(clierr.CodeTracking, "wait for transfer", ctx.Err())
		case <-ticker.C:
		}
	}
}

func tokenMeta(t quote.Token) tracking.TokenMeta {
	return tracking.TokenMeta{
		LocalID:    quote.LocalTokenID(t),
		InternalID: t.InternalID,
		LogoURI:    t.LogoURI,
	}
}

func summarizeTransfer(rec tracking.Record) model.TransferSummary {
	t := rec.Transfer
	return model.TransferSummary{
		TransferID:   t.ID,
		Status:       string(t.Status),
		QuoteID:      t.Quote.ID,
		ServiceType:  string(t.Quote.ServiceType),
		FromChainID:  t.Quote.FromChainID,
		ToChainID:    t.Quote.ToChainID,
		FromToken:    rec.FromToken.LocalID,
		ToToken:      rec.ToToken.LocalID,
		SourceTxHash: t.SourceTxHash,
		TargetTxHash: t.TargetTxHash,
		ErrorReason:  t.ErrorReason,
		CreatedAt:    time.UnixMilli(rec.Timestamp).UTC(),
	}
}

func summarizeTransfers(recs []tracking.Record) []model.TransferSummary {
	out := make([]model.TransferSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarizeTransfer(rec))
	}
	return out
}

func (s *runtimeState) newTransfersCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "transfers",
		Short: "Inspect and maintain tracked transfers",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored transfers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.runStoreQuery(cmd, (*tracking.Tracker).List)
		},
	}
	pending := &cobra.Command{
		Use:   "pending",
		Short: "List transfers that have not settled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.runStoreQuery(cmd, (*tracking.Tracker).Pending)
		},
	}
	show := &cobra.Command{
		Use:   "show <transfer-id>",
		Short: "Show one stored transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.ensureTracker(); err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()
			rec, ok, err := s.tracker.Get(ctx, args[0])
			if err != nil {
				return clierr.Wrap(clierr.CodeTracking, "read transfer", err)
			}
			if !ok {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("transfer %s not found", args[0]))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), summarizeTransfer(rec), nil)
		},
	}
	remove := &cobra.Command{
		Use:   "remove <transfer-id>",
		Short: "Delete one stored transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.ensureTracker(); err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()
			removed, err := s.tracker.Remove(ctx, args[0])
			if err != nil {
				return clierr.Wrap(clierr.CodeTracking, "remove transfer", err)
			}
			var warnings []string
			if !removed {
				warnings = append(warnings, fmt.Sprintf("transfer %s was not stored", args[0]))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.RemoveResult{TransferID: args[0], Removed: removed}, warnings)
		},
	}
	clearCompleted := &cobra.Command{
		Use:   "clear-completed",
		Short: "Delete completed and failed transfers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.runStoreClear(cmd, (*tracking.Tracker).ClearCompleted)
		},
	}
	clearAll := &cobra.Command{
		Use:   "clear-all",
		Short: "Delete every stored transfer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.runStoreClear(cmd, (*tracking.Tracker).ClearAll)
		},
	}

	root.AddCommand(list, pending, show, remove, clearCompleted, clearAll)
	return root
}

func (s *runtimeState) runStoreQuery(cmd *cobra.Command, query func(*tracking.Tracker, context.Context) ([]tracking.Record, error)) error {
	if err := s.ensureTracker(); err != nil {
		return err
	}
	ctx, cancel := s.commandContext()
	defer cancel()
	recs, err := query(s.tracker, ctx)
	if err != nil {
		return clierr.Wrap(clierr.CodeTracking, "read transfers", err)
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), summarizeTransfers(recs), nil)
}

func (s *runtimeState) runStoreClear(cmd *cobra.Command, clearFn func(*tracking.Tracker, context.Context) (int, error)) error {
	if err := s.ensureTracker(); err != nil {
		return err
	}
	ctx, cancel := s.commandContext()
	defer cancel()
	n, err := clearFn(s.tracker, ctx)
	if err != nil {
		return clierr.Wrap(clierr.CodeTracking, "clear transfers", err)
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.ClearResult{Namespace: s.store.Namespace(), Removed: n}, nil)
}
