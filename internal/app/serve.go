package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/config"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/logging"
	"github.com/ggonzalez94/xfer-core/internal/metrics"
	"github.com/ggonzalez94/xfer-core/internal/model"
	"github.com/ggonzalez94/xfer-core/internal/service"
	"github.com/ggonzalez94/xfer-core/internal/tracking"
	"github.com/ggonzalez94/xfer-core/internal/watch"
	"github.com/spf13/cobra"
)

// countingResumer records how many transfers each reinitialization resumed.
type countingResumer struct {
	tracker *tracking.Tracker
	total   *atomic.Int64
}

func (r countingResumer) ResumePending(ctx context.Context) (int, error) {
	n, err := r.tracker.ResumePending(ctx)
	r.total.Add(int64(n))
	return n, err
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	var duration time.Duration
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the transfer service running and tracking pending transfers",
		Long: "Keeps the transfer service running. Config file changes re-initialize it, " +
			"SIGUSR1 locks the service and SIGUSR2 unlocks it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			if err := s.ensureStack(true); err != nil {
				return err
			}
			s.controller.OnStateChange(func(st service.State) {
				s.logger.Info("transfer service state", logging.State(st.String()))
			})
			initCtx, initCancel := s.commandContext()
			_, err := s.controller.HandleConfigChange(initCtx, s.settings.ServiceConfiguration())
			initCancel()
			if err != nil {
				s.logger.Warn("transfer service did not start, waiting for a config change", logging.Error(err))
			}

			var wg sync.WaitGroup
			if !noWatch {
				if w := s.newConfigWatcher(); w != nil {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_ = w.Run(ctx)
					}()
				}
			}
			if s.settings.MetricsAddr != "" {
				srv := &http.Server{
					Addr:              s.settings.MetricsAddr,
					Handler:           metricsMux(s.registryHandler()),
					ReadHeaderTimeout: 5 * time.Second,
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						s.logger.Error("metrics server stopped", logging.Error(err))
					}
				}()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				s.logger.Info("serving metrics", slog.String("addr", s.settings.MetricsAddr))
			}

			s.handleLockSignals(ctx)
			wg.Wait()

			status := model.ServiceStatus{
				State:       s.controller.State().String(),
				Environment: string(s.manager.Environment()),
				Tracked:     s.manager.TrackedCount(),
				Resumed:     int(s.resumed.Load()),
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), status, nil)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload on config file changes")
	return cmd
}

// handleLockSignals maps SIGUSR1/SIGUSR2 to app lock and unlock until ctx
// is done.
func (s *runtimeState) handleLockSignals(ctx context.Context) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig == syscall.SIGUSR1 {
				s.controller.HandleLock()
				s.logger.Info("app locked")
				continue
			}
			unlockCtx, cancel := s.commandContext()
			st, err := s.controller.HandleUnlock(unlockCtx)
			cancel()
			if err != nil {
				s.logger.Warn("transfer service did not start after unlock", logging.Error(err))
				continue
			}
			s.logger.Info("app unlocked", logging.State(st.String()))
		}
	}
}

func (s *runtimeState) newConfigWatcher() *watch.ConfigWatcher {
	path := s.settings.ConfigPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.Warn("config watching disabled", slog.String("path", path), logging.Error(err))
		return nil
	}
	w, err := watch.NewConfigWatcher(path, s.reloadConfig, watch.WithLogger(s.logger))
	if err != nil {
		s.logger.Warn("config watching disabled", slog.String("path", path), logging.Error(err))
		return nil
	}
	return w
}

// reloadConfig re-reads settings with the original flags and hands the
// resulting configuration to the controller.
func (s *runtimeState) reloadConfig(ctx context.Context) error {
	settings, err := config.Load(s.flags)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
	}
	initCtx, cancel := context.WithTimeout(ctx, settings.Timeout)
	defer cancel()
	st, err := s.controller.HandleConfigChange(initCtx, settings.ServiceConfiguration())
	if err != nil {
		return err
	}
	s.logger.Info("configuration reloaded", logging.State(st.String()))
	return nil
}

func (s *runtimeState) registryHandler() http.Handler {
	return metrics.HTTPHandler(s.registry)
}

func metricsMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", h)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
