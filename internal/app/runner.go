package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/config"
	"github.com/ggonzalez94/xfer-core/internal/engine"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/httpengine"
	"github.com/ggonzalez94/xfer-core/internal/logging"
	"github.com/ggonzalez94/xfer-core/internal/metrics"
	"github.com/ggonzalez94/xfer-core/internal/model"
	"github.com/ggonzalez94/xfer-core/internal/out"
	"github.com/ggonzalez94/xfer-core/internal/service"
	"github.com/ggonzalez94/xfer-core/internal/tracking"
	"github.com/ggonzalez94/xfer-core/internal/version"
	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	newEngine  func(settings config.Settings, logger *slog.Logger) engine.Engine
	newSigners func(settings config.Settings) (walletSigners, error)
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout:     stdout,
		stderr:     stderr,
		now:        time.Now,
		newEngine:  newHTTPEngine,
		newSigners: loadWalletSigners,
	}
}

func newHTTPEngine(settings config.Settings, logger *slog.Logger) engine.Engine {
	return httpengine.New(httpengine.Config{
		ProdURL:      settings.EngineProdURL,
		TestURL:      settings.EngineTestURL,
		PollInterval: settings.EnginePollInterval,
		Timeout:      settings.Timeout,
		Retries:      settings.Retries,
		Logger:       logger,
	})
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	root        *cobra.Command
	logger      *slog.Logger
	registry    *prom.Registry
	recorder    metrics.Recorder
	lastCommand string
	started     time.Time

	store      *tracking.Store
	manager    *service.Manager
	tracker    *tracking.Tracker
	controller *service.Controller
	wallet     *walletSigners
	resumed    atomic.Int64
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.close()
	if err == nil {
		return 0
	}

	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain asset transfer orchestration CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())
			s.started = s.runner.now()

			logger, err := logging.New(s.runner.stderr, settings.LogLevel, settings.LogFormat)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.logger = logger
			if s.registry == nil {
				s.registry = prom.NewRegistry()
				s.recorder = metrics.NewPrometheusRecorder(s.registry)
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})
	config.BindFlags(cmd.PersistentFlags(), &s.flags)

	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newTransferCommand())
	cmd.AddCommand(s.newTransfersCommand())
	cmd.AddCommand(s.newServeCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

// ensureStack opens the transfer store and wires the manager, tracker and
// lifecycle controller. resume attaches pending-transfer recovery to every
// successful initialization.
func (s *runtimeState) ensureStack(resume bool) error {
	if s.controller != nil {
		return nil
	}
	store, err := tracking.OpenStore(s.settings.StorePath, s.settings.StoreLockPath, tracking.DefaultNamespace, tracking.WithStoreLogger(s.logger))
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open transfer store", err)
	}
	s.store = store

	var tracker *tracking.Tracker
	manager := service.NewManager(s.runner.newEngine(s.settings, s.logger),
		service.WithLogger(s.logger),
		service.WithMetrics(s.recorder),
		service.WithMarkr(s.settings.Markr()),
		service.WithTrackingFailureHook(func(t engine.Transfer, err error) {
			tracker.HandleTrackingFailure(t, err)
		}),
	)
	tracker = tracking.NewTracker(store, manager,
		tracking.WithLogger(s.logger),
		tracking.WithMetrics(s.recorder),
		tracking.WithInitialDelay(s.settings.TrackingInitialDelay),
		tracking.WithMarkFailed(s.settings.TrackingMarkFailed),
	)
	opts := []service.ControllerOption{
		service.WithControllerLogger(s.logger),
		service.WithControllerMetrics(s.recorder),
	}
	if resume {
		opts = append(opts, service.WithResumer(countingResumer{tracker: tracker, total: &s.resumed}))
	}
	s.manager = manager
	s.tracker = tracker
	s.controller = service.NewController(manager, s.signersFunc(), opts...)
	return nil
}

func (s *runtimeState) signersFunc() service.SignersFunc {
	return func(context.Context) (service.Signers, error) {
		w, err := s.walletSigners()
		if err != nil {
			return service.Signers{}, err
		}
		return w.Signers, nil
	}
}

func (s *runtimeState) walletSigners() (walletSigners, error) {
	if s.wallet != nil {
		return *s.wallet, nil
	}
	w, err := s.runner.newSigners(s.settings)
	if err != nil {
		return walletSigners{}, err
	}
	s.wallet = &w
	return w, nil
}

// ensureReady brings the transfer service up for the configured
// environment and fails when the configuration leaves it disabled.
func (s *runtimeState) ensureReady(ctx context.Context, resume bool) error {
	if err := s.ensureStack(resume); err != nil {
		return err
	}
	state, err := s.controller.HandleConfigChange(ctx, s.settings.ServiceConfiguration())
	if err != nil {
		return err
	}
	if state != service.StateReady {
		return clierr.New(clierr.CodeBlocked, "transfer service is disabled, set features.enabled in the config")
	}
	return nil
}

// ensureTracker opens the store for maintenance commands without
// initializing the engine.
func (s *runtimeState) ensureTracker() error {
	return s.ensureStack(false)
}

func (s *runtimeState) close() {
	if s.controller != nil {
		s.controller.Teardown()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

func (s *runtimeState) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.settings.Timeout)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta:     s.meta(commandPath),
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) meta(commandPath string) model.EnvelopeMeta {
	now := s.runner.now()
	meta := model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: now.UTC(),
		Command:   commandPath,
	}
	if !s.started.IsZero() {
		meta.LatencyMS = now.Sub(s.started).Milliseconds()
	}
	if s.manager != nil {
		meta.Environment = string(s.manager.Environment())
	}
	return meta
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = errorType(cErr.Code)
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: s.meta(commandPath),
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func errorType(code clierr.Code) string {
	switch code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeAuth:
		return "auth_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeUnavailable:
		return "engine_unavailable"
	case clierr.CodeUnsupported:
		return "unsupported"
	case clierr.CodeBlocked:
		return "service_disabled"
	case clierr.CodeNotInitialized:
		return "not_initialized"
	case clierr.CodeSigner:
		return "signer_error"
	case clierr.CodeEngine:
		return "engine_error"
	case clierr.CodeTracking:
		return "tracking_error"
	}
	return "internal_error"
}

func newRequestID() string {
	return uuid.NewString()
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
