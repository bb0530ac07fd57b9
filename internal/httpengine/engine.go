// Package httpengine implements the transfer engine contract over the
// transfer service's HTTP API.
package httpengine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/engine"
	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
	"github.com/ggonzalez94/xfer-core/internal/httpx"
	"github.com/ggonzalez94/xfer-core/internal/logging"
	"github.com/ggonzalez94/xfer-core/internal/signer"
)

const DefaultPollInterval = 5 * time.Second

type Config struct {
	ProdURL      string
	TestURL      string
	PollInterval time.Duration
	Timeout      time.Duration
	Retries      int
	Logger       *slog.Logger
}

// Engine builds handles bound to one environment's API.
type Engine struct {
	cfg    Config
	client *httpx.Client
	logger *slog.Logger
}

func New(cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		client: httpx.New(cfg.Timeout, cfg.Retries),
		logger: logging.OrDefault(cfg.Logger),
	}
}

func (e *Engine) baseURL(env engine.Environment) (string, error) {
	var raw string
	switch env {
	case engine.EnvironmentProd:
		raw = e.cfg.ProdURL
	case engine.EnvironmentTest:
		raw = e.cfg.TestURL
	default:
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown environment %q", env))
	}
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("no engine url configured for %s", env))
	}
	if _, err := url.Parse(raw); err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, "parse engine url", err)
	}
	return raw, nil
}

// binding is what a handle knows about one initialized service.
type binding struct {
	evm      signer.EVMSigner
	btc      signer.BTCSigner
	btcFns   signer.BitcoinFunctions
	markrAPI string
	appID    string
}

// Init checks that the API offers every requested service and returns a
// handle bound to them.
func (e *Engine) Init(ctx context.Context, env engine.Environment, initializers []engine.ServiceInitializer) (engine.Handle, error) {
	if len(initializers) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "at least one service initializer is required")
	}
	base, err := e.baseURL(env)
	if err != nil {
		return nil, err
	}

	bindings := make(map[engine.ServiceType]binding, len(initializers))
	order := make([]engine.ServiceType, 0, len(initializers))
	for _, si := range initializers {
		b, err := bindingFor(si)
		if err != nil {
			return nil, err
		}
		if _, dup := bindings[si.ServiceType()]; !dup {
			order = append(order, si.ServiceType())
		}
		bindings[si.ServiceType()] = b
	}

	var offered servicesResponse
	if err := httpx.GetJSON(ctx, e.client, base+"/v1/services", nil, &offered); err != nil {
		return nil, err
	}
	available := make(map[string]bool, len(offered.Services))
	for _, s := range offered.Services {
		available[s] = true
	}
	for _, st := range order {
		if !available[string(st)] {
			return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("service %s is not available in %s", st, env))
		}
	}

	e.logger.Debug("engine handle ready", logging.Environment(string(env)), slog.Int("services", len(order)))
	return &handle{
		engine:   e,
		base:     base,
		env:      env,
		bindings: bindings,
		order:    order,
	}, nil
}

func bindingFor(si engine.ServiceInitializer) (binding, error) {
	switch v := si.(type) {
	case engine.MarkrInitializer:
		if v.EVMSigner == nil {
			return binding{}, clierr.New(clierr.CodeSigner, "markr service requires an evm signer")
		}
		return binding{evm: v.EVMSigner, markrAPI: v.MarkrAPI, appID: v.MarkrAppID}, nil
	case engine.EVMInitializer:
		if v.EVMSigner == nil {
			return binding{}, clierr.New(clierr.CodeSigner, "evm service requires an evm signer")
		}
		return binding{evm: v.EVMSigner}, nil
	case engine.LombardInitializer:
		if v.EVMSigner == nil || v.BTCSigner == nil {
			return binding{}, clierr.New(clierr.CodeSigner, "lombard service requires evm and btc signers")
		}
		return binding{evm: v.EVMSigner, btc: v.BTCSigner, btcFns: v.BTCFunctions}, nil
	case engine.WrapUnwrapInitializer:
		return binding{evm: v.EVMSigner}, nil
	}
	return binding{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported service initializer %T", si))
}

type handle struct {
	engine   *Engine
	base     string
	env      engine.Environment
	bindings map[engine.ServiceType]binding
	order    []engine.ServiceType
}

func (h *handle) binding(st engine.ServiceType) (binding, error) {
	b, ok := h.bindings[st]
	if !ok {
		return binding{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("service %s is not initialized", st))
	}
	return b, nil
}

func (h *handle) GetSupportedChains(ctx context.Context) (engine.SupportedChains, error) {
	var resp chainsResponse
	if err := httpx.GetJSON(ctx, h.engine.client, h.base+"/v1/chains", nil, &resp); err != nil {
		return nil, err
	}
	return engine.SupportedChains(resp.Chains), nil
}

func (h *handle) EstimateGas(ctx context.Context, quote engine.Quote) (*big.Int, error) {
	if _, err := h.binding(quote.ServiceType); err != nil {
		return nil, err
	}
	var resp gasResponse
	endpoint := h.base + "/v1/quotes/" + url.PathEscape(quote.ID) + "/gas"
	if err := httpx.PostJSON(ctx, h.engine.client, endpoint, struct{}{}, nil, &resp); err != nil {
		return nil, err
	}
	gas, ok := new(big.Int).SetString(strings.TrimSpace(resp.Gas), 10)
	if !ok {
		return nil, clierr.New(clierr.CodeEngine, fmt.Sprintf("invalid response: gas %q", resp.Gas))
	}
	return gas, nil
}
