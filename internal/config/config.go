package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/xfer-core/internal/service"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "XFER_"

type GlobalFlags struct {
	ConfigPath    string
	JSON          bool
	Plain         bool
	Select        string
	ResultsOnly   bool
	Timeout       string
	Retries       int
	DeveloperMode bool
	LogLevel      string
	LogFormat     string
	StorePath     string
}

// BindFlags registers the persistent flags shared by every command.
func BindFlags(fs *pflag.FlagSet, flags *GlobalFlags) {
	fs.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	fs.BoolVar(&flags.JSON, "json", false, "Output JSON (default)")
	fs.BoolVar(&flags.Plain, "plain", false, "Output plain text")
	fs.StringVar(&flags.Select, "select", "", "Select fields from data (comma-separated)")
	fs.BoolVar(&flags.ResultsOnly, "results-only", false, "Output only data payload")
	fs.StringVar(&flags.Timeout, "timeout", "", "Engine request timeout")
	fs.IntVar(&flags.Retries, "retries", -1, "Retries per engine request")
	fs.BoolVar(&flags.DeveloperMode, "developer-mode", false, "Use the test environment")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&flags.LogFormat, "log-format", "", "Log format (text, json)")
	fs.StringVar(&flags.StorePath, "store", "", "Path to the transfer store")
}

type Settings struct {
	ConfigPath    string
	OutputMode    string
	SelectFields  []string
	ResultsOnly   bool
	Timeout       time.Duration
	Retries       int
	DeveloperMode bool
	Features      service.FeatureFlags

	EngineProdURL      string
	EngineTestURL      string
	EnginePollInterval time.Duration

	MarkrAPIURL string
	MarkrAppID  string

	TrackingInitialDelay time.Duration
	TrackingMarkFailed   bool

	StorePath     string
	StoreLockPath string

	LogLevel    string
	LogFormat   string
	MetricsAddr string

	SignerKeySource     string
	SignerGasMultiplier float64
	SignerRPCURLs       map[int64]string
	// SignerBTCAPIURL is the Esplora API used for bitcoin UTXOs and fee
	// rates. Empty picks mempool.space for the active network.
	SignerBTCAPIURL string
}

// ServiceConfiguration is the part of the settings the lifecycle controller
// watches for changes.
func (s Settings) ServiceConfiguration() service.Configuration {
	return service.Configuration{Flags: s.Features.Clone(), DeveloperMode: s.DeveloperMode}
}

func (s Settings) Markr() service.MarkrSettings {
	return service.MarkrSettings{APIURL: s.MarkrAPIURL, AppID: s.MarkrAppID}
}

type fileConfig struct {
	Output        string          `yaml:"output"`
	Timeout       string          `yaml:"timeout"`
	Retries       *int            `yaml:"retries"`
	DeveloperMode *bool           `yaml:"developer_mode"`
	Features      map[string]bool `yaml:"features"`
	Engine        struct {
		ProdURL      string `yaml:"prod_url"`
		TestURL      string `yaml:"test_url"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"engine"`
	Markr struct {
		APIURL   string `yaml:"api_url"`
		AppID    string `yaml:"app_id"`
		AppIDEnv string `yaml:"app_id_env"`
	} `yaml:"markr"`
	Tracking struct {
		InitialDelay string `yaml:"initial_delay"`
		MarkFailed   *bool  `yaml:"mark_failed"`
	} `yaml:"tracking"`
	Store struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"store"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Signer struct {
		KeySource     string           `yaml:"key_source"`
		GasMultiplier float64          `yaml:"gas_multiplier"`
		RPCURLs       map[int64]string `yaml:"rpc_urls"`
		BTCAPIURL     string           `yaml:"btc_api_url"`
	} `yaml:"signer"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := ResolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	settings.ConfigPath = cfgPath

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.EnginePollInterval <= 0 {
		settings.EnginePollInterval = 5 * time.Second
	}
	if settings.TrackingInitialDelay < 0 {
		settings.TrackingInitialDelay = 0
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	storePath, lockPath, err := defaultStorePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:           "json",
		Timeout:              15 * time.Second,
		Retries:              2,
		Features:             service.FeatureFlags{},
		EnginePollInterval:   5 * time.Second,
		TrackingInitialDelay: 2 * time.Second,
		StorePath:            storePath,
		StoreLockPath:        lockPath,
		LogLevel:             "warn",
		LogFormat:            "text",
		SignerKeySource:      "auto",
		SignerGasMultiplier:  1.2,
		SignerRPCURLs:        map[int64]string{},
	}, nil
}

// ResolveConfigPath returns input when set, else the XDG config location.
func ResolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "xfer", "config.yaml"), nil
}

func defaultStorePaths() (string, string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(base, "xfer")
	return filepath.Join(dir, "transfers.db"), filepath.Join(dir, "transfers.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.DeveloperMode != nil {
		settings.DeveloperMode = *cfg.DeveloperMode
	}
	for name, on := range cfg.Features {
		settings.Features[strings.ToLower(strings.TrimSpace(name))] = on
	}
	if cfg.Engine.ProdURL != "" {
		settings.EngineProdURL = cfg.Engine.ProdURL
	}
	if cfg.Engine.TestURL != "" {
		settings.EngineTestURL = cfg.Engine.TestURL
	}
	if cfg.Engine.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Engine.PollInterval)
		if err != nil {
			return fmt.Errorf("config engine.poll_interval: %w", err)
		}
		settings.EnginePollInterval = d
	}
	if cfg.Markr.APIURL != "" {
		settings.MarkrAPIURL = cfg.Markr.APIURL
	}
	if cfg.Markr.AppID != "" {
		settings.MarkrAppID = cfg.Markr.AppID
	}
	if cfg.Markr.AppIDEnv != "" {
		settings.MarkrAppID = os.Getenv(cfg.Markr.AppIDEnv)
	}
	if cfg.Tracking.InitialDelay != "" {
		d, err := time.ParseDuration(cfg.Tracking.InitialDelay)
		if err != nil {
			return fmt.Errorf("config tracking.initial_delay: %w", err)
		}
		settings.TrackingInitialDelay = d
	}
	if cfg.Tracking.MarkFailed != nil {
		settings.TrackingMarkFailed = *cfg.Tracking.MarkFailed
	}
	if cfg.Store.Path != "" {
		settings.StorePath = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.StoreLockPath = cfg.Store.LockPath
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = cfg.Log.Format
	}
	if cfg.Metrics.Addr != "" {
		settings.MetricsAddr = cfg.Metrics.Addr
	}
	if cfg.Signer.KeySource != "" {
		settings.SignerKeySource = strings.ToLower(cfg.Signer.KeySource)
	}
	if cfg.Signer.GasMultiplier > 0 {
		settings.SignerGasMultiplier = cfg.Signer.GasMultiplier
	}
	for chainID, url := range cfg.Signer.RPCURLs {
		settings.SignerRPCURLs[chainID] = strings.TrimSpace(url)
	}
	if cfg.Signer.BTCAPIURL != "" {
		settings.SignerBTCAPIURL = strings.TrimSpace(cfg.Signer.BTCAPIURL)
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv(envPrefix + "OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv(envPrefix + "TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv(envPrefix + "RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv(envPrefix + "DEVELOPER_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.DeveloperMode = b
		}
	}
	for _, name := range service.WatchedFlags() {
		if v := os.Getenv(envPrefix + "FEATURE_" + strings.ToUpper(name)); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				settings.Features[name] = b
			}
		}
	}
	if v := os.Getenv(envPrefix + "ENGINE_PROD_URL"); v != "" {
		settings.EngineProdURL = v
	}
	if v := os.Getenv(envPrefix + "ENGINE_TEST_URL"); v != "" {
		settings.EngineTestURL = v
	}
	if v := os.Getenv(envPrefix + "ENGINE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.EnginePollInterval = d
		}
	}
	if v := os.Getenv(envPrefix + "MARKR_API_URL"); v != "" {
		settings.MarkrAPIURL = v
	}
	if v := os.Getenv(envPrefix + "MARKR_APP_ID"); v != "" {
		settings.MarkrAppID = v
	}
	if v := os.Getenv(envPrefix + "TRACKING_INITIAL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.TrackingInitialDelay = d
		}
	}
	if v := os.Getenv(envPrefix + "TRACKING_MARK_FAILED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.TrackingMarkFailed = b
		}
	}
	if v := os.Getenv(envPrefix + "STORE_PATH"); v != "" {
		settings.StorePath = v
	}
	if v := os.Getenv(envPrefix + "STORE_LOCK_PATH"); v != "" {
		settings.StoreLockPath = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		settings.LogFormat = v
	}
	if v := os.Getenv(envPrefix + "METRICS_ADDR"); v != "" {
		settings.MetricsAddr = v
	}
	if v := os.Getenv(envPrefix + "KEY_SOURCE"); v != "" {
		settings.SignerKeySource = strings.ToLower(v)
	}
	if v := os.Getenv(envPrefix + "BTC_API_URL"); v != "" {
		settings.SignerBTCAPIURL = strings.TrimSpace(v)
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		fields := []string{}
		for _, part := range strings.Split(flags.Select, ",") {
			if f := strings.TrimSpace(part); f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.DeveloperMode {
		settings.DeveloperMode = true
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.LogFormat != "" {
		settings.LogFormat = flags.LogFormat
	}
	if flags.StorePath != "" {
		settings.StorePath = flags.StorePath
		settings.StoreLockPath = strings.TrimSuffix(flags.StorePath, filepath.Ext(flags.StorePath)) + ".lock"
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}
