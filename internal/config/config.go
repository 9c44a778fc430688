// Package config loads server configuration from an HCL file, the way
// the teacher's internal/server/config.go does, then layers environment
// variable overrides matching §6's contract on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/codequest-platform/arena-server/internal/adaptive"
	"github.com/codequest-platform/arena-server/internal/difficulty"
)

// ServerSettings is the top-level `server` HCL block.
type ServerSettings struct {
	Address  string `hcl:"address,optional"`
	Port     int    `hcl:"port,optional"`
	LogLevel string `hcl:"log_level,optional"`
	DSN      string `hcl:"postgres_dsn,optional"`
}

// AlgoServiceSettings is the `algo_service` HCL block, mirroring the
// ALGO_SERVICE_* env vars (§6).
type AlgoServiceSettings struct {
	URL              string `hcl:"url,optional"`
	TimeoutMS        int    `hcl:"timeout_ms,optional"`
	MaxRetry         int    `hcl:"max_retry,optional"`
	CircuitFails     int    `hcl:"circuit_fails,optional"`
	CircuitResetMS   int    `hcl:"circuit_reset_ms,optional"`
	EnableWarm       *bool  `hcl:"enable_warm,optional"`
}

// CacheSettings is the `cache` HCL block, mirroring SUMMARY_CACHE_*/
// LEADERBOARD_CACHE_* (§6).
type CacheSettings struct {
	SummaryTTLMS           int  `hcl:"summary_ttl_ms,optional"`
	SummaryMaxEntries      int  `hcl:"summary_max_entries,optional"`
	EnableSummaryCache     *bool `hcl:"enable_summary_cache,optional"`
	LeaderboardTTLMinutes  int  `hcl:"leaderboard_ttl_minutes,optional"`
	LeaderboardLimit       int  `hcl:"leaderboard_limit,optional"`
}

// RulesSettings is the `rules` HCL block, mirroring RULES_* (§6, §4.C).
type RulesSettings struct {
	MaxErrors          int  `hcl:"max_errors,optional"`
	TimeUnderSeconds   int  `hcl:"time_under_seconds,optional"`
	MinAttemptsForRate int  `hcl:"min_attempts_for_rate,optional"`
	EnableOverrides    *bool `hcl:"enable_overrides,optional"`
	PureKernelMode     *bool `hcl:"pure_kernel_mode,optional"`
}

// FileConfig is the decoded shape of the HCL config file.
type FileConfig struct {
	Server      ServerSettings      `hcl:"server,block"`
	AlgoService AlgoServiceSettings `hcl:"algo_service,block"`
	Cache       CacheSettings       `hcl:"cache,block"`
	Rules       RulesSettings       `hcl:"rules,block"`
}

// Config is the fully resolved, ready-to-wire runtime configuration.
type Config struct {
	Address  string
	Port     int
	LogLevel string
	DSN      string

	Algo       adaptive.Config
	Thresholds difficulty.Thresholds

	SummaryTTL           time.Duration
	SummaryMaxEntries    int
	EnableSummaryCache   bool
	LeaderboardTTL       time.Duration
	LeaderboardLimit     int

	EnableRuleOverrides bool
	PureKernelMode      bool
}

// Default returns the documented §6 defaults.
func Default() Config {
	return Config{
		Address:  "localhost",
		Port:     8080,
		LogLevel: "info",

		Algo:       adaptive.DefaultConfig(),
		Thresholds: difficulty.DefaultThresholds(),

		SummaryTTL:         60 * time.Second,
		SummaryMaxEntries:  200,
		EnableSummaryCache: true,
		LeaderboardTTL:     5 * time.Minute,
		LeaderboardLimit:   200,

		EnableRuleOverrides: true,
		PureKernelMode:      false,
	}
}

// Load reads the HCL file at path (if it exists), falls back to Default
// for anything unset, then applies environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			parser := hclparse.NewParser()
			file, diags := parser.ParseHCLFile(path)
			if diags.HasErrors() {
				return Config{}, fmt.Errorf("config: parse %s: %s", path, diags.Error())
			}
			var fc FileConfig
			if diags := gohcl.DecodeBody(file.Body, nil, &fc); diags.HasErrors() {
				return Config{}, fmt.Errorf("config: decode %s: %s", path, diags.Error())
			}
			applyFile(&cfg, fc)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, fc FileConfig) {
	if fc.Server.Address != "" {
		cfg.Address = fc.Server.Address
	}
	if fc.Server.Port != 0 {
		cfg.Port = fc.Server.Port
	}
	if fc.Server.LogLevel != "" {
		cfg.LogLevel = fc.Server.LogLevel
	}
	if fc.Server.DSN != "" {
		cfg.DSN = fc.Server.DSN
	}

	if fc.AlgoService.URL != "" {
		cfg.Algo.ServiceURL = fc.AlgoService.URL
	}
	if fc.AlgoService.TimeoutMS != 0 {
		cfg.Algo.Timeout = time.Duration(fc.AlgoService.TimeoutMS) * time.Millisecond
	}
	if fc.AlgoService.MaxRetry != 0 {
		cfg.Algo.MaxRetries = fc.AlgoService.MaxRetry
	}
	if fc.AlgoService.CircuitFails != 0 {
		cfg.Algo.CircuitFails = fc.AlgoService.CircuitFails
	}
	if fc.AlgoService.CircuitResetMS != 0 {
		cfg.Algo.CircuitResetPeriod = time.Duration(fc.AlgoService.CircuitResetMS) * time.Millisecond
	}
	if fc.AlgoService.EnableWarm != nil {
		cfg.Algo.EnableWarmService = *fc.AlgoService.EnableWarm
	}

	if fc.Cache.SummaryTTLMS != 0 {
		cfg.SummaryTTL = time.Duration(fc.Cache.SummaryTTLMS) * time.Millisecond
	}
	if fc.Cache.SummaryMaxEntries != 0 {
		cfg.SummaryMaxEntries = fc.Cache.SummaryMaxEntries
	}
	if fc.Cache.EnableSummaryCache != nil {
		cfg.EnableSummaryCache = *fc.Cache.EnableSummaryCache
	}
	if fc.Cache.LeaderboardTTLMinutes != 0 {
		cfg.LeaderboardTTL = time.Duration(fc.Cache.LeaderboardTTLMinutes) * time.Minute
	}
	if fc.Cache.LeaderboardLimit != 0 {
		cfg.LeaderboardLimit = fc.Cache.LeaderboardLimit
	}

	if fc.Rules.MaxErrors != 0 {
		cfg.Thresholds.MaxErrors = fc.Rules.MaxErrors
	}
	if fc.Rules.TimeUnderSeconds != 0 {
		cfg.Thresholds.TimeUnderSeconds = fc.Rules.TimeUnderSeconds
	}
	if fc.Rules.MinAttemptsForRate != 0 {
		cfg.Thresholds.MinAttemptsForRate = fc.Rules.MinAttemptsForRate
	}
	if fc.Rules.EnableOverrides != nil {
		cfg.EnableRuleOverrides = *fc.Rules.EnableOverrides
	}
	if fc.Rules.PureKernelMode != nil {
		cfg.PureKernelMode = *fc.Rules.PureKernelMode
	}
}

// envOverrides is the §6 env var contract: name -> setter. Kept as a table
// rather than a long if-chain so the contract reads like a spec.
func envOverrides(cfg *Config) map[string]func(string){
	return map[string]func(string){
		"ALGO_SERVICE_URL":             func(v string) { cfg.Algo.ServiceURL = v },
		"ALGO_SERVICE_TIMEOUT_MS":      durationMS(&cfg.Algo.Timeout),
		"ALGO_SERVICE_MAX_RETRY":       intVar(&cfg.Algo.MaxRetries),
		"ALGO_SERVICE_CIRCUIT_FAILS":   intVar(&cfg.Algo.CircuitFails),
		"ALGO_SERVICE_CIRCUIT_RESET_MS": durationMS(&cfg.Algo.CircuitResetPeriod),
		"ENABLE_WARM_ALGO_SERVICE":     boolVar(&cfg.Algo.EnableWarmService),

		"SUMMARY_CACHE_TTL_MS":          durationMS(&cfg.SummaryTTL),
		"SUMMARY_CACHE_MAX_ENTRIES":     intVar(&cfg.SummaryMaxEntries),
		"ENABLE_SUMMARY_CACHE":          boolVar(&cfg.EnableSummaryCache),
		"LEADERBOARD_CACHE_TTL_MINUTES": durationMinutes(&cfg.LeaderboardTTL),
		"LEADERBOARD_CACHE_LIMIT":       intVar(&cfg.LeaderboardLimit),

		"RULES_MAX_ERRORS":            intVar(&cfg.Thresholds.MaxErrors),
		"RULES_TIME_UNDER_SECONDS":    intVar(&cfg.Thresholds.TimeUnderSeconds),
		"RULES_MIN_ATTEMPTS_FOR_RATE": intVar(&cfg.Thresholds.MinAttemptsForRate),
		"ENABLE_RULE_OVERRIDES":       boolVar(&cfg.EnableRuleOverrides),
		"EXPERIMENT_PURE_DDA":         boolVar(&cfg.PureKernelMode),
	}
}

func applyEnv(cfg *Config) {
	for name, set := range envOverrides(cfg) {
		if v, ok := os.LookupEnv(name); ok {
			set(v)
		}
	}
}

func intVar(dst *int) func(string) {
	return func(v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func boolVar(dst *bool) func(string) {
	return func(v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func durationMS(dst *time.Duration) func(string) {
	return func(v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

func durationMinutes(dst *time.Duration) func(string) {
	return func(v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Minute
		}
	}
}
