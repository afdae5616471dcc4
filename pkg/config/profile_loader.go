package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DispatchProfile is a deployment-specific tuning profile for the pipeline.
// Zero values mean "keep the built-in default".
type DispatchProfile struct {
	Name      string          `yaml:"name" json:"name"`
	Code      string          `yaml:"code" json:"code"`
	Breaker   BreakerConfig   `yaml:"breaker" json:"breaker"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Bulkheads map[string]int  `yaml:"bulkheads,omitempty" json:"bulkheads,omitempty"`
	Prefetch  bool            `yaml:"prefetch" json:"prefetch"`
}

// BreakerConfig tunes the circuit breaker bank. Durations are plain
// milliseconds so profiles stay trivially parseable.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	CooldownMs       int `yaml:"cooldown_ms" json:"cooldown_ms"`
}

// Cooldown returns the configured cooldown, or zero when unset.
func (c BreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// RetryConfig tunes the retry engine.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" json:"max_attempts"`
	AttemptTimeoutMs int `yaml:"attempt_timeout_ms" json:"attempt_timeout_ms"`
	BaseBackoffMs    int `yaml:"base_backoff_ms" json:"base_backoff_ms"`
}

func (c RetryConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutMs) * time.Millisecond
}

func (c RetryConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMs) * time.Millisecond
}

// CacheConfig tunes the adaptive response cache.
type CacheConfig struct {
	InitialTTLMs int `yaml:"initial_ttl_ms" json:"initial_ttl_ms"`
	BurstTTLMs   int `yaml:"burst_ttl_ms" json:"burst_ttl_ms"`
}

func (c CacheConfig) InitialTTL() time.Duration {
	return time.Duration(c.InitialTTLMs) * time.Millisecond
}

func (c CacheConfig) BurstTTL() time.Duration {
	return time.Duration(c.BurstTTLMs) * time.Millisecond
}

// SchedulerConfig tunes queued invocation.
type SchedulerConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
}

// LoadProfile loads a dispatch profile YAML by deployment code. It searches
// the profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*DispatchProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile DispatchProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadProfileFile loads a single dispatch profile from an explicit path.
func LoadProfileFile(path string) (*DispatchProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", path, err)
	}
	var profile DispatchProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory,
// keyed by code.
func LoadAllProfiles(profilesDir string) (map[string]*DispatchProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DispatchProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var profile DispatchProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}
