// capd runs the capability dispatch core with a handful of sample
// capabilities and executors, exercising the full invocation lifecycle:
// cached lookups, a flaky capability tripping its breaker, a policy-checked
// confidential swap with a persisted compliance proof.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/audit"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/cache"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/config"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/observability"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/policy"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/router"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("capd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	ctx := context.Background()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:  "capd",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TelemetryEnabled,
		Insecure:     true,
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() { _ = telemetry.Shutdown(ctx) }()

	registry := capability.NewInMemoryRegistry()
	if err := registerSampleCapabilities(registry); err != nil {
		return err
	}

	opts := []router.Option{
		router.WithExecutors(sampleExecutors()...),
		router.WithTelemetry(telemetry),
		router.WithAuditor(audit.NewLogger()),
		router.WithCacheTTL(cfg.CacheTTL),
		router.WithMaxConcurrent(cfg.MaxConcurrent),
	}
	if cfg.RedisAddr != "" {
		opts = append(opts, router.WithCacheStore(cache.NewRedisStore(cfg.RedisAddr, "", 0, "capd")))
	}
	if cfg.SettlementWebhook != "" {
		opts = append(opts, router.WithSettlementEmitter(router.NewWebhookEmitter(cfg.SettlementWebhook)))
	}
	r := router.NewRouter(registry, opts...)

	proofs, closeProofs, err := openProofStore(cfg)
	if err != nil {
		return err
	}
	defer closeProofs()

	policyRouter, err := policy.NewRouter(registry, r,
		policy.WithProofSink(proofs),
		policy.WithAuditor(audit.NewLogger()))
	if err != nil {
		return fmt.Errorf("policy router: %w", err)
	}

	demo(ctx, r, policyRouter, proofs)
	return nil
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func openProofStore(cfg *config.Config) (store.ProofStore, func(), error) {
	switch {
	case cfg.ProofDSN != "":
		s, err := store.OpenPostgresProofStore(cfg.ProofDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("proof store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case cfg.ProofDBPath != "":
		s, err := store.OpenSQLiteProofStore(cfg.ProofDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("proof store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return store.NewMemoryProofStore(), func() {}, nil
	}
}

func registerSampleCapabilities(registry *capability.InMemoryRegistry) error {
	caps := []*capability.Capability{
		{
			ID:      "cap.price.lookup",
			Name:    "price.lookup",
			Version: "1.2.0",
			Type:    capability.TypeData,
			Required: []string{
				"pair",
			},
			Economics: capability.Economics{BasePrice: 0.001, Currency: "USDC"},
		},
		{
			ID:      "cap.fx.convert",
			Name:    "fx.convert",
			Version: "1.0.0",
			Type:    capability.TypeCompute,
		},
		{
			ID:      "cap.swap.execute",
			Name:    "swap.execute",
			Version: "2.1.0",
			Type:    capability.TypeSwap,
			Privacy: capability.PrivacyConfidential,
			Plugins: []string{"dex-a", "dex-b"},
			Economics: capability.Economics{
				BasePrice:     1.5,
				Currency:      "USDC",
				PaymentSignal: true,
			},
		},
		{
			ID:      "cap.flaky.feed",
			Name:    "flaky.feed",
			Version: "0.3.0",
			Type:    capability.TypeData,
		},
	}
	for _, c := range caps {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("register %s: %w", c.ID, err)
		}
	}
	return nil
}

func sampleExecutors() []router.Executor {
	flaky := 0
	return []router.Executor{
		&router.FuncExecutor{
			Name:    "sample-flaky",
			Matches: func(id string) bool { return id == "cap.flaky.feed" },
			Run: func(context.Context, *capability.ExecutionContext) (*capability.ExecutionOutcome, error) {
				flaky++
				return nil, fmt.Errorf("feed unavailable (call %d)", flaky)
			},
		},
		&router.FuncExecutor{
			Name: "sample-general",
			Run: func(_ context.Context, ectx *capability.ExecutionContext) (*capability.ExecutionOutcome, error) {
				return &capability.ExecutionOutcome{
					Success: true,
					Outputs: map[string]any{
						"capability": ectx.CapabilityID,
						"inputs":     ectx.Inputs,
						"quoted_at":  time.Now().UTC().Format(time.RFC3339),
					},
				}, nil
			},
		},
	}
}

func demo(ctx context.Context, r *router.Router, policyRouter *policy.Router, proofs store.ProofStore) {
	logger := slog.Default().With("component", "capd")

	lookup := &capability.InvocationRequest{
		CapabilityID: "cap.price.lookup",
		Inputs:       map[string]any{"pair": "ETH/USDC"},
		Preferences:  &capability.Preferences{CallerID: "demo-agent", Prefetch: true},
	}
	first := r.Invoke(ctx, lookup)
	second := r.Invoke(ctx, lookup)
	logger.Info("price lookup",
		"success", first.Success,
		"cached_on_repeat", second.Metadata.CacheHit,
		"attempts", first.Metadata.Attempts)

	flakyReq := &capability.InvocationRequest{CapabilityID: "cap.flaky.feed"}
	var last *capability.InvocationResult
	for i := 0; i < 6; i++ {
		last = r.Invoke(ctx, flakyReq)
	}
	if last.Err != nil {
		logger.Info("flaky feed tripped its breaker", "kind", last.Err.Kind, "retry_after", last.Err.RetryAfter)
	}

	swap := &capability.InvocationRequest{
		CapabilityID: "cap.swap.execute",
		Inputs:       map[string]any{"pair": "ETH/USDC", "amount": 2.5},
		Preferences:  &capability.Preferences{CallerID: "demo-agent"},
	}
	pol := &policy.Policy{
		MinPrivacy:    capability.PrivacyConfidential,
		MaxCost:       10,
		MaxSlippage:   0.01,
		Deny:          []string{"dex-untrusted"},
		Latency:       policy.LatencyBalanced,
		AllowFallback: true,
	}
	result, proof := policyRouter.ExecuteWithPolicy(ctx, swap, pol)
	logger.Info("policy-checked swap",
		"success", result.Success,
		"proof", proof.ID,
		"steps", len(proof.Steps),
		"digest", proof.Digest)

	if stored, err := proofs.Get(ctx, proof.ID); err == nil {
		if verr := stored.Verify(); verr != nil {
			logger.Warn("stored proof failed verification", "error", verr)
		} else {
			logger.Info("stored proof verified", "proof", stored.ID)
		}
	}

	status := r.Status()
	if encoded, err := json.MarshalIndent(status, "", "  "); err == nil {
		fmt.Println(string(encoded))
	}
}
