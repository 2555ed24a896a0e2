package storage

import (
	"context"
	"strings"
	"time"
)

// NewProvider validates cfg against the capability registry, constructs the
// matching adapter, and verifies connectivity. The order is deliberate:
// unknown types and missing fields surface as configuration errors before
// any network call; only the final connection test can fail with a
// connection or authentication error.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}
	if err := provider.TestConnection(ctx); err != nil {
		return nil, err
	}
	return provider, nil
}

// buildProvider runs the offline half of the factory: registry lookup, field
// validation, adapter construction. No network I/O happens here.
func buildProvider(cfg ProviderConfig) (Provider, error) {
	name := strings.TrimSpace(cfg.Provider)
	desc, ok := LookupProvider(name)
	if !ok {
		return nil, configError(name, "unknown provider %q, valid types: %s",
			name, strings.Join(ProviderNames(), ", "))
	}

	if missing := desc.MissingFields(&cfg); len(missing) > 0 {
		return nil, configError(desc.Name, "missing required fields: %s", strings.Join(missing, ", "))
	}

	switch desc.Name {
	case ProviderAWSS3, ProviderR2, ProviderSpaces, ProviderVultr, ProviderLinode:
		return newS3Provider(desc, cfg)
	case ProviderMinIO:
		return newMinIOProvider(desc, cfg)
	case ProviderOSS:
		return newOSSProvider(desc, cfg)
	case ProviderCOS:
		return newCOSProvider(desc, cfg)
	case ProviderLocal:
		return newLocalProvider(desc, cfg)
	default:
		return nil, configError(desc.Name, "provider %q has no adapter", desc.Name)
	}
}

// ConnectionTestResult is the structured outcome of a provider config probe,
// returned instead of a raw error so admin tooling can render it directly.
type ConnectionTestResult struct {
	OK        bool   `json:"ok"`
	Provider  string `json:"provider"`
	LatencyMS int64  `json:"latency_ms"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TestProviderConfig runs the full factory path against cfg and reports the
// outcome. Secrets are redacted from the returned error text.
func TestProviderConfig(ctx context.Context, cfg ProviderConfig) ConnectionTestResult {
	result := ConnectionTestResult{Provider: strings.TrimSpace(cfg.Provider)}

	start := time.Now()
	_, err := NewProvider(ctx, cfg)
	result.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		result.ErrorKind = KindOf(err).String()
		result.Error = Redact(err.Error())
		return result
	}
	result.OK = true
	return result
}
