// Package config handles loading and validating depot-core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DEPOT_* environment variables
//   - Validation of required fields
//   - Parsing of "<n><d|h|m|s>" durations used for token and cache lifetimes
//
// Security Considerations:
//   - Token signing secrets should be set via environment variables
//   - Access and refresh secrets must both be present, at least 32 characters, and different
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/depot.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ttl := cfg.Security.JWT.AccessTTLDuration()
package config
