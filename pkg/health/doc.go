// Package health tracks consecutive-failure/success state for periodic
// checks, the same bookkeeping the teacher's pkg/health used for container
// HTTP/TCP/exec probes, applied here to a provider's own HealthCheck method
// (see pkg/pool.RunProviderHealthChecks) instead of per-container checks.
package health
