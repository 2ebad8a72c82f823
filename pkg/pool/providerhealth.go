package pool

import (
	"context"
	"time"

	"github.com/cuemby/fleetforge/pkg/events"
	"github.com/cuemby/fleetforge/pkg/health"
	"github.com/cuemby/fleetforge/pkg/log"
)

// DefaultProviderHealthInterval is how often RunProviderHealthChecks polls
// every registered provider.
const DefaultProviderHealthInterval = 30 * time.Second

// RunProviderHealthChecks polls provider.HealthCheck on the configured
// interval for every provider registered with the manager, tracking each
// one's consecutive failures with pkg/health's Status/Config the same way
// the teacher's pkg/health tracked container health checks, and publishes
// TypeProviderUnhealthy/TypeProviderRecovered on the failure/recovery edges
// rather than on every poll. Blocks until ctx is cancelled.
func (m *Manager) RunProviderHealthChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProviderHealthInterval
	}
	cfg := health.DefaultConfig()
	cfg.Interval = interval

	statuses := make(map[string]*health.Status, len(m.providers))
	for name := range m.providers {
		statuses[name] = health.NewStatus()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, prov := range m.providers {
				checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
				err := prov.HealthCheck(checkCtx)
				cancel()

				result := health.Result{CheckedAt: time.Now(), Healthy: err == nil}
				if err != nil {
					result.Message = err.Error()
				}

				st := statuses[name]
				wasHealthy := st.Healthy
				st.Update(result, cfg)

				if wasHealthy && !st.Healthy {
					log.WithComponent("pool").Warn().Str("provider", name).Err(err).
						Int("consecutive_failures", st.ConsecutiveFailures).Msg("provider failed health check")
					m.publish(events.TypeProviderUnhealthy, name, result.Message)
				} else if !wasHealthy && st.Healthy {
					log.WithComponent("pool").Info().Str("provider", name).Msg("provider health check recovered")
					m.publish(events.TypeProviderRecovered, name, "provider recovered")
				}
			}
		}
	}
}
