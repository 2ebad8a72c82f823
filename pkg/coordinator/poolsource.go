package coordinator

import (
	"github.com/cuemby/fleetforge/pkg/autoscaler"
	"github.com/cuemby/fleetforge/pkg/pool"
)

// poolSource adapts pool.Manager to autoscaler.PoolSource.
type poolSource struct {
	pools *pool.Manager
}

func (s poolSource) Snapshots() []autoscaler.PoolSnapshot {
	pools := s.pools.ListPools()
	out := make([]autoscaler.PoolSnapshot, 0, len(pools))
	for _, p := range pools {
		m, err := s.pools.GetMetrics(p.ID)
		if err != nil {
			continue
		}
		out = append(out, autoscaler.PoolSnapshot{
			PoolID:      p.ID,
			Policy:      p.Policy,
			CurrentSize: m.ActualSize,
			ReadyCount:  m.ReadyCount,
			BusyCount:   m.BusyCount,
		})
	}
	return out
}
