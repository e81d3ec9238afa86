package manager

import (
	"context"
	"time"

	"github.com/fenwick-labs/etlq/internal/platform/dbctx"
)

// sweepOnce recovers every job whose lease has expired by more than
// zombie_grace (spec §4.4 "Zombie sweeper"). It runs once at startup and
// then on the same cadence as polling. RecoverZombie re-verifies each row
// under a lock before mutating it, so this never steps on a job this
// worker (or any other live worker) still legitimately owns.
func (m *Manager) sweepOnce(ctx context.Context) {
	now := time.Now()
	zombies, err := m.store.ListZombies(dbctx.Context{Ctx: ctx}, now, m.cfg.ZombieGrace)
	if err != nil {
		m.log.Warn("list_zombies failed", "worker_id", m.workerID, "error", err)
		return
	}
	if len(zombies) == 0 {
		return
	}
	m.log.Info("sweeping zombie jobs", "worker_id", m.workerID, "count", len(zombies))
	for _, z := range zombies {
		outcome, err := m.store.RecoverZombie(dbctx.Context{Ctx: ctx}, z.ID, now)
		if err != nil {
			m.log.Warn("recover_zombie failed", "worker_id", m.workerID, "job_id", z.ID, "error", err)
			continue
		}
		if m.metrics != nil {
			m.metrics.ZombieRecovered.WithLabelValues(string(outcome)).Inc()
		}
		m.log.Info("zombie recovered", "worker_id", m.workerID, "job_id", z.ID,
			"job_kind", z.Kind, "outcome", outcome)
	}
}
