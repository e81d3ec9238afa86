package manager

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-labs/etlq/internal/platform/dbctx"
)

// startHeartbeat spawns the paired heartbeat task for a running job (spec
// §4.4 "Heartbeat task"). Every heartbeat_interval it extends the lease and
// refreshes the shared cancel flag; losing the lease or observing a
// CANCELLED status both signal cancellation to the driver so it unwinds at
// its next checkpoint. Grounded on the teacher's Worker.startHeartbeat,
// generalized with the cancel-signaling half the teacher's fire-and-forget
// heartbeat didn't need.
func (m *Manager) startHeartbeat(ctx context.Context, jobID uuid.UUID, h *jobHandle) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(m.cfg.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				m.tickHeartbeat(ctx, jobID, h)
			}
		}
	}()
	return func() { close(done) }
}

func (m *Manager) tickHeartbeat(ctx context.Context, jobID uuid.UUID, h *jobHandle) {
	ok, err := m.store.Heartbeat(dbctx.Context{Ctx: ctx}, jobID, m.workerID, time.Now(), m.cfg.LeaseDuration)
	if err != nil {
		// Transient DB error: logged and retried on the next tick; if the
		// outage outlasts lease_duration the sweeper recovers the job
		// without this worker's help (spec §4.4 "Heartbeat task").
		m.log.Warn("heartbeat failed", "worker_id", m.workerID, "job_id", jobID, "error", err)
		return
	}
	if m.metrics != nil {
		m.metrics.Heartbeats.Inc()
	}
	if !ok {
		if m.metrics != nil {
			m.metrics.HeartbeatsLost.Inc()
		}
		m.log.Warn("lost lease; signaling driver to cancel", "worker_id", m.workerID, "job_id", jobID)
		h.requestCancel()
		return
	}

	cancelled, err := m.store.IsCancelRequested(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		m.log.Warn("cancel status check failed", "worker_id", m.workerID, "job_id", jobID, "error", err)
		return
	}
	if cancelled {
		h.requestCancel()
	}
}
