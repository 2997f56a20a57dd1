package retention

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/iwoork/homeforpup-sub006/pkg/config"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/store/records"
)

const maxConsecutiveRenewFails = 3

// Report summarizes one run.
type Report struct {
	RunID     string
	Skipped   bool // lease held elsewhere
	DryRun    bool
	Cutoff    time.Time
	Scanned   int
	Eligible  int
	Purged    int
	Failed    int
	Reindexed int
}

// runOnce acquires the lease, purges threads idle since before the cutoff
// and writes the audit trail.
func (m *Manager) runOnce(ctx context.Context) (Report, error) {
	ret := m.cfg
	rep := Report{RunID: uuid.NewString(), DryRun: ret.DryRun}

	ttl := ret.LockTTL.Duration()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	owner := uuid.NewString()
	lock := newFileLease(m.dir)
	lock.now = m.now
	acq, err := lock.Acquire(owner, ttl)
	if err != nil {
		logger.Error("retention_lease_acquire_error", "error", err)
		return rep, errors.Wrap(err, "lease acquire failed")
	}
	if !acq {
		logger.Info("retention_lease_not_acquired")
		rep.Skipped = true
		return rep, nil
	}
	defer func() {
		if err := lock.Release(owner); err != nil {
			logger.Error("retention_lease_release_error", "error", err)
		} else {
			logger.Debug("retention_lease_released", "owner", owner)
		}
	}()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go m.heartbeat(runCtx, runCancel, lock, owner, ttl)

	pd, err := config.ParsePeriod(ret.Period)
	if err != nil {
		logger.Error("retention_invalid_period", "period", ret.Period, "error", err)
		return rep, errors.Wrap(err, "invalid retention period")
	}
	rep.Cutoff = m.now().Add(-pd)
	cutoff := rep.Cutoff.UTC().UnixNano()

	logger.Info("retention_audit_header", "run_id", rep.RunID, "owner", owner,
		"started_at", m.now().UTC().Format(time.RFC3339), "dry_run", ret.DryRun,
		"period", ret.Period, "cutoff", rep.Cutoff.UTC().Format(time.RFC3339))

	// deletes happen after the scan; the iterator holds the store read lock
	var eligible []string
	err = m.store.Scan(runCtx, func(rec records.StoredRecord) error {
		tr, ok := rec.(records.ThreadRecord)
		if !ok {
			return nil
		}
		rep.Scanned++
		if tr.Thread.UpdatedAt < cutoff {
			eligible = append(eligible, tr.Thread.ID)
		}
		return nil
	})
	if err != nil {
		return rep, errors.Wrap(err, "scan threads")
	}
	rep.Eligible = len(eligible)

	batch := ret.BatchSize
	if batch <= 0 {
		batch = len(eligible) + 1
	}
	for i, id := range eligible {
		if err := runCtx.Err(); err != nil {
			return rep, errors.Wrap(err, "retention run aborted")
		}
		if i > 0 && i%batch == 0 && ret.BatchSleepMs > 0 {
			if !sleep(runCtx, time.Duration(ret.BatchSleepMs)*time.Millisecond) {
				return rep, errors.Wrap(runCtx.Err(), "retention run aborted")
			}
		}
		if ret.DryRun {
			logger.Info("retention_audit_item", "run_id", rep.RunID, "thread_id", id, "status", "dry_run")
			continue
		}
		if err := m.store.DeleteThread(runCtx, id); err != nil {
			rep.Failed++
			logger.Info("retention_audit_item", "run_id", rep.RunID, "thread_id", id, "status", "failed", "error", err.Error())
			logger.Error("retention_purge_failed", "thread_id", id, "error", err)
			continue
		}
		rep.Purged++
		logger.Info("retention_audit_item", "run_id", rep.RunID, "thread_id", id, "status", "success")
	}

	if ret.RepairProjections && !ret.DryRun {
		n, err := m.store.RebuildProjections(runCtx)
		if err != nil {
			logger.Error("retention_reindex_failed", "run_id", rep.RunID, "error", err)
			return rep, errors.Wrap(err, "rebuild projections")
		}
		rep.Reindexed = n
	}

	logger.Info("retention_audit_footer", "run_id", rep.RunID, "scanned", rep.Scanned,
		"eligible", rep.Eligible, "purged", rep.Purged, "failed", rep.Failed, "reindexed", rep.Reindexed)
	return rep, nil
}

// heartbeat renews the lease every ttl/3 and cancels the run after
// repeated renewal failures.
func (m *Manager) heartbeat(ctx context.Context, abort context.CancelFunc, lock *fileLease, owner string, ttl time.Duration) {
	t := time.NewTicker(ttl / 3)
	defer t.Stop()
	var fails int
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := lock.Renew(owner, ttl); err != nil {
				fails++
				logger.Error("retention_lease_renew_failed", "error", err, "count", fails)
				if fails >= maxConsecutiveRenewFails {
					logger.Error("retention_lease_renew_failed_fatal", "owner", owner)
					abort()
					return
				}
				continue
			}
			if fails != 0 {
				logger.Info("retention_lease_renew_recovered", "owner", owner, "after", fails)
			}
			fails = 0
		}
	}
}
