package db

import (
	"context"
	"fmt"
	"time"
)

// AcquireJobLock takes the named singleton-job lock for holder. It
// succeeds when the lock is free or its TTL has lapsed; a live lock held
// by someone else returns false so the caller skips the run.
func (p *Pool) AcquireJobLock(ctx context.Context, jobName, holder string, ttl time.Duration, now time.Time) (bool, error) {
	const q = `
		INSERT INTO lawmon.job_locks (job_name, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (job_name) DO UPDATE SET
			holder = EXCLUDED.holder,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE lawmon.job_locks.expires_at < EXCLUDED.acquired_at
			OR lawmon.job_locks.holder = EXCLUDED.holder`

	tag, err := p.Exec(ctx, q, jobName, holder, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("acquire job lock %s: %w", jobName, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseJobLock frees the lock if still held by holder. Releasing a lock
// someone else took over is a no-op.
func (p *Pool) ReleaseJobLock(ctx context.Context, jobName, holder string) error {
	const q = `
		DELETE FROM lawmon.job_locks
		WHERE job_name = ? AND holder = ?`

	if _, err := p.Exec(ctx, q, jobName, holder); err != nil {
		return fmt.Errorf("release job lock %s: %w", jobName, err)
	}
	return nil
}
