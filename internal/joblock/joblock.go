// Package joblock coordinates singleton batch jobs across processes.
// Overlapping invocations of the same job skip instead of duplicating
// work; a crashed holder's lock lapses after its TTL.
package joblock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah04091/contract-ai-sub015/internal/globaltime"
)

// Store is the durable lock table.
type Store interface {
	AcquireJobLock(ctx context.Context, jobName, holder string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseJobLock(ctx context.Context, jobName, holder string) error
}

// ErrHeld is returned when another process holds a live lock.
var ErrHeld = fmt.Errorf("job lock held by another process")

type Manager struct {
	store  Store
	ttl    time.Duration
	logger zerolog.Logger
}

func NewManager(store Store, ttl time.Duration, logger zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{store: store, ttl: ttl, logger: logger}
}

// Acquire takes the named lock and returns a release func. Callers should
// defer the release; releasing a lock lost to TTL takeover is harmless.
func (m *Manager) Acquire(ctx context.Context, jobName string) (func(), error) {
	holder := uuid.NewString()
	ok, err := m.store.AcquireJobLock(ctx, jobName, holder, m.ttl, globaltime.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", jobName, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", jobName, ErrHeld)
	}

	release := func() {
		if err := m.store.ReleaseJobLock(context.Background(), jobName, holder); err != nil {
			m.logger.Warn().Err(err).Str("job", jobName).Msg("release job lock failed")
		}
	}
	return release, nil
}
