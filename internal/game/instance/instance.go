package instance

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Persister stores boss states durably.
type Persister interface {
	LoadBossStates(ctx context.Context, instanceID string) (map[string]BossState, error)
	SaveBossState(ctx context.Context, instanceID, boss string, state BossState) error
}

// Instance is the state store of one dungeon instance.
//
// Writes update memory synchronously and queue a write-behind save, so
// callers on the tick path never wait on the Persister.
//
// Instance is safe for concurrent use.
type Instance struct {
	id           string
	persister    Persister
	logger       *zap.Logger
	writeTimeout time.Duration

	mu      sync.Mutex
	states  map[string]BossState
	data    map[string]int64
	pending map[string]BossState

	notify chan struct{}

	retryInitial time.Duration
	retryMax     time.Duration
}

// NewInstance returns an empty Instance.
//
// Precondition: persister and logger must not be nil.
// Postcondition: writeTimeout <= 0 defaults to five seconds.
func NewInstance(id string, persister Persister, logger *zap.Logger, writeTimeout time.Duration) *Instance {
	if persister == nil {
		panic("instance.NewInstance: persister must not be nil")
	}
	if logger == nil {
		panic("instance.NewInstance: logger must not be nil")
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Instance{
		id:           id,
		persister:    persister,
		logger:       logger.With(zap.String("instance", id)),
		writeTimeout: writeTimeout,
		states:       make(map[string]BossState),
		data:         make(map[string]int64),
		pending:      make(map[string]BossState),
		notify:       make(chan struct{}, 1),
		retryInitial: 100 * time.Millisecond,
		retryMax:     30 * time.Second,
	}
}

// SetRetryBackoff bounds the delay between Run's attempts to re-save writes
// that failed.
//
// Precondition: must be called before Run; initial > 0 and maxDelay >= initial.
func (i *Instance) SetRetryBackoff(initial, maxDelay time.Duration) {
	i.retryInitial = initial
	i.retryMax = maxDelay
}

// ID returns the instance id.
func (i *Instance) ID() string { return i.id }

// Load replaces in-memory boss states with those held by the Persister.
func (i *Instance) Load(ctx context.Context) error {
	states, err := i.persister.LoadBossStates(ctx, i.id)
	if err != nil {
		return fmt.Errorf("loading boss states for %q: %w", i.id, err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.states = make(map[string]BossState, len(states))
	maps.Copy(i.states, states)
	return nil
}

// SetBossState records state for boss.
//
// Postcondition: returns false and changes nothing when the boss already has
// state, or when the boss is Done. Done is only left through ForceBossState.
func (i *Instance) SetBossState(boss string, state BossState) bool {
	i.mu.Lock()
	cur := i.states[boss]
	if cur == state || cur == Done {
		i.mu.Unlock()
		return false
	}
	i.setLocked(boss, state)
	i.mu.Unlock()
	i.logger.Info("boss state changed",
		zap.String("boss", boss),
		zap.Stringer("from", cur),
		zap.Stringer("to", state),
	)
	return true
}

// ForceBossState records state for boss unconditionally.
func (i *Instance) ForceBossState(boss string, state BossState) {
	i.mu.Lock()
	i.setLocked(boss, state)
	i.mu.Unlock()
}

func (i *Instance) setLocked(boss string, state BossState) {
	i.states[boss] = state
	i.pending[boss] = state
	select {
	case i.notify <- struct{}{}:
	default:
	}
}

// BossState returns the state of boss; unknown bosses are NotStarted.
func (i *Instance) BossState(boss string) BossState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.states[boss]
}

// BossStates returns a snapshot of every recorded boss state.
func (i *Instance) BossStates() map[string]BossState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return maps.Clone(i.states)
}

// SetData stores an instance-wide scratch value.
func (i *Instance) SetData(key string, value int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.data[key] = value
}

// GetData returns the scratch value for key, zero when unset.
func (i *Instance) GetData(key string) int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.data[key]
}

// PendingWrites returns the number of boss states not yet persisted.
func (i *Instance) PendingWrites() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pending)
}

// Flush persists every pending write. Failed writes stay queued unless a
// newer state for the same boss was recorded meanwhile.
func (i *Instance) Flush(ctx context.Context) error {
	i.mu.Lock()
	batch := i.pending
	i.pending = make(map[string]BossState, len(batch))
	i.mu.Unlock()

	var errs []error
	for boss, state := range batch {
		wctx, cancel := context.WithTimeout(ctx, i.writeTimeout)
		err := i.persister.SaveBossState(wctx, i.id, boss, state)
		cancel()
		if err == nil {
			continue
		}
		i.logger.Warn("persisting boss state failed",
			zap.String("boss", boss),
			zap.Stringer("state", state),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("saving %q: %w", boss, err))
		i.mu.Lock()
		if _, newer := i.pending[boss]; !newer {
			i.pending[boss] = state
		}
		i.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Run flushes pending writes as they are queued, until ctx is cancelled.
// A failed flush is retried on an exponential backoff until the queue drains,
// whether or not new writes arrive.
//
// Postcondition: a final flush is attempted with a fresh context on return.
func (i *Instance) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.retryInitial
	b.MaxInterval = i.retryMax
	b.MaxElapsedTime = 0

	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	flush := func() {
		retry.Stop()
		if err := i.Flush(ctx); err != nil && ctx.Err() == nil {
			wait := b.NextBackOff()
			i.logger.Debug("retrying boss state flush",
				zap.Duration("after", wait),
				zap.Int("pending", i.PendingWrites()),
			)
			retry.Reset(wait)
			return
		}
		b.Reset()
	}

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), i.writeTimeout)
			defer cancel()
			if err := i.Flush(fctx); err != nil {
				i.logger.Warn("final boss state flush incomplete", zap.Error(err))
			}
			return nil
		case <-i.notify:
			flush()
		case <-retry.C:
			flush()
		}
	}
}
