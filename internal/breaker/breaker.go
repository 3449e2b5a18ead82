package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Breaker guards calls to one endpoint:model key.
type Breaker interface {
	// Allow reports whether a call may be attempted now.
	Allow(ctx context.Context, key string) bool
	// Success resets the breaker for key.
	Success(ctx context.Context, key string)
	// Failure records a transient failure and may open the breaker.
	Failure(ctx context.Context, key string)
	// RetryAt is when an open breaker lets the next call through. It is the
	// zero time when the breaker for key is closed or its cooldown has passed.
	RetryAt(ctx context.Context, key string) time.Time
}

// Options tunes when the breaker opens and for how long.
type Options struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold   int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 30 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	return o
}

// backoff doubles per failure past the threshold: base, 2*base, 4*base ... max.
func (o Options) backoff(failures int) time.Duration {
	d := o.BaseBackoff
	for i := o.Threshold; i < failures; i++ {
		d *= 2
		if d >= o.MaxBackoff {
			return o.MaxBackoff
		}
	}
	if d > o.MaxBackoff {
		d = o.MaxBackoff
	}
	return d
}

type memState struct {
	failures  int
	openUntil time.Time
}

// Memory is an in-process breaker used when no Redis is configured.
type Memory struct {
	opts  Options
	mu    sync.Mutex
	state map[string]*memState
	now   func() time.Time
}

func NewMemory(opts Options) *Memory {
	return &Memory{opts: opts.withDefaults(), state: map[string]*memState{}, now: time.Now}
}

func (m *Memory) Allow(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[key]
	if !ok {
		return true
	}
	// past the cooldown the next call is a trial
	return !m.now().Before(st.openUntil)
}

func (m *Memory) RetryAt(_ context.Context, key string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[key]
	if !ok || !m.now().Before(st.openUntil) {
		return time.Time{}
	}
	return st.openUntil
}

func (m *Memory) Success(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.state[key]; ok && st.failures >= m.opts.Threshold {
		log.Info().Str("key", key).Msg("circuit breaker CLOSED (reset)")
	}
	delete(m.state, key)
}

func (m *Memory) Failure(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[key]
	if !ok {
		st = &memState{}
		m.state[key] = st
	}
	st.failures++
	if st.failures < m.opts.Threshold {
		return
	}
	cooldown := m.opts.backoff(st.failures)
	st.openUntil = m.now().Add(cooldown)
	log.Warn().
		Str("key", key).
		Int("failures", st.failures).
		Dur("cooldown", cooldown).
		Time("retry_at", st.openUntil).
		Msg("circuit breaker OPENED")
}

// Nop never opens.
type Nop struct{}

func (Nop) Allow(context.Context, string) bool { return true }
func (Nop) Success(context.Context, string)    {}
func (Nop) Failure(context.Context, string)    {}

func (Nop) RetryAt(context.Context, string) time.Time { return time.Time{} }
