package sshterminal

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/logutil"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttemptsPerMinute = 10
	DefaultMaxConsecFailures    = 5
	DefaultBlockDuration        = 5 * time.Minute
)

// sweepThreshold is the tracked-target count above which idle targets are
// forgotten.
const sweepThreshold = 1024

// RateLimitConfig configures a ConnectLimiter.
type RateLimitConfig struct {
	MaxAttemptsPerMinute int
	MaxConsecFailures    int
	BlockDuration        time.Duration
}

// DefaultRateLimitConfig returns the default limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttemptsPerMinute: DefaultMaxAttemptsPerMinute,
		MaxConsecFailures:    DefaultMaxConsecFailures,
		BlockDuration:        DefaultBlockDuration,
	}
}

type targetState struct {
	bucket   *rate.Limiter
	failures int
	blocked  time.Time
}

// ConnectLimiter guards each target ("user@host:port") two ways: a token
// bucket refilling MaxAttemptsPerMinute per minute, and a block of
// BlockDuration once MaxConsecFailures connects have failed in a row.
type ConnectLimiter struct {
	mu      sync.Mutex
	config  RateLimitConfig
	targets map[string]*targetState
	nowFn   func() time.Time
}

// NewConnectLimiter creates a limiter. Zero fields take the defaults.
func NewConnectLimiter(config RateLimitConfig) *ConnectLimiter {
	def := DefaultRateLimitConfig()
	if config.MaxAttemptsPerMinute <= 0 {
		config.MaxAttemptsPerMinute = def.MaxAttemptsPerMinute
	}
	if config.MaxConsecFailures <= 0 {
		config.MaxConsecFailures = def.MaxConsecFailures
	}
	if config.BlockDuration <= 0 {
		config.BlockDuration = def.BlockDuration
	}
	return &ConnectLimiter{
		config:  config,
		targets: make(map[string]*targetState),
		nowFn:   time.Now,
	}
}

// Allow spends one attempt for target. It returns an error wrapping
// ErrRateLimited if the target is blocked or its bucket is empty.
func (l *ConnectLimiter) Allow(target string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	st := l.target(target, now)
	name := logutil.SanitizeForLog(target)

	if now.Before(st.blocked) {
		wait := st.blocked.Sub(now).Truncate(time.Second)
		log.Printf("[ssh] connect to %s refused: blocked for another %s", name, wait)
		return fmt.Errorf("%w: %s blocked after %d failed connects, retry in %s", ErrRateLimited, name, st.failures, wait)
	}
	if !st.bucket.AllowN(now, 1) {
		log.Printf("[ssh] connect to %s refused: over %d attempts/min", name, l.config.MaxAttemptsPerMinute)
		return fmt.Errorf("%w: more than %d connects to %s per minute", ErrRateLimited, l.config.MaxAttemptsPerMinute, name)
	}
	return nil
}

// RecordSuccess clears the failure streak and any block on target.
func (l *ConnectLimiter) RecordSuccess(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.target(target, l.nowFn())
	st.failures = 0
	st.blocked = time.Time{}
}

// RecordFailure extends the failure streak on target and blocks it when the
// streak reaches MaxConsecFailures.
func (l *ConnectLimiter) RecordFailure(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	st := l.target(target, now)
	st.failures++
	if st.failures >= l.config.MaxConsecFailures {
		st.blocked = now.Add(l.config.BlockDuration)
		log.Printf("[ssh] blocking connects to %s until %s after %d failures",
			logutil.SanitizeForLog(target), st.blocked.Format(time.RFC3339), st.failures)
	}
}

// target returns the state for name, creating it on first use.
func (l *ConnectLimiter) target(name string, now time.Time) *targetState {
	if st, ok := l.targets[name]; ok {
		return st
	}
	if len(l.targets) >= sweepThreshold {
		l.sweep(now)
	}
	perMinute := l.config.MaxAttemptsPerMinute
	st := &targetState{
		bucket: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
	l.targets[name] = st
	return st
}

// sweep forgets targets with a full bucket, no failure streak and no block.
func (l *ConnectLimiter) sweep(now time.Time) {
	full := float64(l.config.MaxAttemptsPerMinute)
	for name, st := range l.targets {
		if st.failures == 0 && !now.Before(st.blocked) && st.bucket.TokensAt(now) >= full {
			delete(l.targets, name)
		}
	}
}
