package governance

import (
	"fmt"
	"sync"
	"time"
)

// Limits configures the sliding-window and concurrency caps for an agent.
type Limits struct {
	PerMinute     int
	PerHour       int
	MaxConcurrent int
}

// DefaultLimits are applied to agents without an override.
var DefaultLimits = Limits{PerMinute: 60, PerHour: 1000, MaxConcurrent: 5}

type rateKey struct {
	agentID     string
	workspaceID string
}

type rateState struct {
	timestamps []time.Time
	concurrent int
}

// RateLimiter enforces request rates over sliding one-minute and one-hour
// windows, plus a concurrent execution cap. State is keyed per
// (agent, workspace), so the same agent gets an independent window in every
// workspace; limit overrides are per agent.
type RateLimiter struct {
	mu        sync.Mutex
	defaults  Limits
	overrides map[string]Limits
	state     map[rateKey]*rateState
	now       func() time.Time
}

// NewRateLimiter creates a limiter with the given defaults.
func NewRateLimiter(defaults Limits) *RateLimiter {
	return &RateLimiter{
		defaults:  defaults,
		overrides: make(map[string]Limits),
		state:     make(map[rateKey]*rateState),
		now:       time.Now,
	}
}

// SetLimits installs a per-agent override.
func (l *RateLimiter) SetLimits(agentID string, limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[agentID] = limits
}

func (l *RateLimiter) limitsFor(agentID string) Limits {
	if lim, ok := l.overrides[agentID]; ok {
		return lim
	}
	return l.defaults
}

func (l *RateLimiter) stateFor(agentID, workspaceID string) *rateState {
	key := rateKey{agentID, workspaceID}
	st := l.state[key]
	if st == nil {
		st = &rateState{}
		l.state[key] = st
	}
	return st
}

// Check reports whether the agent may start another execution in the
// workspace. Windows are tested minute first, then hour, then the
// concurrency cap; the first exceeded limit produces the violation. Check
// never mutates counters.
func (l *RateLimiter) Check(agentID, workspaceID string) *Violation {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	limits := l.limitsFor(agentID)
	st := l.stateFor(agentID, workspaceID)
	l.prune(st, now)

	if v := checkWindow(st.timestamps, now, time.Minute, limits.PerMinute, "minute"); v != nil {
		return v
	}
	if v := checkWindow(st.timestamps, now, time.Hour, limits.PerHour, "hour"); v != nil {
		return v
	}
	if limits.MaxConcurrent > 0 && st.concurrent >= limits.MaxConcurrent {
		return &Violation{
			Code:         CodeRateLimitExceeded,
			Message:      fmt.Sprintf("concurrent executions at cap %d", limits.MaxConcurrent),
			Severity:     SeverityError,
			Field:        "concurrency",
			RetryAfterMs: 1000,
			Data: map[string]any{
				"count": st.concurrent,
				"limit": limits.MaxConcurrent,
			},
		}
	}
	return nil
}

func checkWindow(timestamps []time.Time, now time.Time, window time.Duration, limit int, windowType string) *Violation {
	if limit <= 0 {
		return nil
	}
	cutoff := now.Add(-window)
	count := 0
	var oldest time.Time
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			if count == 0 {
				oldest = ts
			}
			count++
		}
	}
	if count < limit {
		return nil
	}
	retryAfter := oldest.Add(window).Sub(now).Milliseconds()
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Violation{
		Code:         CodeRateLimitExceeded,
		Message:      fmt.Sprintf("%s limit of %d reached", windowType, limit),
		Severity:     SeverityError,
		Field:        windowType,
		RetryAfterMs: retryAfter,
		Data: map[string]any{
			"count": count,
			"limit": limit,
		},
	}
}

// Record counts the start of an execution.
func (l *RateLimiter) Record(agentID, workspaceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateFor(agentID, workspaceID)
	now := l.now()
	l.prune(st, now)
	st.timestamps = append(st.timestamps, now)
	st.concurrent++
}

// Release counts the end of an execution. The concurrency counter never
// goes below zero.
func (l *RateLimiter) Release(agentID, workspaceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st := l.state[rateKey{agentID, workspaceID}]; st != nil {
		st.concurrent--
		if st.concurrent < 0 {
			st.concurrent = 0
		}
	}
}

// prune drops timestamps older than the hour window; nothing consults them
// after that.
func (l *RateLimiter) prune(st *rateState, now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := st.timestamps[:0]
	for _, ts := range st.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.timestamps = kept
}
