// Package middleware provides model.Client middlewares. The adaptive rate
// limiter guards the model proxy against provider throttling.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/model"
)

type (
	// AdaptiveRateLimiter meters model requests against a tokens-per-minute
	// budget. The budget halves when the provider reports rate limiting and
	// grows by a fixed step after each success, within [10% of the initial
	// budget, max].
	//
	// One limiter serves every proxied request of a process. When built
	// over a replicated map the budget is shared by all API nodes.
	AdaptiveRateLimiter struct {
		mu      sync.Mutex
		limiter *rate.Limiter

		currentTPM   float64
		minTPM       float64
		maxTPM       float64
		recoveryRate float64

		// shared propagates local adjustments to the cluster budget.
		shared func(step adjustment)
	}

	// adjustment is the direction of a budget change.
	adjustment int

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}

	// clusterMap is the subset of rmap.Map used to share the budget.
	clusterMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}
)

const (
	decrease adjustment = iota
	increase
)

const (
	defaultTPM      = 60000
	floorRatio      = 0.1
	recoveryRatio   = 0.05
	promptOverhead  = 500
	charsPerToken   = 3
	sharedAttempts  = 3
	sharedOpTimeout = 2 * time.Second
)

// NewAdaptiveRateLimiter returns a limiter starting at initialTPM and
// capped at maxTPM. A nil m or empty key keeps the budget process-local.
func NewAdaptiveRateLimiter(ctx context.Context, m *rmap.Map, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if m == nil {
		return newClusterAdaptiveRateLimiter(ctx, nil, key, initialTPM, maxTPM)
	}
	return newClusterAdaptiveRateLimiter(ctx, m, key, initialTPM, maxTPM)
}

func newAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = defaultTPM
	}
	if maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(perSecond(initialTPM), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       max(initialTPM*floorRatio, 1),
		maxTPM:       maxTPM,
		recoveryRate: max(initialTPM*recoveryRatio, 1),
	}
}

// Middleware wraps a model.Client with the limiter. A nil client stays nil.
func (l *AdaptiveRateLimiter) Middleware() func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limitedClient{next: next, limiter: l}
	}
}

// CurrentTPM returns the effective tokens-per-minute budget.
func (l *AdaptiveRateLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

// Complete waits for budget, then delegates and adapts to the outcome.
func (c *limitedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	c.limiter.mu.Lock()
	lim := c.limiter.limiter
	c.limiter.mu.Unlock()
	if err := lim.WaitN(ctx, estimateTokens(req)); err != nil {
		return model.Response{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	switch {
	case err == nil:
		c.limiter.adjust(increase)
	case errors.Is(err, model.ErrRateLimited):
		c.limiter.adjust(decrease)
	}
	return resp, err
}

// adjust moves the local budget one step and propagates the change.
func (l *AdaptiveRateLimiter) adjust(step adjustment) {
	l.mu.Lock()
	next := l.currentTPM * 0.5
	if step == increase {
		next = l.currentTPM + l.recoveryRate
	}
	changed := l.setLocked(next)
	shared := l.shared
	l.mu.Unlock()

	if changed && shared != nil {
		shared(step)
	}
}

// replaceTPM adopts a budget observed in the cluster map.
func (l *AdaptiveRateLimiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	l.setLocked(tpm)
	l.mu.Unlock()
}

// setLocked clamps tpm and applies it to the token bucket. It reports
// whether the budget changed.
func (l *AdaptiveRateLimiter) setLocked(tpm float64) bool {
	tpm = min(max(tpm, l.minTPM), l.maxTPM)
	if tpm == l.currentTPM {
		return false
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(perSecond(tpm))
	l.limiter.SetBurst(int(tpm))
	return true
}

func perSecond(tpm float64) rate.Limit {
	return rate.Limit(tpm / 60)
}

// estimateTokens approximates the prompt size of req: one token per three
// characters of system and message text plus a fixed framing overhead.
func estimateTokens(req model.Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	if chars == 0 {
		return promptOverhead
	}
	return max(chars/charsPerToken, 1) + promptOverhead
}

func newClusterAdaptiveRateLimiter(ctx context.Context, m clusterMap, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if m == nil || key == "" {
		return newAdaptiveRateLimiter(initialTPM, maxTPM)
	}
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, formatTPM(initialTPM)); err != nil {
			// The shared budget is unusable; keep serving with a local one.
			return newAdaptiveRateLimiter(initialTPM, maxTPM)
		}
	}
	start := initialTPM
	if v, ok := readTPM(m, key); ok {
		start = v
	}
	l := newAdaptiveRateLimiter(start, maxTPM)

	floor, ceiling, step := l.minTPM, l.maxTPM, l.recoveryRate
	l.shared = func(dir adjustment) {
		next := func(cur float64) (float64, bool) {
			if dir == decrease {
				return max(cur*0.5, floor), true
			}
			if cur >= ceiling {
				return 0, false
			}
			return min(cur+step, ceiling), true
		}
		go updateShared(context.Background(), m, key, next)
	}

	events := m.Subscribe()
	go func() {
		for range events {
			if v, ok := readTPM(m, key); ok {
				l.replaceTPM(v)
			}
		}
	}()
	return l
}

// updateShared applies next to the shared budget with compare-and-swap,
// giving up after a few lost races.
func updateShared(ctx context.Context, m clusterMap, key string, next func(cur float64) (float64, bool)) {
	ctx, cancel := context.WithTimeout(ctx, sharedOpTimeout)
	defer cancel()

	for range sharedAttempts {
		raw, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(raw, 64)
		if err != nil || cur <= 0 {
			return
		}
		v, ok := next(cur)
		if !ok {
			return
		}
		prev, err := m.TestAndSet(ctx, key, raw, formatTPM(v))
		if err != nil || prev == raw {
			return
		}
	}
}

func readTPM(m clusterMap, key string) (float64, bool) {
	raw, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func formatTPM(v float64) string {
	return strconv.Itoa(int(v))
}
