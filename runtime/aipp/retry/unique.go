package retry

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// DefaultUniqueBudget is the number of attempts made by UntilUnique when the
// caller passes a non-positive budget.
const DefaultUniqueBudget = 10

// maxRegenerations bounds how many times a generator may return an already
// used suffix before UntilUnique gives up.
const maxRegenerations = 16

// ErrSuffixExhausted is returned when the generator keeps producing suffixes
// that were already tried.
var ErrSuffixExhausted = errors.New("suffix generator produced no new value")

type (
	// Outcome classifies the result of UntilUnique.
	Outcome int

	// UniqueResult reports the outcome of UntilUnique. On success Value holds
	// the attempt's return value and Suffix the suffix that produced it.
	UniqueResult[T any] struct {
		Outcome Outcome
		Value   T
		Suffix  string
		// Tried lists every suffix attempted, in order. Suffixes are distinct.
		Tried []string
		// LastCollision is the collision error returned by the final failed
		// attempt when Outcome is Exhausted.
		LastCollision error
	}

	// Generator returns a candidate suffix.
	Generator func() string

	// Attempt performs the operation with the given suffix.
	Attempt[T any] func(ctx context.Context, suffix string) (T, error)
)

const (
	// Succeeded means one attempt returned without error.
	Succeeded Outcome = iota + 1
	// Exhausted means every attempt within the budget collided.
	Exhausted
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Attempts returns the number of attempts made.
func (r UniqueResult[T]) Attempts() int {
	return len(r.Tried)
}

// Err returns an *ExhaustedError when the budget ran out and nil otherwise.
func (r UniqueResult[T]) Err() error {
	if r.Outcome != Exhausted {
		return nil
	}
	return &ExhaustedError{Attempts: len(r.Tried), LastError: r.LastCollision}
}

// UntilUnique calls attempt with fresh suffixes from gen until it succeeds or
// budget attempts have collided. isCollision classifies attempt errors: a
// collision consumes one unit of budget and triggers another attempt, any
// other error aborts the loop and is returned as is. A nil gen uses
// RandomSuffix(8).
//
// Running out of budget is not an error: the result carries Outcome
// Exhausted and callers decide how to surface it.
func UntilUnique[T any](ctx context.Context, budget int, gen Generator, attempt Attempt[T], isCollision func(error) bool) (UniqueResult[T], error) {
	if budget <= 0 {
		budget = DefaultUniqueBudget
	}
	if gen == nil {
		gen = func() string { return RandomSuffix(8) }
	}
	var res UniqueResult[T]
	seen := make(map[string]struct{}, budget)
	for len(res.Tried) < budget {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		suffix, ok := nextSuffix(gen, seen)
		if !ok {
			return res, ErrSuffixExhausted
		}
		res.Tried = append(res.Tried, suffix)
		v, err := attempt(ctx, suffix)
		if err == nil {
			res.Outcome = Succeeded
			res.Value = v
			res.Suffix = suffix
			return res, nil
		}
		if !isCollision(err) {
			return res, err
		}
		res.LastCollision = err
	}
	res.Outcome = Exhausted
	return res, nil
}

func nextSuffix(gen Generator, seen map[string]struct{}) (string, bool) {
	for range maxRegenerations {
		s := gen()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		return s, true
	}
	return "", false
}

// RandomSuffix returns n lowercase hex characters drawn from a random UUID.
// n is clamped to [1, 32].
func RandomSuffix(n int) string {
	n = max(1, min(n, 32))
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
