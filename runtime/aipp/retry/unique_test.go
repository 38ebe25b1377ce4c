package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

var errTaken = errors.New("name taken")

func isTaken(err error) bool { return errors.Is(err, errTaken) }

func TestUntilUniqueSucceedsAfterCollisions(t *testing.T) {
	const collisions = 5
	calls := 0
	res, err := UntilUnique(context.Background(), DefaultUniqueBudget, nil,
		func(_ context.Context, suffix string) (string, error) {
			calls++
			if calls <= collisions {
				return "", errTaken
			}
			return "1.0.0-preview-" + suffix, nil
		}, isTaken)
	require.NoError(t, err)
	require.Equal(t, Succeeded, res.Outcome)
	require.Equal(t, collisions+1, res.Attempts())
	require.LessOrEqual(t, res.Attempts(), DefaultUniqueBudget)
	require.Equal(t, "1.0.0-preview-"+res.Suffix, res.Value)

	seen := map[string]bool{}
	for _, s := range res.Tried {
		require.False(t, seen[s], "suffix %q reused", s)
		seen[s] = true
	}
	require.NoError(t, res.Err())
}

func TestUntilUniqueExhausted(t *testing.T) {
	res, err := UntilUnique(context.Background(), 3, nil,
		func(context.Context, string) (int, error) { return 0, errTaken }, isTaken)
	require.NoError(t, err)
	require.Equal(t, Exhausted, res.Outcome)
	require.Equal(t, 3, res.Attempts())
	var ex *ExhaustedError
	require.ErrorAs(t, res.Err(), &ex)
	require.Equal(t, 3, ex.Attempts)
	require.ErrorIs(t, res.Err(), errTaken)
}

func TestUntilUniqueAbortsOnOtherErrors(t *testing.T) {
	boom := errors.New("store down")
	res, err := UntilUnique(context.Background(), 5, nil,
		func(context.Context, string) (int, error) { return 0, boom }, isTaken)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, res.Attempts())
}

func TestUntilUniqueSkipsRepeatedSuffixes(t *testing.T) {
	seq := []string{"a", "a", "b", "b", "c"}
	i := 0
	gen := func() string {
		s := seq[i%len(seq)]
		i++
		return s
	}
	res, err := UntilUnique(context.Background(), 3, gen,
		func(context.Context, string) (int, error) { return 0, errTaken }, isTaken)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, res.Tried)
}

func TestUntilUniqueConstantGenerator(t *testing.T) {
	_, err := UntilUnique(context.Background(), 3, func() string { return "x" },
		func(context.Context, string) (int, error) { return 0, errTaken }, isTaken)
	require.ErrorIs(t, err, ErrSuffixExhausted)
}

func TestUntilUniqueCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := UntilUnique(ctx, 3, nil,
		func(context.Context, string) (int, error) { return 1, nil }, isTaken)
	require.ErrorIs(t, err, context.Canceled)
}

func TestUntilUniqueNeverExceedsBudget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("attempts are bounded by the budget", prop.ForAll(
		func(budget, collisions int) bool {
			calls := 0
			res, err := UntilUnique(context.Background(), budget, nil,
				func(_ context.Context, suffix string) (string, error) {
					calls++
					if calls <= collisions {
						return "", fmt.Errorf("attempt %d: %w", calls, errTaken)
					}
					return suffix, nil
				}, isTaken)
			if err != nil || res.Attempts() > budget || calls != res.Attempts() {
				return false
			}
			if collisions < budget {
				return res.Outcome == Succeeded && res.Attempts() == collisions+1
			}
			return res.Outcome == Exhausted && res.Attempts() == budget
		},
		gen.IntRange(1, 12),
		gen.IntRange(0, 15),
	))

	properties.TestingRun(t)
}

func TestRandomSuffix(t *testing.T) {
	require.Len(t, RandomSuffix(8), 8)
	require.Len(t, RandomSuffix(0), 1)
	require.Len(t, RandomSuffix(100), 32)
}
