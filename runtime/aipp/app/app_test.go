package app

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("Travel assistant"))
	require.NoError(t, ValidateName(strings.Repeat("界", MaxNameLength)))
	require.Error(t, ValidateName(""))
	require.Error(t, ValidateName(strings.Repeat("a", MaxNameLength+1)))
}

func TestValidateDescription(t *testing.T) {
	require.NoError(t, ValidateDescription(""))
	require.Error(t, ValidateDescription(strings.Repeat("d", MaxDescriptionLength+1)))
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.10.3")
	require.NoError(t, err)
	require.Equal(t, Version{1, 10, 3}, v)
	require.Equal(t, "1.10.3", v.String())

	for _, bad := range []string{"", "1", "1.0", "v1.0.0", "1.0.0-preview-abc", "01.0.0", "1.0.0.0"} {
		_, err := ParseVersion(bad)
		require.Error(t, err, bad)
	}
}

func TestVersionCompare(t *testing.T) {
	require.Equal(t, 1, Version{1, 10, 0}.Compare(Version{1, 9, 9}))
	require.Equal(t, -1, Version{0, 0, 1}.Compare(Version{0, 1, 0}))
	require.Equal(t, 0, Version{2, 0, 0}.Compare(Version{2, 0, 0}))
}

func TestVersionRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("String and ParseVersion agree", prop.ForAll(
		func(a, b, c int) bool {
			v := Version{a, b, c}
			parsed, err := ParseVersion(v.String())
			return err == nil && parsed == v && parsed.Compare(v) == 0
		},
		gen.IntRange(0, 1000), gen.IntRange(0, 1000), gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
