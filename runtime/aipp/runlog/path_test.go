package runlog

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	p, err := ParsePath("/root-1/child-2")
	require.NoError(t, err)
	require.Equal(t, Path{"root-1", "child-2"}, p)
	root, ok := p.Root()
	require.True(t, ok)
	require.Equal(t, "root-1", root)

	for _, bad := range []string{"", "/", "root-1/child", "//a", "/a//b", "/a/"} {
		_, err := ParsePath(bad)
		require.ErrorIs(t, err, ErrMalformedPath, bad)
	}
}

func TestNewPath(t *testing.T) {
	require.Equal(t, Path{"root"}, NewPath(nil, "root"))
	parent := Path{"root"}
	child := NewPath(parent, "child")
	require.Equal(t, Path{"root", "child"}, child)
	child[0] = "mutated"
	require.Equal(t, Path{"root"}, parent)
}

func TestPathValid(t *testing.T) {
	require.True(t, Path{"a", "b"}.Valid())
	require.False(t, Path{}.Valid())
	require.False(t, Path{"a", ""}.Valid())
	require.False(t, Path{"a/b"}.Valid())
	require.Equal(t, "", Path(nil).String())
}

func TestPathRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("valid paths survive serialization", prop.ForAll(
		func(segs []string) bool {
			p := Path(segs)
			if !p.Valid() {
				return true
			}
			parsed, err := ParsePath(p.String())
			if err != nil || len(parsed) != len(p) {
				return false
			}
			for i := range p {
				if parsed[i] != p[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}

func TestDisplayable(t *testing.T) {
	for _, lt := range []LogType{TypeQuestion, TypeQuestionWithFile, TypeFile, TypeMessage, TypeMetaMessage, TypeForm, TypeError} {
		require.True(t, lt.Displayable(), lt)
		require.True(t, lt.Valid(), lt)
	}
	for _, lt := range []LogType{TypeHiddenMessage, TypeHiddenForm, TypeHiddenQuestion, ""} {
		require.False(t, lt.Displayable(), lt)
	}
	require.False(t, LogType("bogus").Valid())
}

func TestRecordTerminalAndClone(t *testing.T) {
	r := &Record{InstanceID: "i", Type: TypeMessage, Path: Path{"i"}, Payload: []byte(`{}`)}
	require.False(t, r.Terminal())
	r.Final = true
	require.True(t, r.Terminal())
	require.True(t, (&Record{Type: TypeError}).Terminal())

	c := r.Clone()
	c.Path[0] = "x"
	require.Equal(t, "i", r.Path[0])
}
