package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/app/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	flowinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/flow/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/memory"
)

var graph = json.RawMessage(`{"nodes":[{"id":"start"}]}`)

type failingStore struct {
	app.Store
	createErr error
}

func (f *failingStore) Create(ctx context.Context, a app.App) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.Store.Create(ctx, a)
}

func newService(t *testing.T, store app.Store, flows *flowinmem.Engine, opts ...func(*app.Options)) *app.Service {
	t.Helper()
	o := app.Options{Store: store, Flows: flows}
	for _, fn := range opts {
		fn(&o)
	}
	svc, err := app.NewService(o)
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := app.NewService(app.Options{Flows: flowinmem.New()})
	require.Error(t, err)
	_, err = app.NewService(app.Options{Store: inmem.New()})
	require.Error(t, err)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	flows := flowinmem.New()
	svc := newService(t, inmem.New(), flows)

	a, err := svc.Create(ctx, app.CreateRequest{Name: "travel", Graph: graph, Memory: memory.Config{Type: memory.ByConversationTurn}})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.Equal(t, app.InitialVersion, a.Version)
	require.Equal(t, app.StatusDraft, a.Status)
	require.NotEmpty(t, a.FlowDefinitionID)
	require.Equal(t, 1, flows.DefinitionCount())

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.Name, got.Name)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	flows := flowinmem.New()
	svc := newService(t, inmem.New(), flows)

	cases := map[string]app.CreateRequest{
		"empty name":   {Graph: graph},
		"no graph":     {Name: "n"},
		"bad graph":    {Name: "n", Graph: json.RawMessage(`{`)},
		"bad memory":   {Name: "n", Graph: graph, Memory: memory.Config{Type: "nope"}},
		"long summary": {Name: "n", Graph: graph, Description: strings.Repeat("d", app.MaxDescriptionLength+1)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, req)
			require.ErrorIs(t, err, apperr.InvalidParam)
		})
	}
	require.Zero(t, flows.DefinitionCount())
}

func TestCreateFlowFailure(t *testing.T) {
	flows := flowinmem.New()
	flows.FailOn(flowinmem.OpCreate, errors.New("engine down"))
	svc := newService(t, inmem.New(), flows)

	_, err := svc.Create(context.Background(), app.CreateRequest{Name: "n", Graph: graph})
	require.Equal(t, apperr.CodeFlowCreateFailed, apperr.CodeOf(err))
}

func TestCreateRollsBackDefinition(t *testing.T) {
	flows := flowinmem.New()
	store := &failingStore{Store: inmem.New(), createErr: errors.New("db down")}
	svc := newService(t, store, flows)

	_, err := svc.Create(context.Background(), app.CreateRequest{Name: "n", Graph: graph})
	require.Equal(t, apperr.CodeDownstream, apperr.CodeOf(err))
	require.Zero(t, flows.DefinitionCount())
}

func TestCreateRollbackFailureKeepsInsertError(t *testing.T) {
	flows := flowinmem.New()
	flows.FailOn(flowinmem.OpDelete, errors.New("cleanup failed"))
	store := &failingStore{Store: inmem.New(), createErr: app.ErrDuplicateName}
	svc := newService(t, store, flows)

	_, err := svc.Create(context.Background(), app.CreateRequest{Name: "n", Graph: graph})
	require.ErrorIs(t, err, apperr.DuplicateName)
	require.ErrorIs(t, err, app.ErrDuplicateName)
	require.Equal(t, 1, flows.DefinitionCount())
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, inmem.New(), flowinmem.New())
	a, err := svc.Create(ctx, app.CreateRequest{Name: "n", Graph: graph})
	require.NoError(t, err)

	name := "renamed"
	up, err := svc.Update(ctx, app.UpdateRequest{ID: a.ID, Name: &name, Graph: json.RawMessage(`{"nodes":[]}`)})
	require.NoError(t, err)
	require.Equal(t, "renamed", up.Name)

	empty := ""
	_, err = svc.Update(ctx, app.UpdateRequest{ID: a.ID, Name: &empty})
	require.ErrorIs(t, err, apperr.InvalidParam)

	_, err = svc.Update(ctx, app.UpdateRequest{ID: "missing", Name: &name})
	require.ErrorIs(t, err, apperr.NotFound)
}

func TestUpdatePublishedForbidden(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, inmem.New(), flowinmem.New())
	a, err := svc.Create(ctx, app.CreateRequest{Name: "n", Graph: graph})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, a.ID, "1.0.0")
	require.NoError(t, err)

	desc := "changed"
	_, err = svc.Update(ctx, app.UpdateRequest{ID: a.ID, Description: &desc})
	require.ErrorIs(t, err, apperr.ForbiddenState)
}

func TestPublishVersioning(t *testing.T) {
	ctx := context.Background()
	flows := flowinmem.New()
	svc := newService(t, inmem.New(), flows)
	a, err := svc.Create(ctx, app.CreateRequest{Name: "n", Graph: graph})
	require.NoError(t, err)

	_, err = svc.Publish(ctx, a.ID, "1.0")
	require.Equal(t, apperr.CodeVersionConflict, apperr.CodeOf(err))

	_, err = svc.Publish(ctx, a.ID, "0.9.0")
	require.Equal(t, apperr.CodeVersionConflict, apperr.CodeOf(err))

	pub, err := svc.Publish(ctx, a.ID, "1.0.0")
	require.NoError(t, err)
	require.Equal(t, app.StatusPublished, pub.Status)

	_, err = svc.Publish(ctx, a.ID, "1.0.0")
	require.Equal(t, apperr.CodeVersionConflict, apperr.CodeOf(err))

	pub, err = svc.Publish(ctx, a.ID, "1.1.0")
	require.NoError(t, err)
	require.Equal(t, "1.1.0", pub.Version)

	flows.FailOn(flowinmem.OpPublish, errors.New("engine down"))
	_, err = svc.Publish(ctx, a.ID, "2.0.0")
	require.Equal(t, apperr.CodePublishFailed, apperr.CodeOf(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	flows := flowinmem.New()
	svc := newService(t, inmem.New(), flows)
	a, err := svc.Create(ctx, app.CreateRequest{Name: "n", Graph: graph})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, a.ID))
	require.Zero(t, flows.DefinitionCount())
	require.ErrorIs(t, svc.Delete(ctx, a.ID), apperr.NotFound)
}

// sequence returns a generator that yields the given suffixes in order.
func sequence(values ...string) func() string {
	i := 0
	return func() string {
		v := values[i%len(values)]
		i++
		return v
	}
}

func TestPreviewRetriesCollisions(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	flows := flowinmem.New()
	svc := newService(t, store, flows, func(o *app.Options) {
		o.Suffix = sequence("s0", "s1", "s2", "s3", "s4", "s5")
	})
	base, err := svc.Create(ctx, app.CreateRequest{Name: "n", Graph: graph})
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, store.Create(ctx, app.App{ID: fmt.Sprintf("taken-%d", i), Name: "n", Version: fmt.Sprintf("1.0.0-preview-s%d", i)}))
	}

	p, err := svc.Preview(ctx, base.ID)
	require.NoError(t, err)
	require.Equal(t, "1.0.0-preview-s5", p.Version)
	require.Equal(t, base.ID, p.PreviewOf)
	require.NotEqual(t, base.FlowDefinitionID, p.FlowDefinitionID)
	require.Equal(t, 2, flows.DefinitionCount())
}

func TestPreviewExhausted(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	flows := flowinmem.New()
	svc := newService(t, store, flows, func(o *app.Options) {
		o.UniqueBudget = 2
		o.Suffix = sequence("a", "b")
	})
	base, err := svc.Create(ctx, app.CreateRequest{Name: "n", Graph: graph})
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, app.App{ID: "x", Name: "n", Version: "1.0.0-preview-a"}))
	require.NoError(t, store.Create(ctx, app.App{ID: "y", Name: "n", Version: "1.0.0-preview-b"}))

	_, err = svc.Preview(ctx, base.ID)
	require.ErrorIs(t, err, apperr.DuplicateName)
	require.Equal(t, 1, flows.DefinitionCount())
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	svc := newService(t, store, flowinmem.New(), func(o *app.Options) {
		o.Suffix = sequence("aa", "bb")
	})
	base, err := svc.Create(ctx, app.CreateRequest{Name: "n", Graph: graph})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, base.ID, "2.0.0")
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, app.App{ID: "x", Name: "n-aa", Version: app.InitialVersion}))

	c, err := svc.Copy(ctx, base.ID)
	require.NoError(t, err)
	require.Equal(t, "n-bb", c.Name)
	require.Equal(t, app.InitialVersion, c.Version)
	require.Equal(t, app.StatusDraft, c.Status)
}

func TestCopyTrimsLongNames(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, inmem.New(), flowinmem.New(), func(o *app.Options) {
		o.Suffix = sequence("abcdef")
	})
	long := strings.Repeat("y", app.MaxNameLength)
	base, err := svc.Create(ctx, app.CreateRequest{Name: long, Graph: graph})
	require.NoError(t, err)

	c, err := svc.Copy(ctx, base.ID)
	require.NoError(t, err)
	require.NoError(t, app.ValidateName(c.Name))
	require.Len(t, []rune(c.Name), app.MaxNameLength)
}
