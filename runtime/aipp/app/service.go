package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/apperr"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/flow"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/memory"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/retry"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/telemetry"
)

type (
	// Service implements app lifecycle operations on top of a Store and the
	// flow engine that holds each app's graph.
	Service struct {
		store  Store
		flows  flow.Engine
		logger telemetry.Logger
		budget int
		suffix retry.Generator
		now    func() time.Time
	}

	// Options configures a Service. Store and Flows are required.
	Options struct {
		Store Store
		Flows flow.Engine
		// UniqueBudget bounds the attempts made by Preview and Copy when
		// the generated name collides. Defaults to retry.DefaultUniqueBudget.
		UniqueBudget int
		// Suffix generates collision-avoiding suffixes. Defaults to
		// retry.RandomSuffix(6).
		Suffix    retry.Generator
		Telemetry telemetry.Bundle
	}

	// CreateRequest describes a new app.
	CreateRequest struct {
		Name        string
		Description string
		Graph       json.RawMessage
		Memory      memory.Config
	}

	// UpdateRequest carries the fields to change on a draft app. Nil fields
	// are left unchanged.
	UpdateRequest struct {
		ID          string
		Name        *string
		Description *string
		Graph       json.RawMessage
		Memory      *memory.Config
	}
)

// NewService returns a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("app store is required")
	}
	if opts.Flows == nil {
		return nil, errors.New("flow engine is required")
	}
	suffix := opts.Suffix
	if suffix == nil {
		suffix = func() string { return retry.RandomSuffix(6) }
	}
	return &Service{
		store:  opts.Store,
		flows:  opts.Flows,
		logger: opts.Telemetry.WithDefaults().Logger,
		budget: opts.UniqueBudget,
		suffix: suffix,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create validates req, stores its graph in the flow engine and inserts the
// app. When the insert fails the flow definition is deleted; a failed
// deletion is logged and does not mask the insert error.
func (s *Service) Create(ctx context.Context, req CreateRequest) (App, error) {
	if err := validateCreate(req); err != nil {
		return App{}, err
	}
	def, err := s.flows.CreateDefinition(ctx, flow.Definition{Version: InitialVersion, Graph: req.Graph})
	if err != nil {
		return App{}, apperr.Wrap(apperr.CodeFlowCreateFailed, err, "create flow definition")
	}
	now := s.now()
	a := App{
		ID:               uuid.NewString(),
		Name:             req.Name,
		Description:      req.Description,
		Version:          InitialVersion,
		Status:           StatusDraft,
		FlowDefinitionID: def.ID,
		Memory:           req.Memory,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		s.rollbackDefinition(ctx, def.ID)
		return App{}, storeError(err, a.Name)
	}
	s.logger.Info(ctx, "app created", "app_id", a.ID, "flow_definition_id", def.ID)
	return a, nil
}

// Get loads an app.
func (s *Service) Get(ctx context.Context, id string) (App, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return App{}, storeError(err, id)
	}
	return a, nil
}

// List returns the apps matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]App, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, apperr.New(apperr.CodeInvalidParam, "limit and offset must not be negative")
	}
	apps, err := s.store.List(ctx, f)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDownstream, err, "list apps")
	}
	return apps, nil
}

// Update changes a draft app. Published apps cannot be modified.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (App, error) {
	a, err := s.Get(ctx, req.ID)
	if err != nil {
		return App{}, err
	}
	if a.Status == StatusPublished {
		return App{}, apperr.New(apperr.CodeForbiddenState, "published app cannot be modified").With("app_id", a.ID)
	}
	if req.Name != nil {
		if err := ValidateName(*req.Name); err != nil {
			return App{}, apperr.New(apperr.CodeInvalidParam, "%v", err)
		}
		a.Name = *req.Name
	}
	if req.Description != nil {
		if err := ValidateDescription(*req.Description); err != nil {
			return App{}, apperr.New(apperr.CodeInvalidParam, "%v", err)
		}
		a.Description = *req.Description
	}
	if req.Memory != nil {
		if err := req.Memory.Validate(); err != nil {
			return App{}, apperr.New(apperr.CodeInvalidParam, "%v", err)
		}
		a.Memory = *req.Memory
	}
	if len(req.Graph) > 0 {
		def := flow.Definition{ID: a.FlowDefinitionID, Version: a.Version, Graph: req.Graph}
		if err := def.Validate(); err != nil {
			return App{}, apperr.New(apperr.CodeInvalidParam, "%v", err)
		}
		if err := s.flows.UpdateDefinition(ctx, def); err != nil {
			if errors.Is(err, flow.ErrPublished) {
				return App{}, apperr.Wrap(apperr.CodeForbiddenState, err, "flow definition is published")
			}
			return App{}, apperr.Wrap(apperr.CodeDownstream, err, "update flow definition")
		}
	}
	a.UpdatedAt = s.now()
	if err := s.store.Update(ctx, a); err != nil {
		return App{}, storeError(err, a.Name)
	}
	return a, nil
}

// Delete removes an app and its flow definition. The app is removed first;
// a failure to delete the definition is logged.
func (s *Service) Delete(ctx context.Context, id string) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return storeError(err, id)
	}
	s.rollbackDefinition(ctx, a.FlowDefinitionID)
	s.logger.Info(ctx, "app deleted", "app_id", id)
	return nil
}

// Publish publishes the app under version. version must be MAJOR.MINOR.PATCH
// and greater than the current version, except for the first publish of a
// draft which may reuse the initial version.
func (s *Service) Publish(ctx context.Context, id, version string) (App, error) {
	next, err := ParseVersion(version)
	if err != nil {
		return App{}, apperr.New(apperr.CodeVersionConflict, "%v", err).With("app_id", id)
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return App{}, err
	}
	if a.PreviewOf != "" {
		return App{}, apperr.New(apperr.CodeForbiddenState, "preview copies cannot be published").With("app_id", id)
	}
	cur, err := ParseVersion(a.Version)
	if err != nil {
		return App{}, apperr.Wrap(apperr.CodeUnknown, err, "stored app version")
	}
	cmp := next.Compare(cur)
	if cmp < 0 || (cmp == 0 && a.Status == StatusPublished) {
		return App{}, apperr.New(apperr.CodeVersionConflict, "version %s must be greater than %s", version, a.Version).With("app_id", id)
	}
	if err := s.flows.PublishDefinition(ctx, a.FlowDefinitionID, version); err != nil {
		return App{}, apperr.Wrap(apperr.CodePublishFailed, err, "publish flow definition")
	}
	a.Version = next.String()
	a.Status = StatusPublished
	a.UpdatedAt = s.now()
	if err := s.store.Update(ctx, a); err != nil {
		return App{}, storeError(err, a.Name)
	}
	s.logger.Info(ctx, "app published", "app_id", id, "version", a.Version)
	return a, nil
}

// Preview creates a runnable copy of the app under the version
// "<version>-preview-<suffix>", retrying with fresh suffixes on collisions.
func (s *Service) Preview(ctx context.Context, id string) (App, error) {
	base, err := s.Get(ctx, id)
	if err != nil {
		return App{}, err
	}
	return s.duplicate(ctx, base, "preview", func(a *App, suffix string) {
		a.Version = fmt.Sprintf("%s-preview-%s", base.Version, suffix)
		a.Status = StatusDraft
		a.PreviewOf = base.ID
	})
}

// Copy duplicates the app as a new draft named "<name>-<suffix>", retrying
// with fresh suffixes on collisions.
func (s *Service) Copy(ctx context.Context, id string) (App, error) {
	base, err := s.Get(ctx, id)
	if err != nil {
		return App{}, err
	}
	return s.duplicate(ctx, base, "copy", func(a *App, suffix string) {
		a.Name = copyName(base.Name, suffix)
		a.Version = InitialVersion
		a.Status = StatusDraft
		a.PreviewOf = ""
	})
}

// duplicate copies base's flow definition and inserts a new app shaped by
// mutate until the store accepts a name/version pair.
func (s *Service) duplicate(ctx context.Context, base App, kind string, mutate func(*App, string)) (App, error) {
	src, err := s.flows.GetDefinition(ctx, base.FlowDefinitionID)
	if err != nil {
		return App{}, apperr.Wrap(apperr.CodeDownstream, err, "load flow definition")
	}
	def, err := s.flows.CreateDefinition(ctx, flow.Definition{Version: base.Version, Graph: src.Graph})
	if err != nil {
		return App{}, apperr.Wrap(apperr.CodeFlowCreateFailed, err, "create flow definition")
	}
	res, err := retry.UntilUnique(ctx, s.budget, s.suffix, func(ctx context.Context, suffix string) (App, error) {
		now := s.now()
		a := base.Clone()
		a.ID = uuid.NewString()
		a.FlowDefinitionID = def.ID
		a.CreatedAt = now
		a.UpdatedAt = now
		mutate(&a, suffix)
		return a, s.store.Create(ctx, a)
	}, func(err error) bool { return errors.Is(err, ErrDuplicateName) })
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		s.rollbackDefinition(ctx, def.ID)
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			s.logger.Warn(ctx, "app name collisions exhausted", "app_id", base.ID, "kind", kind, "attempts", res.Attempts())
			return App{}, apperr.Wrap(apperr.CodeDuplicateName, err, "no unique %s name after %d attempts", kind, res.Attempts())
		}
		return App{}, storeError(err, base.Name)
	}
	if res.Attempts() > 1 {
		s.logger.Info(ctx, "app name collided", "app_id", base.ID, "kind", kind, "attempts", res.Attempts())
	}
	if kind == "preview" {
		if err := s.flows.PublishDefinition(ctx, def.ID, res.Value.Version); err != nil {
			s.logger.Warn(ctx, "preview flow publish failed", "app_id", res.Value.ID, "err", err)
		}
	}
	return res.Value, nil
}

func (s *Service) rollbackDefinition(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := s.flows.DeleteDefinition(ctx, id); err != nil && !errors.Is(err, flow.ErrNotFound) {
		s.logger.Error(ctx, "flow definition cleanup failed", "flow_definition_id", id, "err", err)
	}
}

func validateCreate(req CreateRequest) error {
	if err := ValidateName(req.Name); err != nil {
		return apperr.New(apperr.CodeInvalidParam, "%v", err)
	}
	if err := ValidateDescription(req.Description); err != nil {
		return apperr.New(apperr.CodeInvalidParam, "%v", err)
	}
	if err := (flow.Definition{Graph: req.Graph}).Validate(); err != nil {
		return apperr.New(apperr.CodeInvalidParam, "%v", err)
	}
	if err := req.Memory.Validate(); err != nil {
		return apperr.New(apperr.CodeInvalidParam, "%v", err)
	}
	return nil
}

// copyName appends suffix to name, trimming name so the result stays within
// MaxNameLength runes.
func copyName(name, suffix string) string {
	r := []rune(name)
	if keep := MaxNameLength - len(suffix) - 1; len(r) > keep {
		r = r[:keep]
	}
	return string(r) + "-" + suffix
}

func storeError(err error, ref string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, err, "app %s", ref)
	case errors.Is(err, ErrDuplicateName):
		return apperr.Wrap(apperr.CodeDuplicateName, err, "app name %q", ref)
	default:
		return apperr.Wrap(apperr.CodeDownstream, err, "app store")
	}
}
