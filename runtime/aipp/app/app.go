// Package app manages AIPP application definitions: their metadata, the flow
// graph each app executes, and the versions under which apps are published.
package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/memory"
)

type (
	// Status is the publication state of an app.
	Status string

	// App is an application definition.
	App struct {
		ID          string
		Name        string
		Description string
		// Version is the current semantic version. Preview copies use
		// "<version>-preview-<suffix>".
		Version string
		Status  Status
		// FlowDefinitionID identifies the flow graph in the flow engine.
		FlowDefinitionID string
		Memory           memory.Config
		// PreviewOf is the ID of the app a preview copy was made from.
		PreviewOf string
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Filter selects apps in List.
	Filter struct {
		// NameContains matches apps whose name contains the value.
		NameContains string
		// Status restricts results to one status when set.
		Status Status
		// IncludePreview includes preview copies.
		IncludePreview bool
		Limit          int
		Offset         int
	}

	// Store persists apps. The pair (Name, Version) is unique.
	Store interface {
		// Create inserts a. It returns ErrDuplicateName when another app
		// has the same name and version.
		Create(ctx context.Context, a App) error
		Get(ctx context.Context, id string) (App, error)
		// Update replaces a stored app. It returns ErrDuplicateName when the
		// new name collides.
		Update(ctx context.Context, a App) error
		Delete(ctx context.Context, id string) error
		// List returns apps matching f, most recently updated first.
		List(ctx context.Context, f Filter) ([]App, error)
	}
)

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

const (
	// MaxNameLength is the maximum app name length in runes.
	MaxNameLength = 64
	// MaxDescriptionLength is the maximum description length in runes.
	MaxDescriptionLength = 300
	// InitialVersion is the version of newly created apps.
	InitialVersion = "1.0.0"
)

var (
	// ErrNotFound is returned for unknown app IDs.
	ErrNotFound = errors.New("app not found")
	// ErrDuplicateName is returned when an app name and version pair is
	// already taken.
	ErrDuplicateName = errors.New("app name already exists")

	versionPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)$`)
)

// ValidateName checks the app name length.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxNameLength {
		return fmt.Errorf("app name must be 1 to %d characters", MaxNameLength)
	}
	return nil
}

// ValidateDescription checks the description length.
func ValidateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return fmt.Errorf("app description must be at most %d characters", MaxDescriptionLength)
	}
	return nil
}

// Version is a parsed MAJOR.MINOR.PATCH version.
type Version [3]int

// ParseVersion parses s. It accepts only MAJOR.MINOR.PATCH without leading
// zeros.
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("version %q must be MAJOR.MINOR.PATCH", s)
	}
	var v Version
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Version{}, fmt.Errorf("version %q: %w", s, err)
		}
		v[i] = n
	}
	return v, nil
}

// Compare returns -1, 0 or 1 as v is lower than, equal to or greater than o.
func (v Version) Compare(o Version) int {
	for i := range v {
		switch {
		case v[i] < o[i]:
			return -1
		case v[i] > o[i]:
			return 1
		}
	}
	return 0
}

// String implements fmt.Stringer.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// Clone returns a copy of a that shares no mutable state.
func (a App) Clone() App {
	out := a
	if a.Memory.Params != nil {
		out.Memory.Params = make(map[string]any, len(a.Memory.Params))
		for k, v := range a.Memory.Params {
			out.Memory.Params[k] = v
		}
	}
	return out
}
