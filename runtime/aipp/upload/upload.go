// Package upload keeps bookkeeping records of files users attach to
// questions. File bytes live in external storage; only metadata is stored.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"
)

type (
	// File is the metadata of an uploaded file.
	File struct {
		ID          string
		AppID       string
		Name        string
		URL         string
		ContentType string
		Size        int64
		CreatedAt   time.Time
	}

	// Store persists file records.
	Store interface {
		Create(ctx context.Context, f File) (File, error)
		Get(ctx context.Context, id string) (File, error)
		ListByApp(ctx context.Context, appID string) ([]File, error)
		Delete(ctx context.Context, id string) error
	}
)

const (
	// MaxNameLength is the maximum file name length in runes.
	MaxNameLength = 255
	// MaxSize is the maximum accepted file size in bytes.
	MaxSize int64 = 100 << 20
)

// ErrNotFound is returned for unknown file IDs.
var ErrNotFound = errors.New("file not found")

// Validate checks the file metadata.
func (f File) Validate() error {
	if f.AppID == "" {
		return errors.New("app id is required")
	}
	n := utf8.RuneCountInString(f.Name)
	if n == 0 || n > MaxNameLength {
		return fmt.Errorf("file name must be 1 to %d characters", MaxNameLength)
	}
	if strings.ContainsAny(f.Name, `/\`) || f.Name == "." || f.Name == ".." {
		return errors.New("file name must not contain path separators")
	}
	if f.Size <= 0 || f.Size > MaxSize {
		return fmt.Errorf("file size must be between 1 and %d bytes", MaxSize)
	}
	if f.URL == "" {
		return errors.New("file url is required")
	}
	return nil
}

// Ext returns the lowercase extension of the file name without the dot.
func (f File) Ext() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(f.Name)), ".")
}
