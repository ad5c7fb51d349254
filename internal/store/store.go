// Package store persists series with optimistic concurrency.
//
// Every stored series carries a revision. Update and Delete must present
// the revision they read; a mismatch fails with ErrConflict and the caller
// decides whether to re-read.
package store

import (
	"context"
	"errors"

	"evcal/internal/model"
)

var (
	ErrNotFound      = errors.New("series not found")
	ErrConflict      = errors.New("series was modified concurrently")
	ErrAlreadyExists = errors.New("series already exists")
)

type Store interface {
	Get(ctx context.Context, uid string) (model.Series, error)
	// Create stores a new series at revision 1.
	Create(ctx context.Context, s model.Series) (model.Series, error)
	// Update replaces the series if s.Revision matches the stored one and
	// returns it with the next revision.
	Update(ctx context.Context, s model.Series) (model.Series, error)
	// Delete removes the series. A zero revision skips the check.
	Delete(ctx context.Context, uid string, revision int64) error
	// List returns every series ordered by uid.
	List(ctx context.Context) ([]model.Series, error)
}

func checkUID(uid string) error {
	if uid == "" {
		return model.NewValidationError(model.ErrMissingIdentifier, "uid", "series has no uid")
	}
	return nil
}
