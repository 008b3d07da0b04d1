package store

import (
	"context"

	errs "github.com/thnyheim/misp2bro/internal/errors"
)

// ChangeDetector decides whether an export differs from the previous run.
type ChangeDetector struct {
	store DigestStore
}

func NewChangeDetector(s DigestStore) *ChangeDetector {
	return &ChangeDetector{store: s}
}

// HasChanged reports whether digest differs from the stored one, and stores it
// when it does. Store failures are returned as digest_store errors; callers
// must not treat them as either answer.
func (c *ChangeDetector) HasChanged(ctx context.Context, digest string) (bool, error) {
	changed, err := c.Differs(ctx, digest)
	if err != nil || !changed {
		return false, err
	}
	if err := c.store.Save(ctx, digest); err != nil {
		return false, errs.Wrap(errs.StageDigestStore, c.store.Name(), err)
	}
	return true, nil
}

// Differs is HasChanged without the save.
func (c *ChangeDetector) Differs(ctx context.Context, digest string) (bool, error) {
	old, ok, err := c.store.Load(ctx)
	if err != nil {
		return false, errs.Wrap(errs.StageDigestStore, c.store.Name(), err)
	}
	return !ok || old != digest, nil
}
