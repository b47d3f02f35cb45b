package store

import (
	"errors"

	"github.com/cenkalti/backoff/v4"
)

// backoffPermanent marks err as non-retryable so resilience.Retry's
// underlying backoff loop stops on the first attempt — used for validation
// failures (conflict, missing dependency) that retrying can never fix.
func backoffPermanent(err error) error {
	return backoff.Permanent(err)
}

// unwrapPermanent undoes backoffPermanent's wrapping so callers see the
// original sentinel-wrapped error instead of *backoff.PermanentError.
func unwrapPermanent(err error) error {
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
