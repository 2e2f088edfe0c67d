package jobs

import (
	"context"

	"github.com/cockroachdb/errors"

	"stayconnect/internal/catalog"
)

// systemic reports errors that will fail for every entity, so the run stops.
func systemic(err error) bool {
	return errors.Is(err, catalog.ErrCredentialsMissing) ||
		errors.Is(err, catalog.ErrAuthFailed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
