package feedstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/Ramsey-B/fern/pkg/models"
)

// classify maps driver errors onto the shared taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gocql.ErrNotFound) {
		return fmt.Errorf("%w: %v", models.ErrNotFound, err)
	}
	if isUnavailable(err) {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return err
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gocql.ErrTimeoutNoResponse) ||
		errors.Is(err, gocql.ErrNoConnections) ||
		errors.Is(err, gocql.ErrConnectionClosed) ||
		errors.Is(err, gocql.ErrSessionClosed) ||
		errors.Is(err, gocql.ErrUnavailable) {
		return true
	}

	var writeTimeout *gocql.RequestErrWriteTimeout
	var readTimeout *gocql.RequestErrReadTimeout
	var unavailable *gocql.RequestErrUnavailable
	return errors.As(err, &writeTimeout) || errors.As(err, &readTimeout) || errors.As(err, &unavailable)
}
