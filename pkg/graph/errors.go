package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/models"
)

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// classify maps driver errors onto the domain taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrMissingReference) || errors.Is(err, models.ErrInvalidInput) {
		return err
	}

	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Code == constraintViolation {
		return fmt.Errorf("%s: %w", neoErr.Msg, models.ErrDuplicateFact)
	}
	if neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("graph store: %v: %w", err, models.ErrStoreUnavailable)
	}
	return err
}
