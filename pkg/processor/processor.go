// Package processor turns Kafka messages into graph projections and feed fan-outs.
// Canonical-store changes arrive as Debezium CDC; new content arrives as
// content.created events.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

// settle applies the error policy shared by every handler. Unprocessable or
// out-of-order input is logged and committed; reconciliation heals what it
// leaves behind. Transient failures are returned so the message is redelivered.
func settle(ctx context.Context, logger ectologger.Logger, fields map[string]any, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, models.ErrDuplicateFact):
		return nil
	case errors.Is(err, models.ErrMissingReference),
		errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrInvalidInput):
		logger.WithContext(ctx).WithError(err).WithFields(fields).Warn("Skipping change")
		return nil
	}
	return err
}

// epochDaysLimit separates Debezium DATE columns (days since epoch) from
// timestamps (millis or micros).
const epochDaysLimit = 1_000_000

// cdcRow converts a row image into the shape the canonical table bindings
// expect. Timestamp and date columns become time.Time.
func cdcRow(row kafka.Row) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(row))
	for col, v := range row {
		out[col] = v
		if !strings.HasSuffix(col, "_at") && !strings.HasSuffix(col, "_date") {
			continue
		}
		if n, ok := v.(json.Number); ok && strings.HasSuffix(col, "_date") {
			if days, err := n.Int64(); err == nil && days < epochDaysLimit {
				out[col] = time.Unix(0, 0).UTC().AddDate(0, 0, int(days))
				continue
			}
		}
		if t := row.Time(col); !t.IsZero() {
			out[col] = t
		}
	}
	return out
}
