package kafka

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// DebeziumEnvelope is the Debezium CDC message with schemas enabled.
type DebeziumEnvelope struct {
	Schema  json.RawMessage `json:"schema,omitempty"`
	Payload DebeziumPayload `json:"payload"`
}

// DebeziumPayload carries the before/after images of one row change.
type DebeziumPayload struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Source DebeziumSource  `json:"source"`
	Op     string          `json:"op"` // c=create, u=update, d=delete, r=read (snapshot)
	TsMs   int64           `json:"ts_ms"`
}

type DebeziumSource struct {
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	Snapshot  string `json:"snapshot,omitempty"`
	Db        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	TxId      int64  `json:"txId,omitempty"`
	Lsn       int64  `json:"lsn,omitempty"`
}

// IsUpsert covers create, update and snapshot reads.
func (p *DebeziumPayload) IsUpsert() bool {
	return p.Op == "c" || p.Op == "r" || p.Op == "u"
}

func (p *DebeziumPayload) IsDelete() bool {
	return p.Op == "d"
}

func (p *DebeziumPayload) Timestamp() time.Time {
	return time.UnixMilli(p.TsMs).UTC()
}

// Row is a decoded row image. Numbers are kept as json.Number.
type Row map[string]any

// ParseDebeziumMessage accepts both the schema-wrapped and the bare payload form.
func ParseDebeziumMessage(data []byte) (*DebeziumPayload, error) {
	var envelope DebeziumEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed debezium message: %w", models.ErrInvalidInput)
	}
	if envelope.Payload.Op != "" {
		return &envelope.Payload, nil
	}

	var bare DebeziumPayload
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("malformed debezium payload: %w", models.ErrInvalidInput)
	}
	if bare.Op == "" {
		return nil, fmt.Errorf("debezium message has no op: %w", models.ErrInvalidInput)
	}
	return &bare, nil
}

// AfterRow decodes the after image, nil on deletes.
func (p *DebeziumPayload) AfterRow() (Row, error) {
	return decodeRow(p.After)
}

// BeforeRow decodes the before image. Postgres only fills it with REPLICA IDENTITY FULL;
// otherwise it carries the primary key alone.
func (p *DebeziumPayload) BeforeRow() (Row, error) {
	return decodeRow(p.Before)
}

// CurrentRow returns the after image for upserts and the before image for deletes.
func (p *DebeziumPayload) CurrentRow() (Row, error) {
	if p.IsDelete() {
		return p.BeforeRow()
	}
	return p.AfterRow()
}

func decodeRow(raw json.RawMessage) (Row, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row Row
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("malformed row image: %w", models.ErrInvalidInput)
	}
	return row, nil
}

// String returns the column as a string, converting numbers.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "t"
	default:
		return false
	}
}

// Time parses a timestamp column. Debezium sends timestamps either as ISO strings
// or as epoch micros/millis depending on the connector's time.precision.mode.
func (r Row) Time(col string) time.Time {
	switch v := r[col].(type) {
	case string:
		return parseDebeziumTimestamp(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}
		}
		if n > 1e14 {
			return time.UnixMicro(n).UTC()
		}
		return time.UnixMilli(n).UTC()
	default:
		return time.Time{}
	}
}

func parseDebeziumTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999Z",
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
