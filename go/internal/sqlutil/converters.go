package sqlutil

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Helper functions for converting between Go types and sql.Null* types

// ToSqlInt32 converts a Go int pointer to sql.NullInt32
func ToSqlInt32(val *int) sql.NullInt32 {
	if val == nil {
		return sql.NullInt32{Valid: false}
	}
	return sql.NullInt32{Int32: int32(*val), Valid: true}
}

// FromSqlInt32 converts sql.NullInt32 to Go int pointer
func FromSqlInt32(val sql.NullInt32) *int {
	if !val.Valid {
		return nil
	}
	i := int(val.Int32)
	return &i
}

// ToSqlString converts a Go string pointer to sql.NullString
func ToSqlString(val *string) sql.NullString {
	if val == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *val, Valid: true}
}

// FromSqlStringPtr converts sql.NullString to Go string pointer
func FromSqlStringPtr(val sql.NullString) *string {
	if !val.Valid {
		return nil
	}
	s := val.String
	return &s
}

// ToNullUUID converts a Go UUID pointer to uuid.NullUUID
func ToNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{Valid: false}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// FromNullUUID converts uuid.NullUUID to Go UUID pointer
func FromNullUUID(val uuid.NullUUID) *uuid.UUID {
	if !val.Valid {
		return nil
	}
	id := val.UUID
	return &id
}

// FromSqlTime converts sql.NullTime to Go time pointer
func FromSqlTime(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time
	return &t
}

// ToNullRawJSON marshals v into a JSONB value. A nil v maps to SQL NULL.
func ToNullRawJSON[T any](v *T) (pqtype.NullRawMessage, error) {
	if v == nil {
		return pqtype.NullRawMessage{Valid: false}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

// FromNullRawJSON unmarshals a JSONB value. SQL NULL maps to nil.
func FromNullRawJSON[T any](val pqtype.NullRawMessage) (*T, error) {
	if !val.Valid || len(val.RawMessage) == 0 {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(val.RawMessage, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal json column: %w", err)
	}
	return &out, nil
}
