package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
)

// legacyRow is one shared-table row read through to_jsonb, so optional columns can be
// looked up by name without knowing the legacy layout up front.
type legacyRow map[string]any

func decodeRow(raw []byte) (legacyRow, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row legacyRow
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("decode legacy row: %w", err)
	}
	return row, nil
}

// readRows collects every row of query, which must select a single jsonb column.
// Rows are fully read before returning so the connection is free for writes.
func readRows(ctx context.Context, q persistence.Querier, query string, args ...any) ([]legacyRow, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []legacyRow
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		row, err := decodeRow(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// str returns the first non-blank value among keys, trimmed.
func (r legacyRow) str(keys ...string) string {
	for _, k := range keys {
		var s string
		switch v := r[k].(type) {
		case string:
			s = v
		case json.Number:
			s = v.String()
		case bool:
			s = strconv.FormatBool(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// int returns the first value among keys that parses as an integer.
func (r legacyRow) int(keys ...string) (int64, bool) {
	for _, k := range keys {
		switch v := r[k].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n, true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func (r legacyRow) boolean(key string) (bool, bool) {
	switch v := r[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	case json.Number:
		return v.String() != "0", true
	}
	return false, false
}

// optional returns nil for blank strings.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
