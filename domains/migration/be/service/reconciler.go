package service

import (
	"context"

	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// ColumnMapping is the set of columns that can be copied from a shared table into
// a tenant table. It is computed per (table, tenant) and never persisted.
type ColumnMapping struct {
	// Key holds destination primary key columns that also exist in the source.
	// They are copied so ids survive and serve as the conflict target.
	Key []string
	// Columns is the ordered intersection, destination primary key excluded.
	Columns []string
	// Incompatible lists shared columns left out because the destination type
	// cannot hold the source values without loss.
	Incompatible []string
	// Types maps every copied column to its destination type name.
	Types map[string]string
}

// Empty reports whether nothing besides the key could be copied.
func (m ColumnMapping) Empty() bool {
	return len(m.Columns) == 0
}

// All returns Key followed by Columns, the column list of the copy statement.
func (m ColumnMapping) All() []string {
	out := make([]string, 0, len(m.Key)+len(m.Columns))
	out = append(out, m.Key...)
	return append(out, m.Columns...)
}

// Reconcile reads both tables from the catalog and maps their columns. A missing
// table on either side yields an empty mapping.
func Reconcile(ctx context.Context, q persistence.Querier, srcSchema, srcTable, dstSchema, dstTable sqlident.Identifier) (ColumnMapping, error) {
	src, err := persistence.TableColumns(ctx, q, srcSchema, srcTable)
	if err != nil {
		return ColumnMapping{}, err
	}
	dst, err := persistence.TableColumns(ctx, q, dstSchema, dstTable)
	if err != nil {
		return ColumnMapping{}, err
	}
	if len(src) == 0 || len(dst) == 0 {
		return ColumnMapping{}, nil
	}
	pk, err := persistence.PrimaryKeyColumns(ctx, q, dstSchema, dstTable)
	if err != nil {
		return ColumnMapping{}, err
	}
	return MapColumns(src, dst, pk), nil
}

// MapColumns intersects src and dst by name in source declaration order.
// Names that fail identifier validation are never mapped.
func MapColumns(src, dst []persistence.Column, dstPK []string) ColumnMapping {
	byName := make(map[string]persistence.Column, len(dst))
	for _, c := range dst {
		byName[c.Name] = c
	}
	isKey := make(map[string]bool, len(dstPK))
	for _, k := range dstPK {
		isKey[k] = true
	}

	m := ColumnMapping{Types: make(map[string]string)}
	keyInSource := make(map[string]bool)
	for _, s := range src {
		d, ok := byName[s.Name]
		if !ok {
			continue
		}
		if _, err := sqlident.Parse(s.Name); err != nil {
			m.Incompatible = append(m.Incompatible, s.Name)
			continue
		}
		if !compatible(s, d) {
			m.Incompatible = append(m.Incompatible, s.Name)
			continue
		}
		m.Types[s.Name] = d.UDTName
		if isKey[s.Name] {
			keyInSource[s.Name] = true
			continue
		}
		m.Columns = append(m.Columns, s.Name)
	}

	// The key is only usable as a conflict target when every key column is present.
	if len(dstPK) > 0 && len(keyInSource) == len(dstPK) {
		m.Key = append(m.Key, dstPK...)
	}
	return m
}

var (
	textTypes    = map[string]bool{"text": true, "varchar": true, "bpchar": true, "citext": true, "name": true}
	integerRank  = map[string]int{"int2": 1, "int4": 2, "int8": 3}
	integerWidth = map[string]int32{"int2": 5, "int4": 10, "int8": 19}
	temporalTo   = map[string][]string{
		"date":        {"date", "timestamp", "timestamptz"},
		"timestamp":   {"timestamp", "timestamptz"},
		"timestamptz": {"timestamptz"},
		"time":        {"time", "timetz"},
		"timetz":      {"timetz"},
	}
)

// compatible reports whether values of src can be stored in dst without truncation.
func compatible(src, dst persistence.Column) bool {
	s, d := src.UDTName, dst.UDTName

	switch {
	case d == "text" || d == "citext":
		// Every type has an assignment cast to text.
		return true
	case d == "varchar" || d == "bpchar":
		if !textTypes[s] {
			return false
		}
		if dst.CharMaxLength == nil {
			return true
		}
		return src.CharMaxLength != nil && *src.CharMaxLength <= *dst.CharMaxLength
	case integerRank[d] > 0:
		return integerRank[s] > 0 && integerRank[s] <= integerRank[d]
	case d == "numeric":
		if dst.NumericPrecision == nil {
			return s == "numeric" || integerRank[s] > 0
		}
		dstScale := scale(dst)
		dstInt := *dst.NumericPrecision - dstScale
		if integerRank[s] > 0 {
			return dstInt >= integerWidth[s]
		}
		if s != "numeric" || src.NumericPrecision == nil {
			return false
		}
		return dstScale >= scale(src) && dstInt >= *src.NumericPrecision-scale(src)
	case d == "float8":
		return s == "float8" || s == "float4" || s == "int2" || s == "int4"
	case d == "float4":
		return s == "float4" || s == "int2"
	case d == "json" || d == "jsonb":
		return s == "json" || s == "jsonb"
	}

	if targets, ok := temporalTo[s]; ok {
		for _, t := range targets {
			if t == d {
				return true
			}
		}
		return false
	}
	return s == d
}

func scale(c persistence.Column) int32 {
	if c.NumericScale == nil {
		return 0
	}
	return *c.NumericScale
}
