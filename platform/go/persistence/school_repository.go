package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

var (
	// ErrNotFound is returned when a registry row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSchemaImmutable is returned when a school already owns a different namespace.
	ErrSchemaImmutable = errors.New("school namespace is immutable")
)

// SchoolRecord represents one row of the tenant registry.
type SchoolRecord struct {
	ID         int64
	Code       string
	Name       *string
	SchemaName *string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Namespace returns the validated namespace, or the zero identifier when none is assigned.
func (r SchoolRecord) Namespace() (sqlident.Identifier, error) {
	if r.SchemaName == nil || strings.TrimSpace(*r.SchemaName) == "" {
		return sqlident.Identifier{}, nil
	}
	return sqlident.Parse(*r.SchemaName)
}

const schoolColumns = `id, code, name, schema_name, status, created_at, updated_at`

// SchoolStore provides access to the schools table of the platform schema.
// Methods take the Querier so the same store serves the migration transaction and
// scoped request transactions.
type SchoolStore struct {
	table string
}

func NewSchoolStore(platformSchema sqlident.Identifier) *SchoolStore {
	if platformSchema.IsZero() {
		panic("school store requires platform schema")
	}
	return &SchoolStore{table: sqlident.Qualified(platformSchema, sqlident.MustParse("schools"))}
}

// List returns every school ordered by id.
func (s *SchoolStore) List(ctx context.Context, q Querier) ([]SchoolRecord, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, schoolColumns, s.table))
	if err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	defer rows.Close()

	var out []SchoolRecord
	for rows.Next() {
		rec, err := scanSchoolRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schools: %w", err)
	}
	return out, nil
}

// Get fetches a school by id.
func (s *SchoolStore) Get(ctx context.Context, q Querier, id int64) (SchoolRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, schoolColumns, s.table)
	return scanSchoolRecord(q.QueryRow(ctx, query, id))
}

// GetByCode fetches a school by its human code.
func (s *SchoolStore) GetByCode(ctx context.Context, q Querier, code string) (SchoolRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE code = $1`, schoolColumns, s.table)
	return scanSchoolRecord(q.QueryRow(ctx, query, strings.TrimSpace(code)))
}

// Upsert inserts the school or, when the code is already registered, fills only
// the fields that are still NULL. An assigned namespace is never replaced.
// A positive rec.ID is preserved so legacy foreign keys keep pointing at the same school.
func (s *SchoolStore) Upsert(ctx context.Context, q Querier, rec SchoolRecord) (SchoolRecord, error) {
	code := strings.TrimSpace(rec.Code)
	if code == "" {
		return SchoolRecord{}, errors.New("school code is required")
	}
	status := rec.Status
	if status == "" {
		status = "active"
	}

	conflict := fmt.Sprintf(`
		ON CONFLICT (code) DO UPDATE SET
			name = COALESCE(%[1]s.name, EXCLUDED.name),
			schema_name = COALESCE(%[1]s.schema_name, EXCLUDED.schema_name)
		RETURNING %[2]s`, s.table, schoolColumns)

	var row pgx.Row
	if rec.ID > 0 {
		query := fmt.Sprintf(`INSERT INTO %s (id, code, name, schema_name, status) VALUES ($1, $2, $3, $4, $5)`, s.table) + conflict
		row = q.QueryRow(ctx, query, rec.ID, code, rec.Name, rec.SchemaName, status)
	} else {
		query := fmt.Sprintf(`INSERT INTO %s (code, name, schema_name, status) VALUES ($1, $2, $3, $4)`, s.table) + conflict
		row = q.QueryRow(ctx, query, code, rec.Name, rec.SchemaName, status)
	}

	out, err := scanSchoolRecord(row)
	if err != nil {
		return SchoolRecord{}, fmt.Errorf("upsert school %s: %w", code, err)
	}
	return out, nil
}

// AssignSchema sets the namespace of a school that has none. Assigning the namespace
// the school already owns is a no-op; any other value fails with ErrSchemaImmutable.
func (s *SchoolStore) AssignSchema(ctx context.Context, q Querier, id int64, schema sqlident.Identifier) (SchoolRecord, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET schema_name = $2
		WHERE id = $1 AND (schema_name IS NULL OR schema_name = $2)
		RETURNING %s`, s.table, schoolColumns)

	rec, err := scanSchoolRecord(q.QueryRow(ctx, query, id, schema.String()))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.Get(ctx, q, id); getErr != nil {
			return SchoolRecord{}, getErr
		}
		return SchoolRecord{}, fmt.Errorf("school %d: %w", id, ErrSchemaImmutable)
	}
	return rec, err
}

func scanSchoolRecord(row pgx.Row) (SchoolRecord, error) {
	var rec SchoolRecord
	err := row.Scan(&rec.ID, &rec.Code, &rec.Name, &rec.SchemaName, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SchoolRecord{}, ErrNotFound
	}
	if err != nil {
		return SchoolRecord{}, fmt.Errorf("scan school: %w", err)
	}
	return rec, nil
}
