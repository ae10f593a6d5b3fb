package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// SequenceOutcome is the result of resyncing one table's id sequence.
type SequenceOutcome struct {
	Table    string
	Sequence string
	// Next is the value the sequence hands out next; zero when nothing was set.
	Next int64
	Err  error
}

// ResyncSequences moves the id sequence of every table in ns past the largest id,
// so inserts after a copy with preserved ids do not collide. Tables without an id
// sequence and per-table failures are skipped; only fatal errors are returned.
func ResyncSequences(ctx context.Context, tx pgx.Tx, ns sqlident.Identifier, tables []string, logger *zap.Logger) ([]SequenceOutcome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]SequenceOutcome, 0, len(tables))
	for _, name := range tables {
		res := SequenceOutcome{Table: name}
		table, err := sqlident.Parse(name)
		if err != nil {
			res.Err = err
			out = append(out, res)
			continue
		}

		err = persistence.InSavepoint(ctx, tx, func(sp pgx.Tx) error {
			seq, err := persistence.SerialSequence(ctx, sp, ns, table, "id")
			if err != nil || seq == "" {
				return err
			}
			res.Sequence = seq
			query := fmt.Sprintf(`SELECT setval($1::text::regclass, COALESCE((SELECT max(id) FROM %s), 0) + 1, false)`, sqlident.Qualified(ns, table))
			return sp.QueryRow(ctx, query, seq).Scan(&res.Next)
		})
		if isFatal(ctx, err) {
			return out, fmt.Errorf("resync %s.%s: %w", ns, name, err)
		}
		if err != nil {
			res.Err = err
			logger.Debug("sequence resync skipped", zap.String("schema", ns.String()), zap.String("table", name), zap.Error(err))
		}
		out = append(out, res)
	}
	return out, nil
}
