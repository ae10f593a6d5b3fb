package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/domains/tenants/be/provisioning"
	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
	"github.com/zenGate-Global/schoolspace/platform/go/tenant"
)

// ProvisionSchool provisions the namespace of one registered school outside a full
// run, assigning the derived namespace first when the school has none. It takes the
// migration lock so it never interleaves with a run.
func (c *Controller) ProvisionSchool(ctx context.Context, code string) (tenant.Space, provisioning.ProvisionResult, error) {
	var (
		space tenant.Space
		res   provisioning.ProvisionResult
	)

	tx, err := c.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return space, res, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			c.logger.Warn("rollback provision transaction", zap.Error(rbErr))
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, AdvisoryLockKey); err != nil {
		return space, res, fmt.Errorf("acquire migration lock: %w", err)
	}
	if err := persistence.ApplyPlatformSchema(ctx, tx, c.cfg.PlatformSchema); err != nil {
		return space, res, err
	}

	rec, err := c.schools.GetByCode(ctx, tx, code)
	if err != nil {
		return space, res, fmt.Errorf("school %q: %w", code, err)
	}
	if rec.SchemaName == nil {
		ns, err := tenant.BuildSchemaName(c.cfg.NamespacePrefix, rec.Code)
		if err != nil {
			return space, res, err
		}
		if rec, err = c.schools.AssignSchema(ctx, tx, rec.ID, ns); err != nil {
			return space, res, err
		}
	}
	ns, err := rec.Namespace()
	if err != nil {
		return space, res, err
	}
	space = tenant.Space{TenantID: rec.ID, Code: rec.Code, SchemaName: ns, Status: rec.Status}

	if res, err = c.provisioner.Provision(ctx, tx, ns); err != nil {
		return space, res, err
	}
	if err := tx.Commit(ctx); err != nil {
		return space, res, fmt.Errorf("commit: %w", err)
	}
	c.logger.Info("school provisioned",
		zap.String("code", rec.Code),
		zap.String("schema", ns.String()),
		zap.String("status", string(res.Status)),
		zap.Int("warnings", len(res.Warnings)))
	return space, res, nil
}
