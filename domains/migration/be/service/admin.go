package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/domains/migration/be/runlog"
	"github.com/zenGate-Global/schoolspace/platform/go/credentials"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// RolePlatformAdmin is the directory role allowed to manage every school.
const RolePlatformAdmin = "platform_admin"

// AdminConfig seeds the platform admin. An empty Password is replaced by a generated one.
type AdminConfig struct {
	Email    string
	Password string
}

// AdminResult reports the bootstrap. GeneratedPassword is only set when a password was
// generated for a newly created account; it is never logged.
type AdminResult struct {
	Created           bool
	Email             string
	GeneratedPassword string
}

// AdminBootstrapper ensures at least one platform admin exists.
type AdminBootstrapper struct {
	platform sqlident.Identifier
	hasher   credentials.Hasher
	cfg      AdminConfig
}

func NewAdminBootstrapper(platform sqlident.Identifier, hasher credentials.Hasher, cfg AdminConfig) *AdminBootstrapper {
	return &AdminBootstrapper{platform: platform, hasher: hasher, cfg: cfg}
}

// Ensure creates the configured admin unless an admin already exists. An email taken by
// a non-admin user is a warning, not an error.
func (b *AdminBootstrapper) Ensure(ctx context.Context, tx pgx.Tx, run *runlog.Run) (AdminResult, error) {
	email := strings.ToLower(strings.TrimSpace(b.cfg.Email))
	res := AdminResult{Email: email}
	users := sqlident.Qualified(b.platform, sqlident.MustParse("users"))

	var exists bool
	if err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE role = $1)`, users), RolePlatformAdmin).Scan(&exists); err != nil {
		return res, fmt.Errorf("check platform admin: %w", err)
	}
	if exists {
		run.Record(runlog.Outcome{Kind: runlog.KindAdmin, Status: runlog.StatusSkipped, Detail: "platform admin exists"})
		return res, nil
	}
	if email == "" {
		run.Warn("no platform admin exists and none is configured", nil)
		run.Record(runlog.Outcome{Kind: runlog.KindAdmin, Status: runlog.StatusWarning, Detail: "no admin email configured"})
		return res, nil
	}

	// Legacy ids were copied verbatim; move the identity past them first.
	if _, err := ResyncSequences(ctx, tx, b.platform, []string{"users"}, run.Logger()); err != nil {
		return res, err
	}

	password := b.cfg.Password
	generated := password == ""
	if generated {
		var err error
		if password, err = credentials.GeneratePassword(0); err != nil {
			return res, err
		}
	}
	hash, err := b.hasher.Hash(password)
	if err != nil {
		return res, err
	}

	var id int64
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (email, full_name, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (email) DO NOTHING
		RETURNING id`, users), email, "Platform Admin", hash, RolePlatformAdmin).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		run.Warn(fmt.Sprintf("platform admin email %s belongs to an existing user, admin not created", email), nil)
		run.Record(runlog.Outcome{Kind: runlog.KindAdmin, Target: email, Status: runlog.StatusWarning, Detail: "email in use"})
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("create platform admin: %w", err)
	}

	res.Created = true
	if generated {
		res.GeneratedPassword = password
	}
	run.Logf("platform admin %s created", email)
	run.Logger().Info("platform admin created", zap.Int64("user_id", id), zap.Bool("generated_password", generated))
	run.Record(runlog.Outcome{Kind: runlog.KindAdmin, Target: email, Status: runlog.StatusDone})
	return res, nil
}
