// Package store persists bot credentials in postgres.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationTable = "bot_schema_migrations"

type PGRepo struct{ pool *pgxpool.Pool }

var _ model.CredentialRepo = (*PGRepo)(nil)

func NewRepo(ctx context.Context, dsn string) (*PGRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.New("open postgres pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.New("ping postgres").Wrap(err)
	}
	return &PGRepo{pool: pool}, nil
}

func (r *PGRepo) Close() { r.pool.Close() }

// Migrate applies the embedded schema migrations.
func (r *PGRepo) Migrate(ctx context.Context, logger zerolog.Logger) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger: logger.With().Str("component", "migrations").Logger()})
	goose.SetTableName(migrationTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return errs.New("set goose dialect").Wrap(err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errs.New("apply migrations").Wrap(err)
	}
	return nil
}

func (r *PGRepo) LoadCredentials(ctx context.Context, tgUserID int64) (*model.Credentials, error) {
	const q = `
		SELECT access_token, user_id, role, nickname, phone, updated_at
		FROM bot_credentials
		WHERE tg_user_id = $1;
	`
	c := model.Credentials{TgUserID: tgUserID}
	err := r.pool.QueryRow(ctx, q, tgUserID).Scan(&c.Token, &c.User.ID, &c.User.Role, &c.User.Nickname, &c.User.Phone, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.New("load credentials").Arg("tg_user_id", tgUserID).Wrap(err)
	}
	return &c, nil
}

func (r *PGRepo) SaveCredentials(ctx context.Context, c model.Credentials) error {
	const q = `
		INSERT INTO bot_credentials (tg_user_id, access_token, user_id, role, nickname, phone, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tg_user_id) DO UPDATE
		   SET access_token = EXCLUDED.access_token,
		       user_id      = EXCLUDED.user_id,
		       role         = EXCLUDED.role,
		       nickname     = EXCLUDED.nickname,
		       phone        = EXCLUDED.phone,
		       updated_at   = EXCLUDED.updated_at;
	`
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := r.pool.Exec(ctx, q, c.TgUserID, c.Token, c.User.ID, c.User.Role, c.User.Nickname, c.User.Phone, updated.UTC())
	if err != nil {
		return errs.New("save credentials").Arg("tg_user_id", c.TgUserID).Wrap(err)
	}
	return nil
}

func (r *PGRepo) DeleteCredentials(ctx context.Context, tgUserID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM bot_credentials WHERE tg_user_id=$1`, tgUserID); err != nil {
		return errs.New("delete credentials").Arg("tg_user_id", tgUserID).Wrap(err)
	}
	return nil
}

// gooseLogger sends goose output to zerolog. Fatalf does not exit; goose
// returns the error to Migrate.
type gooseLogger struct{ logger zerolog.Logger }

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msg(trimNewline(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error().Msg(trimNewline(fmt.Sprintf(format, v...)))
}

func trimNewline(s string) string { return strings.TrimRight(s, "\r\n") }
