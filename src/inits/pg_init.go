package inits

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const documentsSchema = `
	CREATE TABLE IF NOT EXISTS documents (
		kind text NOT NULL,
		id text NOT NULL,
		fields jsonb NOT NULL DEFAULT '{}'::jsonb,
		updated_at timestamp NOT NULL DEFAULT (now() AT TIME ZONE 'utc'::text),
		PRIMARY KEY (kind, id)
	);
	CREATE INDEX IF NOT EXISTS documents_email_idx
		ON documents (kind, (fields->>'email'));`

func CreatePostgresPool(connString string, ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		logrus.WithError(err).Error("parsing postgres config")
		return nil, err
	}

	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Error("creating postgres pool")
		return nil, err
	}

	if _, err := pool.Exec(ctx, documentsSchema); err != nil {
		logrus.WithError(err).Error("ensuring documents schema")
		pool.Close()
		return nil, err
	}

	return pool, nil
}
