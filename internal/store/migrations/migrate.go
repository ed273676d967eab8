// Package migrations хранит схему БД и накатывает ее при старте.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var schema embed.FS

// Общий для всех экземпляров сервиса ключ блокировки
const lockKey int64 = 734091126

// Apply накатывает файлы *.sql по порядку имен. Каждый файл в своей транзакции
// вместе с отметкой в schema_version.
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := fs.Glob(schema, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	// Экземпляры стартуют одновременно, накатывает один
	if _, err = conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockKey)
	}()

	_, err = conn.Exec(ctx, "CREATE TABLE IF NOT EXISTS schema_version ("+
		" file TEXT PRIMARY KEY,"+
		" applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())")
	if err != nil {
		return err
	}

	done, err := appliedFiles(ctx, conn)
	if err != nil {
		return err
	}
	for _, file := range files {
		if done[file] {
			continue
		}
		body, err := schema.ReadFile(file)
		if err != nil {
			return err
		}
		err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_version (file) VALUES ($1)", file)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", file, err)
		}
	}
	return nil
}

func appliedFiles(ctx context.Context, conn *pgxpool.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, "SELECT file FROM schema_version")
	if err != nil {
		return nil, err
	}
	files, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(files))
	for _, file := range files {
		done[file] = true
	}
	return done, nil
}
