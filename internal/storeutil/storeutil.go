// Package storeutil holds the sqlite plumbing shared by the store and the
// contract ledger.
package storeutil

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log"
	"os"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"
)

// Open opens (creating if needed) the sqlite database at path, applies the
// given schema, enables WAL, and applies optional tuning pragmas.
func Open(path, schema string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ApplyPragmas(context.Background(), db)
	return db, nil
}

// ApplyPragmas applies optional sqlite tuning statements when enabled via
// the TRENCHCORD_SQLITE_TUNING environment variable. Each pragma result is
// logged at info level.
func ApplyPragmas(ctx context.Context, db *sql.DB) {
	if os.Getenv("TRENCHCORD_SQLITE_TUNING") != "1" {
		return
	}

	pragmas := []string{
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA wal_autocheckpoint=1000;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA mmap_size=268435456;",
	}

	for _, pragma := range pragmas {
		if value, err := applyPragma(ctx, db, pragma); err != nil {
			log.Printf("sqlite: pragma %s failed: %v", pragma, err)
		} else {
			log.Printf("sqlite: pragma %s => %v", pragma, value)
		}
	}
}

func applyPragma(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	row := db.QueryRowContext(ctx, pragma)
	var value any
	if err := row.Scan(&value); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				return nil, execErr
			}
			return "ok", nil
		}
		return nil, err
	}
	return value, nil
}
