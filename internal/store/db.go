package store

import (
	"context"
	"database/sql"
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type DB interface {
	Execer
	Getter
	Selecter
}

// Tx is the part of *sqlx.Tx the stores need. Methods that take a Tx, Execer
// or Getter argument run inside the caller's unit of work.
type Tx interface {
	Execer
	Getter
	Selecter
}

func derefStringPtr(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func rowsAffected(res sql.Result) (int64, error) {
	if res == nil {
		return 0, nil
	}
	return res.RowsAffected()
}
