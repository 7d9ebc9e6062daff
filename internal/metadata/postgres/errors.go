package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/datalumen/schemactx/internal/errs"
)

// PostgreSQL SQLSTATE classes relevant to metadata reads.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgClassConnection = "08" // connection exceptions
	pgErrQueryCancel  = "57014"
)

// mapError converts a pgx error into a *errs.Error with the given fallback
// kind. Connection and deadline failures override the fallback so callers
// can distinguish a flaky network from a broken query.
func mapError(err error, fallback errs.ErrKind, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgClassConnection {
			return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
		}
		if pgErr.Code == pgErrQueryCancel {
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}
	}

	return errs.Wrap(fallback, msg, err)
}
