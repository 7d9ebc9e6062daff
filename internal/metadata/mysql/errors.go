package mysql

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/datalumen/schemactx/internal/errs"
)

// MySQL server error numbers relevant to metadata reads.
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	mysqlErrAccessDenied  = 1045
	mysqlErrQueryTimeout  = 3024
	mysqlErrLockWaitAbort = 1205
)

// mapError converts a go-sql-driver error into a *errs.Error with the given
// fallback kind.
func mapError(err error, fallback errs.ErrKind, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, mysql.ErrBusyBuffer) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrAccessDenied:
			return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
		case mysqlErrQueryTimeout, mysqlErrLockWaitAbort:
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}
	}

	return errs.Wrap(fallback, msg, err)
}
