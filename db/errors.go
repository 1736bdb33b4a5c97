package db

import (
	"context"
	"errors"
	"strings"

	"Gin_postgres_redis_loan_manager/apperr"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// classify maps driver errors onto the apperr taxonomy. Already classified
// errors pass through untouched; notFound is used for gorm.ErrRecordNotFound.
func classify(err error, notFound *apperr.Error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if notFound == nil {
			notFound = apperr.ErrNotFound
		}
		return apperr.Wrap(notFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || isTransient(err) {
		return apperr.Wrap(apperr.ErrTransient, err)
	}
	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014":
			// serialization_failure, deadlock_detected, lock_not_available, query_canceled
			return true
		}
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1205 || myErr.Number == 1213
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// isUniqueViolation reports a unique-constraint failure on any supported driver.
// column narrows the check when the driver exposes the constraint name.
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (column == "" || strings.Contains(pgErr.ConstraintName, column))
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062 && (column == "" || strings.Contains(myErr.Message, column))
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && (column == "" || strings.Contains(msg, column))
}
