package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prohmpiriya/taskflow/internal/domain"
)

// wrapErr attaches an operation name and classifies timeouts and
// connection failures. A nil err stays nil.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	classified := domain.StorageError(err)
	if errors.Is(classified, domain.ErrStorageTimeout) {
		return fmt.Errorf("%s: %w", op, classified)
	}
	if pgconn.SafeToRetry(err) || isConnectError(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func notFound(err error, sentinel error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return wrapErr(op, err)
}

func isConnectError(err error) bool {
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

const assigneeConstraint = "fk_tasks_assignee"

// foreignKeyViolation returns the violated constraint name
func foreignKeyViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// duplicateUser maps a unique violation on users to the field that clashed
func duplicateUser(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	field := "id"
	switch pgErr.ConstraintName {
	case "idx_users_username":
		field = "username"
	case "idx_users_email":
		field = "email"
	}
	return &domain.ValidationError{Field: field, Message: "already exists"}
}
