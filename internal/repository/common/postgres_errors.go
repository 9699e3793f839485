package common

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/Taichi-iskw/voxrefine/internal/errors"
)

// HandlePostgreSQLError converts PostgreSQL-specific errors to appropriate AppError codes
func HandlePostgreSQLError(err error, operation string) *apperrors.AppError {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Wrap(err, apperrors.CodeNotFound, operation+": not found")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return apperrors.Wrap(err, apperrors.CodeInternal, operation)
	}

	switch pgErr.Code {
	case "23505": // UNIQUE_VIOLATION
		return handleUniqueViolation(pgErr)

	case "23503": // FOREIGN_KEY_VIOLATION
		return handleForeignKeyViolation(pgErr)

	case "23502": // NOT_NULL_VIOLATION
		return apperrors.Wrap(err, apperrors.CodeInvalidArg, "required field is missing")

	case "23514": // CHECK_VIOLATION
		return handleCheckViolation(pgErr)

	case "22P02": // INVALID_TEXT_REPRESENTATION, e.g. malformed uuid
		return apperrors.Wrap(err, apperrors.CodeInvalidArg, "invalid identifier format")

	case "42P01": // UNDEFINED_TABLE
		return apperrors.Wrap(err, apperrors.CodeInternal, "database schema error: table not found (run 'voxrefine db migrate')")

	case "42703": // UNDEFINED_COLUMN
		return apperrors.Wrap(err, apperrors.CodeInternal, "database schema error: column not found")

	case "08000", "08003", "08006": // CONNECTION_EXCEPTION variants
		return apperrors.Wrap(err, apperrors.CodeInternal, "database connection error")

	case "53300": // TOO_MANY_CONNECTIONS
		return apperrors.Wrap(err, apperrors.CodeInternal, "database connection limit reached")

	case "57014": // QUERY_CANCELED
		return apperrors.Wrap(err, apperrors.CodeTimeout, operation+": query canceled")

	default:
		message := operation + " (PostgreSQL code: " + pgErr.Code + ")"
		return apperrors.Wrap(err, apperrors.CodeInternal, message)
	}
}

func handleUniqueViolation(pgErr *pgconn.PgError) *apperrors.AppError {
	constraintName := pgErr.ConstraintName

	switch {
	case strings.Contains(constraintName, "conversations_pkey"):
		return apperrors.Wrap(pgErr, apperrors.CodeConflict, "conversation with this ID already exists")
	case strings.Contains(constraintName, "audio_units_pkey"):
		return apperrors.Wrap(pgErr, apperrors.CodeConflict, "audio unit with this ID already exists")
	case strings.Contains(constraintName, "audio_unit_segments_pkey"):
		return apperrors.Wrap(pgErr, apperrors.CodeConflict, "duplicate segment index")
	default:
		return apperrors.Wrap(pgErr, apperrors.CodeConflict, "resource already exists")
	}
}

func handleForeignKeyViolation(pgErr *pgconn.PgError) *apperrors.AppError {
	constraintName := pgErr.ConstraintName

	switch {
	case strings.Contains(constraintName, "conversation_id"):
		return apperrors.Wrap(pgErr, apperrors.CodeDependency, "referenced conversation does not exist")
	case strings.Contains(constraintName, "audio_unit_id"):
		return apperrors.Wrap(pgErr, apperrors.CodeDependency, "referenced audio unit does not exist")
	default:
		return apperrors.Wrap(pgErr, apperrors.CodeDependency, "referenced resource does not exist")
	}
}

func handleCheckViolation(pgErr *pgconn.PgError) *apperrors.AppError {
	constraintName := pgErr.ConstraintName

	switch {
	case strings.HasSuffix(constraintName, "_status_check"):
		return apperrors.Wrap(pgErr, apperrors.CodeInvalidArg, "invalid processing status")
	case strings.HasSuffix(constraintName, "_error_check"):
		return apperrors.Wrap(pgErr, apperrors.CodeInvalidArg, "error message must be set exactly when a stage failed")
	case strings.Contains(constraintName, "requires_transcript"):
		return apperrors.Wrap(pgErr, apperrors.CodeConflict, "refinement cannot complete without a transcript")
	case strings.Contains(constraintName, "time_check"):
		return apperrors.Wrap(pgErr, apperrors.CodeInvalidArg, "segment end time must be after start time")
	default:
		return apperrors.Wrap(pgErr, apperrors.CodeInvalidArg, "data violates check constraint")
	}
}
