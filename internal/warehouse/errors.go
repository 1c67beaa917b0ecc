package warehouse

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/justdata-platform/justdata/internal/model"
)

// translateError classifies a driver error into the model taxonomy.
// parent is the caller's context, queryCtx the per-statement one; the
// distinction separates job cancellation from statement timeout.
func translateError(parent, queryCtx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return &model.CancelledError{}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(queryCtx.Err(), context.DeadlineExceeded) {
		return &model.TimeoutError{Stage: "warehouse-execute"}
	}
	if errors.Is(err, context.Canceled) {
		return &model.CancelledError{}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPgError(queryCtx, pgErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &model.WarehouseTransientError{Err: err}
	}
	if pgconn.SafeToRetry(err) {
		return &model.WarehouseTransientError{Err: err}
	}

	return &model.WarehouseFatalError{Kind: model.WarehouseQuery, Err: err}
}

// classifyPgError maps SQLSTATE classes onto the taxonomy: connection
// trouble is transient, credential and quota problems are fatal with a
// dedicated kind, everything else is a fatal query error.
func classifyPgError(queryCtx context.Context, pgErr *pgconn.PgError) error {
	code := pgErr.Code
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return &model.WarehouseTransientError{Err: pgErr}
	case code == "57014": // query_canceled, fired by statement timeout
		if errors.Is(queryCtx.Err(), context.DeadlineExceeded) {
			return &model.TimeoutError{Stage: "warehouse-execute"}
		}
		return &model.CancelledError{}
	case strings.HasPrefix(code, "57"): // operator intervention, shutdown
		return &model.WarehouseTransientError{Err: pgErr}
	case code == "53300": // too_many_connections
		return &model.WarehouseTransientError{Err: pgErr}
	case strings.HasPrefix(code, "53"): // disk full, out of memory
		return &model.WarehouseFatalError{Kind: model.WarehouseQuota, Err: pgErr}
	case strings.HasPrefix(code, "28"): // invalid authorization
		return &model.WarehouseFatalError{Kind: model.WarehousePermission, Err: pgErr}
	case code == "42501": // insufficient_privilege
		return &model.WarehouseFatalError{Kind: model.WarehousePermission, Err: pgErr}
	default:
		return &model.WarehouseFatalError{Kind: model.WarehouseQuery, Err: pgErr}
	}
}
