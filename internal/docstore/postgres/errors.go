package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chatcore/internal/docstore"
)

// mapErr translates driver errors into docstore sentinels; docstore errors pass through.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	for _, s := range []error{docstore.ErrNotFound, docstore.ErrAlreadyExists, docstore.ErrConflict,
		docstore.ErrUnavailable, docstore.ErrInvalidArgument, context.Canceled, context.DeadlineExceeded} {
		if errors.Is(err, s) {
			return err
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", docstore.ErrConflict, err)
		case "23505":
			return fmt.Errorf("%w: %v", docstore.ErrAlreadyExists, err)
		case "57P01", "57P02", "57P03", "53300", "08000", "08003", "08006":
			return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	}
	return err
}
