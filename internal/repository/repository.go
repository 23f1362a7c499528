// Package repository implements all database queries for the community
// backend. It uses pgx directly (no ORM). Every transition that must happen
// exactly once is a single conditional UPDATE keyed on the current state, so
// two concurrent callers can never both win.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a resource with the same key exists.
var ErrAlreadyExists = errors.New("already exists")

// ErrEventFull is returned when an event has no remaining capacity.
var ErrEventFull = errors.New("event is fully booked")

// ErrAlreadyRegistered is returned when the user already holds a valid ticket.
var ErrAlreadyRegistered = errors.New("already registered for this event")

// ErrTicketNotValid is returned when checking in a ticket that is not paid.
var ErrTicketNotValid = errors.New("ticket is not yet valid")

// ErrTicketAlreadyUsed is returned when checking in a ticket twice.
var ErrTicketAlreadyUsed = errors.New("ticket already used")

// ErrAdNotActivatable is returned when an ad is already live.
var ErrAdNotActivatable = errors.New("ad is already live")

// ErrCheckoutPending is returned when an ad already has an unexpired
// checkout session.
var ErrCheckoutPending = errors.New("a checkout session is already pending for this ad")

// ErrInvalidTransition is returned when a state change is not allowed from
// the entity's current state.
var ErrInvalidTransition = errors.New("invalid state transition")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// inTx runs fn inside a transaction, committing on success.
func inTx(ctx context.Context, db *pgxpool.Pool, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
