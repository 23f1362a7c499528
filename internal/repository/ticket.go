package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
)

const ticketColumns = `id, club_id, event_id, user_id, user_email, first_name, last_name,
	event_name, event_date, status, paid, checked_in, checked_in_at, checked_in_by,
	payment_session_id, hold_expires_at, created_at, updated_at`

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var t model.Ticket
	err := row.Scan(&t.ID, &t.ClubID, &t.EventID, &t.UserID, &t.UserEmail, &t.FirstName, &t.LastName,
		&t.EventName, &t.EventDate, &t.Status, &t.Paid, &t.CheckedIn, &t.CheckedInAt, &t.CheckedInBy,
		&t.PaymentSessionID, &t.HoldExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TicketRepository handles persistence for tickets.
type TicketRepository struct {
	db *pgxpool.Pool
}

// NewTicketRepository constructs a TicketRepository.
func NewTicketRepository(db *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{db: db}
}

// IssueTicket creates t for its event inside a serialised transaction and
// reports whether a new ticket was created.
//
// The event row is locked with SELECT … FOR UPDATE so concurrent checkouts
// for the same event see each other's tickets and the capacity check
// cannot be raced. Seats taken are the valid tickets (registration_count)
// plus unpaid tickets whose hold has not expired at t.CreatedAt.
//
// If the user already has a ticket awaiting payment it is reused
// (created == false) and its hold is moved to t.HoldExpiresAt; a lapsed
// hold must find a free seat again. A valid ticket yields
// ErrAlreadyRegistered. A ticket issued directly as valid (free events)
// increments the event's registration_count in the same transaction.
func (r *TicketRepository) IssueTicket(ctx context.Context, t model.Ticket) (*model.Ticket, bool, error) {
	var (
		out     *model.Ticket
		created bool
	)
	now := t.CreatedAt
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		var capacity, count int
		err := tx.QueryRow(ctx,
			`SELECT capacity, registration_count FROM events WHERE id = $1 FOR UPDATE`,
			t.EventID,
		).Scan(&capacity, &count)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock event row: %w", err)
		}

		existing, err := scanTicket(tx.QueryRow(ctx,
			`SELECT `+ticketColumns+` FROM tickets WHERE event_id = $1 AND user_id = $2`,
			t.EventID, t.UserID,
		))
		switch {
		case err == nil:
			if existing.Status == model.TicketValid {
				return ErrAlreadyRegistered
			}
		case errors.Is(err, pgx.ErrNoRows):
			existing = nil
		default:
			return fmt.Errorf("check duplicate: %w", err)
		}

		if capacity > 0 && (existing == nil || !existing.HoldsSeat(now)) {
			exclude := ""
			if existing != nil {
				exclude = existing.ID
			}
			var held int
			if err := tx.QueryRow(ctx,
				`SELECT count(*) FROM tickets
				 WHERE event_id = $1 AND status = 'awaiting_payment'
				   AND hold_expires_at > $2 AND id::text <> $3`,
				t.EventID, now, exclude,
			).Scan(&held); err != nil {
				return fmt.Errorf("count held seats: %w", err)
			}
			if count+held >= capacity {
				return ErrEventFull
			}
		}

		if existing != nil {
			out, err = scanTicket(tx.QueryRow(ctx,
				`UPDATE tickets SET hold_expires_at = $2, updated_at = $3
				 WHERE id = $1
				 RETURNING `+ticketColumns,
				existing.ID, t.HoldExpiresAt, now,
			))
			if err != nil {
				return fmt.Errorf("refresh hold: %w", err)
			}
			return nil
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO tickets (`+ticketColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			t.ID, t.ClubID, t.EventID, t.UserID, t.UserEmail, t.FirstName, t.LastName,
			t.EventName, t.EventDate, t.Status, t.Paid, t.CheckedIn, t.CheckedInAt, t.CheckedInBy,
			t.PaymentSessionID, t.HoldExpiresAt, t.CreatedAt, t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		if t.Status == model.TicketValid {
			if _, err := tx.Exec(ctx,
				`UPDATE events SET registration_count = registration_count + 1 WHERE id = $1`,
				t.EventID,
			); err != nil {
				return fmt.Errorf("increment registration_count: %w", err)
			}
		}
		out, created = &t, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// GetTicket returns a single ticket or ErrNotFound.
func (r *TicketRepository) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	t, err := scanTicket(r.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// ListTicketsByEvent returns all tickets of an event in creation order.
func (r *TicketRepository) ListTicketsByEvent(ctx context.Context, eventID string) ([]model.Ticket, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE event_id = $1 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// ValidateTicket moves a ticket from awaiting_payment to valid and bumps the
// parent event's registration_count, in one transaction. The seat hold is
// cleared since the registration count now covers it. The UPDATE is
// conditional on the current status, so of any number of concurrent callers
// exactly one sees a row come back; that caller gets transitioned == true.
// Everyone else gets the current ticket and transitioned == false.
func (r *TicketRepository) ValidateTicket(ctx context.Context, id, sessionID string, now time.Time) (*model.Ticket, bool, error) {
	var (
		out          *model.Ticket
		transitioned bool
	)
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		t, err := scanTicket(tx.QueryRow(ctx,
			`UPDATE tickets
			 SET status = 'valid', paid = TRUE, payment_session_id = $2, hold_expires_at = NULL, updated_at = $3
			 WHERE id = $1 AND status = 'awaiting_payment'
			 RETURNING `+ticketColumns,
			id, sessionID, now,
		))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("validate ticket: %w", err)
			}
			current, err := scanTicket(tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrNotFound
				}
				return fmt.Errorf("get ticket: %w", err)
			}
			out = current
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE events SET registration_count = registration_count + 1 WHERE id = $1`,
			t.EventID,
		); err != nil {
			return fmt.Errorf("increment registration_count: %w", err)
		}
		out, transitioned = t, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, transitioned, nil
}

// CheckInTicket marks a valid ticket of clubID as used by operator. It fails
// with ErrTicketNotValid for unpaid tickets and ErrTicketAlreadyUsed for a
// second scan, leaving the first check-in untouched.
func (r *TicketRepository) CheckInTicket(ctx context.Context, clubID, id, operator string, now time.Time) (*model.Ticket, error) {
	t, err := scanTicket(r.db.QueryRow(ctx,
		`UPDATE tickets
		 SET checked_in = TRUE, checked_in_at = $3, checked_in_by = $4, updated_at = $3
		 WHERE id = $1 AND club_id = $2 AND status = 'valid' AND checked_in = FALSE
		 RETURNING `+ticketColumns,
		id, clubID, now, operator,
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check in ticket: %w", err)
	}

	current, err := r.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case current.ClubID != clubID:
		return nil, ErrNotFound
	case current.Status != model.TicketValid:
		return current, ErrTicketNotValid
	default:
		return current, ErrTicketAlreadyUsed
	}
}
