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

const adColumns = `id, owner_id, owner_email, title, description, category, price_cents,
	duration_days, status, expiration_date, invoice_id, payment_session_id,
	pending_session_id, pending_session_expires_at, created_at, updated_at`

func scanAd(row pgx.Row) (*model.Ad, error) {
	var a model.Ad
	err := row.Scan(&a.ID, &a.OwnerID, &a.OwnerEmail, &a.Title, &a.Description, &a.Category, &a.PriceCents,
		&a.DurationDays, &a.Status, &a.ExpirationDate, &a.InvoiceID, &a.PaymentSessionID,
		&a.PendingSessionID, &a.PendingSessionExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AdRepository handles persistence for marketplace ads.
type AdRepository struct {
	db *pgxpool.Pool
}

// NewAdRepository constructs an AdRepository.
func NewAdRepository(db *pgxpool.Pool) *AdRepository {
	return &AdRepository{db: db}
}

// CreateAd inserts a new ad.
func (r *AdRepository) CreateAd(ctx context.Context, a model.Ad) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO ads (`+adColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.OwnerID, a.OwnerEmail, a.Title, a.Description, a.Category, a.PriceCents,
		a.DurationDays, a.Status, a.ExpirationDate, a.InvoiceID, a.PaymentSessionID,
		a.PendingSessionID, a.PendingSessionExpiresAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ad: %w", err)
	}
	return nil
}

// GetAd returns a single ad or ErrNotFound.
func (r *AdRepository) GetAd(ctx context.Context, id string) (*model.Ad, error) {
	a, err := scanAd(r.db.QueryRow(ctx, `SELECT `+adColumns+` FROM ads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ad: %w", err)
	}
	return a, nil
}

// ListLiveAds returns ads that are live and not expired at now, newest first.
func (r *AdRepository) ListLiveAds(ctx context.Context, now time.Time) ([]model.Ad, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+adColumns+` FROM ads
		 WHERE status = 'live' AND expiration_date > $1
		 ORDER BY updated_at DESC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("list ads: %w", err)
	}
	defer rows.Close()

	var ads []model.Ad
	for rows.Next() {
		a, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ad: %w", err)
		}
		ads = append(ads, *a)
	}
	return ads, rows.Err()
}

// explainAd turns a conditional update that matched no row into the reason.
func (r *AdRepository) explainAd(ctx context.Context, id, ownerID string, reason error) error {
	a, err := r.GetAd(ctx, id)
	if err != nil {
		return err
	}
	if ownerID != "" && a.OwnerID != ownerID {
		return ErrNotFound
	}
	return reason
}

// SubmitAd moves a draft owned by ownerID to under_review.
func (r *AdRepository) SubmitAd(ctx context.Context, id, ownerID string, now time.Time) (*model.Ad, error) {
	a, err := scanAd(r.db.QueryRow(ctx,
		`UPDATE ads SET status = 'under_review', updated_at = $3
		 WHERE id = $1 AND owner_id = $2 AND status = 'draft'
		 RETURNING `+adColumns,
		id, ownerID, now,
	))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("submit ad: %w", err)
	}
	return nil, r.explainAd(ctx, id, ownerID, ErrInvalidTransition)
}

// ReserveAdCheckout claims the ad's single checkout slot with token until
// expiresAt. It fails with ErrCheckoutPending while another unexpired
// session holds the slot, so two sessions can never race to activate the
// same ad.
func (r *AdRepository) ReserveAdCheckout(ctx context.Context, id, ownerID, token string, expiresAt, now time.Time) (*model.Ad, error) {
	a, err := scanAd(r.db.QueryRow(ctx,
		`UPDATE ads SET pending_session_id = $3, pending_session_expires_at = $4, updated_at = $5
		 WHERE id = $1 AND owner_id = $2
		   AND status IN ('draft', 'under_review')
		   AND (pending_session_id = '' OR pending_session_expires_at IS NULL OR pending_session_expires_at <= $5)
		 RETURNING `+adColumns,
		id, ownerID, token, expiresAt, now,
	))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reserve ad checkout: %w", err)
	}
	current, err := r.GetAd(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case current.OwnerID != ownerID:
		return nil, ErrNotFound
	case !current.Activatable():
		return nil, ErrAdNotActivatable
	default:
		return nil, ErrCheckoutPending
	}
}

// AttachAdSession swaps the reservation token for the provider's session id.
func (r *AdRepository) AttachAdSession(ctx context.Context, id, token, sessionID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE ads SET pending_session_id = $3 WHERE id = $1 AND pending_session_id = $2`,
		id, token, sessionID,
	)
	if err != nil {
		return fmt.Errorf("attach ad session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseAdCheckout frees the slot held by token, if it still holds it.
func (r *AdRepository) ReleaseAdCheckout(ctx context.Context, id, token string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE ads SET pending_session_id = '', pending_session_expires_at = NULL
		 WHERE id = $1 AND pending_session_id = $2`,
		id, token,
	)
	if err != nil {
		return fmt.Errorf("release ad checkout: %w", err)
	}
	return nil
}

// ActivateAd publishes an ad exactly once. expiration_date is computed here,
// at transition time, from now and duration_days; invoiceID is only stored
// by the winning call. Retries find the ad live and return it unchanged with
// activated == false.
func (r *AdRepository) ActivateAd(ctx context.Context, id, sessionID, invoiceID string, now time.Time) (*model.Ad, bool, error) {
	a, err := scanAd(r.db.QueryRow(ctx,
		`UPDATE ads
		 SET status = 'live',
		     expiration_date = $4::timestamptz + make_interval(days => duration_days),
		     invoice_id = $3,
		     payment_session_id = $2,
		     pending_session_id = '',
		     pending_session_expires_at = NULL,
		     updated_at = $4
		 WHERE id = $1 AND status IN ('draft', 'under_review')
		 RETURNING `+adColumns,
		id, sessionID, invoiceID, now,
	))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("activate ad: %w", err)
	}
	current, err := r.GetAd(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}
