package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
)

// ClubRepository handles persistence for clubs and their admin rosters.
type ClubRepository struct {
	db *pgxpool.Pool
}

// NewClubRepository constructs a ClubRepository.
func NewClubRepository(db *pgxpool.Pool) *ClubRepository {
	return &ClubRepository{db: db}
}

// CreateClub inserts the club together with its initial roster.
func (r *ClubRepository) CreateClub(ctx context.Context, c model.Club) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO clubs (id, name, description, created_at) VALUES ($1, $2, $3, $4)`,
			c.ID, c.Name, c.Description, c.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert club: %w", err)
		}
		for _, admin := range c.Admins {
			if _, err := tx.Exec(ctx,
				`INSERT INTO club_admins (club_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				c.ID, admin,
			); err != nil {
				return fmt.Errorf("insert club admin: %w", err)
			}
		}
		return nil
	})
}

// GetClub returns a club and its roster or ErrNotFound.
func (r *ClubRepository) GetClub(ctx context.Context, id string) (*model.Club, error) {
	var c model.Club
	err := r.db.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM clubs WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get club: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT user_id FROM club_admins WHERE club_id = $1 ORDER BY user_id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list club admins: %w", err)
	}
	c.Admins, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan club admins: %w", err)
	}
	return &c, nil
}

// AddClubAdmin adds userID to the roster. Adding an existing admin is a no-op.
func (r *ClubRepository) AddClubAdmin(ctx context.Context, clubID, userID string) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO club_admins (club_id, user_id)
		 SELECT id, $2 FROM clubs WHERE id = $1
		 ON CONFLICT DO NOTHING`,
		clubID, userID,
	)
	if err != nil {
		return fmt.Errorf("add club admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetClub(ctx, clubID); err != nil {
			return err
		}
	}
	return nil
}
