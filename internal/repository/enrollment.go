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

// EnrollmentRepository handles persistence for enrollments and their
// per-academic-year level overrides.
type EnrollmentRepository struct {
	db *pgxpool.Pool
}

// NewEnrollmentRepository constructs an EnrollmentRepository.
func NewEnrollmentRepository(db *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// CreateEnrollment inserts e or returns ErrAlreadyExists.
func (r *EnrollmentRepository) CreateEnrollment(ctx context.Context, e model.Enrollment) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO enrollments (user_id, program, start_year, created_at)
		 VALUES ($1, $2, $3, $4)`,
		e.UserID, e.Program, e.StartYear, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

// GetEnrollment returns the enrollment of userID with all its overrides.
func (r *EnrollmentRepository) GetEnrollment(ctx context.Context, userID string) (*model.Enrollment, error) {
	e := model.Enrollment{SessionOverrides: map[string]int{}}
	err := r.db.QueryRow(ctx,
		`SELECT user_id, program, start_year, created_at
		 FROM enrollments WHERE user_id = $1`,
		userID,
	).Scan(&e.UserID, &e.Program, &e.StartYear, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT academic_year, level FROM session_overrides WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			year  string
			level int
		)
		if err := rows.Scan(&year, &level); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		e.SessionOverrides[year] = level
	}
	return &e, rows.Err()
}

// ConfirmLevel records level for academicYear unless an override already
// exists, and returns the level that is stored afterwards. The first
// confirmation of a year wins.
func (r *EnrollmentRepository) ConfirmLevel(ctx context.Context, userID, academicYear string, level int, now time.Time) (int, error) {
	var stored int
	err := r.db.QueryRow(ctx,
		`WITH ins AS (
		     INSERT INTO session_overrides (user_id, academic_year, level, created_at)
		     SELECT $1, $2, $3, $4
		     WHERE EXISTS (SELECT 1 FROM enrollments WHERE user_id = $1)
		     ON CONFLICT (user_id, academic_year) DO NOTHING
		     RETURNING level
		 )
		 SELECT level FROM ins
		 UNION ALL
		 SELECT level FROM session_overrides WHERE user_id = $1 AND academic_year = $2
		 LIMIT 1`,
		userID, academicYear, level, now,
	).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent confirmation may have committed after this
		// statement's snapshot was taken.
		err = r.db.QueryRow(ctx,
			`SELECT level FROM session_overrides WHERE user_id = $1 AND academic_year = $2`,
			userID, academicYear,
		).Scan(&stored)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
	}
	if err != nil {
		return 0, fmt.Errorf("confirm level: %w", err)
	}
	return stored, nil
}
