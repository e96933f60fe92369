package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"userauth/internal/models"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrStale: условие UPDATE не выполнилось, запись уже изменил другой запрос
	// (или её нет).
	ErrStale = errors.New("user record changed concurrently")
)

// pq SQLSTATE for unique_violation
const uniqueViolation = "23505"

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// Updates touch only their own columns and are conditional on the state
	// the caller observed; a lost race returns ErrStale.
	SetOTP(ctx context.Context, id, code string, expiry time.Time) error
	MarkVerified(ctx context.Context, id, code string, at time.Time) error
	UpdatePassword(ctx context.Context, id, oldHash, newHash string) error
	UpdateName(ctx context.Context, id, name string) error
	// Delete exists for rolling back a registration that could not be
	// completed; there is no user-facing deletion.
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type userRepository struct {
	DB  *sql.DB
	now func() time.Time
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{DB: db, now: time.Now}
}

const userColumns = `
	id, name, email, password_hash, role,
	is_verified, verified_at, otp_code, otp_expiry,
	created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	const q = `
		INSERT INTO users (
			id, name, email, password_hash, role,
			is_verified, verified_at, otp_code, otp_expiry,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
	`
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := r.now().UTC()
	_, err := r.DB.ExecContext(ctx, q,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.IsVerified,
		nullTime(user.VerifiedAt),
		nullString(user.OTPCode),
		nullTime(user.OTPExpiry),
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	// невалидный UUID это "не найдено", а не ошибка БД
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.DB.QueryRowContext(ctx, q, id))
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanOne(r.DB.QueryRowContext(ctx, q, email))
}

// SetOTP rotates the verification code. Verified accounts are left alone.
func (r *userRepository) SetOTP(ctx context.Context, id, code string, expiry time.Time) error {
	const q = `
		UPDATE users
		SET otp_code=$1, otp_expiry=$2, updated_at=$3
		WHERE id=$4 AND NOT is_verified
	`
	return r.execOne(ctx, "set otp", q, code, expiry.UTC(), r.now().UTC(), id)
}

// MarkVerified flips the account to verified only while code is still the
// current, unexpired one.
func (r *userRepository) MarkVerified(ctx context.Context, id, code string, at time.Time) error {
	const q = `
		UPDATE users
		SET is_verified=TRUE, verified_at=$1, otp_code=NULL, otp_expiry=NULL, updated_at=$2
		WHERE id=$3 AND NOT is_verified AND otp_code=$4 AND otp_expiry > $1
	`
	return r.execOne(ctx, "mark verified", q, at.UTC(), r.now().UTC(), id, code)
}

// UpdatePassword swaps the hash only if it is still oldHash.
func (r *userRepository) UpdatePassword(ctx context.Context, id, oldHash, newHash string) error {
	const q = `
		UPDATE users
		SET password_hash=$1, updated_at=$2
		WHERE id=$3 AND password_hash=$4
	`
	return r.execOne(ctx, "update password", q, newHash, r.now().UTC(), id, oldHash)
}

func (r *userRepository) UpdateName(ctx context.Context, id, name string) error {
	const q = `UPDATE users SET name=$1, updated_at=$2 WHERE id=$3`
	err := r.execOne(ctx, "update name", q, name, r.now().UTC(), id)
	if errors.Is(err, ErrStale) {
		return ErrNotFound
	}
	return err
}

// execOne runs a conditional UPDATE and reports ErrStale when no row matched.
func (r *userRepository) execOne(ctx context.Context, op, q string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

func (r *userRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (r *userRepository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

func (r *userRepository) scanOne(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var (
		verifiedAt sql.NullTime
		otpCode    sql.NullString
		otpExpiry  sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
		&u.IsVerified, &verifiedAt, &otpCode, &otpExpiry,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		u.VerifiedAt = &t
	}
	if otpCode.Valid && otpExpiry.Valid {
		u.SetOTP(otpCode.String, otpExpiry.Time)
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
