package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository persists accounts. Every method touches a single account.
type Repository interface {
	Create(ctx context.Context, account Account) error
	Save(ctx context.Context, account Account) error
	FindByID(ctx context.Context, id string) (Account, error)
	FindByIdentity(ctx context.Context, handle string) (Account, error)
	FindByEmailOrPhone(ctx context.Context, email, phone string) ([]Account, error)
	UpdateTokenVersion(ctx context.Context, id string, version int) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed account repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, name, email, phone, password_hash, verified, otp_hash, otp_expires_at,
        location_lng, location_lat, token_version, created_at, updated_at, last_login_at`

// Create inserts a new account.
func (r *PostgresRepository) Create(ctx context.Context, account Account) error {
	id, err := uuid.Parse(account.ID)
	if err != nil {
		return err
	}
	otpHash, otpExpires := challengeColumns(account.Challenge)
	lng, lat := locationColumns(account.Location)
	_, err = r.db.Exec(ctx, `INSERT INTO accounts (id, name, email, phone, password_hash, verified, otp_hash, otp_expires_at,
        location_lng, location_lat, token_version, created_at, updated_at, last_login_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, account.Name, account.Email, account.Phone, account.PasswordHash, account.Verified, otpHash, otpExpires,
		lng, lat, account.TokenVersion, account.CreatedAt.UTC(), account.UpdatedAt.UTC(), account.LastLoginAt)
	return mapWriteError(err)
}

// Save overwrites every mutable column of an existing account.
func (r *PostgresRepository) Save(ctx context.Context, account Account) error {
	id, err := uuid.Parse(account.ID)
	if err != nil {
		return err
	}
	otpHash, otpExpires := challengeColumns(account.Challenge)
	lng, lat := locationColumns(account.Location)
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET name = $2, email = $3, phone = $4, password_hash = $5, verified = $6,
        otp_hash = $7, otp_expires_at = $8, location_lng = $9, location_lat = $10, token_version = $11,
        updated_at = $12, last_login_at = $13
        WHERE id = $1`,
		id, account.Name, account.Email, account.Phone, account.PasswordHash, account.Verified,
		otpHash, otpExpires, lng, lat, account.TokenVersion, account.UpdatedAt.UTC(), account.LastLoginAt)
	if err != nil {
		return mapWriteError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByID fetches an account by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrNotFound
	}
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM accounts WHERE id = $1`, accountID))
}

// FindByIdentity fetches the account whose email or phone equals handle.
func (r *PostgresRepository) FindByIdentity(ctx context.Context, handle string) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM accounts
        WHERE email = $1 OR phone = $1
        ORDER BY verified DESC
        LIMIT 1`, handle))
}

// FindByEmailOrPhone returns every account holding either handle.
func (r *PostgresRepository) FindByEmailOrPhone(ctx context.Context, email, phone string) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM accounts WHERE email = $1 OR phone = $2`, email, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

// UpdateTokenVersion stores a new session token version.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET token_version = $1, updated_at = $2 WHERE id = $3`, version, time.Now().UTC(), accountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		id          uuid.UUID
		account     Account
		otpHash     []byte
		otpExpires  *time.Time
		lng, lat    *float64
		lastLoginAt *time.Time
	)
	err := row.Scan(&id, &account.Name, &account.Email, &account.Phone, &account.PasswordHash, &account.Verified,
		&otpHash, &otpExpires, &lng, &lat, &account.TokenVersion, &account.CreatedAt, &account.UpdatedAt, &lastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("scan account: %w", err)
	}
	account.ID = id.String()
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	if otpHash != nil && otpExpires != nil {
		account.Challenge = &Challenge{Hash: otpHash, ExpiresAt: otpExpires.UTC()}
	}
	if lng != nil && lat != nil {
		account.Location = &Location{Longitude: *lng, Latitude: *lat}
	}
	if lastLoginAt != nil {
		t := lastLoginAt.UTC()
		account.LastLoginAt = &t
	}
	return account, nil
}

func challengeColumns(c *Challenge) ([]byte, *time.Time) {
	if c == nil {
		return nil, nil
	}
	expires := c.ExpiresAt.UTC()
	return c.Hash, &expires
}

func locationColumns(l *Location) (*float64, *float64) {
	if l == nil {
		return nil, nil
	}
	lng, lat := l.Longitude, l.Latitude
	return &lng, &lat
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateIdentity
	}
	return err
}
