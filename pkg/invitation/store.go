package invitation

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	// CodeLength is the number of characters in a generated code.
	CodeLength = 8
	// DefaultUnboundTTL is how long a fresh code stays valid.
	DefaultUnboundTTL = 7 * 24 * time.Hour
	// DefaultBoundTTL replaces the expiry once a code is bound to a wallet.
	DefaultBoundTTL = 365 * 24 * time.Hour
	// DefaultListLimit caps ListAvailable when no limit is given.
	DefaultListLimit = 100

	codeAlphabet        = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxGenerateAttempts = 10
)

const selectCode = `SELECT code, expires_at, used, bound, created_at FROM invitation_codes`

// NewCode returns a random alphanumeric code of CodeLength characters.
func NewCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// SQLStore implements Store on database/sql. Queries use $N placeholders and
// run against Postgres in production and SQLite in tests.
type SQLStore struct {
	db         *sql.DB
	now        func() time.Time
	newCode    func() (string, error)
	unboundTTL time.Duration
	boundTTL   time.Duration
}

// StoreOption configures a SQLStore.
type StoreOption func(*SQLStore)

// WithClock replaces the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *SQLStore) { s.now = now }
}

// WithCodeGenerator replaces NewCode.
func WithCodeGenerator(gen func() (string, error)) StoreOption {
	return func(s *SQLStore) { s.newCode = gen }
}

// WithUnboundTTL sets the lifetime of freshly generated codes.
func WithUnboundTTL(ttl time.Duration) StoreOption {
	return func(s *SQLStore) {
		if ttl > 0 {
			s.unboundTTL = ttl
		}
	}
}

// WithBoundTTL sets the lifetime granted on Bind.
func WithBoundTTL(ttl time.Duration) StoreOption {
	return func(s *SQLStore) {
		if ttl > 0 {
			s.boundTTL = ttl
		}
	}
}

// NewSQLStore creates a SQLStore over db.
func NewSQLStore(db *sql.DB, opts ...StoreOption) *SQLStore {
	s := &SQLStore{
		db:         db,
		now:        time.Now,
		newCode:    NewCode,
		unboundTTL: DefaultUnboundTTL,
		boundTTL:   DefaultBoundTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate applies the schema to the store's database.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}

func (s *SQLStore) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Generate creates and persists a new unused, unbound code. Collisions with
// existing codes are retried with a fresh value.
func (s *SQLStore) Generate(ctx context.Context) (*Code, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		value, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate invitation code: %w", err)
		}

		now := s.clock()
		code := &Code{
			Code:      value,
			ExpiresAt: now.Add(s.unboundTTL),
			CreatedAt: now,
		}

		result, err := s.db.ExecContext(ctx, `
			INSERT INTO invitation_codes (code, expires_at, used, bound, created_at)
			VALUES ($1, $2, FALSE, FALSE, $3)
			ON CONFLICT (code) DO NOTHING
		`, code.Code, code.ExpiresAt, code.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert invitation code: %w", err)
		}

		inserted, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to insert invitation code: %w", err)
		}
		if inserted == 1 {
			return code, nil
		}
	}

	return nil, fmt.Errorf("failed to generate a unique invitation code after %d attempts", maxGenerateAttempts)
}

// Get returns the code row, or ErrNotFound.
func (s *SQLStore) Get(ctx context.Context, value string) (*Code, error) {
	code, err := scanCode(s.db.QueryRowContext(ctx, selectCode+` WHERE code = $1`, value))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation code: %w", err)
	}
	return code, nil
}

// Check consumes the code. It succeeds at most once per code and never for a
// code already bound to a wallet; concurrent callers race on a conditional
// update and only one wins.
func (s *SQLStore) Check(ctx context.Context, value string) error {
	code, err := s.Get(ctx, value)
	if err != nil {
		return err
	}
	if code.Expired(s.clock()) {
		return ErrExpired
	}
	if code.Used {
		return ErrAlreadyUsed
	}
	if code.Bound {
		return ErrAlreadyBound
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE invitation_codes SET used = TRUE WHERE code = $1 AND used = FALSE AND bound = FALSE`, value)
	if err != nil {
		return fmt.Errorf("failed to mark invitation code used: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark invitation code used: %w", err)
	}
	if updated == 0 {
		return ErrAlreadyUsed
	}
	return nil
}

// Bind attaches the code to wallet exactly once, extends the code's expiry to
// the bound lifetime and creates the wallet account. A code consumed by Check
// cannot be bound.
func (s *SQLStore) Bind(ctx context.Context, value, wallet string) (*WalletAccount, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet address is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	code, err := scanCode(tx.QueryRowContext(ctx, selectCode+` WHERE code = $1`, value))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation code: %w", err)
	}

	now := s.clock()
	if code.Expired(now) {
		return nil, ErrExpired
	}
	if code.Bound {
		return nil, ErrAlreadyBound
	}
	if code.Used {
		return nil, ErrAlreadyUsed
	}

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT invitation_code FROM wallet_accounts WHERE wallet_address = $1`, wallet).Scan(&existing)
	if err == nil {
		return nil, ErrWalletRegistered
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up wallet account: %w", err)
	}

	expiresAt := now.Add(s.boundTTL)
	result, err := tx.ExecContext(ctx,
		`UPDATE invitation_codes SET bound = TRUE, expires_at = $1 WHERE code = $2 AND bound = FALSE AND used = FALSE`,
		expiresAt, value)
	if err != nil {
		return nil, fmt.Errorf("failed to bind invitation code: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to bind invitation code: %w", err)
	}
	if updated == 0 {
		return nil, ErrAlreadyBound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (wallet_address, invitation_code, created_at, last_login)
		VALUES ($1, $2, $3, $4)
	`, wallet, value, now, now); err != nil {
		return nil, fmt.Errorf("failed to create wallet account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bind: %w", err)
	}

	code.Bound = true
	code.ExpiresAt = expiresAt
	return &WalletAccount{
		WalletAddress:  wallet,
		InvitationCode: value,
		CreatedAt:      now,
		LastLogin:      now,
		Code:           code,
	}, nil
}

// WalletAccount returns the account for wallet joined with its bound code, or
// ErrWalletNotRegistered.
func (s *SQLStore) WalletAccount(ctx context.Context, wallet string) (*WalletAccount, error) {
	query := `
		SELECT w.wallet_address, w.invitation_code, w.created_at, w.last_login,
		       c.code, c.expires_at, c.used, c.bound, c.created_at
		FROM wallet_accounts w
		JOIN invitation_codes c ON c.code = w.invitation_code
		WHERE w.wallet_address = $1
	`

	account := &WalletAccount{Code: &Code{}}
	err := s.db.QueryRowContext(ctx, query, strings.TrimSpace(wallet)).Scan(
		&account.WalletAddress,
		&account.InvitationCode,
		&account.CreatedAt,
		&account.LastLogin,
		&account.Code.Code,
		&account.Code.ExpiresAt,
		&account.Code.Used,
		&account.Code.Bound,
		&account.Code.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet account: %w", err)
	}
	return account, nil
}

// TouchWallet records a login for wallet.
func (s *SQLStore) TouchWallet(ctx context.Context, wallet string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE wallet_accounts SET last_login = $1 WHERE wallet_address = $2`,
		s.clock(), strings.TrimSpace(wallet))
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if updated == 0 {
		return ErrWalletNotRegistered
	}
	return nil
}

// ListAvailable returns unused, unbound, unexpired codes, oldest first.
func (s *SQLStore) ListAvailable(ctx context.Context, limit int) ([]*Code, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, selectCode+`
		WHERE used = FALSE AND bound = FALSE AND expires_at > $1
		ORDER BY created_at, code
		LIMIT $2
	`, s.clock(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitation codes: %w", err)
	}
	defer rows.Close()

	codes := []*Code{}
	for rows.Next() {
		code, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invitation codes: %w", err)
	}
	return codes, nil
}

// PurgeDead deletes codes that expired at or before the given time without
// ever being used or bound. It returns the number of rows removed.
func (s *SQLStore) PurgeDead(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitation_codes WHERE expires_at <= $1 AND used = FALSE AND bound = FALSE`,
		before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge invitation codes: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge invitation codes: %w", err)
	}
	return purged, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCode(row rowScanner) (*Code, error) {
	code := &Code{}
	if err := row.Scan(&code.Code, &code.ExpiresAt, &code.Used, &code.Bound, &code.CreatedAt); err != nil {
		return nil, err
	}
	return code, nil
}

// IsNotFound reports whether err is a missing code or wallet.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrWalletNotRegistered)
}
