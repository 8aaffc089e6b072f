package invitation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmailUserNotFound is returned when no email user has logged in with an
// address.
var ErrEmailUserNotFound = errors.New("email user not found")

// EmailUser is a row of email_users.
type EmailUser struct {
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login"`
}

// RecordEmailLogin creates the email user on first login and otherwise moves
// its last login forward. created reports whether the row is new.
func (s *SQLStore) RecordEmailLogin(ctx context.Context, address string) (user *EmailUser, created bool, err error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, false, fmt.Errorf("email address is required")
	}

	now := s.clock()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO email_users (address, created_at, last_login)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO NOTHING
	`, address, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create email user: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create email user: %w", err)
	}

	if inserted == 0 {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE email_users SET last_login = $1 WHERE address = $2`, now, address); err != nil {
			return nil, false, fmt.Errorf("failed to update last login: %w", err)
		}
	}

	user, err = s.EmailUser(ctx, address)
	if err != nil {
		return nil, false, err
	}
	return user, inserted == 1, nil
}

// EmailUser returns the email user for address, or ErrEmailUserNotFound.
func (s *SQLStore) EmailUser(ctx context.Context, address string) (*EmailUser, error) {
	user := &EmailUser{}
	err := s.db.QueryRowContext(ctx,
		`SELECT address, created_at, last_login FROM email_users WHERE address = $1`,
		strings.ToLower(strings.TrimSpace(address)),
	).Scan(&user.Address, &user.CreatedAt, &user.LastLogin)
	if err == sql.ErrNoRows {
		return nil, ErrEmailUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email user: %w", err)
	}
	return user, nil
}
