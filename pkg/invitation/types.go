package invitation

import (
	"context"
	"errors"
	"time"
)

// Failure reasons returned by Check, Bind and the lookups. The HTTP layer
// collapses the first four into one outward message.
var (
	ErrNotFound            = errors.New("invitation code not found")
	ErrExpired             = errors.New("invitation code expired")
	ErrAlreadyUsed         = errors.New("invitation code already used")
	ErrAlreadyBound        = errors.New("invitation code already bound")
	ErrWalletRegistered    = errors.New("wallet already registered")
	ErrWalletNotRegistered = errors.New("wallet not registered")
)

// IsInvalid reports whether err means the code itself cannot be accepted.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrAlreadyUsed) ||
		errors.Is(err, ErrAlreadyBound)
}

// Code is a row of invitation_codes.
type Code struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	Bound     bool      `json:"bound"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the code's expiry is at or before now.
func (c *Code) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Active reports whether the code can still be consumed by Check or Bind.
func (c *Code) Active(now time.Time) bool {
	return !c.Used && !c.Bound && !c.Expired(now)
}

// WalletAccount associates a wallet with the invitation code it was bound to.
type WalletAccount struct {
	WalletAddress  string    `json:"wallet_address"`
	InvitationCode string    `json:"invitation_code"`
	CreatedAt      time.Time `json:"created_at"`
	LastLogin      time.Time `json:"last_login"`

	// Code is populated by lookups that join the bound code.
	Code *Code `json:"code,omitempty"`
}

// Lookup is the read side used by the auth gate on every request.
type Lookup interface {
	Get(ctx context.Context, code string) (*Code, error)
	WalletAccount(ctx context.Context, wallet string) (*WalletAccount, error)
}

// Store persists invitation codes, wallet accounts and email users.
type Store interface {
	Lookup

	Generate(ctx context.Context) (*Code, error)
	Check(ctx context.Context, code string) error
	Bind(ctx context.Context, code, wallet string) (*WalletAccount, error)
	TouchWallet(ctx context.Context, wallet string) error
	ListAvailable(ctx context.Context, limit int) ([]*Code, error)
	PurgeDead(ctx context.Context, before time.Time) (int64, error)

	RecordEmailLogin(ctx context.Context, address string) (*EmailUser, bool, error)
	EmailUser(ctx context.Context, address string) (*EmailUser, error)
}
