package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrCredentialMissing means no bearer credential accompanied the request.
	ErrCredentialMissing = errors.New("credential missing")
	// ErrCredentialExpired means the credential's exp claim has passed.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrCredentialInvalid covers every other validation failure: bad
	// signature, wrong algorithm, malformed token or identity.
	ErrCredentialInvalid = errors.New("credential invalid")
	// ErrInvalidQuota is returned when a non-positive quota is requested on reissue.
	ErrInvalidQuota = errors.New("quota must be greater than zero")
)

// IdentityType tags which kind of principal a credential was issued to.
type IdentityType string

const (
	// IdentityWallet is a Privy-verified wallet bound to an invitation code.
	IdentityWallet IdentityType = "wallet"
	// IdentityEmail is an address proven through an emailed one-time code.
	IdentityEmail IdentityType = "email"
	// IdentityInvitation is the legacy identity: the invitation code itself.
	IdentityInvitation IdentityType = "invitation"
)

// Valid reports whether t is a known identity type.
func (t IdentityType) Valid() bool {
	switch t {
	case IdentityWallet, IdentityEmail, IdentityInvitation:
		return true
	}
	return false
}

// Identity is the principal a credential speaks for.
type Identity struct {
	Type  IdentityType `json:"type"`
	Value string       `json:"value"`
}

// WalletIdentity returns the identity for a wallet address.
func WalletIdentity(address string) Identity {
	return Identity{Type: IdentityWallet, Value: address}
}

// EmailIdentity returns the identity for an email address. Addresses are
// compared case-insensitively, so the value is lowercased.
func EmailIdentity(email string) Identity {
	return Identity{Type: IdentityEmail, Value: strings.ToLower(strings.TrimSpace(email))}
}

// InvitationIdentity returns the legacy identity for an invitation code.
func InvitationIdentity(code string) Identity {
	return Identity{Type: IdentityInvitation, Value: code}
}

// Validate checks the identity is well formed.
func (id Identity) Validate() error {
	if !id.Type.Valid() {
		return fmt.Errorf("unknown identity type %q", id.Type)
	}
	if strings.TrimSpace(id.Value) == "" {
		return fmt.Errorf("empty %s identity", id.Type)
	}
	return nil
}

// String renders the identity as "type:value".
func (id Identity) String() string {
	return string(id.Type) + ":" + id.Value
}

// Claims is the payload of a credential.
//
// The jti (RegisteredClaims.ID) is unique per issuance and keys the usage
// counter; Quota is the per-day admission ceiling.
type Claims struct {
	Identity   Identity          `json:"identity"`
	Attributes map[string]string `json:"attrs,omitempty"`
	Quota      int               `json:"quota"`
	jwt.RegisteredClaims
}

// JTI returns the credential's unique id.
func (c *Claims) JTI() string {
	return c.ID
}
