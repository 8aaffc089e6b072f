package email

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	DefaultCodePrefix  = "email_code:"
	DefaultCodeTTL     = 30 * time.Minute
	DefaultMaxAttempts = 5
	CodeDigits         = 6
)

var (
	// ErrInvalidAddress is returned for an unparseable email address.
	ErrInvalidAddress = errors.New("invalid email address")
	// ErrCodeMismatch is returned when no live code matches.
	ErrCodeMismatch = errors.New("invalid or expired verification code")
	// ErrTooManyAttempts is returned by the miss that exhausts a code's
	// attempts; the code is deleted and a new one must be requested.
	ErrTooManyAttempts = errors.New("too many failed verification attempts")
)

// consumeScript redeems KEYS[1] when it equals ARGV[1]. Misses are counted in
// KEYS[2], which lives as long as the code; the ARGV[2]th miss deletes both.
// Returns 1 on success, 0 on a miss, -1 when no code is pending and -2 when
// the code was burned.
var consumeScript = redis.NewScript(`
local stored = redis.call("GET", KEYS[1])
if not stored then
	return -1
end
if stored == ARGV[1] then
	redis.call("DEL", KEYS[1], KEYS[2])
	return 1
end
local misses = redis.call("INCR", KEYS[2])
if misses == 1 then
	local ttl = redis.call("PTTL", KEYS[1])
	if ttl > 0 then
		redis.call("PEXPIRE", KEYS[2], ttl)
	end
end
if misses >= tonumber(ARGV[2]) then
	redis.call("DEL", KEYS[1], KEYS[2])
	return -2
end
return 0
`)

// CodeStore keeps one pending verification code per address in Redis.
// Issuing a new code replaces the previous one.
type CodeStore struct {
	client      redis.Cmdable
	prefix      string
	ttl         time.Duration
	maxAttempts int
	newCode     func() (string, error)
}

// CodeStoreOption configures a CodeStore.
type CodeStoreOption func(*CodeStore)

// WithCodeTTL sets how long an issued code stays valid.
func WithCodeTTL(ttl time.Duration) CodeStoreOption {
	return func(s *CodeStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxAttempts sets how many wrong guesses a code survives.
func WithMaxAttempts(n int) CodeStoreOption {
	return func(s *CodeStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithCodePrefix overrides DefaultCodePrefix.
func WithCodePrefix(prefix string) CodeStoreOption {
	return func(s *CodeStore) { s.prefix = prefix }
}

// WithCodeGenerator replaces the random code source. Used in tests.
func WithCodeGenerator(fn func() (string, error)) CodeStoreOption {
	return func(s *CodeStore) { s.newCode = fn }
}

// NewCodeStore creates a code store.
func NewCodeStore(client redis.Cmdable, opts ...CodeStoreOption) *CodeStore {
	s := &CodeStore{
		client:      client,
		prefix:      DefaultCodePrefix,
		ttl:         DefaultCodeTTL,
		maxAttempts: DefaultMaxAttempts,
		newCode:     NewVerificationCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the lifetime of issued codes.
func (s *CodeStore) TTL() time.Duration { return s.ttl }

func (s *CodeStore) keys(address string) []string {
	return []string{s.prefix + address, s.prefix + address + ":misses"}
}

// Issue stores a fresh code for address and returns it. Misses counted
// against an earlier code are cleared.
func (s *CodeStore) Issue(ctx context.Context, address string) (string, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return "", err
	}
	code, err := s.newCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	keys := s.keys(normalized)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keys[0], code, s.ttl)
		pipe.Del(ctx, keys[1])
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store verification code: %w", err)
	}
	return code, nil
}

// Consume redeems code for address. It returns ErrCodeMismatch when the code
// is wrong, expired or already used, and ErrTooManyAttempts when this miss
// used up the code's attempts.
func (s *CodeStore) Consume(ctx context.Context, address, code string) error {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrCodeMismatch
	}

	result, err := consumeScript.Run(ctx, s.client, s.keys(normalized), code, s.maxAttempts).Int()
	if err != nil {
		return fmt.Errorf("failed to consume verification code: %w", err)
	}
	switch result {
	case 1:
		return nil
	case -2:
		return ErrTooManyAttempts
	default:
		return ErrCodeMismatch
	}
}

// NormalizeAddress validates address and returns its lower-cased bare form.
func NormalizeAddress(address string) (string, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(parsed.Address), nil
}

// NewVerificationCode returns CodeDigits random decimal digits.
func NewVerificationCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeDigits)
	for i := 0; i < CodeDigits; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
