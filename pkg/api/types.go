package api

import (
	"time"

	"github.com/aimoverse/aimo-gateway/pkg/auth"
)

// TokenType is reported alongside every issued credential.
const TokenType = "bearer"

// CheckInvitationRequest is the body of POST /auth/check-invitation-code.
type CheckInvitationRequest struct {
	InvitationCode string `json:"invitation_code"`
}

// WalletVerifyRequest is the body of POST /auth/wallet/verify. The
// invitation code is only needed the first time a wallet signs in.
type WalletVerifyRequest struct {
	PrivyToken     string `json:"privy_token"`
	InvitationCode string `json:"invitation_code,omitempty"`
}

// SendCodeRequest is the body of POST /auth/email/send-code.
type SendCodeRequest struct {
	Email string `json:"email"`
}

// EmailLoginRequest is the body of POST /auth/email/login.
type EmailLoginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// TokenResponse carries a freshly issued credential.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Quota       int       `json:"quota"`
}

func newTokenResponse(token string, claims *auth.Claims) TokenResponse {
	resp := TokenResponse{AccessToken: token, TokenType: TokenType, Quota: claims.Quota}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return resp
}

// WalletVerifyResponse is returned by POST /auth/wallet/verify.
type WalletVerifyResponse struct {
	TokenResponse
	WalletAddress string `json:"wallet_address"`
	IsNewUser     bool   `json:"is_new_user"`
}

// EmailLoginResponse is returned by POST /auth/email/login.
type EmailLoginResponse struct {
	TokenResponse
	Email     string `json:"email"`
	IsNewUser bool   `json:"is_new_user"`
}

// GenerateCodeResponse is returned by POST /admin/invitation-codes.
type GenerateCodeResponse struct {
	InvitationCode string    `json:"invitation_code"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ListCodesResponse is returned by GET /admin/invitation-codes.
type ListCodesResponse struct {
	Codes []CodeView `json:"codes"`
	Count int        `json:"count"`
}

// CodeView is one available invitation code.
type CodeView struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// UpdateQuotaRequest is the body of POST /admin/update-quota.
type UpdateQuotaRequest struct {
	Token    string `json:"token"`
	NewQuota int    `json:"new_quota"`
}

// UpdateQuotaResponse carries the reissued credential.
type UpdateQuotaResponse struct {
	NewToken string `json:"new_token"`
	Quota    int    `json:"quota"`
	Message  string `json:"message"`
}

// QuotaResponse is today's usage for the caller's credential.
type QuotaResponse struct {
	Limit          int64 `json:"limit"`
	Used           int64 `json:"used"`
	Remaining      int64 `json:"remaining"`
	ResetInSeconds int64 `json:"reset_in_seconds"`
}

// EmotionRequest is the body of POST /emotion/analyze.
type EmotionRequest struct {
	Message string `json:"message"`
}

// EmotionResponse lists the detected labels, strongest first.
type EmotionResponse struct {
	Emotions []string `json:"emotions"`
}
