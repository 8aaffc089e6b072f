package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/aimoverse/aimo-gateway/pkg/async"
	"github.com/aimoverse/aimo-gateway/pkg/auth"
	"github.com/aimoverse/aimo-gateway/pkg/email"
	"github.com/aimoverse/aimo-gateway/pkg/httputil"
	"github.com/aimoverse/aimo-gateway/pkg/invitation"
	"github.com/aimoverse/aimo-gateway/pkg/middleware"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
	"github.com/aimoverse/aimo-gateway/pkg/wallet"
)

// Messages returned by the login endpoints.
const (
	MsgInvitationCodeRequired = "invitation_code is required"
	MsgWalletTokenRequired    = "privy_token is required"
	MsgInvalidWalletToken     = "Invalid wallet token"
	MsgNoLinkedWallet         = "No wallet linked to this account"
	MsgInvitationForNewWallet = "Invitation code is required for new wallets"
	MsgInvalidEmail           = "Invalid email address"
	MsgInvalidEmailCode       = "Invalid or expired verification code"
	MsgEmailCodeBurned        = "Too many failed attempts. Request a new code."
	MsgCodeSent               = "Verification code sent"
)

const touchTimeout = 5 * time.Second

// AuthHandlers serves the public login endpoints. Each one ends by minting a
// credential for the caller's identity with the default quota.
type AuthHandlers struct {
	issuer      TokenIssuer
	store       invitation.Store
	wallets     wallet.Verifier
	codes       CodeVerifier
	mailer      email.Sender
	invalidator cacheInvalidator
	metrics     *observability.Metrics
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/check-invitation-code", h.checkInvitationCode).Methods(http.MethodPost)
	router.HandleFunc("/wallet/verify", h.verifyWallet).Methods(http.MethodPost)
	router.HandleFunc("/email/send-code", h.sendEmailCode).Methods(http.MethodPost)
	router.HandleFunc("/email/login", h.emailLogin).Methods(http.MethodPost)
}

// checkInvitationCode handles POST /auth/check-invitation-code
func (h *AuthHandlers) checkInvitationCode(w http.ResponseWriter, r *http.Request) {
	var req CheckInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	code := strings.TrimSpace(req.InvitationCode)
	if code == "" {
		httputil.WriteBadRequest(w, MsgInvitationCodeRequired)
		return
	}

	ctx := r.Context()
	logger := observability.GetLogger(ctx)

	if err := h.store.Check(ctx, code); err != nil {
		if invitation.IsInvalid(err) {
			h.record("check", "rejected")
			logger.WithError(err).Info("invitation code rejected")
			httputil.WriteUnauthorized(w, middleware.MsgInvalidInvitation)
			return
		}
		h.record("check", "error")
		logger.WithError(err).Error("invitation check failed")
		httputil.WriteInternalError(w)
		return
	}
	h.record("check", "ok")
	if h.invalidator != nil {
		h.invalidator.Invalidate(code)
	}

	h.issue(w, r, auth.InvitationIdentity(code), nil)
}

// verifyWallet handles POST /auth/wallet/verify
func (h *AuthHandlers) verifyWallet(w http.ResponseWriter, r *http.Request) {
	var req WalletVerifyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PrivyToken) == "" {
		httputil.WriteBadRequest(w, MsgWalletTokenRequired)
		return
	}
	if h.wallets == nil {
		httputil.WriteInternalError(w)
		return
	}

	ctx := r.Context()
	logger := observability.GetLogger(ctx)

	identity, err := h.wallets.Verify(ctx, req.PrivyToken)
	switch {
	case errors.Is(err, wallet.ErrInvalidToken):
		logger.WithError(err).Info("wallet token rejected")
		httputil.WriteUnauthorized(w, MsgInvalidWalletToken)
		return
	case errors.Is(err, wallet.ErrNoWallet):
		httputil.WriteUnauthorized(w, MsgNoLinkedWallet)
		return
	case err != nil:
		logger.WithError(err).Error("wallet verification failed")
		httputil.WriteInternalError(w)
		return
	}

	address := wallet.NormalizeAddress(identity.WalletAddress)
	logger = logger.WithField("wallet", address)

	account, err := h.store.WalletAccount(ctx, address)
	switch {
	case err == nil:
		if account.Code != nil && account.Code.Expired(time.Now()) {
			httputil.WriteUnauthorized(w, middleware.MsgBoundCodeExpired)
			return
		}
		h.touch(ctx, address)
		h.issueWallet(w, r, address, identity, false)
		return
	case !errors.Is(err, invitation.ErrWalletNotRegistered):
		logger.WithError(err).Error("wallet lookup failed")
		httputil.WriteInternalError(w)
		return
	}

	code := strings.TrimSpace(req.InvitationCode)
	if code == "" {
		httputil.WriteUnauthorized(w, MsgInvitationForNewWallet)
		return
	}

	_, err = h.store.Bind(ctx, code, address)
	switch {
	case err == nil:
		h.record("bind", "ok")
	case errors.Is(err, invitation.ErrWalletRegistered):
		// a concurrent verify registered the wallet first
		h.record("bind", "raced")
	case invitation.IsInvalid(err):
		h.record("bind", "rejected")
		logger.WithError(err).Info("invitation bind rejected")
		httputil.WriteUnauthorized(w, middleware.MsgInvalidInvitation)
		return
	default:
		h.record("bind", "error")
		logger.WithError(err).Error("invitation bind failed")
		httputil.WriteInternalError(w)
		return
	}
	if h.invalidator != nil {
		h.invalidator.Invalidate(code)
		h.invalidator.InvalidateWallet(address)
	}

	logger.Info("wallet registered")
	h.issueWallet(w, r, address, identity, true)
}

// sendEmailCode handles POST /auth/email/send-code
func (h *AuthHandlers) sendEmailCode(w http.ResponseWriter, r *http.Request) {
	var req SendCodeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	address, err := email.NormalizeAddress(req.Email)
	if err != nil {
		httputil.WriteBadRequest(w, MsgInvalidEmail)
		return
	}
	if h.codes == nil || h.mailer == nil {
		httputil.WriteInternalError(w)
		return
	}

	ctx := r.Context()
	logger := observability.GetLogger(ctx).WithField("email", address)

	code, err := h.codes.Issue(ctx, address)
	if err != nil {
		logger.WithError(err).Error("store email code")
		httputil.WriteInternalError(w)
		return
	}
	if !h.mailer.SendCode(ctx, address, code, h.codes.TTL()) {
		logger.Error("email code not delivered")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, MsgCodeSent)
}

// emailLogin handles POST /auth/email/login
func (h *AuthHandlers) emailLogin(w http.ResponseWriter, r *http.Request) {
	var req EmailLoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, strings.TrimSpace(req.Code), "code") {
		return
	}
	address, err := email.NormalizeAddress(req.Email)
	if err != nil {
		httputil.WriteBadRequest(w, MsgInvalidEmail)
		return
	}
	if h.codes == nil {
		httputil.WriteInternalError(w)
		return
	}

	ctx := r.Context()
	logger := observability.GetLogger(ctx).WithField("email", address)
	if err := h.codes.Consume(ctx, address, strings.TrimSpace(req.Code)); err != nil {
		switch {
		case errors.Is(err, email.ErrTooManyAttempts):
			logger.Warn("email code burned after repeated misses")
			httputil.WriteTooManyRequests(w, MsgEmailCodeBurned)
		case errors.Is(err, email.ErrCodeMismatch):
			httputil.WriteUnauthorized(w, MsgInvalidEmailCode)
		default:
			logger.WithError(err).Error("consume email code")
			httputil.WriteInternalError(w)
		}
		return
	}

	user, created, err := h.store.RecordEmailLogin(ctx, address)
	if err != nil {
		logger.WithError(err).Error("record email login")
		httputil.WriteInternalError(w)
		return
	}
	if created {
		logger.Info("email user registered")
	}

	token, claims, ok := h.mint(w, r, auth.EmailIdentity(user.Address), nil)
	if !ok {
		return
	}
	_ = httputil.WriteSuccess(w, EmailLoginResponse{
		TokenResponse: newTokenResponse(token, claims),
		Email:         user.Address,
		IsNewUser:     created,
	})
}

// touch records the login without holding up the response.
func (h *AuthHandlers) touch(ctx context.Context, address string) {
	async.SafeGo(ctx, touchTimeout, "touch_wallet", func(ctx context.Context) error {
		return h.store.TouchWallet(ctx, address)
	})
}

func (h *AuthHandlers) issueWallet(w http.ResponseWriter, r *http.Request, address string, identity *wallet.Identity, isNew bool) {
	attrs := map[string]string{}
	if identity.UserID != "" {
		attrs["privy_user_id"] = identity.UserID
	}
	if identity.ChainType != "" {
		attrs["chain_type"] = identity.ChainType
	}
	token, claims, ok := h.mint(w, r, auth.WalletIdentity(address), attrs)
	if !ok {
		return
	}
	_ = httputil.WriteSuccess(w, WalletVerifyResponse{
		TokenResponse: newTokenResponse(token, claims),
		WalletAddress: address,
		IsNewUser:     isNew,
	})
}

func (h *AuthHandlers) issue(w http.ResponseWriter, r *http.Request, identity auth.Identity, attrs map[string]string) {
	token, claims, ok := h.mint(w, r, identity, attrs)
	if !ok {
		return
	}
	_ = httputil.WriteSuccess(w, newTokenResponse(token, claims))
}

func (h *AuthHandlers) mint(w http.ResponseWriter, r *http.Request, identity auth.Identity, attrs map[string]string) (string, *auth.Claims, bool) {
	token, claims, err := h.issuer.Issue(identity, attrs, 0)
	if err != nil {
		observability.GetLogger(r.Context()).WithError(err).Error("issue credential")
		httputil.WriteInternalError(w)
		return "", nil, false
	}
	if h.metrics != nil {
		h.metrics.CredentialsIssuedTotal.WithLabelValues(string(identity.Type)).Inc()
	}
	return token, claims, true
}

func (h *AuthHandlers) record(operation, result string) {
	if h.metrics != nil {
		h.metrics.InvitationOperationsTotal.WithLabelValues(operation, result).Inc()
	}
}
