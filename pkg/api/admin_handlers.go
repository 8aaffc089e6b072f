package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/aimoverse/aimo-gateway/pkg/auth"
	"github.com/aimoverse/aimo-gateway/pkg/httputil"
	"github.com/aimoverse/aimo-gateway/pkg/invitation"
	"github.com/aimoverse/aimo-gateway/pkg/middleware"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

// MsgQuotaUpdated is returned with a reissued credential.
const MsgQuotaUpdated = "Quota updated successfully"

// AdminHandlers serves the operator endpoints behind the admin key.
type AdminHandlers struct {
	issuer    TokenIssuer
	usage     UsageStore
	store     invitation.Store
	listLimit int
	metrics   *observability.Metrics
}

// RegisterRoutes registers admin routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/invitation-codes", h.generateCode).Methods(http.MethodPost)
	router.HandleFunc("/invitation-codes", h.listCodes).Methods(http.MethodGet)
	router.HandleFunc("/update-quota", h.updateQuota).Methods(http.MethodPost)
}

// generateCode handles POST /admin/invitation-codes
func (h *AdminHandlers) generateCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code, err := h.store.Generate(ctx)
	if err != nil {
		h.record("generate", "error")
		observability.GetLogger(ctx).WithError(err).Error("generate invitation code")
		httputil.WriteInternalError(w)
		return
	}
	h.record("generate", "ok")

	_ = httputil.WriteSuccess(w, GenerateCodeResponse{
		InvitationCode: code.Code,
		ExpiresAt:      code.ExpiresAt.UTC(),
	})
}

// listCodes handles GET /admin/invitation-codes
func (h *AdminHandlers) listCodes(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", h.listLimit)
	if err != nil || limit < 0 {
		httputil.WriteBadRequest(w, "limit must be a non-negative integer")
		return
	}

	ctx := r.Context()
	codes, err := h.store.ListAvailable(ctx, limit)
	if err != nil {
		observability.GetLogger(ctx).WithError(err).Error("list invitation codes")
		httputil.WriteInternalError(w)
		return
	}

	resp := ListCodesResponse{Codes: make([]CodeView, 0, len(codes))}
	for _, c := range codes {
		resp.Codes = append(resp.Codes, CodeView{
			Code:      c.Code,
			ExpiresAt: c.ExpiresAt.UTC(),
			CreatedAt: c.CreatedAt.UTC(),
		})
	}
	resp.Count = len(resp.Codes)
	_ = httputil.WriteSuccess(w, resp)
}

// updateQuota handles POST /admin/update-quota. The old credential is
// revoked until its own expiry and its counter for today is cleared.
func (h *AdminHandlers) updateQuota(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuotaRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	token := strings.TrimSpace(req.Token)
	if !httputil.RequireNonEmpty(w, token, "token") {
		return
	}
	if req.NewQuota <= 0 {
		httputil.WriteBadRequest(w, auth.ErrInvalidQuota.Error())
		return
	}

	ctx := r.Context()
	logger := observability.GetLogger(ctx)

	old, err := h.issuer.Validate(token)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialExpired) {
			httputil.WriteUnauthorized(w, middleware.MsgCredentialExpired)
			return
		}
		httputil.WriteUnauthorized(w, middleware.MsgCredentialInvalid)
		return
	}

	newToken, claims, err := h.issuer.Reissue(token, req.NewQuota)
	if err != nil {
		logger.WithError(err).Error("reissue credential")
		httputil.WriteInternalError(w)
		return
	}

	logger = logger.WithFields(map[string]interface{}{
		"subject": old.Subject,
		"old_jti": old.JTI(),
		"new_jti": claims.JTI(),
		"quota":   claims.Quota,
	})

	// Redis failures are logged and the new credential is returned regardless.
	if err := h.usage.Reset(ctx, old.JTI()); err != nil {
		h.redisError("reset")
		logger.WithError(err).Warn("reset old usage counter")
	}
	if old.ExpiresAt != nil {
		if err := h.usage.Revoke(ctx, old.JTI(), old.ExpiresAt.Time); err != nil {
			h.redisError("revoke")
			logger.WithError(err).Warn("revoke old credential")
		}
	}
	if h.metrics != nil {
		h.metrics.CredentialsIssuedTotal.WithLabelValues(string(claims.Identity.Type)).Inc()
	}
	logger.Info("credential reissued")

	_ = httputil.WriteSuccess(w, UpdateQuotaResponse{
		NewToken: newToken,
		Quota:    claims.Quota,
		Message:  MsgQuotaUpdated,
	})
}

func (h *AdminHandlers) record(operation, result string) {
	if h.metrics != nil {
		h.metrics.InvitationOperationsTotal.WithLabelValues(operation, result).Inc()
	}
}

func (h *AdminHandlers) redisError(operation string) {
	if h.metrics != nil {
		h.metrics.RedisErrorsTotal.WithLabelValues(operation).Inc()
	}
}
