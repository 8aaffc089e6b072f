package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aimoverse/aimo-gateway/pkg/httputil"
	"github.com/aimoverse/aimo-gateway/pkg/middleware"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

// UserHandlers serves endpoints about the caller's own credential.
type UserHandlers struct {
	usage UsageStore
}

// RegisterRoutes registers user routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/user/quota", h.quota).Methods(http.MethodGet)
}

// quota handles GET /user/quota. Reading it does not count against the quota.
func (h *UserHandlers) quota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, middleware.MsgCredentialMissing)
		return
	}

	decision, err := h.usage.Peek(ctx, claims.JTI(), claims.Quota)
	if err != nil {
		observability.GetLogger(ctx).WithError(err).Error("read usage")
		httputil.WriteInternalError(w)
		return
	}

	_ = httputil.WriteSuccess(w, QuotaResponse{
		Limit:          decision.Limit,
		Used:           decision.Used,
		Remaining:      decision.Remaining,
		ResetInSeconds: decision.ResetSeconds(),
	})
}
