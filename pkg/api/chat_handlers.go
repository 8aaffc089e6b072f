package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/aimoverse/aimo-gateway/pkg/httputil"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
	"github.com/aimoverse/aimo-gateway/pkg/upstream"
)

// MsgModelError is returned when the completion provider fails.
const MsgModelError = "Model error during processing"

// ChatHandlers proxies the quota-counted endpoints to the upstream services.
type ChatHandlers struct {
	completer  upstream.Completer
	classifier upstream.Classifier
}

// RegisterRoutes registers the counted routes
func (h *ChatHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/chat/completions", h.chatCompletions).Methods(http.MethodPost)
	router.HandleFunc("/emotion/analyze", h.analyzeEmotion).Methods(http.MethodPost)
}

// chatCompletions handles POST /chat/completions
func (h *ChatHandlers) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req upstream.CompletionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		httputil.WriteBadRequest(w, "messages is required")
		return
	}
	if h.completer == nil {
		httputil.WriteInternalError(w)
		return
	}

	ctx := r.Context()
	resp, err := h.completer.Complete(ctx, &req)
	if err != nil {
		observability.GetLogger(ctx).WithError(err).Error("completion failed")
		httputil.WriteMessage(w, http.StatusInternalServerError, MsgModelError)
		return
	}
	_ = httputil.WriteSuccess(w, resp)
}

// analyzeEmotion handles POST /emotion/analyze
func (h *ChatHandlers) analyzeEmotion(w http.ResponseWriter, r *http.Request) {
	var req EmotionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Message, "message") {
		return
	}
	if h.classifier == nil {
		httputil.WriteInternalError(w)
		return
	}

	ctx := r.Context()
	labels, err := h.classifier.Classify(ctx, strings.TrimSpace(req.Message))
	if err != nil {
		observability.GetLogger(ctx).WithError(err).Error("emotion analysis failed")
		httputil.WriteInternalError(w)
		return
	}
	if labels == nil {
		labels = []string{}
	}
	_ = httputil.WriteSuccess(w, EmotionResponse{Emotions: labels})
}
