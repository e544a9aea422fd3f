package handlers

import (
	"net/http"
	"strconv"

	"github.com/Harshitk-cp/leandeep/internal/api/middleware"
	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type AnalysisHandler struct {
	svc *service.AnalysisService
}

func NewAnalysisHandler(svc *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{svc: svc}
}

type analyzeRequest struct {
	Text      string   `json:"text"`
	Layers    []string `json:"layers,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type conversationRequest struct {
	Messages  []domain.Message      `json:"messages"`
	Layers    []string              `json:"layers,omitempty"`
	Threshold *float64              `json:"threshold,omitempty"`
	WarmStart map[string]domain.VAD `json:"warm_start,omitempty"`
}

type batchRequest struct {
	Conversations []conversationRequest `json:"conversations"`
}

type batchResponse struct {
	Results []service.BatchItem `json:"results"`
	Count   int                 `json:"count"`
	Failed  int                 `json:"failed"`
}

type listAnalysesResponse struct {
	Analyses []domain.AnalysisRun `json:"analyses"`
	Count    int                  `json:"count"`
}

func requestInfo(r *http.Request) service.RequestInfo {
	return service.RequestInfo{
		RequestID: middleware.RequestIDFromContext(r.Context()),
		Client:    middleware.ClientFromContext(r.Context()),
	}
}

func (req conversationRequest) toService(info service.RequestInfo) service.ConversationRequest {
	return service.ConversationRequest{
		Messages:    req.Messages,
		Layers:      req.Layers,
		Threshold:   req.Threshold,
		WarmStart:   req.WarmStart,
		RequestInfo: info,
	}
}

func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.AnalyzeText(r.Context(), service.TextRequest{
		Text:        req.Text,
		Layers:      req.Layers,
		Threshold:   req.Threshold,
		RequestInfo: requestInfo(r),
	})
	if err != nil {
		writeServiceError(w, err, "failed to analyze text")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *AnalysisHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.AnalyzeConversation(r.Context(), req.toService(requestInfo(r)))
	if err != nil {
		writeServiceError(w, err, "failed to analyze conversation")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *AnalysisHandler) Dynamics(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.AnalyzeDynamics(r.Context(), req.toService(requestInfo(r)))
	if err != nil {
		writeServiceError(w, err, "failed to analyze dynamics")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *AnalysisHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	info := requestInfo(r)
	reqs := make([]service.ConversationRequest, len(req.Conversations))
	for i, c := range req.Conversations {
		reqs[i] = c.toService(info)
	}

	items, err := h.svc.AnalyzeBatch(r.Context(), reqs)
	if err != nil {
		writeServiceError(w, err, "failed to analyze batch")
		return
	}

	resp := batchResponse{Results: items, Count: len(items)}
	for _, it := range items {
		if it.Error != "" {
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AnalysisHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid analysis id")
		return
	}

	run, err := h.svc.GetAnalysis(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to get analysis")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (h *AnalysisHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	runs, err := h.svc.ListAnalyses(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err, "failed to list analyses")
		return
	}
	if runs == nil {
		runs = []domain.AnalysisRun{}
	}

	writeJSON(w, http.StatusOK, listAnalysesResponse{Analyses: runs, Count: len(runs)})
}
