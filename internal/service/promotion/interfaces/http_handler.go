package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"storefront/internal/service/promotion/application"
	"storefront/internal/service/promotion/domain"
)

// PromotionHandler 封装了规则引擎的 HTTP 处理器
type PromotionHandler struct {
	service *application.PromotionService
}

// NewPromotionHandler 创建一个新的 HTTP 处理器实例
func NewPromotionHandler(service *application.PromotionService) *PromotionHandler {
	return &PromotionHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *PromotionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/gift-rules", h.handleCreateRule)
	mux.HandleFunc("GET /api/gift-rules/active", h.handleGetActiveRules)
	mux.HandleFunc("GET /api/gift-rules/{id}", h.handleGetRule)
	mux.HandleFunc("PUT /api/gift-rules/{id}", h.handleUpdateRule)
	mux.HandleFunc("DELETE /api/gift-rules/{id}", h.handleDeleteRule)
	mux.HandleFunc("GET /api/gift-rules/{id}/statistics", h.handleGetStatistics)
}

func (h *PromotionHandler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var input application.CreateGiftRuleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	createdBy := currentUserID(r)
	rule, err := h.service.CreateRule(ctx, &input, createdBy)
	if err != nil {
		writeRuleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rule)
}

func (h *PromotionHandler) handleGetRule(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid rule id", http.StatusBadRequest)
		return
	}

	rule, err := h.service.GetRule(ctx, id)
	if err != nil {
		writeRuleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rule)
}

func (h *PromotionHandler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid rule id", http.StatusBadRequest)
		return
	}

	var input application.UpdateGiftRuleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rule, err := h.service.UpdateRule(ctx, id, &input)
	if err != nil {
		writeRuleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rule)
}

func (h *PromotionHandler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid rule id", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteRule(ctx, id); err != nil {
		writeRuleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PromotionHandler) handleGetActiveRules(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	rules, err := h.service.GetActiveRules(ctx)
	if err != nil {
		writeRuleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"rules": rules})
}

func (h *PromotionHandler) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid rule id", http.StatusBadRequest)
		return
	}

	stats, err := h.service.GetRuleStatistics(ctx, id)
	if err != nil {
		writeRuleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// writeRuleError 根据错误类型返回不同的 HTTP 状态码
func writeRuleError(w http.ResponseWriter, err error) {
	var statusCode int
	switch {
	case errors.Is(err, domain.ErrRuleNotFound):
		statusCode = http.StatusNotFound
	case domain.IsValidation(err):
		statusCode = http.StatusUnprocessableEntity
	default:
		statusCode = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), statusCode)
}

func pathID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	return uint(id), err
}

func currentUserID(r *http.Request) uint {
	id, _ := strconv.ParseUint(r.Header.Get("X-User-ID"), 10, 64)
	return uint(id)
}
