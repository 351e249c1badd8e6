package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"storefront/internal/service/cart/application"
	"storefront/internal/service/cart/domain"
	promodomain "storefront/internal/service/promotion/domain"
)

// CartHandler 封装了购物车服务的 HTTP 处理器
type CartHandler struct {
	service *application.CartService
}

// NewCartHandler 创建一个新的 HTTP 处理器实例
func NewCartHandler(service *application.CartService) *CartHandler {
	return &CartHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *CartHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cart", h.handleGetCart)
	mux.HandleFunc("POST /api/cart/items", h.handleAddItem)
	mux.HandleFunc("PUT /api/cart/items/{id}", h.handleUpdateQuantity)
	mux.HandleFunc("DELETE /api/cart/items/{id}", h.handleRemoveItem)
	mux.HandleFunc("GET /api/cart/eligible-gifts", h.handleEligibleGifts)
	mux.HandleFunc("POST /api/cart/gifts", h.handleAddGift)
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	cart, err := h.service.GetCart(ctx, currentUserID(r))
	if err != nil {
		writeCartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req struct {
		ProductID uint `json:"productId"`
		Quantity  int  `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.AddItem(ctx, currentUserID(r), req.ProductID, req.Quantity)
	if err != nil {
		writeCartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CartHandler) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	itemID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid item id", http.StatusBadRequest)
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.UpdateQuantity(ctx, currentUserID(r), itemID, req.Quantity)
	if err != nil {
		writeCartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	itemID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid item id", http.StatusBadRequest)
		return
	}

	result, err := h.service.RemoveItem(ctx, currentUserID(r), itemID)
	if err != nil {
		writeCartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CartHandler) handleEligibleGifts(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	eligible, err := h.service.GetEligibleGifts(ctx, currentUserID(r))
	if err != nil {
		writeCartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"eligibleRules": eligible})
}

func (h *CartHandler) handleAddGift(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req struct {
		RuleID    uint `json:"ruleId"`
		ProductID uint `json:"productId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	selection, result, err := h.service.AddGiftProduct(ctx, currentUserID(r), req.RuleID, req.ProductID)
	if err != nil {
		writeCartError(w, err)
		return
	}
	if !selection.IsValid {
		// 业务拒绝不是系统错误，422 + 原因文案
		writeJSON(w, http.StatusUnprocessableEntity, selection)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selection": selection,
		"cart":      result.Cart,
	})
}

// writeCartError 根据错误类型返回不同的 HTTP 状态码
func writeCartError(w http.ResponseWriter, err error) {
	var statusCode int
	switch {
	case errors.Is(err, domain.ErrCartItemNotFound),
		errors.Is(err, promodomain.ErrRuleNotFound):
		statusCode = http.StatusNotFound
	case promodomain.IsValidation(err):
		statusCode = http.StatusUnprocessableEntity
	default:
		statusCode = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), statusCode)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func pathID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	return uint(id), err
}

func currentUserID(r *http.Request) uint {
	id, _ := strconv.ParseUint(r.Header.Get("X-User-ID"), 10, 64)
	return uint(id)
}
