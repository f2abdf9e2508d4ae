package sandbox

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/pribylovaa/go-marketplace-client/internal/errors"
	"github.com/pribylovaa/go-marketplace-client/internal/models"
	"github.com/pribylovaa/go-marketplace-client/internal/sandbox/middleware"
)

// Handlers агрегирует зависимости HTTP-обработчиков.
type Handlers struct {
	Auth     *Auth
	Catalog  *Catalog
	Hub      *Hub
	validate *validator.Validate
}

func NewHandlers(a *Auth, c *Catalog, h *Hub) *Handlers {
	return &Handlers{Auth: a, Catalog: c, Hub: h, validate: validator.New()}
}

// writeJSON - единый ответ JSON с нужным Content-Type.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict - строгий JSON-декодер: неизвестные поля запрещены.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// writeAuthError маппит ошибки Auth на HTTP-статусы.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		apierrors.WriteError(w, r, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, ErrEmailTaken):
		apierrors.WriteError(w, r, http.StatusConflict, "email already taken")
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenRevoked), errors.Is(err, ErrTokenExpired):
		// Отвергнутый refresh-токен - 403: клиент должен заново войти.
		apierrors.WriteError(w, r, http.StatusForbidden, "refresh token rejected")
	default:
		apierrors.WriteError(w, r, http.StatusInternalServerError, "")
	}
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in models.Registration
	if err := decodeStrict(r, &in); err != nil || h.validate.Struct(in) != nil {
		apierrors.WriteError(w, r, http.StatusBadRequest, "")
		return
	}

	resp, err := h.Auth.Register(r.Context(), in)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in models.Credentials
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, http.StatusBadRequest, "")
		return
	}

	resp, err := h.Auth.Login(r.Context(), in)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var in models.RefreshRequest
	if err := decodeStrict(r, &in); err != nil || in.RefreshToken == "" {
		apierrors.WriteError(w, r, http.StatusBadRequest, "")
		return
	}

	resp, err := h.Auth.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var in models.RefreshRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, http.StatusBadRequest, "")
		return
	}

	h.Auth.Revoke(r.Context(), in.RefreshToken)
	w.WriteHeader(http.StatusNoContent)
}

// ExpireAccess - отладочный эндпойнт: все access-токены становятся просроченными.
func (h *Handlers) ExpireAccess(w http.ResponseWriter, r *http.Request) {
	h.Auth.ExpireAccess()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListShops(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"shops": h.Catalog.Shops()})
}

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, map[string]any{"products": h.Catalog.Products(q.Get("q"), q.Get("shopId"))})
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.owner(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, h.Catalog.Cart(uid))
}

type addToCartRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity"  validate:"min=1,max=100"`
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.owner(w, r)
	if !ok {
		return
	}

	var in addToCartRequest
	if err := decodeStrict(r, &in); err != nil || h.validate.Struct(in) != nil {
		apierrors.WriteError(w, r, http.StatusBadRequest, "")
		return
	}

	cart, err := h.Catalog.AddToCart(uid, in.ProductID, in.Quantity)
	if errors.Is(err, ErrProductNotFound) {
		apierrors.WriteError(w, r, http.StatusNotFound, "product not found")
		return
	}

	writeJSON(w, http.StatusOK, cart)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.owner(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": h.Catalog.Orders(uid)})
}

// Checkout оформляет заказ из корзины и шлёт order.status в WebSocket-канал.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.owner(w, r)
	if !ok {
		return
	}

	order, err := h.Catalog.Checkout(uid)
	if errors.Is(err, ErrEmptyCart) {
		apierrors.WriteError(w, r, http.StatusPreconditionFailed, "cart is empty")
		return
	}

	if h.Hub != nil {
		h.Hub.Publish(uid, "order.status", map[string]string{"orderId": order.ID, "status": order.Status})
	}

	writeJSON(w, http.StatusCreated, order)
}

// owner сверяет {userID} из пути с владельцем токена; чужие ресурсы - 403.
func (h *Handlers) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := middleware.UserID(r.Context())
	if chi.URLParam(r, "userID") != uid {
		apierrors.WriteError(w, r, http.StatusForbidden, "resource belongs to another user")
		return "", false
	}

	return uid, true
}
