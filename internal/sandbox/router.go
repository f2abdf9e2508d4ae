// sandbox - самодостаточный JSON-over-HTTP бэкенд маркетплейса для локальной
// разработки и e2e-тестов клиента: аутентификация с ротацией refresh-токенов,
// защищённые ресурсы (корзина, заказы, магазины, товары) и WebSocket-канал.
package sandbox

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/go-marketplace-client/internal/sandbox/middleware"
)

// Options - параметры сборки HTTP-роутера.
type Options struct {
	Logger  *slog.Logger
	Timeout time.Duration
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(h *Handlers, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),
		middleware.RequestID(),
		middleware.Logging(opts.Logger),
	)

	// WebSocket живёт дольше любого таймаута запроса.
	if h.Hub != nil {
		root.Get("/ws", h.Hub.ServeHTTP)
	}

	root.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.Timeout))
		registerRoutes(r, h)
	})

	return root
}

// registerRoutes - единая точка регистрации REST-эндпойнтов.
func registerRoutes(r chi.Router, h *Handlers) {
	// auth
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)
	r.Post("/_sandbox/expire-access", h.ExpireAccess)

	// защищённые ресурсы
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthBearer(h.Auth))

		r.Get("/shops", h.ListShops)
		r.Get("/products", h.ListProducts)
		r.Get("/cart/{userID}", h.GetCart)
		r.Post("/cart/{userID}/items", h.AddToCart)
		r.Get("/orders/user/{userID}", h.ListOrders)
		r.Post("/orders/user/{userID}", h.Checkout)
	})
}
