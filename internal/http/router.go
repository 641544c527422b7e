package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	Variants *VariantHandler
	Stock    *StockHandler
}

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func NewRouter(h Handlers, cfg RouterConfig, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(MaxBodyMiddleware(cfg.MaxRequestBodySize))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(MockAuthMiddleware)

		r.Get("/variants/{product_id}/{size}", h.Variants.GetVariant)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart.GetCart)
			r.Put("/", h.Cart.SetCart)
			r.Delete("/", h.Cart.ClearCart)
			r.Delete("/lines/{line_id}", h.Cart.RemoveLine)
		})

		r.Post("/checkout", h.Checkout.Checkout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.Orders.ListOrders)
			r.Get("/{order_id}", h.Orders.GetOrder)
		})

		r.Route("/stock/{product_id}/{size}", func(r chi.Router) {
			r.Get("/", h.Stock.GetStock)
			r.Put("/", h.Stock.SetStock)
		})
	})

	return otelhttp.NewHandler(r, "storefront-http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
