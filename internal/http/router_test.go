package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(cfg RouterConfig) (http.Handler, *cartServiceMock) {
	carts := &cartServiceMock{cart: domain.NewEmptyCart("u1")}
	h := Handlers{
		Cart:     NewCartHandler(carts, time.Second),
		Checkout: NewCheckoutHandler(&checkoutMock{err: domain.ErrEmptyCart}, time.Second),
		Orders:   NewOrdersHandler(ordersMock{orders: map[uuid.UUID]*domain.Order{}}, time.Second),
		Variants: NewVariantHandler(variantMock{err: domain.ErrNotFound}, time.Second),
		Stock:    NewStockHandler(&stockMock{stock: map[domain.VariantID]domain.StockInfo{}}, time.Second),
	}
	return NewRouter(h, cfg, nil), carts
}

func TestRouter_Health(t *testing.T) {
	router, _ := newTestRouter(RouterConfig{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_RequiresUser(t *testing.T) {
	router, _ := newTestRouter(RouterConfig{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_RoutesWithUser(t *testing.T) {
	router, carts := newTestRouter(RouterConfig{})

	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/api/v1/cart", http.StatusOK},
		{http.MethodDelete, "/api/v1/cart/lines/abc", http.StatusNoContent},
		{http.MethodPost, "/api/v1/checkout", http.StatusUnprocessableEntity},
		{http.MethodGet, "/api/v1/orders", http.StatusOK},
		{http.MethodGet, "/api/v1/orders/" + uuid.NewString(), http.StatusNotFound},
		{http.MethodGet, "/api/v1/variants/1/M", http.StatusNotFound},
		{http.MethodGet, "/api/v1/stock/1/M", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set(HeaderUserID, "u1")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
		})
	}
	assert.Equal(t, "abc", carts.removed)
}

func TestRouter_Metrics(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("storefront_up 1\n"))
	})
	router, _ := newTestRouter(RouterConfig{Metrics: metricsHandler})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_up")
}

func TestRouter_BodyLimit(t *testing.T) {
	router, _ := newTestRouter(RouterConfig{MaxRequestBodySize: 16})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/cart",
		strings.NewReader(`{"lines":[{"product_id":1,"size":"M","quantity":2}]}`))
	req.Header.Set(HeaderUserID, "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
