package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/pos-checkout/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware кассового сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Operator)

	r.Route("/api", func(r chi.Router) {
		r.Get("/discounts", h.ListDiscounts)

		r.Route("/terminals/{terminalID}", func(r chi.Router) {
			r.Get("/cart", h.GetCart)
			r.Delete("/cart", h.ResetCart)

			r.Post("/cart/items", h.AddItem)
			r.Put("/cart/items/{productID}", h.SetQuantity)
			r.Delete("/cart/items/{productID}", h.RemoveItem)

			r.Post("/cart/discounts", h.ApplyDiscount)
			r.Delete("/cart/discounts/{discountID}", h.RemoveDiscount)

			r.Put("/cart/coupon", h.ApplyCoupon)
			r.Delete("/cart/coupon", h.ClearCoupon)

			r.Put("/cart/customer", h.AttachCustomer)

			r.With(custommiddleware.RequireOperator).Post("/checkout", h.Checkout)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
