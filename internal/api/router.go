package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Routes assembles the full API router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/markets", h.GetMarkets)
	r.Get("/price", h.GetPrice)
	r.Get("/global", h.GetGlobal)
	r.Get("/fees", h.GetFees)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Get("/portfolio", h.GetPortfolio)
		r.Get("/portfolio/balance", h.GetBalance)
		r.Get("/portfolio/transactions", h.GetTransactions)
		r.Post("/portfolio/trades", h.PlaceTrade)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
		r.Get("/usage", h.GetUsage)
		r.Post("/usage/{feature}", h.RecordUsage)
	})

	return r
}
