package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DesignerDev23/MiiMii-sub000/internal/handler"
)

func SetupRoutes(r chi.Router, h *handler.PaymentHandler) chi.Router {
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-User-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// ============================================================
	// Public Endpoints (Webhooks & Operational)
	// ============================================================
	r.Group(func(pub chi.Router) {
		pub.Get("/payments/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		pub.Handle("/metrics", promhttp.Handler())

		pub.Post("/payments/webhooks/{provider}", h.ProviderWebhook)
	})

	// ============================================================
	// User Endpoints (behind the gateway)
	// ============================================================
	r.Route("/payments/svc", func(pr chi.Router) {
		pr.Post("/wallets", h.OpenWallet)
		pr.Get("/wallets/me", h.GetWallet)
		pr.Post("/wallets/pin", h.SetPin)
		pr.Post("/kyc/bvn", h.VerifyBvn)

		pr.Post("/transfers/bank", h.BankTransfer)
		pr.Post("/transfers/wallet", h.WalletTransfer)
		pr.Post("/vtu", h.VtuPurchase)
		pr.Post("/bills", h.BillPayment)

		pr.Get("/transactions", h.History)
		pr.Get("/transactions/{reference}", h.GetTransaction)
		pr.Get("/fees/quote", h.FeeQuote)
	})

	return r
}
