package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-otp-bridge/internal/config"
	"github.com/go-otp-bridge/internal/transport/http/handler"
	appmiddleware "github.com/go-otp-bridge/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10 per client on code-issuing and code-checking endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	healthH := handler.NewHealthHandler()
	verifyH := handler.NewVerificationHandler(deps.OTP, cfg.TelegramBotUsername)
	resetH := handler.NewPasswordResetHandler(deps.OTP, cfg.TelegramBotUsername)
	webhookH := handler.NewWebhookHandler(deps.Webhook)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)

		r.Route("/verification", func(r chi.Router) {
			r.Get("/sessions/{token}/status", verifyH.Status)
			r.Group(func(r chi.Router) {
				r.Use(sensitiveRL.Limit)
				r.Post("/sessions", verifyH.CreateSession)
				r.Post("/sms-sessions", verifyH.CreateSMSSession)
				r.Post("/verify", verifyH.Verify)
			})
		})
		r.With(sensitiveRL.Limit).Post("/registration/complete", verifyH.CompleteRegistration)
		r.With(sensitiveRL.Limit).Post("/password-reset/{action}", resetH.Action)

		r.With(appmiddleware.WebhookSecret(cfg.TelegramWebhookSecret)).Post("/webhooks/telegram", webhookH.Telegram)
	})

	return r
}
