package router

import (
	"context"
	"net/http"
	"time"

	"savings-service/internal/handler"
	"savings-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Wallet *handler.WalletHandler
	Goal   *handler.GoalHandler
	Group  *handler.GroupHandler
	WS     http.HandlerFunc
}

type Options struct {
	// Idempotency is nil when Redis is not configured.
	Idempotency    handler.IdempotencyStore
	RequestTimeout time.Duration
	Health         func(ctx context.Context) error
}

func SetupRoutes(h Handlers, opts Options, logger *zap.Logger) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handler.HeaderUserID, handler.HeaderIdempotencyKey},
		ExposedHeaders:   []string{handler.HeaderReplayed},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				response.Error(w, http.StatusServiceUnavailable, "unhealthy")
				return
			}
		}
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(handler.RequireUser)

		// The socket outlives the request timeout.
		r.Get("/ws/wallet", h.WS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))
			if opts.Idempotency != nil {
				r.Use(handler.Idempotency(opts.Idempotency, opts.RequestTimeout, logger))
			}

			r.Route("/wallet", func(r chi.Router) {
				r.Post("/", h.Wallet.Open)
				r.Get("/balance", h.Wallet.Balance)
				r.Get("/transactions", h.Wallet.Transactions)
				r.Get("/verify", h.Wallet.Verify)
				r.Post("/deposit", h.Wallet.Deposit)
				r.Post("/withdraw", h.Wallet.Withdraw)
			})

			r.Route("/goals", func(r chi.Router) {
				r.Post("/", h.Goal.Create)
				r.Get("/", h.Goal.List)
				r.Get("/{goalID}", h.Goal.Get)
				r.Post("/{goalID}/contribute", h.Goal.Contribute)
				r.Post("/{goalID}/withdraw", h.Goal.Withdraw)
			})

			r.Route("/groups", func(r chi.Router) {
				r.Post("/", h.Group.Create)
				r.Get("/", h.Group.List)
				r.Route("/{groupID}", func(r chi.Router) {
					r.Get("/", h.Group.Get)
					r.Get("/balance", h.Group.Balance)
					r.Get("/transactions", h.Group.Transactions)
					r.Post("/members", h.Group.AddMember)
					r.Delete("/members/{userID}", h.Group.RemoveMember)
					r.Post("/admins", h.Group.PromoteAdmin)
					r.Post("/bans", h.Group.Ban)
					r.Delete("/bans/{userID}", h.Group.Unban)
					r.Post("/contribute", h.Group.Contribute)
					r.Post("/withdraw", h.Group.Withdraw)
					r.Post("/close", h.Group.Close)
				})
			})
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
