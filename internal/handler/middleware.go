package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"savings-service/pkg/response"
	"savings-service/pkg/utils"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type contextKey string

const ContextUserID contextKey = "userID"

const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

func GetUserID(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(ContextUserID).(string)
	return val, ok && val != ""
}

// RequireUser reads the caller identity set by the gateway.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			response.ErrorWithCode(w, http.StatusUnauthorized, "missing_user", "missing "+HeaderUserID+" header")
			return
		}
		if !utils.ValidUserID(userID) {
			response.ErrorWithCode(w, http.StatusBadRequest, "invalid_user", "invalid "+HeaderUserID+" header")
			return
		}
		ctx := context.WithValue(r.Context(), ContextUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdempotencyStore keeps finished responses and in-flight claims.
type IdempotencyStore interface {
	GetIdempotent(ctx context.Context, key string) ([]byte, error)
	SetIdempotent(ctx context.Context, key string, data []byte) error
	SetOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped per caller. Requests without the header pass through, and
// server errors are not stored so the client can retry them.
func Idempotency(store IdempotencyStore, inFlightTTL time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idemKey := r.Header.Get(HeaderIdempotencyKey)
			if idemKey == "" || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			userID, _ := GetUserID(ctx)
			key := userID + ":" + r.Method + ":" + r.URL.Path + ":" + idemKey

			if data, err := store.GetIdempotent(ctx, key); err != nil {
				logger.Warn("idempotency lookup failed", zap.String("key", idemKey), zap.Error(err))
			} else if data != nil {
				var stored storedResponse
				if err := json.Unmarshal(data, &stored); err == nil {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set(HeaderReplayed, "true")
					w.WriteHeader(stored.Status)
					_, _ = w.Write(stored.Body)
					return
				}
			}

			inFlight := "idem:inflight:" + key
			claimed, err := store.SetOnce(ctx, inFlight, inFlightTTL)
			if err != nil {
				logger.Warn("idempotency claim failed, serving without replay protection",
					zap.String("key", idemKey), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				response.ErrorWithCode(w, http.StatusConflict, "request_in_progress", "a request with this Idempotency-Key is in progress")
				return
			}
			defer func() {
				if err := store.Delete(context.Background(), inFlight); err != nil {
					logger.Warn("failed to clear idempotency claim", zap.String("key", idemKey), zap.Error(err))
				}
			}()

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}
			data, err := json.Marshal(storedResponse{Status: status, Body: json.RawMessage(bytes.TrimSpace(body.Bytes()))})
			if err != nil {
				return
			}
			if err := store.SetIdempotent(context.Background(), key, data); err != nil {
				logger.Warn("failed to store idempotent response", zap.String("key", idemKey), zap.Error(err))
			}
		})
	}
}
