package middleware

import (
	"log/slog"
	"net/http"
)

// TokenValidator checks a credential token and resolves the user it belongs to.
type TokenValidator interface {
	ValidateToken(token string) (int64, error)
}

// NewAuthMiddleware authenticates websocket establishment requests. The token
// travels out-of-band as a `token` query parameter (browser WebSocket clients
// cannot set headers on the upgrade request). Absent or invalid tokens refuse
// the request before any upgrade happens. onFailure, when set, is invoked once
// per rejected request.
func NewAuthMiddleware(logger *slog.Logger, validator TokenValidator, onFailure func()) Middleware {
	reject := func(w http.ResponseWriter) {
		if onFailure != nil {
			onFailure()
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := r.URL.Query().Get("token")
			if tokenString == "" {
				logger.Warn("Token missing in request", slog.String("ip", reqMeta.IP))
				reject(w)
				return
			}

			userID, err := validator.ValidateToken(tokenString)
			if err != nil {
				logger.Warn("Invalid token presented",
					slog.String("ip", reqMeta.IP),
					slog.Any("error", err),
				)
				reject(w)
				return
			}

			reqMeta.UserID = userID
			next.ServeHTTP(w, r)
		})
	}
}
