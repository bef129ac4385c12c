package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lostfound/internal/service"
)

type contextKey string

const userIDKey contextKey = "userID"

func AuthMiddleware(authService service.AuthService, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				logger.Warn().Msg("Missing authorization token")
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing authorization token")
				return
			}

			userID, err := authService.ValidateToken(tokenString)
			if err != nil {
				logger.Warn().Err(err).Msg("Invalid authorization token")
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid authorization token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
