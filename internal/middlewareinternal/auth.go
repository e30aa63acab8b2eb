package middlewareinternal

import (
	"context"
	"net/http"
	"strings"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/core"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/types"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/util/logger"
	"go.uber.org/zap"
)

func JWTAuthMiddleware(authService core.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := extractToken(r)
			if err != nil {
				logger.Log.Debug("Failed to extract token",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			address, err := authService.ValidateToken(tokenString)
			if err != nil {
				logger.Log.Warn("Invalid token",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), types.AddressKey, address)
			logger.Log.Debug("Caller authenticated",
				zap.String("address", address),
				zap.String("path", r.URL.Path))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) (string, error) {
	cookie, err := r.Cookie("jwt")
	if err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", http.ErrNoCookie
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", http.ErrNoCookie
	}

	return parts[1], nil
}

func AddressFromContext(ctx context.Context) (string, bool) {
	address, ok := ctx.Value(types.AddressKey).(string)
	return address, ok && address != ""
}
