package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/core"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/service"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

type AuthController struct {
	authService core.AuthService
	logger      *zap.Logger
}

func NewAuthController(authService core.AuthService, logger *zap.Logger) *AuthController {
	return &AuthController{
		authService: authService,
		logger:      logger,
	}
}

type credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (c *AuthController) Register(w http.ResponseWriter, r *http.Request) {
	var request credentials
	if err := render.DecodeJSON(r.Body, &request); err != nil {
		c.logger.Debug("Invalid request format", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	user, token, err := c.authService.Register(r.Context(), request.Login, request.Password)
	if err != nil {
		c.logger.Warn("Registration failed",
			zap.String("login", request.Login),
			zap.Error(err))

		switch {
		case errors.Is(err, service.ErrUserAlreadyExists):
			writeError(w, r, http.StatusConflict, "Login already exists")
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, r, http.StatusBadRequest, "Login and password are required")
		default:
			writeError(w, r, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	c.logger.Info("User registered successfully",
		zap.Int64("user_id", user.ID),
		zap.String("login", user.Login))

	setTokenCookie(w, token)
	w.WriteHeader(http.StatusOK)
}

func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var request credentials
	if err := render.DecodeJSON(r.Body, &request); err != nil {
		c.logger.Debug("Invalid request format", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	user, token, err := c.authService.Login(r.Context(), request.Login, request.Password)
	if err != nil {
		c.logger.Warn("Login failed",
			zap.String("login", request.Login),
			zap.Error(err))

		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "Invalid login or password")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	c.logger.Info("User logged in successfully",
		zap.Int64("user_id", user.ID),
		zap.String("login", user.Login))

	setTokenCookie(w, token)
	w.WriteHeader(http.StatusOK)
}

func setTokenCookie(w http.ResponseWriter, token string) {
	w.Header().Set("Authorization", "Bearer "+token)
	http.SetCookie(w, &http.Cookie{
		Name:     "jwt",
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(service.TokenTTL),
		HttpOnly: true,
	})
}
