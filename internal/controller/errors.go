package controller

import (
	"errors"
	"net/http"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/service"
	"github.com/go-chi/render"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: message})
}

// executeStatus maps a failed state-changing call to an HTTP status.
func executeStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInstantiation),
		errors.Is(err, service.ErrInvalidDeposit),
		errors.Is(err, service.ErrFundsNotAccepted),
		errors.Is(err, service.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrBorrowTooMuch):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrNotInitialized),
		errors.Is(err, service.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, service.ErrAmountOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func queryStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNotInitialized):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidAddress):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides storage failures from clients.
func errorMessage(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}
