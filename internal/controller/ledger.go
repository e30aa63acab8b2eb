package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/core"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/middlewareinternal"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

type LedgerController struct {
	ledger core.Ledger
	logger *zap.Logger
}

func NewLedgerController(ledger core.Ledger, logger *zap.Logger) *LedgerController {
	return &LedgerController{
		ledger: ledger,
		logger: logger,
	}
}

type fundsRequest struct {
	Funds model.Coins `json:"funds"`
}

type borrowRequest struct {
	Amount *model.Amount `json:"amount"`
	Funds  model.Coins   `json:"funds"`
}

var errMissingAmount = errors.New("amount is required")

// decodeRequest rejects unknown fields so a misspelled key is not read as
// an omitted one.
func decodeRequest(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (c *LedgerController) Instantiate(w http.ResponseWriter, r *http.Request) {
	sender, ok := c.sender(w, r)
	if !ok {
		return
	}

	var request fundsRequest
	if err := decodeRequest(r.Body, &request); err != nil {
		c.logger.Debug("Invalid request format", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	resp, err := c.ledger.Initialize(r.Context(), sender, request.Funds)
	c.respond(w, r, "instantiate", sender, resp, err)
}

func (c *LedgerController) Deposit(w http.ResponseWriter, r *http.Request) {
	sender, ok := c.sender(w, r)
	if !ok {
		return
	}

	var request fundsRequest
	if err := decodeRequest(r.Body, &request); err != nil {
		c.logger.Debug("Invalid request format", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	resp, err := c.ledger.Deposit(r.Context(), sender, request.Funds)
	c.respond(w, r, "deposit", sender, resp, err)
}

func (c *LedgerController) Borrow(w http.ResponseWriter, r *http.Request) {
	sender, ok := c.sender(w, r)
	if !ok {
		return
	}

	var request borrowRequest
	err := decodeRequest(r.Body, &request)
	if err == nil && request.Amount == nil {
		err = errMissingAmount
	}
	if err != nil {
		c.logger.Debug("Invalid request format", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	resp, err := c.ledger.Borrow(r.Context(), sender, *request.Amount, request.Funds)
	c.respond(w, r, "borrow", sender, resp, err)
}

func (c *LedgerController) GetBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	balance, err := c.ledger.GetBalance(r.Context(), address)
	if err != nil {
		c.queryFailed(w, r, address, err)
		return
	}
	render.JSON(w, r, balance)
}

func (c *LedgerController) GetDebt(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	debt, err := c.ledger.GetDebt(r.Context(), address)
	if err != nil {
		c.queryFailed(w, r, address, err)
		return
	}
	render.JSON(w, r, debt)
}

func (c *LedgerController) GetAccount(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	account, err := c.ledger.GetAccount(r.Context(), address)
	if err != nil {
		c.queryFailed(w, r, address, err)
		return
	}
	render.JSON(w, r, account)
}

func (c *LedgerController) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := c.ledger.GetConfig(r.Context())
	if err != nil {
		c.queryFailed(w, r, "", err)
		return
	}
	render.JSON(w, r, cfg)
}

func (c *LedgerController) sender(w http.ResponseWriter, r *http.Request) (string, bool) {
	sender, ok := middlewareinternal.AddressFromContext(r.Context())
	if !ok {
		c.logger.Error("Address not found in context")
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return sender, true
}

func (c *LedgerController) respond(w http.ResponseWriter, r *http.Request, method, sender string, resp *model.Response, err error) {
	if err != nil {
		status := executeStatus(err)
		if status == http.StatusInternalServerError {
			c.logger.Error("Ledger call failed",
				zap.String("method", method),
				zap.String("address", sender),
				zap.Error(err))
		} else {
			c.logger.Info("Ledger call rejected",
				zap.String("method", method),
				zap.String("address", sender),
				zap.Error(err))
		}
		writeError(w, r, status, errorMessage(status, err))
		return
	}
	render.JSON(w, r, resp)
}

func (c *LedgerController) queryFailed(w http.ResponseWriter, r *http.Request, address string, err error) {
	status := queryStatus(err)
	if status == http.StatusInternalServerError {
		c.logger.Error("Ledger query failed",
			zap.String("address", address),
			zap.Error(err))
	}
	writeError(w, r, status, errorMessage(status, err))
}
