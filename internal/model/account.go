package model

import "time"

// LedgerConfig is written once by the initialization call and never changed.
type LedgerConfig struct {
	Denom         string    `json:"denom"`
	LTVBps        uint64    `json:"ltv_bps"`
	Owner         string    `json:"owner"`
	InitializedAt time.Time `json:"initialized_at"`
}

// Account is the per-address collateral and debt record.
type Account struct {
	Address   string    `json:"address"`
	Balance   Amount    `json:"balance"`
	Debt      Amount    `json:"debt"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BorrowLimit is floor(balance * ltv).
func (a *Account) BorrowLimit(ltvBps uint64) Amount {
	return a.Balance.MulBps(ltvBps)
}

// Borrowable is what is left under the limit given the debt already taken.
func (a *Account) Borrowable(ltvBps uint64) Amount {
	return a.BorrowLimit(ltvBps).SaturatingSub(a.Debt)
}

// Solvent reports whether debt <= floor(balance * ltv).
func (a *Account) Solvent(ltvBps uint64) bool {
	return a.Debt.Cmp(a.BorrowLimit(ltvBps)) <= 0
}

type BalanceResponse struct {
	Amount Coin `json:"amount"`
}

type DebtResponse struct {
	Amount Amount `json:"amount"`
}

type AccountResponse struct {
	Address    string `json:"address"`
	Balance    Coin   `json:"balance"`
	Debt       Amount `json:"debt"`
	Borrowable Amount `json:"borrowable"`
}

// Attribute is a key/value pair describing an executed call.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is returned by every state-changing call.
type Response struct {
	TxID       string      `json:"tx_id"`
	Attributes []Attribute `json:"attributes"`
}

func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}
