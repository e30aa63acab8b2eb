package model

// Coin is a quantity of a single denom attached to a call or returned by a query.
type Coin struct {
	Denom  string `json:"denom"`
	Amount Amount `json:"amount"`
}

func NewCoin(amount uint64, denom string) Coin {
	return Coin{Denom: denom, Amount: NewAmount(amount)}
}

// Coins is the list of funds attached to a call.
type Coins []Coin

// Single returns the only coin of denom. It fails when c holds anything
// other than exactly one non-zero entry of that denom. Zero entries count
// toward the length.
func (c Coins) Single(denom string) (Coin, bool) {
	if len(c) != 1 || c[0].Denom != denom || c[0].Amount.IsZero() {
		return Coin{}, false
	}
	return c[0], true
}
