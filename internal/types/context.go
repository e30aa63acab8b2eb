package types

type contextKey string

// AddressKey stores the authenticated ledger address in a request context.
const AddressKey contextKey = "address"
