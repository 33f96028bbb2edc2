package rpc

import (
	"encoding/json"
	"strconv"
)

// Exchange API methods used by this client. All three are idempotent
// reads and therefore eligible for the single bounded retry.
const (
	MethodGetCurrenciesFull = "getCurrenciesFull"
	MethodGetPairsParams    = "getPairsParams"
	MethodGetExchangeAmount = "getExchangeAmount"
)

var retryableMethods = map[string]bool{
	MethodGetCurrenciesFull: true,
	MethodGetPairsParams:    true,
	MethodGetExchangeAmount: true,
}

// envelope is the JSON-RPC request body. Field order is fixed so the
// canonical bytes the signature covers are stable; the marshaled bytes
// are sent verbatim as the HTTP body.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type responseBody struct {
	Result json.RawMessage `json:"result"`
	Error  *errorBody      `json:"error"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CurrencyListing is one entry of the getCurrenciesFull result.
type CurrencyListing struct {
	Ticker          string `json:"ticker"`
	FullName        string `json:"fullName"`
	Enabled         bool   `json:"enabled"`
	FixRateEnabled  bool   `json:"fixRateEnabled"`
	Image           string `json:"image"`
	ProtocolNetwork string `json:"blockchain,omitempty"`
}

// PairListing is one entry of the getPairsParams result.
type PairListing struct {
	From           string `json:"from"`
	To             string `json:"to"`
	MinAmountFloat string `json:"minAmountFloat"`
	MaxAmountFloat string `json:"maxAmountFloat,omitempty"`
}

// ExchangeAmount is one entry of the getExchangeAmount result.
type ExchangeAmount struct {
	Amount string `json:"amount"`
}

// APIError is an upstream error surfaced verbatim. The code and message
// are the exchange's own; this client never reinterprets them.
type APIError struct {
	Code    int
	Message string
}

func (e APIError) Error() string {
	return "exchange api error " + strconv.Itoa(e.Code) + ": " + e.Message
}
