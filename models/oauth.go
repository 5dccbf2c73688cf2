package models

// ExchangeOutcome is the terminal result of one authorization-code exchange.
type ExchangeOutcome string

const (
	ExchangeSuccess ExchangeOutcome = "success"
	ExchangeError   ExchangeOutcome = "error"
)

// ExchangeResult is produced exactly once per inbound OAuth redirect. It is
// never persisted; the redirect target encodes the outcome.
type ExchangeResult struct {
	Outcome   ExchangeOutcome
	ErrorCode string
}
