package engine

import (
	"errors"
	"strings"
)

// errConfirmationExpired marks a submitted transaction whose blockhash
// window lapsed before the signature confirmed.
var errConfirmationExpired = errors.New("confirmation window expired")

// FailureReason is the closed taxonomy of batch failure classifications.
type FailureReason string

const (
	ReasonInsufficientBalance      FailureReason = "insufficient_balance"
	ReasonInsufficientFee          FailureReason = "insufficient_fee"
	ReasonAccountOwnershipMismatch FailureReason = "account_ownership_mismatch"
	ReasonAccountUninitialized     FailureReason = "account_uninitialized"
	ReasonAccountDecodeMismatch    FailureReason = "account_decode_mismatch"
	ReasonRateLimited              FailureReason = "rate_limited"
	ReasonBlockhashExpired         FailureReason = "blockhash_expired"
	ReasonServiceUnavailable       FailureReason = "service_unavailable"
	ReasonUnknown                  FailureReason = "unknown"
)

// maxDetailLen caps pass-through detail for unknown errors.
const maxDetailLen = 300

type errorPattern struct {
	substrings []string
	reason     FailureReason
	hint       string
}

// Patterns are checked in order; earlier entries win. Substring matching is
// case-insensitive against the error message and program logs combined.
var errorPatterns = []errorPattern{
	{
		substrings: []string{"insufficient funds", "insufficient lamports", "debit an account but found no record of a prior credit"},
		reason:     ReasonInsufficientBalance,
		hint:       "payer token or native balance too low; top up the distribution wallet",
	},
	{
		substrings: []string{"blockhash not found", "blockhashnotfound", "block height exceeded"},
		reason:     ReasonBlockhashExpired,
		hint:       "transaction expired before confirmation; it will be retried on the next run",
	},
	{
		substrings: []string{"rate limit", "too many requests", "429"},
		reason:     ReasonRateLimited,
		hint:       "RPC endpoint throttled the request; reduce concurrency or use a dedicated endpoint",
	},
	{
		substrings: []string{"service unavailable", "503", "node is behind", "connection refused"},
		reason:     ReasonServiceUnavailable,
		hint:       "RPC endpoint unavailable; subsequent batches will still be attempted",
	},
	{
		substrings: []string{"incorrectprogramid", "invalidaccountowner", "owner does not match", "account owned by a different program"},
		reason:     ReasonAccountOwnershipMismatch,
		hint:       "an account is owned by an unexpected program; check mint and program configuration",
	},
	{
		substrings: []string{"accountnotinitialized", "uninitialized account", "could not find account", "invalid account data for instruction"},
		reason:     ReasonAccountUninitialized,
		hint:       "a referenced account does not exist yet; token account creation may have been skipped",
	},
	{
		substrings: []string{"accountdidnotdeserialize", "failed to deserialize", "discriminator"},
		reason:     ReasonAccountDecodeMismatch,
		hint:       "account bytes do not match the expected schema; the program may have been upgraded",
	},
}

// Classify maps a ledger error and its program logs onto the failure
// taxonomy. Unknown errors pass through their raw message, truncated.
func Classify(err error, logs []string) (FailureReason, string) {
	if err == nil {
		return ReasonUnknown, ""
	}
	if errors.Is(err, errConfirmationExpired) {
		return ReasonBlockhashExpired, "transaction expired before confirmation; it will be retried on the next run"
	}

	haystack := strings.ToLower(err.Error())
	if len(logs) > 0 {
		haystack += "\n" + strings.ToLower(strings.Join(logs, "\n"))
	}

	for _, p := range errorPatterns {
		for _, sub := range p.substrings {
			if strings.Contains(haystack, sub) {
				return p.reason, p.hint
			}
		}
	}

	detail := err.Error()
	if len(detail) > maxDetailLen {
		detail = detail[:maxDetailLen]
	}
	return ReasonUnknown, detail
}
