package engine

import (
	"github.com/gagliardetto/solana-go"

	"github.com/x1-labs/xenblocks-airdrop/internal/tracker"
)

// pairKey identifies one (wallet, ETH address) recipient pair. Records are
// addressed by this pair, so it is the engine's unit of identity.
type pairKey struct {
	Wallet solana.PublicKey
	Eth    [tracker.EthAddressLen]byte
}

// Pending is one recipient owed a positive amount in the current run.
type Pending struct {
	Wallet solana.PublicKey
	Eth    [tracker.EthAddressLen]byte

	// Amounts is the outstanding delta per token, never negative.
	Amounts tracker.Amounts

	// RecordExists reports whether the pair's record was present in the
	// pre-fetched snapshot; it selects update_record vs initialize_and_update.
	RecordExists bool
}

func (p Pending) key() pairKey {
	return pairKey{Wallet: p.Wallet, Eth: p.Eth}
}

// BatchStatus is the single outcome shared by every recipient in a batch.
type BatchStatus string

const (
	BatchSucceeded BatchStatus = "success"
	BatchFailed    BatchStatus = "failed"
	BatchSkipped   BatchStatus = "skipped"
)

// BatchResult is the typed outcome of one batch. Batches are one atomic
// transaction: either all recipients share a signature or all share a
// failure reason.
type BatchResult struct {
	Index      int
	Recipients []Pending
	Status     BatchStatus

	// Signature is set on success outside dry-run mode.
	Signature solana.Signature

	// Reason and Detail are set on failure.
	Reason FailureReason
	Detail string
}

// Amount returns the batch's combined transfer amount across all tokens.
func (r *BatchResult) Amount() uint64 {
	var total uint64
	for _, p := range r.Recipients {
		total += p.Amounts.Sum()
	}
	return total
}

// RunSummary aggregates one reconciliation run.
type RunSummary struct {
	RunID          uint64
	DryRun         bool
	PendingCount   int
	SuccessCount   int
	FailedCount    int
	SkippedCount   int
	TotalAmount    uint64
	Batches        []BatchResult
}
