package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x1-labs/xenblocks-airdrop/internal/retry"
	"github.com/x1-labs/xenblocks-airdrop/internal/tracker"
)

// Compute budget program instruction discriminants.
const (
	computeBudgetSetUnitLimit = 2
	computeBudgetSetUnitPrice = 3
)

var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

func newSetComputeUnitLimitInstruction(units uint32) solana.Instruction {
	data := make([]byte, 1+4)
	data[0] = computeBudgetSetUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

func newSetComputeUnitPriceInstruction(microLamports uint64) solana.Instruction {
	data := make([]byte, 1+8)
	data[0] = computeBudgetSetUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// batchPlan is one fully-assembled batch: its recipient slice, the payload
// instructions (transfers, account creations, record mutations), and the
// simulated compute/fee envelope. presubmit carries an outcome decided
// before submission: a simulation failure or a fee-gate skip.
type batchPlan struct {
	index      int
	recipients []Pending

	instructions []solana.Instruction

	computeUnitLimit uint32
	feeLamports      uint64

	presubmit *BatchResult
}

// plan partitions the pending set into batches in feed order, builds each
// batch's instructions, and simulates each batch for a compute estimate.
// The existing-record set is advanced synchronously as each batch's
// instructions are built, so a later batch targeting the same pair (not
// expected, but tolerated) picks the correct record mutation.
func (e *Engine) plan(ctx context.Context, pending []Pending) ([]batchPlan, error) {
	groups := partition(pending, e.cfg.BatchSize)

	// One bulk existence check for every token account the run touches,
	// instead of one RPC per recipient per token.
	ataExists, err := e.tokenAccountExistence(ctx, pending)
	if err != nil {
		return nil, err
	}

	blockhash, err := e.latestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash for simulation: %w", err)
	}

	recordExists := make(map[pairKey]bool, len(pending))
	for _, p := range pending {
		recordExists[p.key()] = p.RecordExists
	}

	plans := make([]batchPlan, 0, len(groups))
	for i, group := range groups {
		instructions, err := e.buildBatchInstructions(group, recordExists, ataExists)
		if err != nil {
			return nil, fmt.Errorf("build batch %d: %w", i, err)
		}
		for _, p := range group {
			recordExists[p.key()] = true
		}

		plan := batchPlan{
			index:        i,
			recipients:   group,
			instructions: instructions,
		}
		e.estimateBatch(ctx, &plan, blockhash)
		plans = append(plans, plan)
	}

	return plans, nil
}

// partition splits the pending set into deterministic feed-order groups of
// at most batchSize.
func partition(pending []Pending, batchSize int) [][]Pending {
	if len(pending) == 0 {
		return nil
	}
	groups := make([][]Pending, 0, (len(pending)+batchSize-1)/batchSize)
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		groups = append(groups, pending[start:end])
	}
	return groups
}

// tokenAccountExistence bulk-checks every recipient token account this run
// will transfer into.
func (e *Engine) tokenAccountExistence(ctx context.Context, pending []Pending) (map[solana.PublicKey]bool, error) {
	var addrs []solana.PublicKey
	for _, p := range pending {
		for _, tok := range e.cfg.Tokens {
			if tokenAmount(p.Amounts, tok.Symbol) == 0 {
				continue
			}
			ata, err := deriveTokenAccount(p.Wallet, tok.Mint, tok.Program.ID())
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, ata)
		}
	}
	if len(addrs) == 0 {
		return map[solana.PublicKey]bool{}, nil
	}
	existing, err := e.fetchExistenceSet(ctx, addrs)
	if err != nil {
		return nil, fmt.Errorf("check token account existence: %w", err)
	}
	return existing, nil
}

func tokenAmount(a tracker.Amounts, symbol Token) uint64 {
	switch symbol {
	case TokenXNM:
		return a.XNM
	case TokenXBLK:
		return a.XBLK
	case TokenXUNI:
		return a.XUNI
	default:
		return 0
	}
}

// buildBatchInstructions assembles one batch's payload: token account
// creations for absent holders, one transfer per non-zero token delta, the
// native bonus transfer, and exactly one record mutation per recipient. The
// record mutation choice comes from the pre-fetched existence set, never a
// fresh read.
func (e *Engine) buildBatchInstructions(group []Pending, recordExists map[pairKey]bool, ataExists map[solana.PublicKey]bool) ([]solana.Instruction, error) {
	authority := e.cfg.Payer.PublicKey()
	var instructions []solana.Instruction

	for _, p := range group {
		for _, tok := range e.cfg.Tokens {
			amt := tokenAmount(p.Amounts, tok.Symbol)
			if amt == 0 {
				continue
			}

			ata, err := deriveTokenAccount(p.Wallet, tok.Mint, tok.Program.ID())
			if err != nil {
				return nil, err
			}
			if !ataExists[ata] {
				createIx, err := newCreateTokenAccountInstruction(authority, p.Wallet, tok.Mint, tok.Program.ID())
				if err != nil {
					return nil, err
				}
				instructions = append(instructions, createIx)
			}

			transferIx, err := newTokenTransferInstruction(authority, p.Wallet, tok, amt)
			if err != nil {
				return nil, err
			}
			instructions = append(instructions, transferIx)
		}

		if p.Amounts.Native > 0 {
			instructions = append(instructions, newNativeTransferInstruction(authority, p.Wallet, p.Amounts.Native))
		}

		var recordIx solana.Instruction
		var err error
		if recordExists[p.key()] {
			recordIx, err = tracker.NewUpdateRecordInstruction(e.cfg.ProgramID, authority, p.Wallet, p.Eth, p.Amounts)
		} else {
			recordIx, err = tracker.NewInitializeAndUpdateInstruction(e.cfg.ProgramID, authority, p.Wallet, p.Eth, p.Amounts)
		}
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, recordIx)
	}

	return instructions, nil
}

// newNativeTransferInstruction builds a system-program transfer for the
// one-time native bonus. No token account involved; lamports go straight to
// the wallet.
func newNativeTransferInstruction(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:4], 2) // Transfer
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(from, true, true),
		solana.NewAccountMeta(to, true, false),
	}, data)
}

// estimateBatch simulates the batch and derives its compute unit limit and
// buffered fee. Simulation failures outside dry-run mode mark the plan
// failed before submission; dry-run tolerates them with a warning since
// validation should not be blocked by estimation.
func (e *Engine) estimateBatch(ctx context.Context, plan *batchPlan, blockhash solana.Hash) {
	tx, err := e.signedTransaction(plan.instructions, blockhash)
	if err != nil {
		e.failPlan(plan, err, nil)
		return
	}

	resp, err := e.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		Commitment:             rpc.CommitmentConfirmed,
		ReplaceRecentBlockhash: true,
	})
	if err != nil {
		e.failPlan(plan, fmt.Errorf("simulate batch %d: %w", plan.index, err), nil)
		return
	}
	if resp.Value != nil && resp.Value.Err != nil {
		e.failPlan(plan, fmt.Errorf("simulate batch %d: %v", plan.index, resp.Value.Err), resp.Value.Logs)
		return
	}

	var units uint64
	if resp.Value != nil && resp.Value.UnitsConsumed != nil {
		units = *resp.Value.UnitsConsumed
	}

	plan.computeUnitLimit = uint32(min(uint64(math.Ceil(float64(units)*1.1)), maxComputeUnitLimit))
	fee := uint64(len(tx.Signatures))*signatureFeeLamports +
		uint64(math.Ceil(float64(units)*float64(e.cfg.ComputeUnitPriceMicroLamports)/1e6))
	plan.feeLamports = uint64(math.Ceil(float64(fee) * e.cfg.FeeBufferMultiplier))
}

func (e *Engine) failPlan(plan *batchPlan, err error, logs []string) {
	if e.cfg.DryRun {
		e.log.Warn("engine/planner: simulation failed in dry run, continuing with zero estimate",
			"batch", plan.index, "error", err)
		plan.computeUnitLimit = maxComputeUnitLimit
		return
	}
	reason, detail := Classify(err, logs)
	plan.presubmit = &BatchResult{
		Index:      plan.index,
		Recipients: plan.recipients,
		Status:     BatchFailed,
		Reason:     reason,
		Detail:     detail,
	}
}

func (e *Engine) latestBlockhash(ctx context.Context) (solana.Hash, error) {
	var result *rpc.GetLatestBlockhashResult
	err := retry.Do(ctx, e.cfg.Retry, func() error {
		var err error
		result, err = e.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return solana.Hash{}, err
	}
	return result.Value.Blockhash, nil
}

// signedTransaction assembles and signs one transaction with the payer.
func (e *Engine) signedTransaction(instructions []solana.Instruction, blockhash solana.Hash) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(e.cfg.Payer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(e.cfg.Payer.PublicKey()) {
			return &e.cfg.Payer
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}
