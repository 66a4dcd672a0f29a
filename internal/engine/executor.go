package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x1-labs/xenblocks-airdrop/internal/retry"
)

const (
	confirmPollInterval = 2 * time.Second
	confirmTimeout      = 90 * time.Second
)

// executeBatch runs one planned batch to completion: assemble the final
// transaction with its compute budget, submit, and poll until the signature
// confirms or the blockhash window lapses. A batch that fails at any point
// fails whole; a later run re-derives its recipients from on-chain records.
func (e *Engine) executeBatch(ctx context.Context, plan batchPlan) BatchResult {
	result := BatchResult{
		Index:      plan.index,
		Recipients: plan.recipients,
	}

	if plan.presubmit != nil {
		return *plan.presubmit
	}

	if e.cfg.DryRun {
		e.log.Info("engine/executor: dry run, batch validated without submission",
			"batch", plan.index, "recipients", len(plan.recipients), "compute_units", plan.computeUnitLimit)
		result.Status = BatchSucceeded
		return result
	}

	sig, err := e.submitBatch(ctx, plan)
	if err != nil {
		result.Status = BatchFailed
		result.Reason, result.Detail = Classify(err, nil)
		return result
	}
	result.Signature = sig

	if err := e.awaitConfirmation(ctx, sig); err != nil {
		result.Status = BatchFailed
		result.Reason, result.Detail = Classify(err, nil)
		return result
	}

	result.Status = BatchSucceeded
	return result
}

// submitBatch prepends the compute budget instructions, signs with a fresh
// blockhash, and sends. Preflight is skipped; the batch was already
// simulated during planning and the confirmation poll catches on-chain
// failures.
func (e *Engine) submitBatch(ctx context.Context, plan batchPlan) (solana.Signature, error) {
	blockhash, err := e.latestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("fetch blockhash: %w", err)
	}

	instructions := make([]solana.Instruction, 0, len(plan.instructions)+2)
	instructions = append(instructions, newSetComputeUnitLimitInstruction(plan.computeUnitLimit))
	if e.cfg.ComputeUnitPriceMicroLamports > 0 {
		instructions = append(instructions, newSetComputeUnitPriceInstruction(e.cfg.ComputeUnitPriceMicroLamports))
	}
	instructions = append(instructions, plan.instructions...)

	tx, err := e.signedTransaction(instructions, blockhash)
	if err != nil {
		return solana.Signature{}, err
	}

	var sig solana.Signature
	err = retry.Do(ctx, e.cfg.Retry, func() error {
		var sendErr error
		sig, sendErr = e.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		return sendErr
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send batch %d: %w", plan.index, err)
	}
	return sig, nil
}

// awaitConfirmation polls the signature status until the transaction is
// confirmed, errored on chain, or the timeout passes.
func (e *Engine) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	deadline := e.clock.Now().Add(confirmTimeout)
	for {
		statuses, err := e.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			e.log.Debug("engine/executor: signature status fetch failed, retrying", "signature", sig, "error", err)
		} else if len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		if e.clock.Now().After(deadline) {
			return fmt.Errorf("transaction %s not confirmed within %s: %w", sig, confirmTimeout, errConfirmationExpired)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(confirmPollInterval):
		}
	}
}
