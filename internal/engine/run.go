// Package engine reconciles XenBlocks leaderboard balances against on-chain
// tracker records and distributes the shortfall in fee-bounded atomic
// batches. The ledger is the only accumulator: every run re-derives its
// pending set from on-chain state, so reruns and partial failures never
// double-pay.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/x1-labs/xenblocks-airdrop/internal/leaderboard"
	"github.com/x1-labs/xenblocks-airdrop/internal/metrics"
	"github.com/x1-labs/xenblocks-airdrop/internal/retry"
	"github.com/x1-labs/xenblocks-airdrop/internal/tracker"
)

type Engine struct {
	log   *slog.Logger
	cfg   Config
	rpc   LedgerClient
	clock clockwork.Clock
}

func New(cfg Config) (*Engine, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	return &Engine{
		log:   cfg.Logger,
		cfg:   cfg,
		rpc:   cfg.RPC,
		clock: cfg.Clock,
	}, nil
}

// Run executes one full reconciliation pass over the given feed: snapshot
// on-chain records, compute per-recipient deltas, open a run, plan and
// execute batches, and close the run with its totals.
func (e *Engine) Run(ctx context.Context, miners []leaderboard.Miner) (*RunSummary, error) {
	started := e.clock.Now()
	summary, err := e.run(ctx, miners)
	metrics.RunDuration.Observe(e.clock.Since(started).Seconds())

	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.RunsTotal.WithLabelValues(status, strconv.FormatBool(e.cfg.DryRun)).Inc()
	return summary, err
}

func (e *Engine) run(ctx context.Context, miners []leaderboard.Miner) (*RunSummary, error) {
	pairs := feedPairs(miners)

	snap, err := e.fetchSnapshot(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch record snapshot: %w", err)
	}

	pending := e.computePending(miners, snap)
	summary := &RunSummary{DryRun: e.cfg.DryRun, PendingCount: len(pending)}
	if len(pending) == 0 {
		e.log.Info("engine: ledger already reconciled, nothing to distribute", "feed_rows", len(miners))
		return summary, nil
	}

	payerLamports, err := e.payerBalance(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.checkDistributionBalances(ctx, pending, payerLamports); err != nil {
		return nil, err
	}

	runID, err := e.openRun(ctx)
	if err != nil {
		return nil, err
	}
	summary.RunID = runID
	e.log.Info("engine: run opened",
		"run_id", runID, "dry_run", e.cfg.DryRun, "pending", len(pending), "batch_size", e.cfg.BatchSize)

	plans, err := e.plan(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("engine: plan batches: %w", err)
	}

	e.applyFeeGate(plans, payerLamports)

	results := make([]BatchResult, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, plan := range plans {
		g.Go(func() error {
			batchStart := e.clock.Now()
			results[plan.index] = e.executeBatch(gctx, plan)
			metrics.BatchDuration.Observe(e.clock.Since(batchStart).Seconds())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.aggregate(summary, results)

	if err := e.closeRun(ctx, runID, summary); err != nil {
		// Distribution already happened; a failed audit write must not look
		// like a failed run.
		e.log.Warn("engine: failed to record run totals", "run_id", runID, "error", err)
	}

	e.log.Info("engine: run complete",
		"run_id", runID,
		"dry_run", e.cfg.DryRun,
		"succeeded", summary.SuccessCount,
		"failed", summary.FailedCount,
		"skipped", summary.SkippedCount,
		"total_amount", summary.TotalAmount)
	return summary, nil
}

// feedPairs extracts the (wallet, eth) identity of every feed row with a
// parseable wallet. Invalid rows are dropped here silently and warned about
// during delta computation.
func feedPairs(miners []leaderboard.Miner) []pairKey {
	pairs := make([]pairKey, 0, len(miners))
	seen := make(map[pairKey]bool, len(miners))
	for _, miner := range miners {
		wallet, err := solana.PublicKeyFromBase58(miner.SolAddress)
		if err != nil {
			continue
		}
		key := pairKey{Wallet: wallet, Eth: tracker.EthAddressBytes(miner.Account)}
		if seen[key] {
			continue
		}
		seen[key] = true
		pairs = append(pairs, key)
	}
	return pairs
}

func (e *Engine) payerBalance(ctx context.Context) (uint64, error) {
	var result *rpc.GetBalanceResult
	err := retry.Do(ctx, e.cfg.Retry, func() error {
		var err error
		result, err = e.rpc.GetBalance(ctx, e.cfg.Payer.PublicKey(), rpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("engine: fetch payer balance: %w", err)
	}
	return result.Value, nil
}

// checkDistributionBalances verifies, before any batch is attempted, that
// the payer holds enough of every token to cover the whole run. Dry runs
// report the shortfall and continue; live runs abort.
func (e *Engine) checkDistributionBalances(ctx context.Context, pending []Pending, payerLamports uint64) error {
	required := make(map[Token]uint64, len(e.cfg.Tokens))
	var nativeRequired uint64
	for _, p := range pending {
		for _, tok := range e.cfg.Tokens {
			required[tok.Symbol] += tokenAmount(p.Amounts, tok.Symbol)
		}
		nativeRequired += p.Amounts.Native
	}

	for _, tok := range e.cfg.Tokens {
		need := required[tok.Symbol]
		if need == 0 {
			continue
		}
		have, err := e.payerTokenBalance(ctx, tok)
		if err != nil {
			return err
		}
		if have < need {
			if e.cfg.DryRun {
				e.log.Warn("engine: payer token balance short of run total",
					"token", tok.Symbol, "required", need, "available", have)
				continue
			}
			return fmt.Errorf("engine: payer holds %d %s base units, run requires %d", have, tok.Symbol, need)
		}
	}

	if nativeRequired > 0 && payerLamports < nativeRequired+e.cfg.MinFeeBalance {
		if e.cfg.DryRun {
			e.log.Warn("engine: payer lamports short of native bonus total",
				"required", nativeRequired, "available", payerLamports)
			return nil
		}
		return fmt.Errorf("engine: payer holds %d lamports, native bonuses require %d plus the %d fee floor",
			payerLamports, nativeRequired, e.cfg.MinFeeBalance)
	}
	return nil
}

func (e *Engine) payerTokenBalance(ctx context.Context, tok TokenConfig) (uint64, error) {
	ata, err := deriveTokenAccount(e.cfg.Payer.PublicKey(), tok.Mint, tok.Program.ID())
	if err != nil {
		return 0, fmt.Errorf("engine: derive payer %s token account: %w", tok.Symbol, err)
	}

	var result *rpc.GetTokenAccountBalanceResult
	err = retry.Do(ctx, e.cfg.Retry, func() error {
		var err error
		result, err = e.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("engine: fetch payer %s token balance: %w", tok.Symbol, err)
	}
	if result.Value == nil {
		return 0, nil
	}
	have, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("engine: parse payer %s token balance %q: %w", tok.Symbol, result.Value.Amount, err)
	}
	return have, nil
}

// applyFeeGate walks the plans in order, spending the payer's lamports
// above the configured floor against each plan's buffered fee estimate. A
// plan the balance cannot cover is skipped before submission; later,
// cheaper plans may still fit. Dry runs warn and continue since nothing
// is sent.
func (e *Engine) applyFeeGate(plans []batchPlan, payerLamports uint64) {
	var available uint64
	if payerLamports > e.cfg.MinFeeBalance {
		available = payerLamports - e.cfg.MinFeeBalance
	}

	for i := range plans {
		plan := &plans[i]
		if plan.presubmit != nil {
			continue
		}
		if plan.feeLamports > available {
			if e.cfg.DryRun {
				e.log.Warn("engine: payer lamports short of batch fee",
					"batch", plan.index, "fee", plan.feeLamports, "available", available, "fee_floor", e.cfg.MinFeeBalance)
				continue
			}
			plan.presubmit = &BatchResult{
				Index:      plan.index,
				Recipients: plan.recipients,
				Status:     BatchSkipped,
				Reason:     ReasonInsufficientFee,
				Detail: fmt.Sprintf("batch needs %d lamports in fees, %d available above the %d floor",
					plan.feeLamports, available, e.cfg.MinFeeBalance),
			}
			continue
		}
		available -= plan.feeLamports
	}
}

// openRun reads the global run counter and registers the next run on chain.
// A missing global state account is initialized in the same transaction.
// Dry runs register too, flagged as such, so they appear in the audit
// trail; only finalization is skipped for them.
func (e *Engine) openRun(ctx context.Context) (uint64, error) {
	statePDA, _, err := tracker.DeriveStatePDA(e.cfg.ProgramID)
	if err != nil {
		return 0, fmt.Errorf("engine: derive state pda: %w", err)
	}

	var instructions []solana.Instruction
	runID := uint64(1)

	state, err := e.fetchGlobalState(ctx, statePDA)
	if err != nil {
		return 0, err
	}
	if state == nil {
		initIx, err := tracker.NewInitializeStateInstruction(e.cfg.ProgramID, e.cfg.Payer.PublicKey())
		if err != nil {
			return 0, fmt.Errorf("engine: build initialize_state: %w", err)
		}
		instructions = append(instructions, initIx)
	} else {
		runID = state.RunCounter + 1
	}

	createIx, err := tracker.NewCreateRunInstruction(e.cfg.ProgramID, e.cfg.Payer.PublicKey(), runID, e.cfg.DryRun)
	if err != nil {
		return 0, fmt.Errorf("engine: build create_run: %w", err)
	}
	instructions = append(instructions, createIx)

	if err := e.submitAndConfirm(ctx, instructions); err != nil {
		return 0, fmt.Errorf("engine: open run %d: %w", runID, err)
	}
	return runID, nil
}

func (e *Engine) fetchGlobalState(ctx context.Context, statePDA solana.PublicKey) (*tracker.GlobalState, error) {
	var result *rpc.GetMultipleAccountsResult
	err := retry.Do(ctx, e.cfg.Retry, func() error {
		var err error
		result, err = e.rpc.GetMultipleAccountsWithOpts(ctx, []solana.PublicKey{statePDA}, &rpc.GetMultipleAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("engine: fetch global state: %w", err)
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return nil, nil
	}
	state, err := tracker.DecodeGlobalState(result.Value[0].Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("engine: decode global state: %w", err)
	}
	return state, nil
}

// closeRun writes the run's final totals. Skipped in dry-run mode and when
// no batch landed, since there is nothing to audit.
func (e *Engine) closeRun(ctx context.Context, runID uint64, summary *RunSummary) error {
	if e.cfg.DryRun || summary.SuccessCount == 0 {
		return nil
	}
	totalsIx, err := tracker.NewUpdateRunTotalsInstruction(
		e.cfg.ProgramID, e.cfg.Payer.PublicKey(), runID,
		uint32(summary.SuccessCount), summary.TotalAmount)
	if err != nil {
		return fmt.Errorf("build update_run_totals: %w", err)
	}
	return e.submitAndConfirm(ctx, []solana.Instruction{totalsIx})
}

// submitAndConfirm sends a small administrative transaction and waits for
// its confirmation.
func (e *Engine) submitAndConfirm(ctx context.Context, instructions []solana.Instruction) error {
	blockhash, err := e.latestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("fetch blockhash: %w", err)
	}
	tx, err := e.signedTransaction(instructions, blockhash)
	if err != nil {
		return err
	}

	var sig solana.Signature
	err = retry.Do(ctx, e.cfg.Retry, func() error {
		var sendErr error
		sig, sendErr = e.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	return e.awaitConfirmation(ctx, sig)
}

func (e *Engine) aggregate(summary *RunSummary, results []BatchResult) {
	for _, result := range results {
		summary.Batches = append(summary.Batches, result)
		metrics.BatchesTotal.WithLabelValues(string(result.Status), string(result.Reason)).Inc()
		metrics.RecipientsTotal.WithLabelValues(string(result.Status)).Add(float64(len(result.Recipients)))

		switch result.Status {
		case BatchSucceeded:
			summary.SuccessCount += len(result.Recipients)
			summary.TotalAmount += result.Amount()
			if !e.cfg.DryRun {
				for _, p := range result.Recipients {
					metrics.DistributedBaseUnits.WithLabelValues(string(TokenXNM)).Add(float64(p.Amounts.XNM))
					metrics.DistributedBaseUnits.WithLabelValues(string(TokenXBLK)).Add(float64(p.Amounts.XBLK))
					metrics.DistributedBaseUnits.WithLabelValues(string(TokenXUNI)).Add(float64(p.Amounts.XUNI))
					metrics.DistributedBaseUnits.WithLabelValues("native").Add(float64(p.Amounts.Native))
				}
			}
		case BatchFailed:
			summary.FailedCount += len(result.Recipients)
			e.log.Error("engine: batch failed",
				"batch", result.Index,
				"recipients", len(result.Recipients),
				"reason", result.Reason,
				"detail", result.Detail)
		case BatchSkipped:
			summary.SkippedCount += len(result.Recipients)
			e.log.Warn("engine: batch skipped",
				"batch", result.Index,
				"recipients", len(result.Recipients),
				"reason", result.Reason,
				"detail", result.Detail)
		}
	}
}
